package config

import (
	"context"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/saiset-co/sai-chainsync/types"
)

type Loader struct {
	validator *validator.Validate
}

func NewLoader() *Loader {
	return &Loader{
		validator: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (l *Loader) LoadFromFile(ctx context.Context, configPath string) (*types.ServiceConfig, error) {
	if configPath == "" {
		return nil, types.ErrConfigNotFound
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, types.WrapError(types.ErrConfigNotFound, "file not found: "+configPath)
	}

	data, err := l.ReadFileWithTimeout(ctx, configPath)
	if err != nil {
		return nil, types.WrapError(err, "failed to read config file")
	}

	return l.LoadFromBytes(data)
}

// LoadFromBytes overlays the YAML document on Defaults and validates the result.
func (l *Loader) LoadFromBytes(data []byte) (*types.ServiceConfig, error) {
	config := l.Defaults()

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, types.Errorf(types.ErrConfigParseFailed, "%v", err)
	}

	if err := l.Validate(config); err != nil {
		return nil, err
	}

	return config, nil
}

func (l *Loader) Validate(config *types.ServiceConfig) error {
	if err := l.validator.Struct(config); err != nil {
		return types.Errorf(types.ErrConfigValidateFailed, "%v", err)
	}
	return nil
}

func (l *Loader) ReadFileWithTimeout(ctx context.Context, filepath string) ([]byte, error) {
	type result struct {
		data []byte
		err  error
	}

	resultChan := make(chan result, 1)

	go func() {
		data, err := os.ReadFile(filepath)
		resultChan <- result{data: data, err: err}
	}()

	select {
	case res := <-resultChan:
		return res.data, res.err
	case <-ctx.Done():
		return nil, types.WrapError(ctx.Err(), "file read timeout")
	}
}

func (l *Loader) Defaults() *types.ServiceConfig {
	return &types.ServiceConfig{
		Name:    "sai-chainsync",
		Version: "dev",
		Server: &types.ServerConfig{
			HTTP: &types.HTTPConfig{
				Enabled:         false,
				Host:            "localhost",
				Port:            8080,
				ReadTimeout:     30,
				WriteTimeout:    30,
				IdleTimeout:     120,
				ShutdownTimeout: 10,
			},
		},
		Logger: &types.LoggerConfig{
			Level:  "info",
			Format: "console",
			Output: "stdout",
		},
		Cron: &types.CronConfig{
			Timezone:        "UTC",
			ShutdownTimeout: 10 * time.Second,
		},
		Metrics: &types.MetricsConfig{
			Enabled:      false,
			Type:         "memory",
			Prefix:       "chainsync",
			GoCollectors: true,
		},
		Health: &types.HealthConfig{
			Enabled:  true,
			Timeout:  5 * time.Second,
			CacheFor: time.Second,
		},
		Data: &types.DataConfig{
			DefaultTTL:          30 * time.Second,
			DefaultPollInterval: time.Minute,
			ShutdownTimeout:     10 * time.Second,
			Retry: types.RetryConfig{
				Attempts: 2,
				Backoff:  time.Second,
				Timeout:  8 * time.Second,
			},
			Store: types.StoreConfig{
				MaxEntries:      10000,
				CleanupInterval: 5 * time.Minute,
				Retention:       30 * time.Minute,
			},
			Kinds: map[string]types.KindConfig{
				string(types.KindBalances):    {TTL: 20 * time.Second, PollInterval: 30 * time.Second},
				string(types.KindCasinoStats): {TTL: 45 * time.Second, PollInterval: time.Minute},
				string(types.KindFaucetState): {TTL: 2 * time.Minute, PollInterval: 3 * time.Minute},
				string(types.KindDexReserves): {TTL: time.Minute, PollInterval: 2 * time.Minute},
				string(types.KindDexQuote):    {TTL: 15 * time.Second, PollInterval: time.Minute},
			},
		},
		Chain: &types.ChainConfig{
			Timeout:         8 * time.Second,
			MaxConnsPerHost: 64,
			Decimals:        18,
			CircuitBreaker: &types.CircuitBreakerConfig{
				Enabled:          true,
				FailureThreshold: 5,
				RecoveryTimeout:  30 * time.Second,
				HalfOpenRequests: 1,
			},
		},
		Watch: &types.WatchConfig{},
	}
}

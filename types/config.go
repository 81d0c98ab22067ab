package types

import (
	"time"
)

type ConfigManager interface {
	Load() error
	GetConfig() *ServiceConfig
	GetValue(path string, defaultValue interface{}) interface{}
	GetAs(path string, target interface{}) error
}

type ServiceConfig struct {
	Name    string         `yaml:"name" json:"name" validate:"required"`
	Version string         `yaml:"version" json:"version" validate:"required"`
	Logger  *LoggerConfig  `yaml:"logger" json:"logger"`
	Metrics *MetricsConfig `yaml:"metrics" json:"metrics"`
	Health  *HealthConfig  `yaml:"health" json:"health"`
	Server  *ServerConfig  `yaml:"server" json:"server"`
	Cron    *CronConfig    `yaml:"cron" json:"cron"`
	Data    *DataConfig    `yaml:"data" json:"data" validate:"required"`
	Chain   *ChainConfig   `yaml:"chain" json:"chain"`
	Watch   *WatchConfig   `yaml:"watch" json:"watch"`
}

type ServerConfig struct {
	HTTP *HTTPConfig `yaml:"http" json:"http"`
}

type HTTPConfig struct {
	Enabled         bool   `yaml:"enabled" json:"enabled"`
	Host            string `yaml:"host" json:"host"`
	Port            int    `yaml:"port" json:"port" validate:"min=1,max=65535"`
	ReadTimeout     int    `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout    int    `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout     int    `yaml:"idle_timeout" json:"idle_timeout"`
	ShutdownTimeout int    `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

type LoggerConfig struct {
	Level  string `yaml:"level" json:"level" validate:"required,oneof=debug info warn warning error"`
	Format string `yaml:"format" json:"format" validate:"omitempty,oneof=console json"`
	Output string `yaml:"output" json:"output" validate:"omitempty,oneof=stdout stderr file"`
	File   string `yaml:"file" json:"file" validate:"required_if=Output file"`
}

type CronConfig struct {
	Timezone        string        `yaml:"timezone" json:"timezone" validate:"required"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout" validate:"min=0"`
}

type MetricsConfig struct {
	Enabled      bool              `yaml:"enabled" json:"enabled"`
	Type         string            `yaml:"type" json:"type" validate:"required_if=Enabled true"`
	Prefix       string            `yaml:"prefix" json:"prefix"`
	Labels       map[string]string `yaml:"labels" json:"labels"`
	GoCollectors bool              `yaml:"go_collectors" json:"go_collectors"`
}

type HealthConfig struct {
	Enabled  bool          `yaml:"enabled" json:"enabled"`
	Timeout  time.Duration `yaml:"timeout" json:"timeout" validate:"min=0"`
	CacheFor time.Duration `yaml:"cache_for" json:"cache_for" validate:"min=0"`
}

// DataConfig drives the cache store, the retry policy and the per kind TTL/poll pairs.
type DataConfig struct {
	DefaultTTL          time.Duration                       `yaml:"default_ttl" json:"default_ttl" validate:"gt=0,ltefield=DefaultPollInterval"`
	DefaultPollInterval time.Duration                       `yaml:"default_poll_interval" json:"default_poll_interval" validate:"gt=0"`
	ShutdownTimeout     time.Duration                       `yaml:"shutdown_timeout" json:"shutdown_timeout" validate:"min=0"`
	Retry               RetryConfig                         `yaml:"retry" json:"retry"`
	Store               StoreConfig                         `yaml:"store" json:"store"`
	Kinds               map[string]KindConfig               `yaml:"kinds" json:"kinds" validate:"dive"`
	Invalidation        map[string][]InvalidationRuleConfig `yaml:"invalidation" json:"invalidation" validate:"dive,dive"`
}

type KindConfig struct {
	TTL          time.Duration `yaml:"ttl" json:"ttl" validate:"gt=0,ltefield=PollInterval"`
	PollInterval time.Duration `yaml:"poll_interval" json:"poll_interval" validate:"gt=0"`
	FetchTimeout time.Duration `yaml:"fetch_timeout" json:"fetch_timeout" validate:"min=0"`
}

type RetryConfig struct {
	Attempts int           `yaml:"attempts" json:"attempts" validate:"min=0,max=10"`
	Backoff  time.Duration `yaml:"backoff" json:"backoff" validate:"min=0"`
	Timeout  time.Duration `yaml:"timeout" json:"timeout" validate:"gt=0"`
}

type StoreConfig struct {
	MaxEntries      int           `yaml:"max_entries" json:"max_entries" validate:"min=0"`
	CleanupInterval time.Duration `yaml:"cleanup_interval" json:"cleanup_interval" validate:"min=0"`
	Retention       time.Duration `yaml:"retention" json:"retention" validate:"min=0"`
}

type InvalidationRuleConfig struct {
	Kind   string `yaml:"kind" json:"kind" validate:"required"`
	Scoped bool   `yaml:"scoped" json:"scoped"`
	Prefix bool   `yaml:"prefix" json:"prefix"`
}

type ChainConfig struct {
	RPCURLs         []string              `yaml:"rpc_urls" json:"rpc_urls" validate:"required,min=1,dive,url"`
	Timeout         time.Duration         `yaml:"timeout" json:"timeout" validate:"min=0"`
	MaxConnsPerHost int                   `yaml:"max_conns_per_host" json:"max_conns_per_host" validate:"min=0"`
	Decimals        int32                 `yaml:"decimals" json:"decimals" validate:"min=0,max=36"`
	Contracts       ContractsConfig       `yaml:"contracts" json:"contracts"`
	Methods         MethodsConfig         `yaml:"methods" json:"methods"`
	CircuitBreaker  *CircuitBreakerConfig `yaml:"circuit_breaker" json:"circuit_breaker"`
}

type ContractsConfig struct {
	Token  string `yaml:"token" json:"token" validate:"omitempty,eth_addr"`
	Casino string `yaml:"casino" json:"casino" validate:"omitempty,eth_addr"`
	Faucet string `yaml:"faucet" json:"faucet" validate:"omitempty,eth_addr"`
	Dex    string `yaml:"dex" json:"dex" validate:"omitempty,eth_addr"`
}

// MethodsConfig holds the contract function signatures; selectors are derived from them.
type MethodsConfig struct {
	BalanceOf        string `yaml:"balance_of" json:"balance_of"`
	CasinoStats      string `yaml:"casino_stats" json:"casino_stats"`
	CanClaim         string `yaml:"can_claim" json:"can_claim"`
	TimeUntilClaim   string `yaml:"time_until_claim" json:"time_until_claim"`
	Reserves         string `yaml:"reserves" json:"reserves"`
	QuoteNativeToken string `yaml:"quote_native_to_token" json:"quote_native_to_token"`
	QuoteTokenNative string `yaml:"quote_token_to_native" json:"quote_token_to_native"`
}

type CircuitBreakerConfig struct {
	Enabled          bool          `yaml:"enabled" json:"enabled"`
	FailureThreshold int           `yaml:"failure_threshold" json:"failure_threshold" validate:"min=0"`
	RecoveryTimeout  time.Duration `yaml:"recovery_timeout" json:"recovery_timeout" validate:"min=0"`
	HalfOpenRequests int           `yaml:"half_open_requests" json:"half_open_requests" validate:"min=0"`
}

type WatchConfig struct {
	Accounts []string `yaml:"accounts" json:"accounts" validate:"dive,eth_addr"`
	Casino   bool     `yaml:"casino" json:"casino"`
	Dex      bool     `yaml:"dex" json:"dex"`
}

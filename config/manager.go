package config

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/saiset-co/sai-chainsync/types"
)

const (
	EnvConfigPath     = "CHAINSYNC_CONFIG"
	DefaultConfigPath = "config.yml"
)

// PathFromEnv returns the config path from CHAINSYNC_CONFIG, or config.yml.
func PathFromEnv() string {
	if path := os.Getenv(EnvConfigPath); path != "" {
		return path
	}
	return DefaultConfigPath
}

type ConfigurationManager struct {
	ctx         context.Context
	configPath  string
	loader      *Loader
	config      atomic.Pointer[types.ServiceConfig]
	parser      atomic.Pointer[Parser]
	mu          sync.Mutex
	loadTimeout time.Duration
}

func NewConfigurationManager(ctx context.Context, configPath string) (*ConfigurationManager, error) {
	cm := &ConfigurationManager{
		ctx:         ctx,
		configPath:  configPath,
		loader:      NewLoader(),
		loadTimeout: 30 * time.Second,
	}

	if err := cm.Load(); err != nil {
		return nil, types.WrapError(err, "failed to load initial configuration")
	}

	return cm, nil
}

// NewStaticManager wraps an already built configuration. It is validated like a loaded one.
func NewStaticManager(config *types.ServiceConfig) (*ConfigurationManager, error) {
	if config == nil {
		return nil, types.ErrConfigIsNil
	}

	cm := &ConfigurationManager{
		ctx:    context.Background(),
		loader: NewLoader(),
	}

	if err := cm.loader.Validate(config); err != nil {
		return nil, err
	}

	if err := cm.store(config); err != nil {
		return nil, err
	}

	return cm, nil
}

// Load rereads the file. The previous configuration stays active if loading fails.
func (cm *ConfigurationManager) Load() error {
	if cm.configPath == "" {
		return types.Errorf(types.ErrConfigLoadFailed, "no config path")
	}

	loadCtx, cancel := context.WithTimeout(cm.ctx, cm.loadTimeout)
	defer cancel()

	config, err := cm.loader.LoadFromFile(loadCtx, cm.configPath)
	if err != nil {
		return types.WrapError(err, "failed to load configuration from file")
	}

	return cm.store(config)
}

func (cm *ConfigurationManager) GetConfig() *types.ServiceConfig {
	return cm.config.Load()
}

func (cm *ConfigurationManager) GetValue(path string, defaultValue interface{}) interface{} {
	parser := cm.parser.Load()
	if parser == nil {
		return defaultValue
	}
	return parser.GetValue(path, defaultValue)
}

func (cm *ConfigurationManager) GetAs(path string, target interface{}) error {
	parser := cm.parser.Load()
	if parser == nil {
		return types.ErrConfigIsNil
	}
	return parser.GetAs(path, target)
}

func (cm *ConfigurationManager) Paths() []string {
	parser := cm.parser.Load()
	if parser == nil {
		return nil
	}
	return parser.Paths()
}

func (cm *ConfigurationManager) store(config *types.ServiceConfig) error {
	parser, err := NewParser(config)
	if err != nil {
		return err
	}

	cm.mu.Lock()
	defer cm.mu.Unlock()

	cm.config.Store(config)
	cm.parser.Store(parser)

	return nil
}

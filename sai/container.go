package sai

import (
	"sync/atomic"

	"github.com/saiset-co/sai-chainsync/chain"
	"github.com/saiset-co/sai-chainsync/datamanager"
	"github.com/saiset-co/sai-chainsync/health"
	"github.com/saiset-co/sai-chainsync/server"
	"github.com/saiset-co/sai-chainsync/types"
)

// Container holds the process-wide components. Optional ones (metrics, HTTP server) stay nil when disabled.
type Container struct {
	Config     atomic.Pointer[types.ConfigManager]
	Logger     atomic.Pointer[types.LoggerManager]
	Metrics    atomic.Pointer[types.MetricsManager]
	Data       atomic.Pointer[datamanager.Manager]
	Client     atomic.Pointer[chain.Client]
	Reader     atomic.Pointer[chain.Reader]
	Health     atomic.Pointer[health.Manager]
	HTTPServer atomic.Pointer[server.HTTPServer]
}

var globalContainer atomic.Pointer[Container]

func InitContainer() *Container {
	return &Container{}
}

func SetContainer(container *Container) {
	globalContainer.Store(container)
}

func current() *Container {
	if container := globalContainer.Load(); container != nil {
		return container
	}
	panic("Container not initialized")
}

func Config() types.ConfigManager {
	if ptr := current().Config.Load(); ptr != nil {
		return *ptr
	}
	panic("ConfigManager not initialized")
}

func Logger() types.LoggerManager {
	if ptr := current().Logger.Load(); ptr != nil {
		return *ptr
	}
	panic("Logger not initialized")
}

// Metrics returns nil when metrics are disabled.
func Metrics() types.MetricsManager {
	if ptr := current().Metrics.Load(); ptr != nil {
		return *ptr
	}
	return nil
}

func Data() *datamanager.Manager {
	if dm := current().Data.Load(); dm != nil {
		return dm
	}
	panic("DataManager not initialized")
}

func Reader() *chain.Reader {
	if reader := current().Reader.Load(); reader != nil {
		return reader
	}
	panic("Reader not initialized")
}

func Health() *health.Manager {
	if hm := current().Health.Load(); hm != nil {
		return hm
	}
	panic("HealthManager not initialized")
}

func (fc *Container) SetConfig(config types.ConfigManager) {
	fc.Config.Store(&config)
}

func (fc *Container) SetLogger(logger types.LoggerManager) {
	fc.Logger.Store(&logger)
}

func (fc *Container) SetMetrics(metrics types.MetricsManager) {
	fc.Metrics.Store(&metrics)
}

func (fc *Container) SetData(dm *datamanager.Manager) {
	fc.Data.Store(dm)
}

func (fc *Container) SetClient(client *chain.Client) {
	fc.Client.Store(client)
}

func (fc *Container) SetReader(reader *chain.Reader) {
	fc.Reader.Store(reader)
}

func (fc *Container) SetHealth(hm *health.Manager) {
	fc.Health.Store(hm)
}

func (fc *Container) SetHTTPServer(server *server.HTTPServer) {
	fc.HTTPServer.Store(server)
}

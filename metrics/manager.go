package metrics

import (
	"sync/atomic"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-chainsync/types"
)

// Manager fronts the configured backend. Until it is started every series it hands
// out is a no-op, so components record without checking whether metrics are on.
type Manager struct {
	logger  types.Logger
	backend types.MetricsManager
	kind    string
	running atomic.Bool
}

func NewManager(config *types.MetricsConfig, logger types.Logger) (*Manager, error) {
	if config == nil || !config.Enabled {
		return nil, types.ErrMetricsIsDisabled
	}

	var backend types.MetricsManager
	switch config.Type {
	case "memory":
		backend = NewMemoryMetrics(logger, config)
	case "prometheus":
		backend = NewPrometheusMetrics(logger, config)
	default:
		return nil, types.Errorf(types.ErrMetricsTypeUnknown, "type: %s", config.Type)
	}

	return &Manager{
		logger:  logger,
		backend: backend,
		kind:    config.Type,
	}, nil
}

func (m *Manager) Start() error {
	if err := m.backend.Start(); err != nil {
		return types.WrapError(err, "failed to start metrics backend")
	}

	m.running.Store(true)
	m.logger.Info("Metrics started", zap.String("type", m.kind))

	return nil
}

func (m *Manager) Stop() error {
	if !m.running.CompareAndSwap(true, false) {
		return types.ErrServerNotRunning
	}

	if err := m.backend.Stop(); err != nil {
		return types.WrapError(err, "failed to stop metrics backend")
	}

	m.logger.Info("Metrics stopped")
	return nil
}

func (m *Manager) IsRunning() bool {
	return m.running.Load()
}

func (m *Manager) Counter(name string, labels map[string]string) types.Counter {
	if !m.IsRunning() {
		return noop{}
	}
	return m.backend.Counter(name, labels)
}

func (m *Manager) Gauge(name string, labels map[string]string) types.Gauge {
	if !m.IsRunning() {
		return noop{}
	}
	return m.backend.Gauge(name, labels)
}

func (m *Manager) Histogram(name string, buckets []float64, labels map[string]string) types.Histogram {
	if !m.IsRunning() {
		return noop{}
	}
	return m.backend.Histogram(name, buckets, labels)
}

func (m *Manager) Handler() fasthttp.RequestHandler {
	serve := m.backend.Handler()

	return func(ctx *fasthttp.RequestCtx) {
		if !m.IsRunning() {
			ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
			return
		}
		serve(ctx)
	}
}

func (m *Manager) Gather() ([]types.MetricValue, error) {
	if !m.IsRunning() {
		return nil, types.ErrMetricsIsDisabled
	}
	return m.backend.Gather()
}

type noop struct{}

func (noop) Inc()                      {}
func (noop) Add(float64)               {}
func (noop) Set(float64)               {}
func (noop) Get() float64              { return 0 }
func (noop) Observe(float64)           {}
func (noop) ObserveDuration(time.Time) {}

package metrics

import (
	"math"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/valyala/fasthttp"

	"github.com/saiset-co/sai-chainsync/types"
	"github.com/saiset-co/sai-chainsync/utils"
)

// MemoryMetrics keeps every series in process memory and serves them as JSON. It
// backs the tests and deployments that have no scraper.
type MemoryMetrics struct {
	logger  types.Logger
	prefix  string
	mu      sync.RWMutex
	series  map[string]*memorySeries
	running atomic.Bool
}

func NewMemoryMetrics(logger types.Logger, config *types.MetricsConfig) *MemoryMetrics {
	m := &MemoryMetrics{
		logger: logger,
		series: make(map[string]*memorySeries),
	}
	if config != nil {
		m.prefix = config.Prefix
	}
	return m
}

func (m *MemoryMetrics) Start() error {
	if !m.running.CompareAndSwap(false, true) {
		return types.ErrServerAlreadyRunning
	}
	return nil
}

func (m *MemoryMetrics) Stop() error {
	if !m.running.CompareAndSwap(true, false) {
		return types.ErrServerNotRunning
	}
	return nil
}

func (m *MemoryMetrics) IsRunning() bool {
	return m.running.Load()
}

func (m *MemoryMetrics) Counter(name string, labels map[string]string) types.Counter {
	return m.get(dto.MetricType_COUNTER, name, labels)
}

func (m *MemoryMetrics) Gauge(name string, labels map[string]string) types.Gauge {
	return m.get(dto.MetricType_GAUGE, name, labels)
}

// Histogram keeps count and sum only; buckets matter to the prometheus backend.
func (m *MemoryMetrics) Histogram(name string, _ []float64, labels map[string]string) types.Histogram {
	return m.get(dto.MetricType_HISTOGRAM, name, labels)
}

func (m *MemoryMetrics) Handler() fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		values, _ := m.Gather()
		utils.WriteJSON(ctx, fasthttp.StatusOK, values)
	}
}

func (m *MemoryMetrics) Gather() ([]types.MetricValue, error) {
	m.mu.RLock()
	keys := make([]string, 0, len(m.series))
	for key := range m.series {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	values := make([]types.MetricValue, 0, len(keys))
	for _, key := range keys {
		values = append(values, m.series[key].gather())
	}
	m.mu.RUnlock()

	return values, nil
}

func (m *MemoryMetrics) get(kind dto.MetricType, name string, labels map[string]string) *memorySeries {
	fqName := prometheus.BuildFQName(m.prefix, "", name)
	key := seriesKey(kind, fqName, labels)

	m.mu.RLock()
	s, exists := m.series[key]
	m.mu.RUnlock()
	if exists {
		return s
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if s, exists = m.series[key]; exists {
		return s
	}

	s = &memorySeries{name: fqName, kind: kind, labels: copyLabels(labels)}
	m.series[key] = s

	return s
}

// memorySeries is a counter, gauge or histogram depending on kind. For histograms
// value holds the sample sum.
type memorySeries struct {
	name   string
	kind   dto.MetricType
	labels map[string]string
	value  atomic.Uint64
	count  atomic.Uint64
}

func (s *memorySeries) Inc() {
	s.Add(1)
}

// Add ignores negative deltas on counters, which only go up.
func (s *memorySeries) Add(delta float64) {
	if s.kind == dto.MetricType_COUNTER && delta < 0 {
		return
	}
	for {
		old := s.value.Load()
		if s.value.CompareAndSwap(old, math.Float64bits(math.Float64frombits(old)+delta)) {
			return
		}
	}
}

func (s *memorySeries) Set(value float64) {
	s.value.Store(math.Float64bits(value))
}

func (s *memorySeries) Get() float64 {
	return math.Float64frombits(s.value.Load())
}

func (s *memorySeries) Observe(value float64) {
	s.count.Add(1)
	s.Add(value)
}

func (s *memorySeries) ObserveDuration(start time.Time) {
	s.Observe(time.Since(start).Seconds())
}

func (s *memorySeries) gather() types.MetricValue {
	return types.MetricValue{
		Name:   s.name,
		Type:   strings.ToLower(s.kind.String()),
		Labels: s.labels,
		Value:  s.Get(),
		Count:  s.count.Load(),
	}
}

func seriesKey(kind dto.MetricType, name string, labels map[string]string) string {
	var b strings.Builder
	b.WriteString(kind.String())
	b.WriteByte(':')
	b.WriteString(name)
	for _, label := range labelNames(labels) {
		b.WriteByte('|')
		b.WriteString(label)
		b.WriteByte('=')
		b.WriteString(labels[label])
	}
	return b.String()
}

func labelNames(labels map[string]string) []string {
	names := make([]string, 0, len(labels))
	for name := range labels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func copyLabels(labels map[string]string) map[string]string {
	if len(labels) == 0 {
		return nil
	}

	copied := make(map[string]string, len(labels))
	for k, v := range labels {
		copied[k] = v
	}
	return copied
}

package metrics

import (
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-chainsync/types"
)

// PrometheusMetrics keeps one vector per metric name on a private registry. The
// first use of a name fixes its type and label names. A later use with another
// shape is logged and gets a no-op series, because the client panics on it.
type PrometheusMetrics struct {
	logger      types.Logger
	namespace   string
	constLabels prometheus.Labels
	registry    *prometheus.Registry
	handler     fasthttp.RequestHandler
	mu          sync.Mutex
	vectors     map[string]*vector
	running     atomic.Bool
}

type vector struct {
	kind      dto.MetricType
	labels    []string
	collector prometheus.Collector
}

func NewPrometheusMetrics(logger types.Logger, config *types.MetricsConfig) *PrometheusMetrics {
	if config == nil {
		config = &types.MetricsConfig{}
	}

	registry := prometheus.NewRegistry()
	if config.GoCollectors {
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	return &PrometheusMetrics{
		logger:      logger,
		namespace:   config.Prefix,
		constLabels: config.Labels,
		registry:    registry,
		handler:     fasthttpadaptor.NewFastHTTPHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})),
		vectors:     make(map[string]*vector),
	}
}

func (p *PrometheusMetrics) Start() error {
	if !p.running.CompareAndSwap(false, true) {
		return types.ErrServerAlreadyRunning
	}
	return nil
}

func (p *PrometheusMetrics) Stop() error {
	if !p.running.CompareAndSwap(true, false) {
		return types.ErrServerNotRunning
	}
	return nil
}

func (p *PrometheusMetrics) IsRunning() bool {
	return p.running.Load()
}

func (p *PrometheusMetrics) Handler() fasthttp.RequestHandler {
	return p.handler
}

func (p *PrometheusMetrics) Counter(name string, labels map[string]string) types.Counter {
	v, ok := p.vector(name, dto.MetricType_COUNTER, labels, func(opts prometheus.Opts, names []string) prometheus.Collector {
		return prometheus.NewCounterVec(prometheus.CounterOpts(opts), names)
	})
	if !ok {
		return noop{}
	}

	return &promCounter{counter: v.collector.(*prometheus.CounterVec).With(labels)}
}

func (p *PrometheusMetrics) Gauge(name string, labels map[string]string) types.Gauge {
	v, ok := p.vector(name, dto.MetricType_GAUGE, labels, func(opts prometheus.Opts, names []string) prometheus.Collector {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts(opts), names)
	})
	if !ok {
		return noop{}
	}

	return &promGauge{gauge: v.collector.(*prometheus.GaugeVec).With(labels)}
}

func (p *PrometheusMetrics) Histogram(name string, buckets []float64, labels map[string]string) types.Histogram {
	v, ok := p.vector(name, dto.MetricType_HISTOGRAM, labels, func(opts prometheus.Opts, names []string) prometheus.Collector {
		return prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   opts.Namespace,
			Name:        opts.Name,
			Help:        opts.Help,
			ConstLabels: opts.ConstLabels,
			Buckets:     buckets,
		}, names)
	})
	if !ok {
		return noop{}
	}

	return &promHistogram{observer: v.collector.(*prometheus.HistogramVec).With(labels)}
}

// Gather reads the registry back as plain values. Summaries and untyped series from
// the runtime collectors are skipped.
func (p *PrometheusMetrics) Gather() ([]types.MetricValue, error) {
	families, err := p.registry.Gather()
	if err != nil {
		return nil, types.WrapError(err, "failed to gather prometheus metrics")
	}

	var values []types.MetricValue
	for _, family := range families {
		for _, metric := range family.GetMetric() {
			value := types.MetricValue{
				Name:   family.GetName(),
				Type:   strings.ToLower(family.GetType().String()),
				Labels: labelMap(metric.GetLabel()),
			}

			switch family.GetType() {
			case dto.MetricType_COUNTER:
				value.Value = metric.GetCounter().GetValue()
			case dto.MetricType_GAUGE:
				value.Value = metric.GetGauge().GetValue()
			case dto.MetricType_HISTOGRAM:
				value.Value = metric.GetHistogram().GetSampleSum()
				value.Count = metric.GetHistogram().GetSampleCount()
			default:
				continue
			}

			values = append(values, value)
		}
	}

	return values, nil
}

func (p *PrometheusMetrics) vector(name string, kind dto.MetricType, labels map[string]string, create func(prometheus.Opts, []string) prometheus.Collector) (*vector, bool) {
	names := labelNames(labels)

	p.mu.Lock()
	defer p.mu.Unlock()

	if v, exists := p.vectors[name]; exists {
		if v.kind != kind || !slices.Equal(v.labels, names) {
			p.logger.Warn("Metric used with a different shape",
				zap.String("metric", name),
				zap.String("type", kind.String()),
				zap.Strings("labels", names),
				zap.Strings("registered_labels", v.labels))
			return nil, false
		}
		return v, true
	}

	collector := create(prometheus.Opts{
		Namespace:   p.namespace,
		Name:        name,
		Help:        strings.ReplaceAll(name, "_", " "),
		ConstLabels: p.constLabels,
	}, names)

	if err := p.registry.Register(collector); err != nil {
		p.logger.Error("Failed to register metric", zap.String("metric", name), zap.Error(err))
		return nil, false
	}

	v := &vector{kind: kind, labels: names, collector: collector}
	p.vectors[name] = v

	return v, true
}

func labelMap(pairs []*dto.LabelPair) map[string]string {
	if len(pairs) == 0 {
		return nil
	}

	labels := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		labels[pair.GetName()] = pair.GetValue()
	}
	return labels
}

type promCounter struct {
	counter prometheus.Counter
}

func (c *promCounter) Inc()              { c.counter.Inc() }
func (c *promCounter) Add(delta float64) { c.counter.Add(delta) }

func (c *promCounter) Get() float64 {
	var metric dto.Metric
	if err := c.counter.Write(&metric); err != nil {
		return 0
	}
	return metric.GetCounter().GetValue()
}

type promGauge struct {
	gauge prometheus.Gauge
}

func (g *promGauge) Set(value float64) { g.gauge.Set(value) }

func (g *promGauge) Get() float64 {
	var metric dto.Metric
	if err := g.gauge.Write(&metric); err != nil {
		return 0
	}
	return metric.GetGauge().GetValue()
}

type promHistogram struct {
	observer prometheus.Observer
}

func (h *promHistogram) Observe(value float64) { h.observer.Observe(value) }

func (h *promHistogram) ObserveDuration(start time.Time) {
	h.observer.Observe(time.Since(start).Seconds())
}

package types

import (
	"time"

	"github.com/valyala/fasthttp"
)

// MetricsManager hands out series by name and label set. Asking twice for the same
// name and labels yields the same series.
type MetricsManager interface {
	LifecycleManager
	Counter(name string, labels map[string]string) Counter
	Gauge(name string, labels map[string]string) Gauge
	Histogram(name string, buckets []float64, labels map[string]string) Histogram
	Handler() fasthttp.RequestHandler
	Gather() ([]MetricValue, error)
}

type Counter interface {
	Inc()
	Add(delta float64)
	Get() float64
}

type Gauge interface {
	Set(value float64)
	Get() float64
}

type Histogram interface {
	Observe(value float64)
	ObserveDuration(start time.Time)
}

// MetricValue is one gathered series. Histograms report their sample sum as Value.
type MetricValue struct {
	Name   string            `json:"name"`
	Type   string            `json:"type"`
	Labels map[string]string `json:"labels,omitempty"`
	Value  float64           `json:"value"`
	Count  uint64            `json:"count,omitempty"`
}

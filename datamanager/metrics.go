package datamanager

import (
	"time"

	"github.com/saiset-co/sai-chainsync/types"
)

var fetchDurationBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}

func (m *Manager) countRequest(kind types.Kind, result string) {
	if m.metrics == nil {
		return
	}

	m.metrics.Counter("cache_requests_total", map[string]string{
		"kind":   string(kind),
		"result": result,
	}).Inc()
}

func (m *Manager) observeFetch(kind types.Kind, start time.Time, err error) {
	if m.metrics == nil {
		return
	}

	result := "success"
	if err != nil {
		result = "error"
	}

	m.metrics.Counter("fetches_total", map[string]string{
		"kind":   string(kind),
		"result": result,
	}).Inc()

	m.metrics.Histogram("fetch_duration_seconds", fetchDurationBuckets, map[string]string{
		"kind": string(kind),
	}).ObserveDuration(start)
}

func (m *Manager) countInvalidation(event types.EventKind, keys int) {
	if m.metrics == nil {
		return
	}

	m.metrics.Counter("invalidations_total", map[string]string{
		"event": string(event),
	}).Inc()

	m.metrics.Counter("invalidated_keys_total", map[string]string{
		"event": string(event),
	}).Add(float64(keys))
}

func (m *Manager) setSubscribersGauge() {
	if m.metrics == nil {
		return
	}
	m.metrics.Gauge("subscribers", nil).Set(float64(m.subscribers.Total()))
}

func (m *Manager) setPollsGauge(count int) {
	if m.metrics == nil {
		return
	}
	m.metrics.Gauge("active_polls", nil).Set(float64(count))
}

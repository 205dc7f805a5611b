// Package metrics holds the Prometheus collectors for the completion engine.
// A nil *Metrics is valid and records nothing, so components can be built
// without a registry in tests.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus metrics for indexing and request handling.
//
// Metrics:
//   - autousing_rebuilds_total{project} - completed index builds
//   - autousing_load_failures_total{code} - references that could not be indexed
//   - autousing_projects - registered projects
//   - autousing_requests_total{command,type} - answered protocol requests
//   - autousing_query_duration_seconds - completion query latency
//   - autousing_parse_cache_hits_total - references served from the parse cache
type Metrics struct {
	RebuildsTotal     *prometheus.CounterVec
	LoadFailuresTotal *prometheus.CounterVec
	Projects          prometheus.Gauge
	RequestsTotal     *prometheus.CounterVec
	QueryDuration     prometheus.Histogram
	CacheHitsTotal    prometheus.Counter

	gatherer prometheus.Gatherer
}

// New registers the collectors on reg. Passing a fresh registry per test
// avoids duplicate registration panics.
func New(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RebuildsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autousing_rebuilds_total",
				Help: "Total number of completed index builds",
			},
			[]string{"project"},
		),
		LoadFailuresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autousing_load_failures_total",
				Help: "Total number of references that could not be indexed",
			},
			[]string{"code"},
		),
		Projects: factory.NewGauge(prometheus.GaugeOpts{
			Name: "autousing_projects",
			Help: "Number of registered projects",
		}),
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autousing_requests_total",
				Help: "Total number of protocol requests answered",
			},
			[]string{"command", "type"},
		),
		QueryDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "autousing_query_duration_seconds",
			Help:    "Duration of completion queries in seconds",
			Buckets: []float64{.00005, .0001, .0005, .001, .005, .01, .05, .1},
		}),
		CacheHitsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "autousing_parse_cache_hits_total",
			Help: "Total number of references served from the parse cache",
		}),
		gatherer: reg,
	}
}

func (m *Metrics) RebuildCompleted(project string) {
	if m == nil {
		return
	}
	m.RebuildsTotal.WithLabelValues(project).Inc()
}

func (m *Metrics) LoadFailed(code string) {
	if m == nil {
		return
	}
	m.LoadFailuresTotal.WithLabelValues(code).Inc()
}

func (m *Metrics) SetProjects(n int) {
	if m == nil {
		return
	}
	m.Projects.Set(float64(n))
}

func (m *Metrics) RequestAnswered(command, responseType string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(command, responseType).Inc()
}

func (m *Metrics) ObserveQuery(d time.Duration) {
	if m == nil {
		return
	}
	m.QueryDuration.Observe(d.Seconds())
}

func (m *Metrics) CacheHits(n int) {
	if m == nil || n == 0 {
		return
	}
	m.CacheHitsTotal.Add(float64(n))
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{})
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Package metrics exposes job run outcomes and cache usage to Prometheus.
package metrics

import (
	"net/http"

	"github.com/0xPuncker/wellness-sync/internal/cache"
	"github.com/0xPuncker/wellness-sync/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "wellness"

// Metrics is a scheduler run observer backed by its own registry.
type Metrics struct {
	registry *prometheus.Registry
	runs     *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_runs_total",
			Help:      "Background job runs by outcome.",
		}, []string{"job", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Wall time of background job runs.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"job"}),
	}
	m.registry.MustRegister(m.runs, m.duration)
	return m
}

// WatchCache registers gauges sampled from store on every scrape.
func (m *Metrics) WatchCache(store *cache.Store) {
	m.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_entries",
			Help:      "Entries currently held by the cache store.",
		}, func() float64 { return float64(store.Info().Count) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_bytes",
			Help:      "Total encoded size of cache store entries.",
		}, func() float64 { return float64(store.Info().TotalSize) }),
	)
}

func (m *Metrics) ObserveRun(run types.RunOutcome) {
	m.runs.WithLabelValues(run.JobID, run.Outcome).Inc()
	if run.Duration > 0 {
		m.duration.WithLabelValues(run.JobID).Observe(run.Duration.Seconds())
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Package observability exposes Prometheus metrics for the pipeline.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the pipeline's Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	RunsActive      prometheus.Gauge
	EventsProcessed *prometheus.CounterVec
	FilesCopied     prometheus.Counter
	CopyFailures    prometheus.Counter
	AnalysisSeconds prometheus.Histogram
	ExecSeconds     prometheus.Histogram
}

// NewMetrics creates the collectors on a private registry, so tests can
// instantiate metrics without global-registration collisions.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		RunsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "archive_migrate_runs_active",
			Help: "Number of migration runs currently executing.",
		}),
		EventsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "archive_migrate_events_processed_total",
			Help: "Events processed during execution, by outcome.",
		}, []string{"outcome"}),
		FilesCopied: factory.NewCounter(prometheus.CounterOpts{
			Name: "archive_migrate_files_copied_total",
			Help: "Objects copied to their target keys.",
		}),
		CopyFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "archive_migrate_copy_failures_total",
			Help: "Object copy operations that failed after retries.",
		}),
		AnalysisSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "archive_migrate_analysis_duration_seconds",
			Help:    "Wall time of the analysis phase per run.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		ExecSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "archive_migrate_execution_duration_seconds",
			Help:    "Wall time of the execution phase per run.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14),
		}),
	}
}

// Handler returns the scrape endpoint for this metrics set.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

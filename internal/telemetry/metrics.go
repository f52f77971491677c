// Package telemetry exposes Prometheus metrics for the enrichment pipeline.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "nexusdiet"

// Metrics holds pipeline metrics. A nil *Metrics records nothing.
type Metrics struct {
	VisitsEnriched         *prometheus.CounterVec
	ClassificationFailures prometheus.Counter
	PersistenceFailures    prometheus.Counter
	CacheFailures          prometheus.Counter
	NutritionScore         prometheus.Histogram
	EnrichDuration         prometheus.Histogram

	gatherer prometheus.Gatherer
}

// NewMetrics registers metrics on reg
func NewMetrics(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		VisitsEnriched: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "visits_enriched_total",
			Help:      "Page visits passed through the pipeline, by category (empty when degraded)",
		}, []string{"category"}),
		ClassificationFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "classification_failures_total",
			Help:      "Visits persisted without enrichment because categorization failed",
		}),
		PersistenceFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persistence_failures_total",
			Help:      "Visits lost because the store rejected them",
		}),
		CacheFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_failures_total",
			Help:      "Failed writes to the quick-access cache",
		}),
		NutritionScore: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "nutrition_score",
			Help:      "Distribution of assigned nutrition scores",
			Buckets:   prometheus.LinearBuckets(1, 1, 10),
		}),
		EnrichDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "enrich_duration_seconds",
			Help:      "Time to enrich and persist one visit",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
		gatherer: reg,
	}
}

// Handler serves the registry for /metrics
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveEnriched(category string, score *int, took time.Duration) {
	if m == nil {
		return
	}
	m.VisitsEnriched.WithLabelValues(category).Inc()
	if score != nil {
		m.NutritionScore.Observe(float64(*score))
	}
	m.EnrichDuration.Observe(took.Seconds())
}

func (m *Metrics) ClassificationFailed() {
	if m != nil {
		m.ClassificationFailures.Inc()
	}
}

func (m *Metrics) PersistenceFailed() {
	if m != nil {
		m.PersistenceFailures.Inc()
	}
}

func (m *Metrics) CacheFailed() {
	if m != nil {
		m.CacheFailures.Inc()
	}
}

package curator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the Prometheus instruments for curation passes.
type Metrics struct {
	// Decisions counts decide outcomes.
	// Labels: action (merge, create, prune)
	Decisions *prometheus.CounterVec

	// Merged counts records absorbed by deduplication.
	Merged prometheus.Counter

	// Pruned counts records removed for low confidence.
	Pruned prometheus.Counter

	// StoreFailures counts per-record store errors inside batch passes.
	// Labels: op (put, delete, restore)
	StoreFailures *prometheus.CounterVec

	// SimilarityFallbacks counts semantic scores computed lexically.
	SimilarityFallbacks prometheus.Counter

	// PassDuration tracks how long curation passes take.
	// Labels: pass (observe, reevaluate, dedup, prune)
	PassDuration *prometheus.HistogramVec
}

// NewMetrics registers the curation metrics with reg. A nil reg uses a
// private registry, which keeps repeated construction in tests safe.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Metrics{
		Decisions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ace",
			Subsystem: "curator",
			Name:      "decisions_total",
			Help:      "Total curation decisions by action",
		}, []string{"action"}),
		Merged: f.NewCounter(prometheus.CounterOpts{
			Namespace: "ace",
			Subsystem: "curator",
			Name:      "merged_total",
			Help:      "Total records absorbed into another record by deduplication",
		}),
		Pruned: f.NewCounter(prometheus.CounterOpts{
			Namespace: "ace",
			Subsystem: "curator",
			Name:      "pruned_total",
			Help:      "Total records removed for low confidence",
		}),
		StoreFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ace",
			Subsystem: "curator",
			Name:      "store_failures_total",
			Help:      "Total per-record store failures during batch passes",
		}, []string{"op"}),
		SimilarityFallbacks: f.NewCounter(prometheus.CounterOpts{
			Namespace: "ace",
			Subsystem: "similarity",
			Name:      "fallbacks_total",
			Help:      "Total similarity scores computed lexically after an embedding failure",
		}),
		PassDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ace",
			Subsystem: "curator",
			Name:      "pass_duration_seconds",
			Help:      "Duration of curation passes in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"pass"}),
	}
}

// FallbackHook adapts SimilarityFallbacks to similarity.WithFallbackHook.
func (m *Metrics) FallbackHook() func(error) {
	return func(error) { m.SimilarityFallbacks.Inc() }
}

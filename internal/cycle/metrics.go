package cycle

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the Prometheus instruments for reflection cycles.
type Metrics struct {
	// Cycles counts finished cycles.
	// Labels: result (ok, skipped, partial, error)
	Cycles *prometheus.CounterVec

	// Detected counts rules that fired.
	Detected prometheus.Counter

	// Unjudged counts detected rules the oracle returned no verdict for.
	Unjudged prometheus.Counter

	// OracleFallbacks counts oracle calls answered by the fallback oracle.
	OracleFallbacks prometheus.Counter

	// Duration tracks whole-cycle latency.
	Duration prometheus.Histogram
}

// NewMetrics registers the cycle metrics with reg. A nil reg uses a private
// registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Metrics{
		Cycles: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ace",
			Subsystem: "cycle",
			Name:      "runs_total",
			Help:      "Total reflection cycles by result",
		}, []string{"result"}),
		Detected: f.NewCounter(prometheus.CounterOpts{
			Namespace: "ace",
			Subsystem: "cycle",
			Name:      "patterns_detected_total",
			Help:      "Total detection rule matches",
		}),
		Unjudged: f.NewCounter(prometheus.CounterOpts{
			Namespace: "ace",
			Subsystem: "cycle",
			Name:      "patterns_unjudged_total",
			Help:      "Total detected patterns skipped for lack of a verdict",
		}),
		OracleFallbacks: f.NewCounter(prometheus.CounterOpts{
			Namespace: "ace",
			Subsystem: "oracle",
			Name:      "fallbacks_total",
			Help:      "Total oracle calls answered by the fallback oracle",
		}),
		Duration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ace",
			Subsystem: "cycle",
			Name:      "duration_seconds",
			Help:      "Duration of reflection cycles in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

// FallbackHook adapts OracleFallbacks to reflection.FallbackOracle.OnFallback.
func (m *Metrics) FallbackHook() func(error) {
	return func(error) { m.OracleFallbacks.Inc() }
}

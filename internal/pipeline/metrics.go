package pipeline

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds Prometheus metrics for the extraction pipeline.
type Metrics struct {
	SegmentsTotal          *prometheus.CounterVec
	TriggersTotal          *prometheus.CounterVec
	CyclesTotal            *prometheus.CounterVec
	RetriesTotal           prometheus.Counter
	ConceptsPublishedTotal prometheus.Counter
	CycleDuration          prometheus.Histogram
	ActiveSessions         prometheus.Gauge
}

// NewMetrics returns the process-wide pipeline metrics, registering them on
// first use.
//
// Metrics:
//   - conceptd_segments_total{result} - segments observed or discarded
//   - conceptd_triggers_total{trigger,result} - ready signals fired or suppressed by the gate
//   - conceptd_cycles_total{outcome} - extraction cycles by outcome
//   - conceptd_retries_total - extraction attempts repeated after a failure
//   - conceptd_concepts_published_total - concept nodes handed to the bus
//   - conceptd_cycle_duration_seconds - wall time of one extraction cycle
//   - conceptd_active_sessions - sessions currently being driven
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			SegmentsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "conceptd_segments_total",
					Help: "Total number of transcript segments received",
				},
				[]string{"result"}, // "observed" or "discarded"
			),
			TriggersTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "conceptd_triggers_total",
					Help: "Total number of batch ready signals",
				},
				[]string{"trigger", "result"},
			),
			CyclesTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "conceptd_cycles_total",
					Help: "Total number of extraction cycles",
				},
				[]string{"outcome"},
			),
			RetriesTotal: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "conceptd_retries_total",
					Help: "Total number of repeated extraction attempts",
				},
			),
			ConceptsPublishedTotal: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "conceptd_concepts_published_total",
					Help: "Total number of concept nodes published",
				},
			),
			CycleDuration: promauto.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "conceptd_cycle_duration_seconds",
					Help:    "Duration of extraction cycles in seconds",
					Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 16, 32, 64},
				},
			),
			ActiveSessions: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "conceptd_active_sessions",
					Help: "Number of sessions currently being processed",
				},
			),
		}
	})
	return globalMetrics
}

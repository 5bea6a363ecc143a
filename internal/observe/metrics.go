package observe

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes the engine's operational counters on a Prometheus registry.
// It satisfies the engine's Metrics hook.
type Metrics struct {
	batches    *prometheus.CounterVec
	readings   prometheus.Counter
	duration   prometheus.Histogram
	batchSize  prometheus.Histogram
	skipped    *prometheus.CounterVec
	incomplete *prometheus.CounterVec
	inferErrs  *prometheus.CounterVec
}

// NewMetrics registers the assessment metrics on reg. Pass
// prometheus.DefaultRegisterer for the process-wide registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		batches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "assetpulse",
			Name:      "batches_total",
			Help:      "Assessment batches by outcome (complete, rejected, failed).",
		}, []string{"outcome"}),
		readings: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "assetpulse",
			Name:      "readings_total",
			Help:      "Readings received across all batches.",
		}),
		duration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "assetpulse",
			Name:      "batch_duration_seconds",
			Help:      "Wall time from batch receipt to terminal state.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
		batchSize: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "assetpulse",
			Name:      "batch_size_readings",
			Help:      "Readings per batch.",
			Buckets:   []float64{1, 5, 10, 50, 100, 300, 600, 900, 1800},
		}),
		skipped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "assetpulse",
			Name:      "readings_skipped_total",
			Help:      "Readings excluded from a channel because every contributing field was null.",
		}, []string{"channel"}),
		incomplete: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "assetpulse",
			Name:      "readings_incomplete_total",
			Help:      "Readings excluded from a channel because only part of the feature vector was present.",
		}, []string{"channel"}),
		inferErrs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "assetpulse",
			Name:      "inference_errors_total",
			Help:      "Per-reading inference failures, recovered locally.",
		}, []string{"channel"}),
	}
}

func (m *Metrics) BatchProcessed(outcome string, readings int, d time.Duration) {
	m.batches.WithLabelValues(outcome).Inc()
	m.readings.Add(float64(readings))
	m.duration.Observe(d.Seconds())
	m.batchSize.Observe(float64(readings))
}

func (m *Metrics) ReadingSkipped(channel string) {
	m.skipped.WithLabelValues(channel).Inc()
}

func (m *Metrics) ReadingIncomplete(channel string) {
	m.incomplete.WithLabelValues(channel).Inc()
}

func (m *Metrics) InferenceError(channel string) {
	m.inferErrs.WithLabelValues(channel).Inc()
}

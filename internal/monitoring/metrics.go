package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "canopy"

// Granule outcomes recorded by Metrics.Granule.
const (
	OutcomeProcessed = "processed"
	OutcomeSkipped   = "skipped"
	OutcomeFailed    = "failed"
)

// Metrics groups the pipeline instruments. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	granules   *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	steps      prometheus.Counter
	validRatio *prometheus.GaugeVec
}

// NewMetrics creates the instruments on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		granules: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "granules_total",
			Help:      "Granules handled by each pipeline stage, by outcome.",
		}, []string{"stage", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Wall time spent on one granule or product per stage.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		}, []string{"stage"}),
		steps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "accumulator_steps_total",
			Help:      "Observations folded into change accumulators.",
		}),
		validRatio: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_valid_ratio",
			Help:      "Fraction of valid pixels in the last grid written by a stage.",
		}, []string{"stage"}),
	}
	m.registry.MustRegister(m.granules, m.duration, m.steps, m.validRatio)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Granule counts one granule outcome for stage.
func (m *Metrics) Granule(stage, outcome string) {
	if m == nil {
		return
	}
	m.granules.WithLabelValues(stage, outcome).Inc()
}

// ObserveDuration records the time since start for stage.
func (m *Metrics) ObserveDuration(stage string, start time.Time) {
	if m == nil {
		return
	}
	m.duration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

// AccumulatorStep counts one applied observation.
func (m *Metrics) AccumulatorStep() {
	if m == nil {
		return
	}
	m.steps.Inc()
}

// ValidRatio records valid/total for the last grid a stage produced.
func (m *Metrics) ValidRatio(stage string, valid, total int) {
	if m == nil || total <= 0 {
		return
	}
	m.validRatio.WithLabelValues(stage).Set(float64(valid) / float64(total))
}

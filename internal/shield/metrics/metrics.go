package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the shield pipeline.
type Metrics struct {
	// Submissions by verdict and mode
	Submissions *prometheus.CounterVec

	// Per-field self-check outcomes
	FieldOutcomes *prometheus.CounterVec

	// Stage latencies
	StageLatency *prometheus.HistogramVec

	// Whole-submission latency
	SubmitLatency prometheus.Histogram

	// Duplicate-index failures surfaced as 503
	IndexFailures prometheus.Counter

	// Best-effort persistence failures
	PersistFailures prometheus.Counter
}

// New registers the shield metrics with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Submissions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "idshield_submissions_total",
			Help: "Total submissions by verdict and mode",
		}, []string{"verdict", "mode"}),

		FieldOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "idshield_field_outcomes_total",
			Help: "Per-field self-check outcomes",
		}, []string{"outcome"}), // outcome: "decoded", "integrity_failed", "interrupted"

		StageLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "idshield_stage_duration_seconds",
			Help:    "Duration of pipeline stages",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"stage"}), // stage: "duplicate_check", "envelope_open", "field_check", "persist"

		SubmitLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "idshield_submit_duration_seconds",
			Help:    "Duration of a full submission",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),

		IndexFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "idshield_duplicate_index_failures_total",
			Help: "Duplicate-index backend failures",
		}),

		PersistFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "idshield_result_persist_failures_total",
			Help: "Result records that could not be saved",
		}),
	}
}

// IncrementSubmission records a finished submission.
func (m *Metrics) IncrementSubmission(verdict, mode string) {
	if m != nil {
		m.Submissions.WithLabelValues(verdict, mode).Inc()
	}
}

// IncrementFieldOutcome records one field self-check outcome.
func (m *Metrics) IncrementFieldOutcome(outcome string) {
	if m != nil {
		m.FieldOutcomes.WithLabelValues(outcome).Inc()
	}
}

// ObserveStage records how long a stage took.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m != nil {
		m.StageLatency.WithLabelValues(stage).Observe(d.Seconds())
	}
}

// ObserveSubmit records the total submission duration.
func (m *Metrics) ObserveSubmit(d time.Duration) {
	if m != nil {
		m.SubmitLatency.Observe(d.Seconds())
	}
}

func (m *Metrics) IncrementIndexFailure() {
	if m != nil {
		m.IndexFailures.Inc()
	}
}

func (m *Metrics) IncrementPersistFailure() {
	if m != nil {
		m.PersistFailures.Inc()
	}
}

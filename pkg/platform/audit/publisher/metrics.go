package publisher

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for stage-event delivery.
type Metrics struct {
	Emitted      *prometheus.CounterVec
	Written      prometheus.Counter
	Dropped      prometheus.Counter
	SinkFailures prometheus.Counter
}

// NewMetrics registers the delivery metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Emitted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "idshield_audit_events_emitted_total",
			Help: "Total number of stage events emitted, by category",
		}, []string{"category"}),
		Written: factory.NewCounter(prometheus.CounterOpts{
			Name: "idshield_audit_events_written_total",
			Help: "Total number of stage events written to the sink",
		}),
		Dropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "idshield_audit_events_dropped_total",
			Help: "Total number of stage events dropped for buffer space or sink failure",
		}),
		SinkFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "idshield_audit_sink_failures_total",
			Help: "Total number of failed sink writes",
		}),
	}
}

func (m *Metrics) IncEmitted(category string) {
	if m == nil {
		return
	}
	m.Emitted.WithLabelValues(category).Inc()
}

func (m *Metrics) ObserveWritten(n int) {
	if m == nil {
		return
	}
	m.Written.Add(float64(n))
}

func (m *Metrics) ObserveDropped(n int) {
	if m == nil {
		return
	}
	m.Dropped.Add(float64(n))
}

func (m *Metrics) ObserveSinkFailure() {
	if m == nil {
		return
	}
	m.SinkFailures.Inc()
}

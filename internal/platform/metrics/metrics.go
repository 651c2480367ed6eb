package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the service. Components receive a
// *Metrics and must tolerate nil so unit tests can skip registration.
type Metrics struct {
	EventsConsumed  *prometheus.CounterVec
	ActionsCreated  prometheus.Counter
	Transitions     *prometheus.CounterVec
	OutboxPublished prometheus.Counter
	OutboxRetried   prometheus.Counter
	OutboxParked    prometheus.Counter
	SweepAdvanced   prometheus.Counter
	SweepDuration   prometheus.Histogram
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		EventsConsumed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "actions_events_consumed_total",
			Help: "Inbound domain events by type and handling outcome",
		}, []string{"event_type", "outcome"}),
		ActionsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "actions_created_total",
			Help: "Actions created from derived drafts",
		}),
		Transitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "actions_transitions_total",
			Help: "Lifecycle transitions by target state",
		}, []string{"to_state"}),
		OutboxPublished: promauto.NewCounter(prometheus.CounterOpts{
			Name: "actions_outbox_published_total",
			Help: "Outbox notifications successfully published",
		}),
		OutboxRetried: promauto.NewCounter(prometheus.CounterOpts{
			Name: "actions_outbox_retried_total",
			Help: "Outbox publish attempts that failed and were rescheduled",
		}),
		OutboxParked: promauto.NewCounter(prometheus.CounterOpts{
			Name: "actions_outbox_parked_total",
			Help: "Outbox notifications parked after exhausting attempts",
		}),
		SweepAdvanced: promauto.NewCounter(prometheus.CounterOpts{
			Name: "actions_sweep_advanced_total",
			Help: "Actions advanced by the time-driven sweep",
		}),
		SweepDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "actions_sweep_duration_seconds",
			Help:    "Duration of a single sweep pass",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

func (m *Metrics) RecordEventConsumed(eventType, outcome string) {
	if m == nil {
		return
	}
	m.EventsConsumed.WithLabelValues(eventType, outcome).Inc()
}

func (m *Metrics) RecordActionCreated() {
	if m == nil {
		return
	}
	m.ActionsCreated.Inc()
}

func (m *Metrics) RecordTransition(toState string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(toState).Inc()
}

func (m *Metrics) RecordOutboxPublished() {
	if m == nil {
		return
	}
	m.OutboxPublished.Inc()
}

func (m *Metrics) RecordOutboxRetried() {
	if m == nil {
		return
	}
	m.OutboxRetried.Inc()
}

func (m *Metrics) RecordOutboxParked() {
	if m == nil {
		return
	}
	m.OutboxParked.Inc()
}

func (m *Metrics) ObserveSweep(duration time.Duration, advanced int) {
	if m == nil {
		return
	}
	m.SweepDuration.Observe(duration.Seconds())
	m.SweepAdvanced.Add(float64(advanced))
}

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// EventingMetrics records outcomes for the outbox publisher and event consumers.
type EventingMetrics struct {
	published       *prometheus.CounterVec
	publishFailures *prometheus.CounterVec
	deadLettered    *prometheus.CounterVec
	handled         *prometheus.CounterVec
	handleFailures  *prometheus.CounterVec
	handleDuration  *prometheus.HistogramVec
}

// NewEventingMetrics registers the eventing metrics on the provided registerer.
func NewEventingMetrics(reg prometheus.Registerer) *EventingMetrics {
	if reg == nil {
		return &EventingMetrics{}
	}
	published := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_events_published",
		Help: "Outbox events acknowledged by the bus.",
	}, []string{"topic"})
	publishFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_publish_failures",
		Help: "Outbox publish attempts that failed.",
	}, []string{"topic"})
	deadLettered := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "eventing_dead_lettered",
		Help: "Events moved to a dead-letter table.",
	}, []string{"path"})
	handled := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "consumer_events_handled",
		Help: "Events successfully handled by a consumer.",
	}, []string{"consumer", "event_type"})
	handleFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "consumer_handle_failures",
		Help: "Handler invocations that returned an error.",
	}, []string{"consumer", "event_type"})
	handleDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "consumer_handle_duration_seconds",
		Help:    "Duration of handler invocations in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"consumer", "event_type"})
	reg.MustRegister(published, publishFailures, deadLettered, handled, handleFailures, handleDuration)
	return &EventingMetrics{
		published:       published,
		publishFailures: publishFailures,
		deadLettered:    deadLettered,
		handled:         handled,
		handleFailures:  handleFailures,
		handleDuration:  handleDuration,
	}
}

// IncPublished increments the published counter for the topic.
func (m *EventingMetrics) IncPublished(topic string) {
	if m == nil || m.published == nil {
		return
	}
	m.published.WithLabelValues(normalizeLabel(topic)).Inc()
}

// IncPublishFailure increments the failure counter for the topic.
func (m *EventingMetrics) IncPublishFailure(topic string) {
	if m == nil || m.publishFailures == nil {
		return
	}
	m.publishFailures.WithLabelValues(normalizeLabel(topic)).Inc()
}

// IncDeadLettered increments the dead-letter counter for the given path
// (outbox or a consumer name).
func (m *EventingMetrics) IncDeadLettered(path string) {
	if m == nil || m.deadLettered == nil {
		return
	}
	m.deadLettered.WithLabelValues(normalizeLabel(path)).Inc()
}

// IncHandled increments the handled counter for the consumer/event pair.
func (m *EventingMetrics) IncHandled(consumer, eventType string) {
	if m == nil || m.handled == nil {
		return
	}
	m.handled.WithLabelValues(normalizeLabel(consumer), normalizeLabel(eventType)).Inc()
}

// IncHandleFailure increments the handler failure counter for the consumer/event pair.
func (m *EventingMetrics) IncHandleFailure(consumer, eventType string) {
	if m == nil || m.handleFailures == nil {
		return
	}
	m.handleFailures.WithLabelValues(normalizeLabel(consumer), normalizeLabel(eventType)).Inc()
}

// ObserveHandleDuration records the handler duration for the consumer/event pair.
func (m *EventingMetrics) ObserveHandleDuration(consumer, eventType string, duration time.Duration) {
	if m == nil || m.handleDuration == nil {
		return
	}
	m.handleDuration.WithLabelValues(normalizeLabel(consumer), normalizeLabel(eventType)).Observe(duration.Seconds())
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}

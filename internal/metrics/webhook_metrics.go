package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// WebhookMetrics counts provider webhook traffic and projection outcomes.
type WebhookMetrics interface {
	IncReceived(eventType string)
	IncIgnored(eventType string)
	IncDuplicate(eventType string)
	IncProcessed(eventType string)
	IncFailed(eventType string)
	ObserveProcessingDuration(eventType string, seconds float64)
}

type webhookMetrics struct {
	received          *prometheus.CounterVec
	outcomes          *prometheus.CounterVec
	processingSeconds *prometheus.HistogramVec
}

func NewWebhookMetrics(registry *prometheus.Registry) WebhookMetrics {
	received := promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "stripe_webhook_events_received_total",
			Help: "Verified webhook events received, by event type",
		},
		[]string{"event_type"},
	)

	outcomes := promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "stripe_webhook_event_outcomes_total",
			Help: "Webhook event handling outcomes, by event type",
		},
		[]string{"event_type", "outcome"},
	)

	processingSeconds := promauto.With(registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stripe_webhook_processing_seconds",
			Help:    "Projection latency per event",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"event_type"},
	)

	return &webhookMetrics{
		received:          received,
		outcomes:          outcomes,
		processingSeconds: processingSeconds,
	}
}

func (m *webhookMetrics) IncReceived(eventType string) {
	m.received.WithLabelValues(eventType).Inc()
}

func (m *webhookMetrics) IncIgnored(eventType string) {
	m.outcomes.WithLabelValues(eventType, "ignored").Inc()
}

func (m *webhookMetrics) IncDuplicate(eventType string) {
	m.outcomes.WithLabelValues(eventType, "duplicate").Inc()
}

func (m *webhookMetrics) IncProcessed(eventType string) {
	m.outcomes.WithLabelValues(eventType, "processed").Inc()
}

func (m *webhookMetrics) IncFailed(eventType string) {
	m.outcomes.WithLabelValues(eventType, "failed").Inc()
}

func (m *webhookMetrics) ObserveProcessingDuration(eventType string, seconds float64) {
	m.processingSeconds.WithLabelValues(eventType).Observe(seconds)
}

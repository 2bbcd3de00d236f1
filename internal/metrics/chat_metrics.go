package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ChatMetrics counts chat completions behind the paywall.
type ChatMetrics interface {
	IncRequest(outcome string)
	ObserveCompletionDuration(seconds float64)
}

type chatMetrics struct {
	requests          *prometheus.CounterVec
	completionSeconds prometheus.Histogram
}

func NewChatMetrics(registry *prometheus.Registry) ChatMetrics {
	requests := promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_requests_total",
			Help: "Chat requests by outcome",
		},
		[]string{"outcome"},
	)

	completionSeconds := promauto.With(registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chat_completion_seconds",
			Help:    "Model completion latency",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 8),
		},
	)

	return &chatMetrics{
		requests:          requests,
		completionSeconds: completionSeconds,
	}
}

func (m *chatMetrics) IncRequest(outcome string) {
	m.requests.WithLabelValues(outcome).Inc()
}

func (m *chatMetrics) ObserveCompletionDuration(seconds float64) {
	m.completionSeconds.Observe(seconds)
}

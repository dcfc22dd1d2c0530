package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce           sync.Once
	apiRequestsTotal       *prometheus.CounterVec
	apiLatencySeconds      *prometheus.HistogramVec
	apiErrorsTotal         *prometheus.CounterVec
	chatConnectionsTotal   prometheus.Counter
	chatSubscriptionsTotal prometheus.Counter
	chatSubscriptionErrors prometheus.Counter
	chatMessagesSentTotal  *prometheus.CounterVec
	chatSendSeconds        prometheus.Histogram
	attachmentSeconds      prometheus.Histogram
)

// RegisterMetrics initialises the Prometheus collectors used for chat observability.
func RegisterMetrics() {
	registerOnce.Do(func() {
		apiRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_api_requests_total",
			Help: "Total number of chat API requests served.",
		}, []string{"method", "route", "status"})

		apiLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chat_api_latency_seconds",
			Help:    "Latency distribution for chat API requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		}, []string{"method", "route"})

		apiErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_api_errors_total",
			Help: "Total number of error responses returned by chat API endpoints.",
		}, []string{"method", "route", "status"})

		chatConnectionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_connections_total",
			Help: "Total number of websocket chat sessions opened.",
		})

		chatSubscriptionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_subscriptions_total",
			Help: "Total number of room message subscriptions started.",
		})

		chatSubscriptionErrors = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_subscription_errors_total",
			Help: "Total number of room subscriptions terminated by an error.",
		})

		chatMessagesSentTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_messages_sent_total",
			Help: "Total number of chat messages persisted, by message type.",
		}, []string{"type"})

		chatSendSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "chat_send_latency_seconds",
			Help:    "Latency distribution for persisting and fanning out a chat message.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		})

		attachmentSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "chat_attachment_upload_seconds",
			Help:    "Latency distribution for chat attachment uploads.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
		})

		prometheus.MustRegister(
			apiRequestsTotal,
			apiLatencySeconds,
			apiErrorsTotal,
			chatConnectionsTotal,
			chatSubscriptionsTotal,
			chatSubscriptionErrors,
			chatMessagesSentTotal,
			chatSendSeconds,
			attachmentSeconds,
		)
	})
}

// APIRequests exposes the counter for chat API requests.
func APIRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return apiRequestsTotal
}

// APILatency exposes the latency histogram for chat API requests.
func APILatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return apiLatencySeconds
}

// APIErrors exposes the counter for chat API error responses.
func APIErrors() *prometheus.CounterVec {
	RegisterMetrics()
	return apiErrorsTotal
}

// ChatConnectionsTotal exposes the counter for opened websocket sessions.
func ChatConnectionsTotal() prometheus.Counter {
	RegisterMetrics()
	return chatConnectionsTotal
}

// ChatSubscriptionsTotal exposes the counter for started room subscriptions.
func ChatSubscriptionsTotal() prometheus.Counter {
	RegisterMetrics()
	return chatSubscriptionsTotal
}

// ChatSubscriptionErrors exposes the counter for failed room subscriptions.
func ChatSubscriptionErrors() prometheus.Counter {
	RegisterMetrics()
	return chatSubscriptionErrors
}

// ChatMessagesSent exposes the counter for persisted messages by type.
func ChatMessagesSent() *prometheus.CounterVec {
	RegisterMetrics()
	return chatMessagesSentTotal
}

// ChatSendLatency exposes the histogram for message send latency.
func ChatSendLatency() prometheus.Histogram {
	RegisterMetrics()
	return chatSendSeconds
}

// AttachmentUploadLatency exposes the histogram for attachment upload latency.
func AttachmentUploadLatency() prometheus.Histogram {
	RegisterMetrics()
	return attachmentSeconds
}

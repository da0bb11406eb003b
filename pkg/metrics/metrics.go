// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// AIRequestDuration tracks AI collaborator call duration.
	AIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ai_request_duration_seconds",
			Help:    "AI collaborator call duration",
			Buckets: []float64{.25, .5, 1, 2, 5, 10, 20, 30, 60},
		},
		[]string{"model", "status"},
	)

	// AITokensTotal tracks total LLM tokens processed.
	AITokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_tokens_total",
			Help: "Total LLM tokens processed",
		},
		[]string{"model", "direction"},
	)

	// SSEConnectionsActive tracks active SSE connections.
	SSEConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sse_connections_active",
			Help: "Number of active SSE connections",
		},
	)

	// NATSConnected is 1 while the event bridge connection is up.
	NATSConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "nats_connected",
			Help: "Whether the NATS event bridge is connected",
		},
	)

	// NATSStreamMessages tracks messages in NATS stream.
	NATSStreamMessages = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nats_stream_messages",
			Help: "Number of messages in NATS stream",
		},
		[]string{"stream"},
	)

	// NATSStreamBytes tracks bytes in NATS stream.
	NATSStreamBytes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nats_stream_bytes",
			Help: "Bytes in NATS stream",
		},
		[]string{"stream"},
	)

	// ConversationsTotal tracks total conversations created.
	ConversationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conversations_total",
			Help: "Total conversations created",
		},
		[]string{"channel"},
	)

	// MessagesTotal tracks total messages stored.
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messages_total",
			Help: "Total messages stored",
		},
		[]string{"sender_type", "source"},
	)

	// RoutingDecisionsTotal tracks policy outcomes.
	RoutingDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "routing_decisions_total",
			Help: "Routing policy decisions",
		},
		[]string{"mode", "kind"},
	)

	// WorkersActive tracks live per-conversation workers.
	WorkersActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "router_workers_active",
			Help: "Number of live per-conversation workers",
		},
	)

	// SubscribersDropped counts subscribers closed for falling behind.
	SubscribersDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fanout_subscribers_dropped_total",
			Help: "Subscribers closed because their buffer overflowed",
		},
	)

	// BridgeTimeouts counts event publishes that outlived the bridge timeout.
	BridgeTimeouts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "event_bridge_timeouts_total",
			Help: "Event bridge publishes abandoned after the timeout",
		},
	)

	// NotifierFailures counts failed transcript and alert deliveries.
	NotifierFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifier_failures_total",
			Help: "Failed outbound notifications",
		},
		[]string{"kind"},
	)

	// ChannelDeliveryFailures counts outbound messages a channel failed to deliver.
	ChannelDeliveryFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "channel_delivery_failures_total",
			Help: "Outbound channel deliveries that failed",
		},
		[]string{"channel"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordAICall records metrics for an AI collaborator call.
func RecordAICall(model, status string, duration float64, tokensIn, tokensOut int) {
	AIRequestDuration.WithLabelValues(model, status).Observe(duration)
	AITokensTotal.WithLabelValues(model, "in").Add(float64(tokensIn))
	AITokensTotal.WithLabelValues(model, "out").Add(float64(tokensOut))
}

// IncrementSSEConnections increments the active SSE connection count.
func IncrementSSEConnections() {
	SSEConnectionsActive.Inc()
}

// DecrementSSEConnections decrements the active SSE connection count.
func DecrementSSEConnections() {
	SSEConnectionsActive.Dec()
}

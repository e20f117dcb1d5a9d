package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mjnet_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mjnet_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Discovery metrics
	PeersDiscovered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mjnet_peers_discovered_total",
			Help: "Total peers found by handshake probes",
		},
	)

	ProbesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mjnet_probes_sent_total",
			Help: "Total discovery probes sent",
		},
		[]string{"result"}, // "answered" or "silent"
	)

	// Relationship metrics
	FriendRequestsSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mjnet_friend_requests_sent_total",
			Help: "Total friend requests sent",
		},
	)

	FriendRequestsResolved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mjnet_friend_requests_resolved_total",
			Help: "Total friend requests resolved",
		},
		[]string{"outcome"}, // "accepted", "rejected", "cancelled", "expired"
	)

	// Conversation metrics
	SessionsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mjnet_sessions_started_total",
			Help: "Total conversation sessions approved and started",
		},
	)

	SessionsEnded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mjnet_sessions_ended_total",
			Help: "Total conversation sessions ended",
		},
		[]string{"reason"}, // "completed", "expired", "max_turns_reached", "rejected"
	)

	TurnsGenerated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mjnet_turns_generated_total",
			Help: "Total conversation turns generated",
		},
		[]string{"result"}, // "ok" or "fallback"
	)

	TokensConsumed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mjnet_generator_tokens_total",
			Help: "Total generator tokens consumed",
		},
	)

	GenerationLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mjnet_generation_latency_seconds",
			Help:    "Response generation latency",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)

	// Delivery metrics
	MessagesDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mjnet_messages_delivered_total",
			Help: "Total messages delivered",
		},
		[]string{"route"}, // "direct" or "queued"
	)

	PendingFlushed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mjnet_pending_flushed_total",
			Help: "Total queued messages delivered on reconnect",
		},
	)
)

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AuthAttempts records authentication attempts by result (success|failure|banned).
	AuthAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatbridge_auth_attempts_total",
			Help: "Total number of authentication attempts",
		},
		[]string{"result"},
	)

	// ActiveSessions tracks active sessions (not expired/invalidated).
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatbridge_active_sessions",
			Help: "Number of active sessions",
		},
	)

	// OnlineUsers tracks users with at least one live realtime connection.
	OnlineUsers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatbridge_online_users",
			Help: "Number of users currently online",
		},
	)

	// LiveConnections tracks open websocket connections across all users.
	LiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatbridge_live_connections",
			Help: "Number of open realtime connections",
		},
	)

	// MessagesSent counts persisted messages by type (text|voice).
	MessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatbridge_messages_sent_total",
			Help: "Total number of messages persisted",
		},
		[]string{"type"},
	)

	// ThrottledActions counts realtime invocations dropped by the per-action cooldown.
	ThrottledActions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatbridge_throttled_actions_total",
			Help: "Realtime invocations dropped by rate limiting",
		},
		[]string{"action"},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatbridge_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

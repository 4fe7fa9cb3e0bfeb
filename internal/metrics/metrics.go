// Package metrics provides Prometheus instrumentation for the chat relay. It
// exposes gauges for connection, session and typing counts, counters for
// message throughput and dropped frames, and a histogram for event latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of open WebSocket connections,
	// joined or not.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "relay_connections_total",
		Help: "Current number of open WebSocket connections",
	})

	// SessionsTotal tracks the number of connections that completed join.
	SessionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "relay_sessions_total",
		Help: "Current number of joined sessions",
	})

	// MessagesTotal counts accepted messages, labeled by kind.
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_messages_total",
		Help: "Total number of accepted messages",
	}, []string{"kind"}) // kind = "room", "private", "reaction", "receipt"

	// RejectedTotal counts inbound events refused at the boundary.
	RejectedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_rejected_total",
		Help: "Total number of inbound events rejected before reaching the relay",
	}, []string{"reason"}) // reason = "invalid", "rate_limited", "blocked", "banned"

	// FramesDropped counts outbound frames discarded because the recipient
	// was gone or its send queue was full.
	FramesDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relay_frames_dropped_total",
		Help: "Outbound frames dropped for unreachable or slow connections",
	})

	// EvictionsTotal counts messages evicted from room logs.
	EvictionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_log_evictions_total",
		Help: "Messages evicted from a room log",
	}, []string{"room"})

	// TypingUsers tracks the size of each room's typing set.
	TypingUsers = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "relay_typing_users",
		Help: "Connections currently typing, per room",
	}, []string{"room"})

	// EventLatency records inbound event processing latency in seconds.
	EventLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "relay_event_latency_seconds",
		Help:    "Inbound event processing latency in seconds",
		Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"type"})

	// ReportsTotal counts message reports accepted for review.
	ReportsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relay_reports_total",
		Help: "Message reports stored for moderator review",
	})

	// HTTPRequestsTotal counts status surface requests.
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration records status surface request latency.
	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "relay_http_request_duration_seconds",
		Help:    "HTTP request duration",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		SessionsTotal,
		MessagesTotal,
		RejectedTotal,
		FramesDropped,
		EvictionsTotal,
		TypingUsers,
		EventLatency,
		ReportsTotal,
		HTTPRequestsTotal,
		HTTPRequestDuration,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

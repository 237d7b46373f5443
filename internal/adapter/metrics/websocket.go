package metrics

import "github.com/prometheus/client_golang/prometheus"

// Reasons for a refused WebSocket connection.
const (
	RejectGlobalLimit = "global_limit"
	RejectPerIPLimit  = "per_ip_limit"
	RejectRateLimit   = "rate_limit"
)

// WebSocketMetrics holds Prometheus metrics for the subscriber registry and
// per-connection writers.
type WebSocketMetrics struct {
	ActiveConnections   prometheus.Gauge
	ConnectionsRejected *prometheus.CounterVec
	MessagesDelivered   prometheus.Counter
	MessagesDropped     *prometheus.CounterVec
	SendDuration        prometheus.Histogram
	PingFailures        prometheus.Counter
	IdleDisconnects     prometheus.Counter
	CommandQueueDepth   prometheus.Gauge
}

// NewWebSocketMetrics creates and registers WebSocket metrics on the given registry.
func NewWebSocketMetrics(reg prometheus.Registerer) *WebSocketMetrics {
	m := &WebSocketMetrics{
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "active_connections",
			Help:      "Number of registered WebSocket subscribers.",
		}),
		ConnectionsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "connections_rejected_total",
			Help:      "Total number of WebSocket connections refused, by limit.",
		}, []string{"reason"}),
		MessagesDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "messages_delivered_total",
			Help:      "Total number of scan messages written to subscribers.",
		}),
		MessagesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "messages_dropped_total",
			Help:      "Total number of scan messages skipped for a subscriber, by reason.",
		}, []string{"reason"}),
		SendDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "message_send_duration_seconds",
			Help:      "Time spent writing one message to a subscriber socket.",
			Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5},
		}),
		PingFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "ping_failures_total",
			Help:      "Total number of failed keepalive pings.",
		}),
		IdleDisconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "idle_disconnects_total",
			Help:      "Total number of subscribers disconnected for inactivity.",
		}),
		CommandQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "broadcaster",
			Name:      "command_queue_depth",
			Help:      "Number of pending commands in the broadcaster queue.",
		}),
	}

	reg.MustRegister(
		m.ActiveConnections,
		m.ConnectionsRejected,
		m.MessagesDelivered,
		m.MessagesDropped,
		m.SendDuration,
		m.PingFailures,
		m.IdleDisconnects,
		m.CommandQueueDepth,
	)
	return m
}

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prism_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "prism_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 5},
		},
		[]string{"method", "route"},
	)

	// Messaging metrics
	MessagesAppended = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prism_messages_appended_total",
			Help: "Total messages appended to patient conversations",
		},
		[]string{"backend", "sender"},
	)

	AppendErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prism_message_append_errors_total",
			Help: "Total failed appends",
		},
		[]string{"backend", "reason"},
	)

	ActiveSubscriptions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "prism_active_subscriptions",
			Help: "Live conversation subscriptions",
		},
	)

	SnapshotsDelivered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "prism_snapshots_delivered_total",
			Help: "Total conversation snapshots delivered to subscribers",
		},
	)

	ViewSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "prism_view_sessions",
			Help: "Open websocket and SSE conversation views",
		},
	)

	// Gateway metrics
	GatewayRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prism_gateway_requests_total",
			Help: "Total generative flow invocations",
		},
		[]string{"flow", "outcome"},
	)

	GatewayDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "prism_gateway_duration_seconds",
			Help:    "Generative flow latency",
			Buckets: []float64{.25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"flow"},
	)
)

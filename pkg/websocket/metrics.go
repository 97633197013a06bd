package websocket

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveConnections tracks active WebSocket connections across all
	// market sessions.
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pairscan_ws_active_connections",
		Help: "Number of active WebSocket connections",
	})

	// ReconnectAttemptsTotal tracks reconnection attempts.
	ReconnectAttemptsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pairscan_ws_reconnect_attempts_total",
		Help: "Total number of WebSocket reconnection attempts",
	})

	// ReconnectFailuresTotal tracks reconnection failures.
	ReconnectFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pairscan_ws_reconnect_failures_total",
		Help: "Total number of WebSocket reconnection failures",
	})

	// EventsReceivedTotal tracks stream events received by kind.
	EventsReceivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pairscan_ws_events_received_total",
			Help: "Total number of stream events received",
		},
		[]string{"event_type"},
	)

	// UnknownEventsTotal tracks events with an unrecognized event_type.
	UnknownEventsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pairscan_ws_unknown_events_total",
		Help: "Total number of stream events with an unknown event_type",
	})

	// EventsDroppedTotal tracks events dropped due to a full channel.
	EventsDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pairscan_ws_events_dropped_total",
			Help: "Total number of stream events dropped",
		},
		[]string{"reason"},
	)

	// SubscriptionCount tracks active token subscriptions.
	SubscriptionCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pairscan_ws_subscription_count",
		Help: "Number of active token subscriptions",
	})

	// ConnectionDuration tracks WebSocket connection lifetime.
	ConnectionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pairscan_ws_connection_duration_seconds",
		Help:    "Duration of WebSocket connections before disconnect",
		Buckets: []float64{30, 60, 120, 300, 600, 900, 1800, 3600},
	})

	// UnsubscriptionsTotal tracks token unsubscriptions.
	UnsubscriptionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pairscan_ws_unsubscriptions_total",
		Help: "Total number of token unsubscriptions",
	})
)

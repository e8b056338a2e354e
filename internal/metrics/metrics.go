package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// PingsUploaded counts location pings by outcome: sent, queued, dropped, gated.
	PingsUploaded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinelr_pings_total",
			Help: "Location pings handled by the companion reporter.",
		},
		[]string{"outcome"},
	)

	// PingQueueDepth is the number of pings waiting for retry.
	PingQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sentinelr_ping_queue_depth",
			Help: "Location pings waiting in the retry queue.",
		},
	)

	HeartbeatsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinelr_heartbeats_total",
			Help: "Heartbeats attempted by the companion reporter.",
		},
		[]string{"status"},
	)

	// FeedConnected is 1 while the change feed websocket is up.
	FeedConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sentinelr_feed_connected",
			Help: "Change feed connectivity (1=connected, 0=disconnected).",
		},
	)

	FeedReconnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sentinelr_feed_reconnects_total",
			Help: "Change feed reconnect attempts.",
		},
	)

	DeviceListRefetches = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sentinelr_device_list_refetches_total",
			Help: "Full device list refetches triggered by change events.",
		},
	)

	// PairingOutcomes counts server-side pairing code results: issued, redeemed, rejected.
	PairingOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinelr_pairing_codes_total",
			Help: "Pairing code lifecycle events on the server.",
		},
		[]string{"outcome"},
	)

	EventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinelr_change_events_published_total",
			Help: "Change events published to subscribers.",
		},
		[]string{"table"},
	)

	APILatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sentinelr_http_request_duration_seconds",
			Help:    "Latency of API requests served.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "status"},
	)
)

func init() {
	prometheus.MustRegister(
		PingsUploaded,
		PingQueueDepth,
		HeartbeatsSent,
		FeedConnected,
		FeedReconnects,
		DeviceListRefetches,
		PairingOutcomes,
		EventsPublished,
		APILatency,
	)
}

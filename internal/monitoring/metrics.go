package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// QuotesTotal counts completed quote computations by producing engine
	QuotesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guardquote_quotes_total",
			Help: "Total number of completed quote computations",
		},
		[]string{"engine"},
	)

	// FallbacksTotal counts remote-engine failures by cause
	FallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guardquote_ml_fallbacks_total",
			Help: "Total number of fallbacks from the ML engine to the local formula",
		},
		[]string{"reason"},
	)

	// QuoteDuration observes end-to-end quote computation latency
	QuoteDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "guardquote_quote_duration_seconds",
			Help:    "Quote computation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"engine"},
	)

	// ConnectionsActive tracks live WebSocket connections by class
	ConnectionsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "guardquote_ws_connections_active",
			Help: "Currently open WebSocket connections",
		},
		[]string{"type"},
	)

	// MessagesTotal counts inbound WebSocket messages by type
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guardquote_ws_messages_total",
			Help: "Total inbound WebSocket messages",
		},
		[]string{"type"},
	)

	// RateLimitRejections counts requests rejected by admission control
	RateLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guardquote_rate_limit_rejections_total",
			Help: "Total requests rejected by rate limiting",
		},
		[]string{"tier"},
	)
)

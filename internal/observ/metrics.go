package observ

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	StreamsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "storefront_chat_streams_active",
			Help: "Chat streams currently open on this gateway",
		},
	)

	StreamCloses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_chat_stream_closes_total",
			Help: "Chat streams closed by the gateway, by close code",
		},
		[]string{"code"},
	)

	MessagesRelayed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "storefront_chat_messages_relayed_total",
			Help: "Chat messages persisted and published to a room",
		},
	)

	FramesRateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "storefront_chat_frames_rate_limited_total",
			Help: "Inbound chat frames dropped by the per-stream rate limit",
		},
	)

	HistoryRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_chat_history_requests_total",
			Help: "Conversation history requests, by outcome",
		},
		[]string{"outcome"}, // "ok", "not_found", "error"
	)
)

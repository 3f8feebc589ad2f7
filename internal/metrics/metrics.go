package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	reg = prometheus.NewRegistry()

	Connections = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relay_connections_total", Help: "Total accepted WS connections",
	})
	Disconnects = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_disconnects_total", Help: "Disconnects by cause",
	}, []string{"cause"}) // "close", "heartbeat-timeout", "error"

	MessagesIn = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_messages_in_total", Help: "Inbound text messages by type",
	}, []string{"type"})
	MessagesDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_messages_dropped_total", Help: "Dropped messages by reason",
	}, []string{"reason"}) // "malformed-json", "unknown-type", "no-recipient", "fallback-disabled"

	BinaryFramesRelayed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relay_binary_frames_total", Help: "Binary frames forwarded",
	})
	BinaryBytesRelayed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relay_binary_bytes_total", Help: "Binary payload bytes forwarded",
	})

	RoomsActive = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "relay_rooms_active", Help: "Active rooms by namespace",
	}, []string{"namespace"}) // "ip", "secret", "public"
	PeersActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "relay_peers_active", Help: "Currently connected peers",
	})

	PairKeysIssued = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relay_pair_keys_issued_total", Help: "Pair keys minted",
	})
	PairKeysActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "relay_pair_keys_active", Help: "Pair keys currently outstanding",
	})
	PairJoinRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_pair_join_rejected_total", Help: "Rejected pair-device-join attempts",
	}, []string{"reason"}) // "invalid-key", "self-join"

	RateLimited = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_rate_limited_total", Help: "Requests rejected by the rate limiter",
	}, []string{"op"}) // "pair-device-join", "join-public-room"
)

func Init() {
	reg.MustRegister(
		Connections, Disconnects,
		MessagesIn, MessagesDropped,
		BinaryFramesRelayed, BinaryBytesRelayed,
		RoomsActive, PeersActive,
		PairKeysIssued, PairKeysActive, PairJoinRejected,
		RateLimited,
	)
}

func Handler() http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

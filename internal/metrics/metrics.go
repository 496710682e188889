// Package metrics provides Prometheus instrumentation for the pairing
// server. It exposes gauges for connection, pool, and pairing counts,
// counters for relay throughput, and a histogram for time-to-match.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of active WebSocket connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "glimpse_connections_total",
		Help: "Current number of active WebSocket connections",
	})

	// WaitingPoolSize tracks the current number of participants waiting for
	// a partner.
	WaitingPoolSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "glimpse_waiting_pool_size",
		Help: "Current number of participants in the waiting pool",
	})

	// ActivePairings tracks the current number of active pairings.
	ActivePairings = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "glimpse_active_pairings",
		Help: "Current number of active pairings",
	})

	// RelaysTotal counts relayed signaling payloads, labeled by outcome:
	// "delivered", "not_paired", "peer_mismatch", "target_gone", "error".
	RelaysTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "glimpse_relays_total",
		Help: "Total number of relay attempts by outcome",
	}, []string{"outcome"})

	// MatchDuration records the time from entering the waiting pool to
	// being paired.
	MatchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "glimpse_match_duration_seconds",
		Help:    "Time from join to pairing",
		Buckets: []float64{.1, .5, 1, 2, 5, 10, 15, 20, 30},
	})

	// TimeoutsTotal counts no-match timeouts.
	TimeoutsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "glimpse_no_match_timeouts_total",
		Help: "Total number of waits that ended in a no-match timeout",
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		WaitingPoolSize,
		ActivePairings,
		RelaysTotal,
		MatchDuration,
		TimeoutsTotal,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

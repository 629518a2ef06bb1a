// Package metrics provides Prometheus instrumentation for the wristband
// relay server: gauges for connection and identity counts, counters for
// routed records, and a histogram for presence broadcast fan-out.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of live WebSocket
	// connections, authenticated or not.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "wristband_connections_total",
		Help: "Current number of live WebSocket connections",
	})

	// RegisteredUsers tracks the current number of identities bound in the
	// registry.
	RegisteredUsers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "wristband_registered_users",
		Help: "Current number of identities bound in the registry",
	})

	// RecordsTotal counts routed records by outcome: "echoed", "delivered",
	// "dropped", "typing", "typing_dropped", "rate_limited".
	RecordsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wristband_records_total",
		Help: "Total number of routed records by outcome",
	}, []string{"outcome"})

	// BroadcastFanout records how many connections each presence broadcast
	// reached.
	BroadcastFanout = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "wristband_broadcast_fanout",
		Help:    "Connections reached per presence broadcast",
		Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250, 500, 1000},
	})

	// DecodeErrorsTotal counts inbound payloads that failed to decode.
	DecodeErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "wristband_decode_errors_total",
		Help: "Total number of inbound payloads that failed to decode",
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		RegisteredUsers,
		RecordsTotal,
		BroadcastFanout,
		DecodeErrorsTotal,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

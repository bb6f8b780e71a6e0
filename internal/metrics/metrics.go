// Package metrics holds the Prometheus collectors exported at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Posted counts events delivered through Bus.Post, by event type.
	Posted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "leafbus",
		Name:      "bus_posted_total",
		Help:      "Events posted to the bus.",
	}, []string{"type"})

	// Dropped counts PostSync events discarded because the queue was full.
	Dropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "leafbus",
		Name:      "bus_sync_dropped_total",
		Help:      "Events dropped by PostSync on a full queue.",
	})

	// Connections tracks live connections by class ("gateway" or "client").
	Connections = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "leafbus",
		Name:      "connections",
		Help:      "Currently connected peers.",
	}, []string{"class"})

	// HandshakeFailures counts rejected handshakes by reason.
	HandshakeFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "leafbus",
		Name:      "handshake_failures_total",
		Help:      "Handshakes that did not reach the connected state.",
	}, []string{"reason"})

	// Reconnects counts gateway connection attempts, by outcome.
	Reconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "leafbus",
		Name:      "gateway_connect_attempts_total",
		Help:      "Gateway connection attempts to the hub.",
	}, []string{"outcome"})
)

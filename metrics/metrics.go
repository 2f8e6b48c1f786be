// Package metrics exposes Prometheus collectors for the relay.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "locationsync"

// Metrics holds the relay's collectors.
type Metrics struct {
	ActivePeers      prometheus.Gauge
	Connections      prometheus.Counter
	MessagesReceived prometheus.Counter
	MessagesRejected *prometheus.CounterVec
	Broadcasts       prometheus.Counter
	FramesDelivered  prometheus.Counter
	SendFailures     prometheus.Counter
	HeartbeatRounds  prometheus.Counter
	PeersEvicted     prometheus.Counter
}

// NewRegistry creates a Prometheus registry with Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// Handler returns an http.Handler that serves the given registry.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// New creates and registers the relay metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ActivePeers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "active_peers",
			Help:      "Number of peers currently registered.",
		}),
		Connections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "connections_total",
			Help:      "Total number of accepted WebSocket connections.",
		}),
		MessagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "messages_received_total",
			Help:      "Total number of inbound frames.",
		}),
		MessagesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "messages_rejected_total",
			Help:      "Inbound frames dropped by validation, by reason.",
		}, []string{"reason"}),
		Broadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "broadcasts_total",
			Help:      "Total number of valid updates fanned out.",
		}),
		FramesDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "frames_delivered_total",
			Help:      "Broadcast frames queued to individual peers.",
		}),
		SendFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "send_failures_total",
			Help:      "Per-peer send failures during fan-out.",
		}),
		HeartbeatRounds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "liveness",
			Name:      "rounds_total",
			Help:      "Heartbeat rounds completed.",
		}),
		PeersEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "liveness",
			Name:      "peers_evicted_total",
			Help:      "Peers disconnected for missing heartbeats.",
		}),
	}

	reg.MustRegister(
		m.ActivePeers,
		m.Connections,
		m.MessagesReceived,
		m.MessagesRejected,
		m.Broadcasts,
		m.FramesDelivered,
		m.SendFailures,
		m.HeartbeatRounds,
		m.PeersEvicted,
	)
	return m
}

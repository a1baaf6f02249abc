// Package metrics exposes Prometheus collectors for the relay.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Ack outcome labels.
const (
	AckOK      = "ok"
	AckError   = "error"
	AckTimeout = "timeout"
)

// Delivery outcome labels.
const (
	DeliveryOK     = "ok"
	DeliveryFailed = "failed"
)

// Metrics groups the relay collectors on a private registry so that several
// instances can coexist in one process.
type Metrics struct {
	registry *prometheus.Registry

	Connections prometheus.Gauge
	Joins       prometheus.Counter
	Broadcasts  *prometheus.CounterVec
	Deliveries  *prometheus.CounterVec
	Acks        *prometheus.CounterVec
}

// New builds and registers the relay collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "roomrelay",
			Name:      "connections",
			Help:      "Live WebSocket connections.",
		}),
		Joins: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "roomrelay",
			Name:      "room_joins_total",
			Help:      "Successful room joins.",
		}),
		Broadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "roomrelay",
			Name:      "broadcasts_total",
			Help:      "Room broadcasts by event name.",
		}, []string{"event"}),
		Deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "roomrelay",
			Name:      "deliveries_total",
			Help:      "Per-recipient deliveries by outcome.",
		}, []string{"outcome"}),
		Acks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "roomrelay",
			Name:      "acks_total",
			Help:      "Resolved acknowledgements by outcome.",
		}, []string{"outcome"}),
	}

	m.registry.MustRegister(
		m.Connections,
		m.Joins,
		m.Broadcasts,
		m.Deliveries,
		m.Acks,
		collectors.NewGoCollector(),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

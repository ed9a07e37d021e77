// Package metrics exposes the relay's internal counters in Prometheus form.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Drop reasons, used as the "reason" label on the drop counter.
const (
	DropReasonProtocolError = "protocol_error"
	DropReasonNotMember     = "not_member"
	DropReasonRateLimited   = "rate_limited"
	DropReasonDelivery      = "delivery_failed"
)

// Metrics is the relay's metrics registry. All collectors live in a private
// prometheus.Registry so tests can construct isolated instances.
type Metrics struct {
	registry *prometheus.Registry

	eventsRelayed *prometheus.CounterVec
	eventsDropped *prometheus.CounterVec
	roomsCreated  prometheus.Counter
	roomsDeleted  prometheus.Counter

	connectionsOpen prometheus.Gauge
	roomsOpen       prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.eventsRelayed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kiel_signaling_events_relayed_total",
		Help: "Events fanned out to room members, by event kind.",
	}, []string{"kind"})
	m.eventsDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kiel_signaling_events_dropped_total",
		Help: "Inbound events dropped without fan-out, by reason.",
	}, []string{"reason"})
	m.roomsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kiel_signaling_rooms_created_total",
		Help: "Rooms created by a first join.",
	})
	m.roomsDeleted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kiel_signaling_rooms_deleted_total",
		Help: "Rooms deleted when their last member left.",
	})
	m.connectionsOpen = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "kiel_signaling_connections_open",
		Help: "Live signaling connections.",
	})
	m.roomsOpen = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "kiel_signaling_rooms_open",
		Help: "Rooms with at least one member.",
	})

	m.registry.MustRegister(
		m.eventsRelayed,
		m.eventsDropped,
		m.roomsCreated,
		m.roomsDeleted,
		m.connectionsOpen,
		m.roomsOpen,
	)
	return m
}

func (m *Metrics) EventRelayed(kind string)   { m.eventsRelayed.WithLabelValues(kind).Inc() }
func (m *Metrics) EventDropped(reason string) { m.eventsDropped.WithLabelValues(reason).Inc() }

func (m *Metrics) RoomCreated() {
	m.roomsCreated.Inc()
	m.roomsOpen.Inc()
}

func (m *Metrics) RoomDeleted() {
	m.roomsDeleted.Inc()
	m.roomsOpen.Dec()
}

func (m *Metrics) ConnOpened() { m.connectionsOpen.Inc() }
func (m *Metrics) ConnClosed() { m.connectionsOpen.Dec() }

// EventsRelayed returns the relayed-events counter for one kind. Exposed for
// test assertions via promtest helpers.
func (m *Metrics) EventsRelayed(kind string) prometheus.Counter {
	return m.eventsRelayed.WithLabelValues(kind)
}

// EventsDropped returns the drop counter for one reason.
func (m *Metrics) EventsDropped(reason string) prometheus.Counter {
	return m.eventsDropped.WithLabelValues(reason)
}

// Handler serves the registry in Prometheus' text exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

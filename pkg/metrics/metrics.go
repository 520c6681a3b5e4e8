// Package metrics holds the Prometheus instrumentation shared by the
// connection manager, the thread store and the notification feed.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all client-side Prometheus collectors.
// Each instance owns its registry so tests can create as many as they like
// without duplicate registration panics.
type Metrics struct {
	registry *prometheus.Registry

	stateTransitions  *prometheus.CounterVec
	reconnectAttempts prometheus.Counter
	emits             *prometheus.CounterVec
	inboundMessages   *prometheus.CounterVec
	threadEvents      *prometheus.CounterVec
	fetchedPages      *prometheus.CounterVec
	notifications     prometheus.Counter
	activeRooms       prometheus.Gauge
}

// NewMetrics creates and registers all collectors on a fresh registry
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		stateTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wisdm_connection_state_transitions_total",
			Help: "Connection state transitions by target state",
		}, []string{"state"}),
		reconnectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wisdm_connection_reconnect_attempts_total",
			Help: "Automatic reconnect attempts started",
		}),
		emits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wisdm_connection_emits_total",
			Help: "Outbound events by name and result (sent, dropped, error)",
		}, []string{"event", "result"}),
		inboundMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wisdm_connection_inbound_messages_total",
			Help: "Inbound application messages by kind and result (dispatched, unknown)",
		}, []string{"kind", "result"}),
		threadEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wisdm_thread_realtime_events_total",
			Help: "Real-time events applied to thread trees by kind and result",
		}, []string{"kind", "result"}),
		fetchedPages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wisdm_thread_fetched_pages_total",
			Help: "Fetched comment pages by result (applied, stale)",
		}, []string{"result"}),
		notifications: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wisdm_notifications_received_total",
			Help: "Notification updates received",
		}),
		activeRooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "wisdm_connection_rooms",
			Help: "Rooms currently in the membership set",
		}),
	}

	reg.MustRegister(
		m.stateTransitions,
		m.reconnectAttempts,
		m.emits,
		m.inboundMessages,
		m.threadEvents,
		m.fetchedPages,
		m.notifications,
		m.activeRooms,
	)

	return m
}

// Registry exposes the underlying registry (for tests and custom handlers)
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler serving this instance's metrics
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordStateTransition counts a transition into state
func (m *Metrics) RecordStateTransition(state string) {
	m.stateTransitions.WithLabelValues(state).Inc()
}

// RecordReconnectAttempt counts an automatic reconnect attempt
func (m *Metrics) RecordReconnectAttempt() {
	m.reconnectAttempts.Inc()
}

// RecordEmit counts an outbound event
func (m *Metrics) RecordEmit(event, result string) {
	m.emits.WithLabelValues(event, result).Inc()
}

// RecordInbound counts an inbound application message
func (m *Metrics) RecordInbound(kind, result string) {
	m.inboundMessages.WithLabelValues(kind, result).Inc()
}

// RecordThreadEvent counts a real-time event applied to a thread tree
func (m *Metrics) RecordThreadEvent(kind, result string) {
	m.threadEvents.WithLabelValues(kind, result).Inc()
}

// RecordFetchedPage counts a fetched page
func (m *Metrics) RecordFetchedPage(result string) {
	m.fetchedPages.WithLabelValues(result).Inc()
}

// RecordNotification counts a notification update
func (m *Metrics) RecordNotification() {
	m.notifications.Inc()
}

// SetRooms sets the size of the room membership set
func (m *Metrics) SetRooms(n int) {
	m.activeRooms.Set(float64(n))
}

// Package metrics exposes realtime hub counters to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels for EventsTotal.
const (
	OutcomeOK       = "ok"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

// Metrics is nil-safe: a nil *Metrics records nothing.
type Metrics struct {
	ActiveSessions    prometheus.Gauge
	OnlineUsers       prometheus.Gauge
	EventsTotal       *prometheus.CounterVec
	EventDuration     *prometheus.HistogramVec
	DroppedDeliveries prometheus.Counter
	AuthFailures      prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "chat_ws_active_sessions",
			Help: "Current number of authenticated websocket sessions",
		}),
		OnlineUsers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "chat_online_users",
			Help: "Current number of users with at least one live session",
		}),
		EventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_ws_events_total",
			Help: "Inbound websocket events by type and outcome",
		}, []string{"event", "outcome"}),
		EventDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chat_ws_event_duration_seconds",
			Help:    "Time spent handling an inbound websocket event",
			Buckets: prometheus.DefBuckets,
		}, []string{"event"}),
		DroppedDeliveries: factory.NewCounter(prometheus.CounterOpts{
			Name: "chat_ws_dropped_deliveries_total",
			Help: "Outbound events dropped because a session buffer was full",
		}),
		AuthFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "chat_ws_auth_failures_total",
			Help: "Websocket handshakes rejected by the identity verifier",
		}),
	}
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.ActiveSessions.Inc()
}

func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.ActiveSessions.Dec()
}

func (m *Metrics) SetOnlineUsers(n int) {
	if m == nil {
		return
	}
	m.OnlineUsers.Set(float64(n))
}

func (m *Metrics) ObserveEvent(event, outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.EventsTotal.WithLabelValues(event, outcome).Inc()
	m.EventDuration.WithLabelValues(event).Observe(took.Seconds())
}

func (m *Metrics) DeliveryDropped() {
	if m == nil {
		return
	}
	m.DroppedDeliveries.Inc()
}

func (m *Metrics) AuthFailed() {
	if m == nil {
		return
	}
	m.AuthFailures.Inc()
}

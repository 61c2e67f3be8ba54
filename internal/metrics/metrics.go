// Package metrics exposes relay activity as Prometheus metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is the metrics surface used by the hub, router and transport
type Recorder interface {
	ConnectionOpened()
	ConnectionClosed()
	AuthFailure(reason string)
	MessageRouted(delivered bool)
	TypingRouted()
	BookingAttempt(outcome string)
	Cancellation(outcome string)
	SetOnlineDoctors(count int)
	SlowConsumerDropped()
}

// Outcome labels shared by booking and cancellation counters
const (
	OutcomeOK           = "ok"
	OutcomeConflict     = "conflict"
	OutcomeNotFound     = "not_found"
	OutcomeUnauthorized = "unauthorized"
	OutcomeInvalid      = "invalid"
	OutcomeRepeat       = "repeat"
)

// Collector records relay metrics in Prometheus
type Collector struct {
	connections     prometheus.Gauge
	connectionsOpen prometheus.Counter
	authFailures    *prometheus.CounterVec
	messages        *prometheus.CounterVec
	typing          prometheus.Counter
	bookings        *prometheus.CounterVec
	cancellations   *prometheus.CounterVec
	onlineDoctors   prometheus.Gauge
	slowConsumers   prometheus.Counter
}

// NewCollector creates a Collector and registers its metrics with reg
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "medrelay_connections",
			Help: "Currently open WebSocket connections",
		}),
		connectionsOpen: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "medrelay_connections_opened_total",
			Help: "WebSocket connections accepted since start",
		}),
		authFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medrelay_auth_failures_total",
			Help: "Rejected handshakes by reason",
		}, []string{"reason"}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medrelay_messages_total",
			Help: "Chat messages accepted, by whether the counterparty was reachable",
		}, []string{"delivered"}),
		typing: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "medrelay_typing_events_total",
			Help: "Typing notifications relayed",
		}),
		bookings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medrelay_booking_attempts_total",
			Help: "Appointment booking attempts by outcome",
		}, []string{"outcome"}),
		cancellations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medrelay_cancellations_total",
			Help: "Appointment cancellation requests by outcome",
		}, []string{"outcome"}),
		onlineDoctors: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "medrelay_online_doctors",
			Help: "Doctors currently joined",
		}),
		slowConsumers: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "medrelay_slow_consumers_dropped_total",
			Help: "Connections closed because their send buffer filled",
		}),
	}

	reg.MustRegister(
		c.connections,
		c.connectionsOpen,
		c.authFailures,
		c.messages,
		c.typing,
		c.bookings,
		c.cancellations,
		c.onlineDoctors,
		c.slowConsumers,
	)

	return c
}

func (c *Collector) ConnectionOpened() {
	c.connections.Inc()
	c.connectionsOpen.Inc()
}

func (c *Collector) ConnectionClosed() {
	c.connections.Dec()
}

func (c *Collector) AuthFailure(reason string) {
	c.authFailures.WithLabelValues(reason).Inc()
}

func (c *Collector) MessageRouted(delivered bool) {
	label := "false"
	if delivered {
		label = "true"
	}
	c.messages.WithLabelValues(label).Inc()
}

func (c *Collector) TypingRouted() {
	c.typing.Inc()
}

func (c *Collector) BookingAttempt(outcome string) {
	c.bookings.WithLabelValues(outcome).Inc()
}

func (c *Collector) Cancellation(outcome string) {
	c.cancellations.WithLabelValues(outcome).Inc()
}

func (c *Collector) SetOnlineDoctors(count int) {
	c.onlineDoctors.Set(float64(count))
}

func (c *Collector) SlowConsumerDropped() {
	c.slowConsumers.Inc()
}

// Nop discards every observation; used when metrics are not wired
type Nop struct{}

func (Nop) ConnectionOpened()     {}
func (Nop) ConnectionClosed()     {}
func (Nop) AuthFailure(string)    {}
func (Nop) MessageRouted(bool)    {}
func (Nop) TypingRouted()         {}
func (Nop) BookingAttempt(string) {}
func (Nop) Cancellation(string)   {}
func (Nop) SetOnlineDoctors(int)  {}
func (Nop) SlowConsumerDropped()  {}

// OrNop returns r, or Nop when r is nil
func OrNop(r Recorder) Recorder {
	if r == nil {
		return Nop{}
	}
	return r
}

// Handler returns the Prometheus scrape handler for gatherer
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

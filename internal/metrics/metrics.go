// Package metrics provides Prometheus metrics for pushrelay.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "pushrelay"

// Metrics holds every collector the client exports.
type Metrics struct {
	// Handshake metrics
	HandshakesTotal   prometheus.Counter
	HandshakeErrors   *prometheus.CounterVec
	HandshakeDuration prometheus.Histogram
	AcksReceived      *prometheus.CounterVec

	// Socket metrics
	SocketConnected   prometheus.Gauge
	SocketConnects    prometheus.Counter
	SocketDisconnects *prometheus.CounterVec
	ReconnectAttempts *prometheus.CounterVec
	ReconnectFailures prometheus.Counter

	// Lifecycle metrics
	BackgroundGrants  prometheus.Counter
	BackgroundExpired prometheus.Counter
	LifecycleEvents   *prometheus.CounterVec

	// Relay metrics
	Publishes      *prometheus.CounterVec
	PublishErrors  prometheus.Counter
	MessagesRecved prometheus.Counter
}

var (
	defaultMetrics *Metrics
	metricsOnce    sync.Once
)

// Default returns the process-wide instance registered with the default
// registerer.
func Default() *Metrics {
	metricsOnce.Do(func() {
		defaultMetrics = NewMetricsWithRegistry(prometheus.DefaultRegisterer)
	})
	return defaultMetrics
}

// NewMetricsWithRegistry creates and registers all collectors with reg.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		HandshakesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handshakes_total",
			Help:      "Total proposal handshakes completed successfully",
		}),
		HandshakeErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handshake_errors_total",
			Help:      "Total failed proposal handshakes by failure kind",
		}, []string{"kind"}),
		HandshakeDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "handshake_duration_seconds",
			Help:      "Time from approval to response sent",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}),
		AcksReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscription_acks_total",
			Help:      "Subscription acknowledgments delivered to waiters by outcome",
		}, []string{"outcome"}),

		SocketConnected: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "socket_connected",
			Help:      "1 while the relay socket is open",
		}),
		SocketConnects: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "socket_connects_total",
			Help:      "Total successful relay socket opens",
		}),
		SocketDisconnects: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "socket_disconnects_total",
			Help:      "Total relay socket closes by reason",
		}, []string{"reason"}),
		ReconnectAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnect_attempts_total",
			Help:      "Reconnect attempts by trigger",
		}, []string{"trigger"}),
		ReconnectFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnect_failures_total",
			Help:      "Reconnect attempts that left the socket closed",
		}),

		BackgroundGrants: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "background_grants_total",
			Help:      "Background execution grants acquired",
		}),
		BackgroundExpired: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "background_grants_expired_total",
			Help:      "Background execution grants that ran out",
		}),
		LifecycleEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lifecycle_events_total",
			Help:      "App lifecycle and network signals handled by type",
		}, []string{"event"}),

		Publishes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publishes_total",
			Help:      "Messages published on the relay by tag",
		}, []string{"tag"}),
		PublishErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_errors_total",
			Help:      "Publishes that failed to reach the socket",
		}),
		MessagesRecved: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Messages received from the relay",
		}),
	}
}

// RecordHandshake records a successful handshake.
func (m *Metrics) RecordHandshake(seconds float64) {
	m.HandshakesTotal.Inc()
	m.HandshakeDuration.Observe(seconds)
}

// RecordHandshakeError records a failed handshake.
func (m *Metrics) RecordHandshakeError(kind string) {
	m.HandshakeErrors.WithLabelValues(kind).Inc()
}

// RecordAck records an acknowledgment delivered to a waiter.
func (m *Metrics) RecordAck(success bool) {
	if success {
		m.AcksReceived.WithLabelValues("success").Inc()
		return
	}
	m.AcksReceived.WithLabelValues("failure").Inc()
}

// RecordSocketConnect records a socket open.
func (m *Metrics) RecordSocketConnect() {
	m.SocketConnects.Inc()
	m.SocketConnected.Set(1)
}

// RecordSocketDisconnect records a socket close.
func (m *Metrics) RecordSocketDisconnect(reason string) {
	m.SocketDisconnects.WithLabelValues(reason).Inc()
	m.SocketConnected.Set(0)
}

// RecordReconnect records a reconnect attempt and whether it failed.
func (m *Metrics) RecordReconnect(trigger string, err error) {
	m.ReconnectAttempts.WithLabelValues(trigger).Inc()
	if err != nil {
		m.ReconnectFailures.Inc()
	}
}

// RecordBackgroundGrant records a background grant acquisition.
func (m *Metrics) RecordBackgroundGrant() {
	m.BackgroundGrants.Inc()
}

// RecordBackgroundExpired records a background grant running out.
func (m *Metrics) RecordBackgroundExpired() {
	m.BackgroundExpired.Inc()
}

// RecordLifecycleEvent records a handled lifecycle or network signal.
func (m *Metrics) RecordLifecycleEvent(event string) {
	m.LifecycleEvents.WithLabelValues(event).Inc()
}

// RecordPublish records a publish attempt.
func (m *Metrics) RecordPublish(tag string, err error) {
	m.Publishes.WithLabelValues(tag).Inc()
	if err != nil {
		m.PublishErrors.Inc()
	}
}

// RecordMessageReceived records an inbound relay message.
func (m *Metrics) RecordMessageReceived() {
	m.MessagesRecved.Inc()
}

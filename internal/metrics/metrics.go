// Package metrics exposes relay and supervisor counters in Prometheus format.
//
// Each Metrics value owns its own registry so tests and multiple daemons in
// one process never collide on registration. All recording methods are safe
// on a nil receiver.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "murmur"

// Metrics groups the collectors recorded by the relay and the Tor supervisor.
type Metrics struct {
	registry         *prometheus.Registry
	messagesSent     *prometheus.CounterVec
	messagesFailed   *prometheus.CounterVec
	messagesReceived prometheus.Counter
	payloadsRejected prometheus.Counter
	messagesExpired  prometheus.Counter
	sendAttempts     *prometheus.CounterVec
	deliverySeconds  *prometheus.HistogramVec
	torBootstrap     prometheus.Gauge
	torRunning       prometheus.Gauge
}

// New builds a Metrics value with a fresh registry that also carries the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		messagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Outgoing messages delivered, by route.",
		}, []string{"route"}),
		messagesFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_failed_total",
			Help:      "Outgoing messages that exhausted delivery, by error kind.",
		}, []string{"kind"}),
		messagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Incoming messages accepted by the receiver.",
		}),
		payloadsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payloads_rejected_total",
			Help:      "Malformed payloads rejected by the receiver.",
		}),
		messagesExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_expired_total",
			Help:      "Messages deleted because their TTL elapsed.",
		}),
		sendAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_attempts_total",
			Help:      "Individual delivery attempts, by route.",
		}, []string{"route"}),
		deliverySeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "delivery_duration_seconds",
			Help:      "Time from send request to final outcome.",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		}, []string{"status"}),
		torBootstrap: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "tor",
			Name:      "bootstrap_percent",
			Help:      "Last bootstrap percentage reported by the Tor daemon.",
		}),
		torRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "tor",
			Name:      "running",
			Help:      "1 while the supervised Tor daemon is ready.",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.messagesSent,
		m.messagesFailed,
		m.messagesReceived,
		m.payloadsRejected,
		m.messagesExpired,
		m.sendAttempts,
		m.deliverySeconds,
		m.torBootstrap,
		m.torRunning,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Gatherer exposes the registry for tests and embedding.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	if m == nil {
		return prometheus.NewRegistry()
	}
	return m.registry
}

func (m *Metrics) MessageSent(route string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.messagesSent.WithLabelValues(route).Inc()
	m.deliverySeconds.WithLabelValues("sent").Observe(elapsed.Seconds())
}

func (m *Metrics) MessageFailed(kind string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.messagesFailed.WithLabelValues(kind).Inc()
	m.deliverySeconds.WithLabelValues("failed").Observe(elapsed.Seconds())
}

func (m *Metrics) SendAttempt(route string) {
	if m == nil {
		return
	}
	m.sendAttempts.WithLabelValues(route).Inc()
}

func (m *Metrics) MessageReceived() {
	if m == nil {
		return
	}
	m.messagesReceived.Inc()
}

func (m *Metrics) PayloadRejected() {
	if m == nil {
		return
	}
	m.payloadsRejected.Inc()
}

func (m *Metrics) MessageExpired() {
	if m == nil {
		return
	}
	m.messagesExpired.Inc()
}

func (m *Metrics) TorBootstrap(percent int) {
	if m == nil {
		return
	}
	m.torBootstrap.Set(float64(percent))
}

func (m *Metrics) TorRunning(running bool) {
	if m == nil {
		return
	}
	if running {
		m.torRunning.Set(1)
		return
	}
	m.torRunning.Set(0)
}

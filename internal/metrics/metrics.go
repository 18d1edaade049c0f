package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Stream outcomes used as the "outcome" label.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
)

// Inbound dispositions used as the "disposition" label.
const (
	DispositionAccepted = "accepted"
	DispositionFiltered = "filtered"
	DispositionUnrouted = "unrouted"
)

// Metrics holds scribe's Prometheus collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Stream metrics
	StreamsTotal        *prometheus.CounterVec
	StreamErrorsTotal   *prometheus.CounterVec
	StreamDuration      *prometheus.HistogramVec
	StreamChunksTotal   prometheus.Counter
	MessageUpdatesTotal prometheus.Counter

	// Agent metrics
	AgentsActive      prometheus.Gauge
	AgentsReapedTotal prometheus.Counter

	// Transport metrics
	InboundMessagesTotal *prometheus.CounterVec
}

// Namespace prefixes every metric name.
const Namespace = "scribe"

func counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: Namespace, Name: name, Help: help}, labels)
}

func counter(name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{Namespace: Namespace, Name: name, Help: help})
}

// NewMetrics creates the metrics on a private registry, alongside the Go
// runtime and process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		StreamsTotal:      counterVec("streams_total", "Reply streams by terminal outcome", "outcome"),
		StreamErrorsTotal: counterVec("stream_errors_total", "Failed reply streams by error kind", "kind"),
		StreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "stream_duration_seconds",
			Help:      "Reply stream duration from placeholder to terminal update",
			Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"outcome"}),
		StreamChunksTotal:   counter("stream_chunks_total", "Model chunks received"),
		MessageUpdatesTotal: counter("message_updates_total", "Placeholder republishes"),

		AgentsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "agents_active",
			Help:      "Agents currently bound to a channel",
		}),
		AgentsReapedTotal: counter("agents_reaped_total", "Agents disposed by the idle reaper"),

		InboundMessagesTotal: counterVec("inbound_messages_total",
			"Inbound messages by transport and disposition", "transport", "disposition"),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.StreamsTotal,
		m.StreamErrorsTotal,
		m.StreamDuration,
		m.StreamChunksTotal,
		m.MessageUpdatesTotal,
		m.AgentsActive,
		m.AgentsReapedTotal,
		m.InboundMessagesTotal,
	)
	return m
}

// ObserveStream records the terminal outcome of one reply stream.
// kind is only recorded for failed streams.
func (m *Metrics) ObserveStream(outcome, kind string, d time.Duration) {
	if m == nil {
		return
	}
	m.StreamsTotal.WithLabelValues(outcome).Inc()
	m.StreamDuration.WithLabelValues(outcome).Observe(d.Seconds())
	if outcome == OutcomeFailed {
		m.StreamErrorsTotal.WithLabelValues(kind).Inc()
	}
}

// IncChunks counts one model chunk.
func (m *Metrics) IncChunks() {
	if m == nil {
		return
	}
	m.StreamChunksTotal.Inc()
}

// IncUpdates counts one placeholder republish.
func (m *Metrics) IncUpdates() {
	if m == nil {
		return
	}
	m.MessageUpdatesTotal.Inc()
}

// AgentStarted bumps the active agent gauge.
func (m *Metrics) AgentStarted() {
	if m == nil {
		return
	}
	m.AgentsActive.Inc()
}

// AgentStopped lowers the active agent gauge.
func (m *Metrics) AgentStopped() {
	if m == nil {
		return
	}
	m.AgentsActive.Dec()
}

// AgentReaped counts one idle disposal.
func (m *Metrics) AgentReaped() {
	if m == nil {
		return
	}
	m.AgentsReapedTotal.Inc()
}

// Inbound counts an inbound message seen by a transport.
func (m *Metrics) Inbound(transport, disposition string) {
	if m == nil {
		return
	}
	m.InboundMessagesTotal.WithLabelValues(transport, disposition).Inc()
}

// Handler serves the registry in the Prometheus text or OpenMetrics format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

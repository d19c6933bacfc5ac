package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics contains the Prometheus metrics for the transcription server.
// Every instance owns its registry so servers in one process do not collide.
// All Record methods are safe on a nil *Metrics.
type Metrics struct {
	Registry *prometheus.Registry

	// Connection metrics
	ActiveConnections prometheus.Gauge
	ConnectionsOpened prometheus.Counter

	// Message metrics
	FragmentsReceived prometheus.Counter
	FragmentsDropped  prometheus.Counter
	MalformedMessages prometheus.Counter
	ResultsSent       prometheus.Counter
	ResultWriteErrors prometheus.Counter

	// Transcription metrics
	TranscriptionSuccesses prometheus.Counter
	TranscriptionFailures  prometheus.Counter
	TranscriptionEmpty     prometheus.Counter
	TranscriptionDuration  prometheus.Histogram
}

// NewMetrics creates and registers all server metrics on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		ActiveConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "scribe_active_connections",
			Help: "Current number of open transcription sockets",
		}),
		ConnectionsOpened: factory.NewCounter(prometheus.CounterOpts{
			Name: "scribe_connections_opened_total",
			Help: "Total number of transcription sockets accepted",
		}),

		FragmentsReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "scribe_fragments_received_total",
			Help: "Total number of audio fragments received",
		}),
		FragmentsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "scribe_fragments_dropped_total",
			Help: "Total number of audio fragments dropped because the worker backlog was full",
		}),
		MalformedMessages: factory.NewCounter(prometheus.CounterOpts{
			Name: "scribe_malformed_messages_total",
			Help: "Total number of inbound frames ignored as malformed or unknown",
		}),
		ResultsSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "scribe_results_sent_total",
			Help: "Total number of transcription messages written to clients",
		}),
		ResultWriteErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "scribe_result_write_errors_total",
			Help: "Total number of transcription messages that could not be written",
		}),

		TranscriptionSuccesses: factory.NewCounter(prometheus.CounterOpts{
			Name: "scribe_transcription_successes_total",
			Help: "Total number of fragments transcribed to non-empty text",
		}),
		TranscriptionFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "scribe_transcription_failures_total",
			Help: "Total number of fragments whose transcription failed or timed out",
		}),
		TranscriptionEmpty: factory.NewCounter(prometheus.CounterOpts{
			Name: "scribe_transcription_empty_total",
			Help: "Total number of fragments that produced no text",
		}),
		TranscriptionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "scribe_transcription_duration_seconds",
			Help:    "Duration of transcription calls",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~50s
		}),
	}
}

// Handler serves this instance's registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

// RecordConnectionOpened counts a new socket and bumps the active gauge
func (m *Metrics) RecordConnectionOpened() {
	if m == nil {
		return
	}
	m.ConnectionsOpened.Inc()
	m.ActiveConnections.Inc()
}

// RecordConnectionClosed decrements the active gauge
func (m *Metrics) RecordConnectionClosed() {
	if m == nil {
		return
	}
	m.ActiveConnections.Dec()
}

func (m *Metrics) RecordFragmentReceived() {
	if m == nil {
		return
	}
	m.FragmentsReceived.Inc()
}

func (m *Metrics) RecordFragmentDropped() {
	if m == nil {
		return
	}
	m.FragmentsDropped.Inc()
}

func (m *Metrics) RecordMalformedMessage() {
	if m == nil {
		return
	}
	m.MalformedMessages.Inc()
}

// RecordResultSent counts a written result, or a failed write when err is set
func (m *Metrics) RecordResultSent(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.ResultWriteErrors.Inc()
		return
	}
	m.ResultsSent.Inc()
}

// RecordTranscription records the outcome and latency of one transcription call
func (m *Metrics) RecordTranscription(d time.Duration, text string, err error) {
	if m == nil {
		return
	}
	m.TranscriptionDuration.Observe(d.Seconds())
	switch {
	case err != nil:
		m.TranscriptionFailures.Inc()
	case text == "":
		m.TranscriptionEmpty.Inc()
	default:
		m.TranscriptionSuccesses.Inc()
	}
}

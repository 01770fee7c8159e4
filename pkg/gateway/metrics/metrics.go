// Package metrics exposes Prometheus counters for each pipeline stage.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the pipeline.
type Metrics struct {
	registry *prometheus.Registry

	EventsTotal       *prometheus.CounterVec
	FlushesTotal      *prometheus.CounterVec
	AnalysisTotal     *prometheus.CounterVec
	BroadcastsTotal   *prometheus.CounterVec
	QueueDepth        prometheus.Gauge
	SessionsActive    prometheus.Gauge
	SubscribersActive prometheus.Gauge
}

// New creates a Metrics instance with all metrics registered on a private
// registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "minuteflow"
	}

	registry := prometheus.NewRegistry()

	eventsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_events_total",
			Help:      "Inbound ingestion events by outcome",
		},
		[]string{"outcome"},
	)

	flushesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "buffer_flushes_total",
			Help:      "Session buffer flushes by trigger",
		},
		[]string{"trigger"},
	)

	analysisTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analysis_calls_total",
			Help:      "Analysis dispatcher calls by outcome",
		},
		[]string{"operation", "outcome"},
	)

	broadcastsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcasts_total",
			Help:      "Events published to session subscribers",
		},
		[]string{"event"},
	)

	queueDepth := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ingest_queue_depth",
			Help:      "Tasks waiting in the ingestion queue",
		},
	)

	sessionsActive := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Sessions currently held in the buffer",
		},
	)

	subscribersActive := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subscribers_active",
			Help:      "Websocket subscribers currently connected",
		},
	)

	registry.MustRegister(
		eventsTotal,
		flushesTotal,
		analysisTotal,
		broadcastsTotal,
		queueDepth,
		sessionsActive,
		subscribersActive,
	)

	return &Metrics{
		registry:          registry,
		EventsTotal:       eventsTotal,
		FlushesTotal:      flushesTotal,
		AnalysisTotal:     analysisTotal,
		BroadcastsTotal:   broadcastsTotal,
		QueueDepth:        queueDepth,
		SessionsActive:    sessionsActive,
		SubscribersActive: subscribersActive,
	}
}

// Handler returns the HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordEvent counts one inbound ingestion event.
func (m *Metrics) RecordEvent(outcome string) {
	if m == nil {
		return
	}
	m.EventsTotal.WithLabelValues(outcome).Inc()
}

// RecordFlush counts one session buffer flush.
func (m *Metrics) RecordFlush(trigger string) {
	if m == nil {
		return
	}
	m.FlushesTotal.WithLabelValues(trigger).Inc()
}

// RecordAnalysis counts one analysis dispatcher call.
func (m *Metrics) RecordAnalysis(operation, outcome string) {
	if m == nil {
		return
	}
	m.AnalysisTotal.WithLabelValues(operation, outcome).Inc()
}

// RecordBroadcast counts one published event.
func (m *Metrics) RecordBroadcast(event string) {
	if m == nil {
		return
	}
	m.BroadcastsTotal.WithLabelValues(event).Inc()
}

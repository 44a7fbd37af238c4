// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// PlaybackRunsTotal tracks playback runs started.
	PlaybackRunsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "playback_runs_total",
			Help: "Total playback runs started",
		},
	)

	// PlaybackSupersededTotal tracks runs invalidated by a later start or stop.
	PlaybackSupersededTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "playback_superseded_total",
			Help: "Total playback runs invalidated before finishing",
		},
	)

	// PlaybackEventsTotal tracks script events played to completion.
	PlaybackEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playback_events_total",
			Help: "Total script events played",
		},
		[]string{"kind"},
	)

	// PlaybackCyclesTotal tracks full script traversals.
	PlaybackCyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playback_cycles_total",
			Help: "Total completed script cycles",
		},
		[]string{"mode"},
	)

	// PlaybackActiveRuns tracks run goroutines currently alive.
	PlaybackActiveRuns = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "playback_active_runs",
			Help: "Number of playback run goroutines alive",
		},
	)

	// DemoSessionsActive tracks registered demo sessions.
	DemoSessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "demo_sessions_active",
			Help: "Number of registered demo sessions",
		},
	)

	// StreamConnectionsActive tracks active snapshot subscribers.
	StreamConnectionsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "stream_connections_active",
			Help: "Number of active snapshot stream connections",
		},
		[]string{"transport"},
	)

	// SnapshotsDroppedTotal tracks snapshots replaced before a slow subscriber read them.
	SnapshotsDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "snapshots_dropped_total",
			Help: "Snapshots dropped for slow subscribers",
		},
	)

	// EntriesPublishedTotal tracks transcript entries written to the event log.
	EntriesPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transcript_entries_published_total",
			Help: "Transcript entries published to the event log",
		},
		[]string{"author", "status"},
	)

	// LLMGenerateDuration tracks script generation latency.
	LLMGenerateDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llm_generate_duration_seconds",
			Help:    "LLM script generation duration",
			Buckets: []float64{.5, 1, 2, 5, 10, 20, 30, 60},
		},
		[]string{"provider", "status"},
	)

	// ScriptsGeneratedTotal tracks scripts added to the catalog by generation.
	ScriptsGeneratedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scripts_generated_total",
			Help: "Total scripts generated by an LLM",
		},
		[]string{"provider"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordGenerate records metrics for an LLM script generation.
func RecordGenerate(provider, status string, duration float64) {
	LLMGenerateDuration.WithLabelValues(provider, status).Observe(duration)
	if status == "success" {
		ScriptsGeneratedTotal.WithLabelValues(provider).Inc()
	}
}

// IncrementStreamConnections increments the active connection count for a transport.
func IncrementStreamConnections(transport string) {
	StreamConnectionsActive.WithLabelValues(transport).Inc()
}

// DecrementStreamConnections decrements the active connection count for a transport.
func DecrementStreamConnections(transport string) {
	StreamConnectionsActive.WithLabelValues(transport).Dec()
}

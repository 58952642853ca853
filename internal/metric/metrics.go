// Package metric provides the Prometheus metrics surface for the pipeline.
// Operational visibility lives here and on the completion-event stream; the
// processing core itself stays observable-agnostic.
package metric

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "bomflow"

// Metrics contains the pipeline-level metrics.
type Metrics struct {
	EventsReceived     *prometheus.CounterVec
	EventsProcessed    *prometheus.CounterVec
	EventsPublished    *prometheus.CounterVec
	ProcessingDuration *prometheus.HistogramVec
	ErrorsTotal        *prometheus.CounterVec
	ReclaimedEntries   prometheus.Counter
	WatermarkCommits   *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates and registers the pipeline metrics on a fresh registry
// alongside the Go runtime and process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		EventsReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "events",
				Name:      "received_total",
				Help:      "Total number of events received from input streams",
			},
			[]string{"stream"},
		),

		EventsProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "events",
				Name:      "processed_total",
				Help:      "Total number of events processed, by type and outcome",
			},
			[]string{"type", "outcome"},
		),

		EventsPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "events",
				Name:      "published_total",
				Help:      "Total number of completion events published",
			},
			[]string{"stream"},
		),

		ProcessingDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "processing",
				Name:      "duration_seconds",
				Help:      "Event processing duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"type"},
		),

		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "errors",
				Name:      "total",
				Help:      "Total number of processing errors, by classification",
			},
			[]string{"class"},
		),

		ReclaimedEntries: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "stream",
				Name:      "reclaimed_entries_total",
				Help:      "Total number of stale pending entries reclaimed from dead consumers",
			},
		),

		WatermarkCommits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "watermarks",
				Name:      "commits_total",
				Help:      "Total number of watermark commits, by status",
			},
			[]string{"status"},
		),

		registry: prometheus.NewRegistry(),
	}

	m.registry.MustRegister(
		m.EventsReceived,
		m.EventsProcessed,
		m.EventsPublished,
		m.ProcessingDuration,
		m.ErrorsTotal,
		m.ReclaimedEntries,
		m.WatermarkCommits,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Handler returns the HTTP handler exposing the registry in Prometheus format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

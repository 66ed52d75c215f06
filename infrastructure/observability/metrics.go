// Package observability holds the metrics recorders and tracing setup.
package observability

import (
	"net/http"
	"time"

	"github.com/Eashwar-S/knowledge-map/application/ports"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds all Prometheus metrics for the application. Each
// collector owns its registry, so tests can create as many as they like.
type Collector struct {
	registry *prometheus.Registry

	// Mutation metrics
	Mutations        *prometheus.CounterVec
	MutationDuration *prometheus.HistogramVec
	MutationAttempts prometheus.Histogram
	Conflicts        *prometheus.CounterVec
	HistoryFailures  *prometheus.CounterVec

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

var _ ports.MetricsRecorder = (*Collector)(nil)

// NewCollector creates a new metrics collector with the given namespace
func NewCollector(namespace string) *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		Mutations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "graph_mutations_total",
				Help:      "Mutations by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),
		MutationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "graph_mutation_duration_seconds",
				Help:      "Mutation latency including retries",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		MutationAttempts: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "graph_mutation_attempts",
				Help:      "Compare-and-set attempts per mutation",
				Buckets:   []float64{1, 2, 3, 5, 8, 13, 17},
			},
		),
		Conflicts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "graph_version_conflicts_total",
				Help:      "Lost compare-and-set races",
			},
			[]string{"operation"},
		),
		HistoryFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "graph_history_append_failures_total",
				Help:      "Committed mutations whose history record could not be written",
			},
			[]string{"graph"},
		),
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}

	registry.MustRegister(
		c.Mutations,
		c.MutationDuration,
		c.MutationAttempts,
		c.Conflicts,
		c.HistoryFailures,
		c.HTTPRequests,
		c.HTTPDuration,
	)
	return c
}

// Registry returns the collector's registry
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus text format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

func (c *Collector) RecordMutation(operation, outcome string, attempts int, duration time.Duration) {
	c.Mutations.WithLabelValues(operation, outcome).Inc()
	c.MutationDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if attempts > 0 {
		c.MutationAttempts.Observe(float64(attempts))
	}
}

func (c *Collector) RecordConflict(operation string) {
	c.Conflicts.WithLabelValues(operation).Inc()
}

func (c *Collector) RecordHistoryFailure(graphName string) {
	c.HistoryFailures.WithLabelValues(graphName).Inc()
}

// NoopMetrics discards everything
type NoopMetrics struct{}

func (NoopMetrics) RecordMutation(string, string, int, time.Duration) {}
func (NoopMetrics) RecordConflict(string)                            {}
func (NoopMetrics) RecordHistoryFailure(string)                      {}

// MultiRecorder fans out to several recorders
type MultiRecorder []ports.MetricsRecorder

func (m MultiRecorder) RecordMutation(operation, outcome string, attempts int, duration time.Duration) {
	for _, r := range m {
		r.RecordMutation(operation, outcome, attempts, duration)
	}
}

func (m MultiRecorder) RecordConflict(operation string) {
	for _, r := range m {
		r.RecordConflict(operation)
	}
}

func (m MultiRecorder) RecordHistoryFailure(graphName string) {
	for _, r := range m {
		r.RecordHistoryFailure(graphName)
	}
}

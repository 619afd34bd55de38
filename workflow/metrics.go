package workflow

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects Prometheus metrics for graph execution.
//
// Exposed metrics (namespace "omnisupply"):
//
//   - runs_total (counter): finished graph runs, labeled by status
//     (complete/aborted/error).
//   - inflight_runs (gauge): graph runs currently executing.
//   - step_latency_ms (histogram): node execution duration, labeled by
//     node_id and status (success/error).
//   - retries_total (counter): retry attempts recorded by agents inside
//     bounded-retry cycles, labeled by agent and node_id.
//
// All methods are safe for concurrent use. Share one Metrics instance
// across every graph in the process so the registry is populated once.
//
// Example:
//
//	registry := prometheus.NewRegistry()
//	metrics := workflow.NewMetrics(registry)
//	builder.WithMetrics(metrics)
//	http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
type Metrics struct {
	runsTotal    *prometheus.CounterVec
	inflightRuns prometheus.Gauge
	stepLatency  *prometheus.HistogramVec
	retries      *prometheus.CounterVec
}

// NewMetrics creates and registers the collectors with the given registry.
// A nil registry uses prometheus.DefaultRegisterer.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &Metrics{
		runsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "omnisupply",
			Name:      "runs_total",
			Help:      "Finished workflow graph runs by status.",
		}, []string{"status"}),
		inflightRuns: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "omnisupply",
			Name:      "inflight_runs",
			Help:      "Number of workflow graph runs currently executing.",
		}),
		stepLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "omnisupply",
			Name:      "step_latency_ms",
			Help:      "Node execution duration in milliseconds.",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000},
		}, []string{"node_id", "status"}),
		retries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "omnisupply",
			Name:      "retries_total",
			Help:      "Retry attempts inside bounded-retry cycles.",
		}, []string{"agent", "node_id"}),
	}
}

// RecordRetry increments the retry counter for one bounded-retry attempt.
// Called by agents, not by the executor; the executor has no knowledge of
// which cycles are retries.
func (m *Metrics) RecordRetry(agent, nodeID string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(agent, nodeID).Inc()
}

func (m *Metrics) runStarted() { m.inflightRuns.Inc() }

func (m *Metrics) runFinished(status string) {
	m.inflightRuns.Dec()
	m.runsTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) observeStep(nodeID, status string, elapsed time.Duration) {
	m.stepLatency.WithLabelValues(nodeID, status).Observe(float64(elapsed.Milliseconds()))
}

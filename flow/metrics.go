package flow

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects Prometheus metrics for graph execution. All metrics
// are registered under the "flowgraph" namespace:
//
//   - runs_total (counter): completed runs by graph and status
//     (completed, failed, budget_exceeded).
//   - node_duration_ms (histogram): node execution duration per node and
//     status, buckets from 1ms to 10s.
//   - node_retries_total (counter): retry attempts per node.
//   - merge_conflicts_total (counter): fan-in merge conflicts per
//     fan-out source node.
//   - gate_iterations_total (counter): quality-gate loop iterations per
//     gate source node.
//   - inflight_branches (gauge): fan-out branches currently executing
//     per graph.
//
// A nil *Metrics is valid and records nothing, so callers never need a
// nil check:
//
//	registry := prometheus.NewRegistry()
//	sched, err := flow.NewScheduler(flow.WithMetrics(flow.NewMetrics(registry)))
//	http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
type Metrics struct {
	runs             *prometheus.CounterVec
	nodeDuration     *prometheus.HistogramVec
	nodeRetries      *prometheus.CounterVec
	mergeConflicts   *prometheus.CounterVec
	gateIterations   *prometheus.CounterVec
	inflightBranches *prometheus.GaugeVec
}

// NewMetrics creates and registers the collectors with the given
// registry. Pass prometheus.DefaultRegisterer to use the global
// registry; nil also falls back to it.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &Metrics{
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flowgraph",
			Name:      "runs_total",
			Help:      "Completed graph runs by final status",
		}, []string{"graph", "status"}),
		nodeDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "flowgraph",
			Name:      "node_duration_ms",
			Help:      "Node execution duration in milliseconds",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000},
		}, []string{"node", "status"}),
		nodeRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flowgraph",
			Name:      "node_retries_total",
			Help:      "Cumulative node retry attempts",
		}, []string{"node"}),
		mergeConflicts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flowgraph",
			Name:      "merge_conflicts_total",
			Help:      "Fan-in merge conflicts detected between branch writes",
		}, []string{"fan_out"}),
		gateIterations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flowgraph",
			Name:      "gate_iterations_total",
			Help:      "Quality gate loop iterations",
		}, []string{"gate"}),
		inflightBranches: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "flowgraph",
			Name:      "inflight_branches",
			Help:      "Fan-out branches currently executing",
		}, []string{"graph"}),
	}
}

func (m *Metrics) runFinished(graph, status string) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(graph, status).Inc()
}

func (m *Metrics) nodeExecuted(node string, d time.Duration, success bool) {
	if m == nil {
		return
	}
	status := "success"
	if !success {
		status = "error"
	}
	m.nodeDuration.WithLabelValues(node, status).Observe(float64(d.Milliseconds()))
}

func (m *Metrics) nodeRetried(node string) {
	if m == nil {
		return
	}
	m.nodeRetries.WithLabelValues(node).Inc()
}

func (m *Metrics) mergeConflict(fanOutNode string) {
	if m == nil {
		return
	}
	m.mergeConflicts.WithLabelValues(fanOutNode).Inc()
}

func (m *Metrics) gateIteration(gateNode string) {
	if m == nil {
		return
	}
	m.gateIterations.WithLabelValues(gateNode).Inc()
}

func (m *Metrics) branchesInflight(graph string, delta int) {
	if m == nil {
		return
	}
	m.inflightBranches.WithLabelValues(graph).Add(float64(delta))
}

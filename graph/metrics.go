package graph

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics collects graph execution metrics.
//
// Metrics exposed (all namespaced with "dxgraph_"):
//
//  1. inflight_nodes (gauge): nodes executing right now, branches included.
//  2. step_latency_ms (histogram): node attempt duration. Labels: node_id, status.
//  3. retries_total (counter): node retry attempts. Labels: node_id, reason.
//  4. branch_failures_total (counter): fan-out branches whose contribution was dropped. Labels: node_id.
//  5. cycles_total (counter): entries into the start node.
//  6. route_decisions_total (counter): router outcomes. Labels: from, to.
//
// Run ids are deliberately not used as labels; they are unbounded.
//
// All methods are safe on a nil receiver, which is how the engine runs
// without metrics.
type PrometheusMetrics struct {
	inflightNodes prometheus.Gauge
	stepLatency   *prometheus.HistogramVec
	retries       *prometheus.CounterVec
	branchFails   *prometheus.CounterVec
	cycles        prometheus.Counter
	routes        *prometheus.CounterVec

	mu      sync.RWMutex
	enabled bool
}

// NewPrometheusMetrics creates and registers all graph execution metrics
// with the provided registry (prometheus.DefaultRegisterer when nil).
//
// Example:
//
//	registry := prometheus.NewRegistry()
//	metrics := graph.NewPrometheusMetrics(registry)
//	http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
func NewPrometheusMetrics(registry prometheus.Registerer) *PrometheusMetrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &PrometheusMetrics{
		enabled: true,
		inflightNodes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "dxgraph",
			Name:      "inflight_nodes",
			Help:      "Current number of nodes executing, fan-out branches included",
		}),
		stepLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "dxgraph",
			Name:      "step_latency_ms",
			Help:      "Node attempt duration in milliseconds",
			Buckets:   []float64{1, 10, 100, 500, 1000, 5000, 15000, 60000, 180000},
		}, []string{"node_id", "status"}),
		retries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dxgraph",
			Name:      "retries_total",
			Help:      "Cumulative count of node retry attempts",
		}, []string{"node_id", "reason"}),
		branchFails: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dxgraph",
			Name:      "branch_failures_total",
			Help:      "Fan-out branches that failed and contributed nothing to the join",
		}, []string{"node_id"}),
		cycles: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "dxgraph",
			Name:      "cycles_total",
			Help:      "Entries into the start node across all runs",
		}),
		routes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dxgraph",
			Name:      "route_decisions_total",
			Help:      "Router decisions by source and chosen target",
		}, []string{"from", "to"}),
	}
}

func (pm *PrometheusMetrics) on() bool {
	if pm == nil {
		return false
	}
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.enabled
}

// RecordStepLatency records the duration of one node attempt.
// status is "success" or "error".
func (pm *PrometheusMetrics) RecordStepLatency(_ string, nodeID string, latency time.Duration, status string) {
	if !pm.on() {
		return
	}
	pm.stepLatency.WithLabelValues(nodeID, status).Observe(float64(latency.Milliseconds()))
}

// IncrementRetries counts a retry of nodeID.
func (pm *PrometheusMetrics) IncrementRetries(_ string, nodeID, reason string) {
	if !pm.on() {
		return
	}
	pm.retries.WithLabelValues(nodeID, reason).Inc()
}

// IncrementBranchFailures counts a fan-out branch whose result was dropped.
func (pm *PrometheusMetrics) IncrementBranchFailures(_ string, nodeID string) {
	if !pm.on() {
		return
	}
	pm.branchFails.WithLabelValues(nodeID).Inc()
}

// IncrementCycles counts an entry into the start node.
func (pm *PrometheusMetrics) IncrementCycles(_ string) {
	if !pm.on() {
		return
	}
	pm.cycles.Inc()
}

// RecordRoute counts a router decision.
func (pm *PrometheusMetrics) RecordRoute(from, to string) {
	if !pm.on() {
		return
	}
	pm.routes.WithLabelValues(from, to).Inc()
}

// AddInflight adjusts the inflight_nodes gauge by delta.
func (pm *PrometheusMetrics) AddInflight(delta int) {
	if !pm.on() {
		return
	}
	pm.inflightNodes.Add(float64(delta))
}

// Disable temporarily disables metric recording.
func (pm *PrometheusMetrics) Disable() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.enabled = false
}

// Enable re-enables metric recording after Disable().
func (pm *PrometheusMetrics) Enable() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.enabled = true
}

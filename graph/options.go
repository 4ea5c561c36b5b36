package graph

import (
	"fmt"
	"time"
)

// Options configures Engine execution behavior.
//
// Zero values are valid; the Engine then runs without step limit, timeouts
// or concurrency bound beyond the size of each fan-out.
type Options struct {
	// MaxSteps limits the number of node executions in one run.
	// Fan-out branches count as one step each. If 0, no limit is enforced.
	MaxSteps int

	// MaxConcurrentNodes bounds how many fan-out branches run at once.
	// If 0, every branch of a fan-out is started immediately.
	MaxConcurrentNodes int

	// DefaultNodeTimeout applies to nodes whose policy sets no timeout.
	DefaultNodeTimeout time.Duration

	// RunWallClockBudget bounds the duration of a whole run. If 0, unlimited.
	RunWallClockBudget time.Duration

	// StateFields lists every field a node may name in its write-set.
	// When empty, write-sets are not checked against a schema.
	StateFields FieldSet

	// Metrics receives execution metrics. Nil disables metrics.
	Metrics *PrometheusMetrics

	// CostTracker is exposed to nodes through Engine.CostTracker.
	CostTracker *CostTracker
}

// Option is a functional option for configuring an Engine.
//
// Example:
//
//	engine := graph.New(reducer, st, emitter,
//	    graph.WithMaxSteps(64),
//	    graph.WithMaxConcurrent(3),
//	    graph.WithDefaultNodeTimeout(2*time.Minute),
//	)
type Option func(*engineConfig) error

type engineConfig struct {
	opts Options
}

// WithMaxSteps limits workflow execution to prevent runaway loops.
//
// When MaxSteps is exceeded, Run returns an EngineError with code
// "MAX_STEPS_EXCEEDED" wrapping ErrMaxStepsExceeded.
func WithMaxSteps(n int) Option {
	return func(cfg *engineConfig) error {
		if n < 0 {
			return fmt.Errorf("max steps must be >= 0, got %d", n)
		}
		cfg.opts.MaxSteps = n
		return nil
	}
}

// WithMaxConcurrent sets the maximum number of fan-out branches executing concurrently.
//
// Each running branch holds a deep copy of state, so memory usage scales
// linearly with this value.
func WithMaxConcurrent(n int) Option {
	return func(cfg *engineConfig) error {
		if n < 0 {
			return fmt.Errorf("max concurrent nodes must be >= 0, got %d", n)
		}
		cfg.opts.MaxConcurrentNodes = n
		return nil
	}
}

// WithDefaultNodeTimeout sets the per-attempt timeout for nodes without their own.
func WithDefaultNodeTimeout(d time.Duration) Option {
	return func(cfg *engineConfig) error {
		cfg.opts.DefaultNodeTimeout = d
		return nil
	}
}

// WithRunWallClockBudget bounds the total duration of a run.
// If exceeded, Run returns context.DeadlineExceeded.
func WithRunWallClockBudget(d time.Duration) Option {
	return func(cfg *engineConfig) error {
		cfg.opts.RunWallClockBudget = d
		return nil
	}
}

// WithStateFields declares the writable fields of the state type.
//
// Fields that are inputs of a run are simply left out: no node can then
// declare them in a write-set, and Compile rejects a graph that tries.
func WithStateFields(fields ...string) Option {
	return func(cfg *engineConfig) error {
		cfg.opts.StateFields = Fields(fields...)
		return nil
	}
}

// WithMetrics enables Prometheus metrics collection for the engine.
//
// Example:
//
//	registry := prometheus.NewRegistry()
//	metrics := graph.NewPrometheusMetrics(registry)
//	engine := graph.New(reducer, st, emitter, graph.WithMetrics(metrics))
//	http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
func WithMetrics(metrics *PrometheusMetrics) Option {
	return func(cfg *engineConfig) error {
		cfg.opts.Metrics = metrics
		return nil
	}
}

// WithCostTracker attaches a cost tracker that model adapters can report to.
func WithCostTracker(tracker *CostTracker) Option {
	return func(cfg *engineConfig) error {
		cfg.opts.CostTracker = tracker
		return nil
	}
}

// NodeOption configures a node when it is added to the engine.
type NodeOption func(*nodeSpec)

// Writes declares the state fields a node may change.
func Writes(fields ...string) NodeOption {
	return func(ns *nodeSpec) {
		ns.writes = ns.writes.Union(Fields(fields...))
	}
}

// WithPolicy attaches a timeout and retry policy to a node.
func WithPolicy(p NodePolicy) NodeOption {
	return func(ns *nodeSpec) {
		ns.policy = p
	}
}

type nodeSpec struct {
	writes FieldSet
	policy NodePolicy
}

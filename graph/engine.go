package graph

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dshills/dxgraph/graph/emit"
	"github.com/dshills/dxgraph/graph/store"
)

// Reducer merges a node's partial update into the current state.
//
// writes is the write-set the node declared when it was added. A reducer
// should copy exactly those fields from delta onto prev and leave every other
// field of prev untouched; with that discipline the merge is last-writer-wins
// per field on the sequential path, and order-independent at a fan-out join
// because branch write-sets are disjoint.
type Reducer[S any] func(prev, delta S, writes FieldSet) S

type registered[S any] struct {
	node Node[S]
	nodeSpec
}

// Engine orchestrates stateful workflow execution over a static graph.
//
// The Engine:
//   - Holds the graph topology (nodes, edges, fan-outs, routers)
//   - Validates it once in Compile
//   - Executes nodes on the calling goroutine, and fan-out branches on a bounded pool
//   - Merges updates via the reducer, one merge at a time
//   - Persists state after each step via the store
//   - Emits observability events via the emitter
//
// A compiled Engine may run any number of workflows concurrently; every run
// owns its own state value.
//
// Example:
//
//	engine := graph.New(reduce, store.NewMemStore[Doc](), emit.NewNullEmitter())
//	engine.Add("fetch", fetch, graph.Writes("body"))
//	engine.Add("summarize", summarize, graph.Writes("summary"))
//	engine.StartAt("fetch")
//	engine.Connect("fetch", "summarize", nil)
//	engine.Connect("summarize", graph.End, nil)
//	if err := engine.Compile(); err != nil {
//	    return err
//	}
//	final, err := engine.Run(ctx, "run-001", Doc{URL: u})
type Engine[S any] struct {
	mu sync.RWMutex

	reducer   Reducer[S]
	nodes     map[string]*registered[S]
	edges     []Edge[S]
	fanOuts   map[string]fanOut
	routers   map[string]router[S]
	startNode string
	compiled  bool

	store   store.Store[S]
	emitter emit.Emitter

	opts      Options
	configErr error
}

// New creates a new Engine.
//
// Option errors are not returned here; they are reported by Compile so that
// construction reads as a single expression.
func New[S any](reducer Reducer[S], st store.Store[S], emitter emit.Emitter, options ...Option) *Engine[S] {
	cfg := &engineConfig{}
	var configErr error
	for _, opt := range options {
		if err := opt(cfg); err != nil && configErr == nil {
			configErr = err
		}
	}
	if emitter == nil {
		emitter = emit.NewNullEmitter()
	}
	return &Engine[S]{
		reducer:   reducer,
		nodes:     make(map[string]*registered[S]),
		fanOuts:   make(map[string]fanOut),
		routers:   make(map[string]router[S]),
		store:     st,
		emitter:   emitter,
		opts:      cfg.opts,
		configErr: configErr,
	}
}

// Add registers a node in the workflow graph.
//
// Returns error if the id is empty or reserved, the node is nil, or the id
// is already taken.
func (e *Engine[S]) Add(nodeID string, node Node[S], options ...NodeOption) error {
	if nodeID == "" {
		return &EngineError{Message: "node ID cannot be empty", Code: "INVALID_NODE"}
	}
	if nodeID == End {
		return &EngineError{Message: "node ID " + End + " is reserved", Code: "INVALID_NODE"}
	}
	if node == nil {
		return &EngineError{Message: "node cannot be nil", Code: "INVALID_NODE"}
	}

	reg := &registered[S]{node: node}
	for _, opt := range options {
		opt(&reg.nodeSpec)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.nodes[nodeID]; exists {
		return &EngineError{Message: "duplicate node ID: " + nodeID, Code: "DUPLICATE_NODE"}
	}
	e.nodes[nodeID] = reg
	e.compiled = false
	return nil
}

// StartAt sets the entry point for workflow execution.
// Every entry into the start node begins a new cycle.
func (e *Engine[S]) StartAt(nodeID string) error {
	if nodeID == "" {
		return &EngineError{Message: "start node ID cannot be empty", Code: "NO_START_NODE"}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.nodes[nodeID]; !exists {
		return &EngineError{Message: "start node does not exist: " + nodeID, Code: "NODE_NOT_FOUND"}
	}
	e.startNode = nodeID
	e.compiled = false
	return nil
}

// Connect creates an edge between two nodes. Node existence is checked by Compile.
//
// Example:
//
//	engine.Connect("score", "escalate", func(s Ticket) bool { return s.Score > 0.8 })
//	engine.Connect("score", graph.End, nil)
func (e *Engine[S]) Connect(from, to string, predicate Predicate[S]) error {
	if from == "" {
		return &EngineError{Message: "from node ID cannot be empty", Code: "INVALID_EDGE"}
	}
	if to == "" {
		return &EngineError{Message: "to node ID cannot be empty", Code: "INVALID_EDGE"}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.edges = append(e.edges, Edge[S]{From: from, To: to, When: predicate})
	e.compiled = false
	return nil
}

// FanOut declares that after from completes, every node in branches runs
// concurrently against a snapshot of the state, and execution continues at
// join once all of them have returned.
//
// A branch that fails contributes nothing; its siblings are not cancelled.
func (e *Engine[S]) FanOut(from string, branches []string, join string) error {
	if from == "" || join == "" {
		return &EngineError{Message: "fan-out needs a source and a join node", Code: "INVALID_FANOUT"}
	}
	if len(branches) == 0 {
		return &EngineError{Message: "fan-out from " + from + " has no branches", Code: "INVALID_FANOUT"}
	}
	seen := make(map[string]struct{}, len(branches))
	for _, b := range branches {
		if _, dup := seen[b]; dup {
			return &EngineError{Message: "fan-out from " + from + " lists " + b + " twice", Code: "INVALID_FANOUT"}
		}
		seen[b] = struct{}{}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.checkFreeSourceLocked(from); err != nil {
		return err
	}
	e.fanOuts[from] = fanOut{from: from, branches: append([]string(nil), branches...), join: join}
	e.compiled = false
	return nil
}

// Branch attaches a router to from. After from completes, decide picks the
// next node, which must be one of targets.
func (e *Engine[S]) Branch(from string, decide Router[S], targets ...string) error {
	if from == "" {
		return &EngineError{Message: "router source cannot be empty", Code: "INVALID_ROUTER"}
	}
	if decide == nil {
		return &EngineError{Message: "router for " + from + " is nil", Code: "INVALID_ROUTER"}
	}
	if len(targets) == 0 {
		return &EngineError{Message: "router for " + from + " has no targets", Code: "INVALID_ROUTER"}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.checkFreeSourceLocked(from); err != nil {
		return err
	}
	r := router[S]{decide: decide, targets: make(map[string]struct{}, len(targets))}
	for _, t := range targets {
		r.targets[t] = struct{}{}
	}
	e.routers[from] = r
	e.compiled = false
	return nil
}

func (e *Engine[S]) checkFreeSourceLocked(from string) error {
	if _, ok := e.fanOuts[from]; ok {
		return &EngineError{Message: from + " already has a fan-out", Code: "CONFLICTING_ROUTE"}
	}
	if _, ok := e.routers[from]; ok {
		return &EngineError{Message: from + " already has a router", Code: "CONFLICTING_ROUTE"}
	}
	return nil
}

// Compile validates the graph once. Run refuses to start until it succeeds.
//
// It checks that:
//   - options, reducer, store and start node are set
//   - every edge, fan-out and router refers to registered nodes (or End)
//   - fan-out branches have no routing of their own and are not the start node
//   - write-sets only name declared state fields (see WithStateFields)
//   - no two branches of one fan-out declare overlapping write-sets
//   - retry policies are valid
func (e *Engine[S]) Compile() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.configErr != nil {
		return &EngineError{Message: e.configErr.Error(), Code: "INVALID_OPTION", Err: e.configErr}
	}
	if e.reducer == nil {
		return &EngineError{Message: "reducer is required", Code: "MISSING_REDUCER"}
	}
	if e.store == nil {
		return &EngineError{Message: "store is required", Code: "MISSING_STORE"}
	}
	if e.startNode == "" {
		return &EngineError{Message: "start node not set (call StartAt before Compile)", Code: "NO_START_NODE"}
	}

	known := func(id string) bool {
		if id == End {
			return true
		}
		_, ok := e.nodes[id]
		return ok
	}
	missing := func(what, id string) error {
		return &EngineError{Message: what + " refers to unknown node " + id, Code: "NODE_NOT_FOUND"}
	}

	for _, edge := range e.edges {
		if edge.From == End || !known(edge.From) {
			return missing("edge "+edge.From+"->"+edge.To, edge.From)
		}
		if !known(edge.To) {
			return missing("edge "+edge.From+"->"+edge.To, edge.To)
		}
	}
	for from, r := range e.routers {
		if !known(from) || from == End {
			return missing("router", from)
		}
		for t := range r.targets {
			if !known(t) {
				return missing("router from "+from, t)
			}
		}
	}

	branchOf := make(map[string]string)
	for from, fo := range e.fanOuts {
		if !known(from) || from == End {
			return missing("fan-out", from)
		}
		if !known(fo.join) {
			return missing("fan-out from "+from, fo.join)
		}
		for _, b := range fo.branches {
			if b == End || !known(b) {
				return missing("fan-out from "+from, b)
			}
			if b == e.startNode {
				return &EngineError{Message: "start node " + b + " cannot be a fan-out branch", Code: "INVALID_BRANCH"}
			}
			if other, dup := branchOf[b]; dup {
				return &EngineError{Message: b + " is a branch of both " + other + " and " + from, Code: "INVALID_BRANCH"}
			}
			branchOf[b] = from
		}
		if err := e.checkDisjointLocked(fo); err != nil {
			return err
		}
	}
	for b := range branchOf {
		if e.hasRoutingLocked(b) {
			return &EngineError{Message: "fan-out branch " + b + " must not declare its own edges", Code: "INVALID_BRANCH"}
		}
	}

	for id, reg := range e.nodes {
		if len(e.opts.StateFields) > 0 {
			for _, f := range reg.writes {
				if !e.opts.StateFields.Has(f) {
					return &EngineError{Message: fmt.Sprintf("node %s writes undeclared field %q", id, f), Code: "UNKNOWN_FIELD"}
				}
			}
		}
		if rp := reg.policy.RetryPolicy; rp != nil {
			if err := rp.Validate(); err != nil {
				return &EngineError{Message: "node " + id + ": " + err.Error(), Code: "INVALID_POLICY", Err: err}
			}
		}
	}

	e.compiled = true
	return nil
}

func (e *Engine[S]) checkDisjointLocked(fo fanOut) error {
	for i := 0; i < len(fo.branches); i++ {
		for j := i + 1; j < len(fo.branches); j++ {
			a, b := fo.branches[i], fo.branches[j]
			if common := e.nodes[a].writes.Overlap(e.nodes[b].writes); len(common) > 0 {
				return &EngineError{
					Message: fmt.Sprintf("branches %s and %s of fan-out from %s both write %v", a, b, fo.from, common),
					Code:    "OVERLAPPING_WRITES",
				}
			}
		}
	}
	return nil
}

func (e *Engine[S]) hasRoutingLocked(id string) bool {
	if _, ok := e.fanOuts[id]; ok {
		return true
	}
	if _, ok := e.routers[id]; ok {
		return true
	}
	for _, edge := range e.edges {
		if edge.From == id {
			return true
		}
	}
	return false
}

// Run executes the workflow from the start node until it reaches End, a
// node returns Stop, or an error occurs.
//
// On success the final state is returned. A node failure on the sequential
// path is returned as *NodeError. If ctx is cancelled, or the wall clock
// budget runs out, Run returns ctx.Err() once in-flight branches have been
// told to stop; their late results are discarded.
func (e *Engine[S]) Run(ctx context.Context, runID string, initial S) (S, error) {
	e.mu.RLock()
	start, compiled := e.startNode, e.compiled
	e.mu.RUnlock()

	if !compiled {
		var zero S
		return zero, &EngineError{Message: "call Compile before Run", Code: "NOT_COMPILED", Err: ErrNotCompiled}
	}
	return e.run(ctx, runID, initial, start, start)
}

func (e *Engine[S]) run(ctx context.Context, runID string, state S, current, start string) (S, error) {
	var zero S

	if e.opts.RunWallClockBudget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.RunWallClockBudget)
		defer cancel()
	}

	began := time.Now()
	step, cycle := 0, 0

	for current != End {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		if current == start {
			cycle++
			e.opts.Metrics.IncrementCycles(runID)
		}

		step++
		if e.opts.MaxSteps > 0 && step > e.opts.MaxSteps {
			return zero, &EngineError{
				Message: fmt.Sprintf("workflow exceeded MaxSteps limit of %d", e.opts.MaxSteps),
				Code:    "MAX_STEPS_EXCEEDED",
				Err:     ErrMaxStepsExceeded,
			}
		}

		reg, err := e.lookup(current)
		if err != nil {
			return zero, err
		}

		result, err := e.execute(ctx, runID, current, reg, step, cycle, state)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return zero, ctxErr
			}
			e.emit(runID, step, current, "node_error", map[string]interface{}{
				"cycle": cycle,
				"error": err.Error(),
			})
			return zero, &NodeError{
				Message: err.Error(),
				Code:    "NODE_FAILED",
				NodeID:  current,
				Step:    step,
				Cycle:   cycle,
				Cause:   err,
			}
		}

		state = e.reducer(state, result.Delta, reg.writes)
		if err := e.persist(ctx, runID, step, current, state); err != nil {
			return zero, err
		}

		next, fo, err := e.resolve(runID, step, current, result.Route, state)
		if err != nil {
			return zero, err
		}

		if fo != nil {
			state, step, err = e.runFanOut(ctx, runID, step, cycle, *fo, state)
			if err != nil {
				return zero, err
			}
			next = fo.join
		}

		current = next
	}

	meta := map[string]interface{}{
		"steps":       step,
		"cycles":      cycle,
		"duration_ms": time.Since(began).Milliseconds(),
	}
	if ct := e.opts.CostTracker; ct != nil {
		in, out := ct.GetTokenUsage()
		meta["cost_usd"] = ct.GetTotalCost()
		meta["input_tokens"] = in
		meta["output_tokens"] = out
	}
	e.emit(runID, step, End, "run_complete", meta)
	return state, nil
}

func (e *Engine[S]) lookup(nodeID string) (*registered[S], error) {
	e.mu.RLock()
	reg, ok := e.nodes[nodeID]
	e.mu.RUnlock()
	if !ok {
		return nil, &EngineError{Message: "node not found during execution: " + nodeID, Code: "NODE_NOT_FOUND"}
	}
	return reg, nil
}

// resolve picks the next hop after current. Precedence: the node's explicit
// Route, then a fan-out, then a router, then edges in insertion order.
func (e *Engine[S]) resolve(runID string, step int, current string, route Next, state S) (string, *fanOut, error) {
	if route.Terminal {
		return End, nil, nil
	}
	if route.To != "" {
		return route.To, nil, nil
	}

	e.mu.RLock()
	fo, hasFanOut := e.fanOuts[current]
	r, hasRouter := e.routers[current]
	e.mu.RUnlock()

	if hasFanOut {
		return "", &fo, nil
	}

	if hasRouter {
		next := r.decide(state)
		if _, ok := r.targets[next]; !ok {
			return "", nil, &EngineError{
				Message: fmt.Sprintf("router after %s chose %q", current, next),
				Code:    "INVALID_ROUTE",
				Err:     ErrInvalidRoute,
			}
		}
		e.opts.Metrics.RecordRoute(current, next)
		e.emit(runID, step, current, "route", map[string]interface{}{"to": next})
		return next, nil, nil
	}

	if next := e.evaluateEdges(current, state); next != "" {
		return next, nil, nil
	}
	return "", nil, &EngineError{
		Message: "no valid route from node: " + current,
		Code:    "NO_ROUTE",
		Err:     ErrNoRoute,
	}
}

// evaluateEdges returns the target of the first matching edge from fromNode,
// or "" if none matches.
func (e *Engine[S]) evaluateEdges(fromNode string, state S) string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, edge := range e.edges {
		if edge.From != fromNode {
			continue
		}
		if edge.When == nil || edge.When(state) {
			return edge.To
		}
	}
	return ""
}

// execute runs one node to completion, applying its timeout and retry policy.
func (e *Engine[S]) execute(ctx context.Context, runID, nodeID string, reg *registered[S], step, cycle int, state S) (NodeResult[S], error) {
	nodeCtx := withNode(ctx, runID, nodeID)
	e.emit(runID, step, nodeID, "node_start", map[string]interface{}{"cycle": cycle})

	for attempt := 1; ; attempt++ {
		e.opts.Metrics.AddInflight(1)
		began := time.Now()
		result, err := executeNodeWithTimeout(nodeCtx, reg.node, nodeID, state, reg.policy, e.opts.DefaultNodeTimeout)
		elapsed := time.Since(began)
		e.opts.Metrics.AddInflight(-1)

		if err == nil {
			e.opts.Metrics.RecordStepLatency(runID, nodeID, elapsed, "success")
			e.emit(runID, step, nodeID, "node_end", map[string]interface{}{
				"cycle":       cycle,
				"attempt":     attempt,
				"writes":      reg.writes.String(),
				"duration_ms": elapsed.Milliseconds(),
			})
			return result, nil
		}
		e.opts.Metrics.RecordStepLatency(runID, nodeID, elapsed, "error")

		if ctx.Err() != nil {
			return result, err
		}
		rp := reg.policy.RetryPolicy
		if !rp.shouldRetry(err, attempt) {
			return result, err
		}

		delay := computeBackoff(attempt-1, rp.BaseDelay, rp.MaxDelay, nil)
		e.opts.Metrics.IncrementRetries(runID, nodeID, "error")
		e.emit(runID, step, nodeID, "node_retry", map[string]interface{}{
			"attempt":  attempt,
			"delay_ms": delay.Milliseconds(),
			"error":    err.Error(),
		})

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return result, ctx.Err()
		case <-timer.C:
		}
	}
}

func (e *Engine[S]) persist(ctx context.Context, runID string, step int, nodeID string, state S) error {
	if err := e.store.SaveStep(ctx, runID, step, nodeID, state); err != nil {
		return &EngineError{Message: "failed to save step: " + err.Error(), Code: "STORE_ERROR", Err: err}
	}
	return nil
}

func (e *Engine[S]) emit(runID string, step int, nodeID, msg string, meta map[string]interface{}) {
	e.emitter.Emit(emit.Event{
		RunID:  runID,
		Step:   step,
		NodeID: nodeID,
		Msg:    msg,
		Meta:   meta,
	})
}

// SaveCheckpoint labels the most recently persisted state of a run.
func (e *Engine[S]) SaveCheckpoint(ctx context.Context, runID string, cpID string) error {
	latestState, latestStep, err := e.store.LoadLatest(ctx, runID)
	if err != nil {
		return &EngineError{Message: "cannot create checkpoint: run state not found: " + err.Error(), Code: "RUN_NOT_FOUND", Err: err}
	}
	if err := e.store.SaveCheckpoint(ctx, cpID, latestState, latestStep); err != nil {
		return &EngineError{Message: "failed to save checkpoint: " + err.Error(), Code: "CHECKPOINT_SAVE_FAILED", Err: err}
	}
	e.emit(runID, latestStep, "", "checkpoint_saved", map[string]interface{}{"checkpoint_id": cpID})
	return nil
}

// ResumeFromCheckpoint starts a new run from a checkpointed state, beginning
// at startNode. Cycle counting restarts for the new run.
func (e *Engine[S]) ResumeFromCheckpoint(ctx context.Context, cpID string, newRunID string, startNode string) (S, error) {
	var zero S

	e.mu.RLock()
	compiled, start := e.compiled, e.startNode
	_, exists := e.nodes[startNode]
	e.mu.RUnlock()

	if !compiled {
		return zero, &EngineError{Message: "call Compile before resuming", Code: "NOT_COMPILED", Err: ErrNotCompiled}
	}
	if !exists {
		return zero, &EngineError{Message: "resume start node does not exist: " + startNode, Code: "NODE_NOT_FOUND"}
	}

	state, cpStep, err := e.store.LoadCheckpoint(ctx, cpID)
	if err != nil {
		return zero, &EngineError{Message: "cannot resume: checkpoint not found: " + err.Error(), Code: "CHECKPOINT_NOT_FOUND", Err: err}
	}
	e.emit(newRunID, 0, startNode, "resume", map[string]interface{}{
		"checkpoint_id":   cpID,
		"checkpoint_step": cpStep,
	})
	return e.run(ctx, newRunID, state, startNode, start)
}

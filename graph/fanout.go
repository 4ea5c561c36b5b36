package graph

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
)

// joinBarrier accumulates branch results for one fan-out.
//
// Each branch result is merged as soon as it arrives. The mutex makes every
// merge atomic with respect to the reader that proceeds past the join, and
// sealing the barrier makes results that arrive after the run gave up
// (cancellation) disappear instead of mutating state nobody owns anymore.
type joinBarrier[S any] struct {
	mu      sync.Mutex
	state   S
	reducer Reducer[S]
	sealed  bool
	applied []string
	failed  map[string]error
}

func newJoinBarrier[S any](state S, reducer Reducer[S]) *joinBarrier[S] {
	return &joinBarrier[S]{state: state, reducer: reducer, failed: make(map[string]error)}
}

func (b *joinBarrier[S]) apply(nodeID string, delta S, writes FieldSet) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sealed {
		return
	}
	b.state = b.reducer(b.state, delta, writes)
	b.applied = append(b.applied, nodeID)
}

func (b *joinBarrier[S]) fail(nodeID string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sealed {
		return
	}
	b.failed[nodeID] = err
}

// seal stops the barrier from accepting results and returns what it holds.
func (b *joinBarrier[S]) seal() (S, []string, map[string]error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sealed = true
	return b.state, b.applied, b.failed
}

// runFanOut executes the branches of fo concurrently and joins them.
//
// Branches get their own deep copy of state, so a misbehaving branch cannot
// alias the slices or maps the barrier is merging into. The returned step is
// the last step number consumed by a branch.
func (e *Engine[S]) runFanOut(ctx context.Context, runID string, step, cycle int, fo fanOut, state S) (S, int, error) {
	var zero S

	regs := make([]*registered[S], len(fo.branches))
	snapshots := make([]S, len(fo.branches))
	for i, id := range fo.branches {
		reg, err := e.lookup(id)
		if err != nil {
			return zero, step, err
		}
		snapshot, err := deepCopy(state)
		if err != nil {
			return zero, step, &EngineError{Message: "cannot snapshot state for " + id + ": " + err.Error(), Code: "STATE_COPY_FAILED", Err: err}
		}
		regs[i], snapshots[i] = reg, snapshot
	}

	limit := e.opts.MaxConcurrentNodes
	if limit <= 0 || limit > len(fo.branches) {
		limit = len(fo.branches)
	}

	barrier := newJoinBarrier(state, e.reducer)
	var g errgroup.Group
	g.SetLimit(limit)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i, id := range fo.branches {
			branchStep := step + i + 1
			reg, snapshot := regs[i], snapshots[i]
			g.Go(func() error {
				if err := ctx.Err(); err != nil {
					barrier.fail(id, err)
					return nil
				}
				result, err := e.execute(ctx, runID, id, reg, branchStep, cycle, snapshot)
				if err != nil {
					barrier.fail(id, err)
					return nil
				}
				barrier.apply(id, result.Delta, reg.writes)
				return nil
			})
		}
		_ = g.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		barrier.seal()
		return zero, step, ctx.Err()
	}

	merged, applied, failed := barrier.seal()
	step += len(fo.branches)

	if err := ctx.Err(); err != nil {
		return zero, step, err
	}

	failedIDs := make([]string, 0, len(failed))
	for id := range failed {
		failedIDs = append(failedIDs, id)
	}
	sort.Strings(failedIDs)
	for _, id := range failedIDs {
		e.opts.Metrics.IncrementBranchFailures(runID, id)
		e.emit(runID, step, id, "branch_failed", map[string]interface{}{
			"cycle": cycle,
			"join":  fo.join,
			"error": failed[id].Error(),
		})
	}

	joinID := fmt.Sprintf("%s/join", fo.from)
	if err := e.persist(ctx, runID, step, joinID, merged); err != nil {
		return zero, step, err
	}
	e.emit(runID, step, joinID, "join", map[string]interface{}{
		"cycle":   cycle,
		"applied": applied,
		"failed":  failedIDs,
	})
	return merged, step, nil
}

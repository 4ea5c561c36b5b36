package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// MemStore keeps steps and checkpoints in memory.
//
// States are stored in their JSON form so that callers mutating a state
// after saving it cannot change what was persisted, matching the SQL stores.
type MemStore[S any] struct {
	mu          sync.RWMutex
	steps       map[string]map[int]memRecord
	checkpoints map[string]memRecord
}

type memRecord struct {
	step   int
	nodeID string
	data   []byte
}

// NewMemStore creates an empty in-memory store.
func NewMemStore[S any]() *MemStore[S] {
	return &MemStore[S]{
		steps:       make(map[string]map[int]memRecord),
		checkpoints: make(map[string]memRecord),
	}
}

// SaveStep implements Store.
func (m *MemStore[S]) SaveStep(_ context.Context, runID string, step int, nodeID string, state S) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	run, ok := m.steps[runID]
	if !ok {
		run = make(map[int]memRecord)
		m.steps[runID] = run
	}
	run[step] = memRecord{step: step, nodeID: nodeID, data: data}
	return nil
}

// LoadLatest implements Store.
func (m *MemStore[S]) LoadLatest(_ context.Context, runID string) (S, int, error) {
	var zero S

	m.mu.RLock()
	run := m.steps[runID]
	latest := -1
	var rec memRecord
	for step, r := range run {
		if step > latest {
			latest, rec = step, r
		}
	}
	m.mu.RUnlock()

	if latest < 0 {
		return zero, 0, ErrNotFound
	}
	state, err := decode[S](rec.data)
	if err != nil {
		return zero, 0, err
	}
	return state, rec.step, nil
}

// Steps implements Store.
func (m *MemStore[S]) Steps(_ context.Context, runID string) ([]StepRecord[S], error) {
	m.mu.RLock()
	recs := make([]memRecord, 0, len(m.steps[runID]))
	for _, r := range m.steps[runID] {
		recs = append(recs, r)
	}
	m.mu.RUnlock()

	if len(recs) == 0 {
		return nil, ErrNotFound
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].step < recs[j].step })

	out := make([]StepRecord[S], 0, len(recs))
	for _, r := range recs {
		state, err := decode[S](r.data)
		if err != nil {
			return nil, err
		}
		out = append(out, StepRecord[S]{Step: r.step, NodeID: r.nodeID, State: state})
	}
	return out, nil
}

// SaveCheckpoint implements Store.
func (m *MemStore[S]) SaveCheckpoint(_ context.Context, cpID string, state S, step int) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkpoints[cpID] = memRecord{step: step, data: data}
	return nil
}

// LoadCheckpoint implements Store.
func (m *MemStore[S]) LoadCheckpoint(_ context.Context, cpID string) (S, int, error) {
	var zero S

	m.mu.RLock()
	rec, ok := m.checkpoints[cpID]
	m.mu.RUnlock()

	if !ok {
		return zero, 0, ErrNotFound
	}
	state, err := decode[S](rec.data)
	if err != nil {
		return zero, 0, err
	}
	return state, rec.step, nil
}

func decode[S any](data []byte) (S, error) {
	var state S
	if err := json.Unmarshal(data, &state); err != nil {
		var zero S
		return zero, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	return state, nil
}

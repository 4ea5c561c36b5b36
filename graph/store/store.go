// Package store persists workflow state after every engine step.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a run or checkpoint does not exist.
var ErrNotFound = errors.New("not found")

// ErrClosed is returned by stores used after Close.
var ErrClosed = errors.New("store is closed")

// Store persists workflow state and named checkpoints.
//
// Implementations must be safe for concurrent use. States are stored as
// JSON, so S must round-trip through encoding/json.
type Store[S any] interface {
	// SaveStep records the state after step of runID. Saving the same step
	// twice replaces the earlier record.
	SaveStep(ctx context.Context, runID string, step int, nodeID string, state S) error

	// LoadLatest returns the state with the highest step of runID.
	LoadLatest(ctx context.Context, runID string) (state S, step int, err error)

	// Steps returns every recorded step of runID in step order.
	Steps(ctx context.Context, runID string) ([]StepRecord[S], error)

	// SaveCheckpoint stores state under a label, replacing any previous one.
	SaveCheckpoint(ctx context.Context, cpID string, state S, step int) error

	// LoadCheckpoint returns the state stored under cpID.
	LoadCheckpoint(ctx context.Context, cpID string) (state S, step int, err error)
}

// StepRecord is one persisted engine step.
type StepRecord[S any] struct {
	Step   int
	NodeID string
	State  S
}

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// dialect holds the statements that differ between SQL backends.
type dialect struct {
	schema           []string
	upsertStep       string
	upsertCheckpoint string
}

// sqlStore implements Store over database/sql. SQLiteStore and MySQLStore
// embed it and differ only in how they open the database and in dialect.
type sqlStore[S any] struct {
	db      *sql.DB
	dialect dialect

	mu     sync.RWMutex
	closed bool
}

func (s *sqlStore[S]) init(ctx context.Context) error {
	for _, stmt := range s.dialect.schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

func (s *sqlStore[S]) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// SaveStep implements Store.
func (s *sqlStore[S]) SaveStep(ctx context.Context, runID string, step int, nodeID string, state S) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, s.dialect.upsertStep, runID, step, nodeID, string(stateJSON)); err != nil {
		return fmt.Errorf("failed to save step: %w", err)
	}
	return nil
}

// LoadLatest implements Store.
func (s *sqlStore[S]) LoadLatest(ctx context.Context, runID string) (S, int, error) {
	var zero S
	if err := s.checkOpen(); err != nil {
		return zero, 0, err
	}

	var (
		step      int
		stateJSON string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT step, state FROM workflow_steps WHERE run_id = ? ORDER BY step DESC LIMIT 1`,
		runID).Scan(&step, &stateJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return zero, 0, ErrNotFound
	}
	if err != nil {
		return zero, 0, fmt.Errorf("failed to load latest step: %w", err)
	}

	state, err := decode[S]([]byte(stateJSON))
	if err != nil {
		return zero, 0, err
	}
	return state, step, nil
}

// Steps implements Store.
func (s *sqlStore[S]) Steps(ctx context.Context, runID string) ([]StepRecord[S], error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT step, node_id, state FROM workflow_steps WHERE run_id = ? ORDER BY step`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query steps: %w", err)
	}
	defer rows.Close()

	var out []StepRecord[S]
	for rows.Next() {
		var (
			rec       StepRecord[S]
			stateJSON string
		)
		if err := rows.Scan(&rec.Step, &rec.NodeID, &stateJSON); err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}
		if rec.State, err = decode[S]([]byte(stateJSON)); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read steps: %w", err)
	}
	if len(out) == 0 {
		return nil, ErrNotFound
	}
	return out, nil
}

// SaveCheckpoint implements Store.
func (s *sqlStore[S]) SaveCheckpoint(ctx context.Context, cpID string, state S, step int) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, s.dialect.upsertCheckpoint, cpID, string(stateJSON), step); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// LoadCheckpoint implements Store.
func (s *sqlStore[S]) LoadCheckpoint(ctx context.Context, cpID string) (S, int, error) {
	var zero S
	if err := s.checkOpen(); err != nil {
		return zero, 0, err
	}

	var (
		step      int
		stateJSON string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT state, step FROM workflow_checkpoints WHERE checkpoint_id = ?`, cpID).Scan(&stateJSON, &step)
	if errors.Is(err, sql.ErrNoRows) {
		return zero, 0, ErrNotFound
	}
	if err != nil {
		return zero, 0, fmt.Errorf("failed to load checkpoint: %w", err)
	}

	state, err := decode[S]([]byte(stateJSON))
	if err != nil {
		return zero, 0, err
	}
	return state, step, nil
}

// Ping verifies the database connection is alive.
func (s *sqlStore[S]) Ping(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.db.PingContext(ctx)
}

// Close closes the database. Closing twice is a no-op.
func (s *sqlStore[S]) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

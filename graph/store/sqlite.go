package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

var sqliteDialect = dialect{
	schema: []string{
		`CREATE TABLE IF NOT EXISTS workflow_steps (
			run_id     TEXT    NOT NULL,
			step       INTEGER NOT NULL,
			node_id    TEXT    NOT NULL,
			state      TEXT    NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (run_id, step)
		)`,
		`CREATE TABLE IF NOT EXISTS workflow_checkpoints (
			checkpoint_id TEXT    PRIMARY KEY,
			state         TEXT    NOT NULL,
			step          INTEGER NOT NULL,
			updated_at    TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
	},
	upsertStep: `INSERT INTO workflow_steps (run_id, step, node_id, state) VALUES (?, ?, ?, ?)
		ON CONFLICT(run_id, step) DO UPDATE SET node_id = excluded.node_id, state = excluded.state`,
	upsertCheckpoint: `INSERT INTO workflow_checkpoints (checkpoint_id, state, step) VALUES (?, ?, ?)
		ON CONFLICT(checkpoint_id) DO UPDATE SET state = excluded.state, step = excluded.step,
		updated_at = CURRENT_TIMESTAMP`,
}

// SQLiteStore persists runs in a SQLite file using the pure-Go modernc.org/sqlite driver.
//
// Use ":memory:" for an ephemeral database. The store keeps a single
// connection, which serializes writes and keeps an in-memory database alive
// for the store's lifetime.
//
// Example:
//
//	st, err := store.NewSQLiteStore[workflow.CaseState]("./dxgraph.db")
//	if err != nil {
//	    return err
//	}
//	defer st.Close()
type SQLiteStore[S any] struct {
	sqlStore[S]
	path string
}

// NewSQLiteStore opens (or creates) the database at path and ensures the schema.
func NewSQLiteStore[S any](path string) (*SQLiteStore[S], error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	st := &SQLiteStore[S]{sqlStore: sqlStore[S]{db: db, dialect: sqliteDialect}, path: path}
	if err := st.init(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return st, nil
}

// Path returns the database path the store was opened with.
func (s *SQLiteStore[S]) Path() string {
	return s.path
}

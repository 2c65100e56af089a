package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	// Pure-Go SQLite driver, no cgo required.
	_ "modernc.org/sqlite"
)

// SQLiteStore persists snapshots in a single-file SQLite database.
//
// Suited for development, testing, and single-process deployments.
// WAL mode is enabled so readers do not block on the writer. Use
// ":memory:" as the path for an ephemeral database.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
	path   string
}

// NewSQLiteStore opens (creating if needed) the database at path and
// runs schema migration.
//
//	st, err := store.NewSQLiteStore("./runs.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer st.Close()
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	// SQLite supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %s: %w", pragma, err)
		}
	}

	s := &SQLiteStore{db: db, path: path}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) createTables(ctx context.Context) error {
	steps := `
		CREATE TABLE IF NOT EXISTS run_steps (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			graph_name TEXT NOT NULL,
			step INTEGER NOT NULL,
			node_id TEXT NOT NULL,
			state TEXT NOT NULL,
			iterations TEXT NOT NULL,
			approved INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			UNIQUE(run_id, step)
		)
	`
	if _, err := s.db.ExecContext(ctx, steps); err != nil {
		return fmt.Errorf("create run_steps: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "CREATE INDEX IF NOT EXISTS idx_run_steps_run ON run_steps(run_id, step)"); err != nil {
		return fmt.Errorf("create idx_run_steps_run: %w", err)
	}

	checkpoints := `
		CREATE TABLE IF NOT EXISTS run_checkpoints (
			label TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			graph_name TEXT NOT NULL,
			step INTEGER NOT NULL,
			node_id TEXT NOT NULL,
			state TEXT NOT NULL,
			iterations TEXT NOT NULL,
			approved INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		)
	`
	if _, err := s.db.ExecContext(ctx, checkpoints); err != nil {
		return fmt.Errorf("create run_checkpoints: %w", err)
	}
	return nil
}

// SaveStep inserts or replaces the snapshot for (run_id, step).
func (s *SQLiteStore) SaveStep(ctx context.Context, snap Snapshot) error {
	if err := s.ensureOpen(); err != nil {
		return err
	}
	iters, err := json.Marshal(snap.Iterations)
	if err != nil {
		return fmt.Errorf("marshal iterations: %w", err)
	}
	query := `
		INSERT INTO run_steps (run_id, graph_name, step, node_id, state, iterations, approved, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, step) DO UPDATE SET
			node_id = excluded.node_id,
			state = excluded.state,
			iterations = excluded.iterations,
			approved = excluded.approved,
			created_at = excluded.created_at
	`
	_, err = s.db.ExecContext(ctx, query,
		snap.RunID, snap.GraphName, snap.Step, snap.NodeID,
		string(snap.State), string(iters), boolToInt(snap.Approved),
		snap.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("save step: %w", err)
	}
	return nil
}

// LoadLatest returns the highest-step snapshot for a run.
func (s *SQLiteStore) LoadLatest(ctx context.Context, runID string) (Snapshot, error) {
	if err := s.ensureOpen(); err != nil {
		return Snapshot{}, err
	}
	query := `
		SELECT run_id, graph_name, step, node_id, state, iterations, approved, created_at
		FROM run_steps
		WHERE run_id = ?
		ORDER BY step DESC
		LIMIT 1
	`
	return scanSnapshot(s.db.QueryRowContext(ctx, query, runID))
}

// SaveCheckpoint inserts or replaces a labeled snapshot.
func (s *SQLiteStore) SaveCheckpoint(ctx context.Context, label string, snap Snapshot) error {
	if err := s.ensureOpen(); err != nil {
		return err
	}
	iters, err := json.Marshal(snap.Iterations)
	if err != nil {
		return fmt.Errorf("marshal iterations: %w", err)
	}
	query := `
		INSERT INTO run_checkpoints (label, run_id, graph_name, step, node_id, state, iterations, approved, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(label) DO UPDATE SET
			run_id = excluded.run_id,
			graph_name = excluded.graph_name,
			step = excluded.step,
			node_id = excluded.node_id,
			state = excluded.state,
			iterations = excluded.iterations,
			approved = excluded.approved,
			created_at = excluded.created_at
	`
	_, err = s.db.ExecContext(ctx, query,
		label, snap.RunID, snap.GraphName, snap.Step, snap.NodeID,
		string(snap.State), string(iters), boolToInt(snap.Approved),
		snap.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// LoadCheckpoint returns the snapshot saved under a label.
func (s *SQLiteStore) LoadCheckpoint(ctx context.Context, label string) (Snapshot, error) {
	if err := s.ensureOpen(); err != nil {
		return Snapshot{}, err
	}
	query := `
		SELECT run_id, graph_name, step, node_id, state, iterations, approved, created_at
		FROM run_checkpoints
		WHERE label = ?
	`
	return scanSnapshot(s.db.QueryRowContext(ctx, query, label))
}

// Close closes the database connection. Double-close is a no-op.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Ping verifies the connection, for health checks.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.ensureOpen(); err != nil {
		return err
	}
	return s.db.PingContext(ctx)
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

func (s *SQLiteStore) ensureOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}
	return nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanSnapshot decodes one snapshot row in the column order shared by
// the SQL-backed stores.
func scanSnapshot(row rowScanner) (Snapshot, error) {
	var (
		snap      Snapshot
		state     string
		iters     string
		approved  int
		createdAt string
	)
	err := row.Scan(&snap.RunID, &snap.GraphName, &snap.Step, &snap.NodeID,
		&state, &iters, &approved, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, ErrNotFound
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("scan snapshot: %w", err)
	}
	snap.State = json.RawMessage(state)
	if err := json.Unmarshal([]byte(iters), &snap.Iterations); err != nil {
		return Snapshot{}, fmt.Errorf("unmarshal iterations: %w", err)
	}
	snap.Approved = approved != 0
	snap.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return Snapshot{}, fmt.Errorf("parse created_at: %w", err)
	}
	return snap, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

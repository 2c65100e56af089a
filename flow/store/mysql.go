package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	// MySQL driver.
	_ "github.com/go-sql-driver/mysql"
)

// MySQLStore persists snapshots in MySQL for shared, durable storage
// across processes.
type MySQLStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewMySQLStore connects using a go-sql-driver DSN, for example
// "user:pass@tcp(localhost:3306)/flowgraph?parseTime=true", and runs
// schema migration.
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql connection: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}

	s := &MySQLStore{db: db}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return s, nil
}

func (s *MySQLStore) createTables(ctx context.Context) error {
	steps := `
		CREATE TABLE IF NOT EXISTS run_steps (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			run_id VARCHAR(255) NOT NULL,
			graph_name VARCHAR(255) NOT NULL,
			step INT NOT NULL,
			node_id VARCHAR(255) NOT NULL,
			state JSON NOT NULL,
			iterations JSON NOT NULL,
			approved TINYINT(1) NOT NULL DEFAULT 0,
			created_at VARCHAR(64) NOT NULL,
			UNIQUE KEY uq_run_step (run_id, step),
			KEY idx_run (run_id)
		) ENGINE=InnoDB
	`
	if _, err := s.db.ExecContext(ctx, steps); err != nil {
		return fmt.Errorf("create run_steps: %w", err)
	}

	checkpoints := `
		CREATE TABLE IF NOT EXISTS run_checkpoints (
			label VARCHAR(255) PRIMARY KEY,
			run_id VARCHAR(255) NOT NULL,
			graph_name VARCHAR(255) NOT NULL,
			step INT NOT NULL,
			node_id VARCHAR(255) NOT NULL,
			state JSON NOT NULL,
			iterations JSON NOT NULL,
			approved TINYINT(1) NOT NULL DEFAULT 0,
			created_at VARCHAR(64) NOT NULL
		) ENGINE=InnoDB
	`
	if _, err := s.db.ExecContext(ctx, checkpoints); err != nil {
		return fmt.Errorf("create run_checkpoints: %w", err)
	}
	return nil
}

// SaveStep inserts or replaces the snapshot for (run_id, step).
func (s *MySQLStore) SaveStep(ctx context.Context, snap Snapshot) error {
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
		ON DUPLICATE KEY UPDATE
			node_id = VALUES(node_id),
			state = VALUES(state),
			iterations = VALUES(iterations),
			approved = VALUES(approved),
			created_at = VALUES(created_at)
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
func (s *MySQLStore) LoadLatest(ctx context.Context, runID string) (Snapshot, error) {
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
func (s *MySQLStore) SaveCheckpoint(ctx context.Context, label string, snap Snapshot) error {
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
		ON DUPLICATE KEY UPDATE
			run_id = VALUES(run_id),
			graph_name = VALUES(graph_name),
			step = VALUES(step),
			node_id = VALUES(node_id),
			state = VALUES(state),
			iterations = VALUES(iterations),
			approved = VALUES(approved),
			created_at = VALUES(created_at)
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
func (s *MySQLStore) LoadCheckpoint(ctx context.Context, label string) (Snapshot, error) {
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

// Close closes the connection pool. Double-close is a no-op.
func (s *MySQLStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Ping verifies the database connection is alive.
func (s *MySQLStore) Ping(ctx context.Context) error {
	if err := s.ensureOpen(); err != nil {
		return err
	}
	return s.db.PingContext(ctx)
}

func (s *MySQLStore) ensureOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}
	return nil
}

// Package store provides persistence backends for run snapshots.
//
// The scheduler saves a Snapshot after every completed step when
// configured with a store, enabling resumption after a crash and
// labeled checkpoints for manual rollback points. Backends cover the
// usual deployment spectrum: in-memory for tests, SQLite for local
// single-process runs, MySQL and PostgreSQL for shared durable
// storage, and Redis for low-latency ephemeral persistence.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned when a run ID or checkpoint label does not
// exist in the store.
var ErrNotFound = errors.New("not found")

// Snapshot captures the full resumable position of a run after one
// scheduler step.
type Snapshot struct {
	// RunID identifies the run this snapshot belongs to.
	RunID string `json:"run_id"`

	// GraphName is the name of the graph being executed.
	GraphName string `json:"graph_name"`

	// Step is the sequential step number (1-indexed).
	Step int `json:"step"`

	// NodeID is the node whose execution produced this snapshot.
	NodeID string `json:"node_id"`

	// State is the JSON encoding of the state after the step, with
	// field order preserved.
	State json.RawMessage `json:"state"`

	// Iterations holds the quality-gate loop counters at this step,
	// keyed by gate source node.
	Iterations map[string]int `json:"iterations,omitempty"`

	// Approved marks snapshots taken at an accepted approval decision;
	// these are the rollback targets.
	Approved bool `json:"approved"`

	// CreatedAt is the snapshot creation time in UTC.
	CreatedAt time.Time `json:"created_at"`
}

// Store persists run snapshots and named checkpoints.
//
// Implementations must be safe for concurrent use: fan-out branches
// save steps of the same run from multiple goroutines.
type Store interface {
	// SaveStep persists a snapshot, replacing any existing snapshot for
	// the same run and step.
	SaveStep(ctx context.Context, snap Snapshot) error

	// LoadLatest returns the snapshot with the highest step number for
	// a run. Returns ErrNotFound for unknown runs.
	LoadLatest(ctx context.Context, runID string) (Snapshot, error)

	// SaveCheckpoint persists a snapshot under a caller-chosen label,
	// independent of the per-step history. Saving an existing label
	// replaces it.
	SaveCheckpoint(ctx context.Context, label string, snap Snapshot) error

	// LoadCheckpoint returns the snapshot saved under a label. Returns
	// ErrNotFound for unknown labels.
	LoadCheckpoint(ctx context.Context, label string) (Snapshot, error)

	// Close releases the backend connection. Operations after Close
	// return an error; double-close is a no-op.
	Close() error
}

package store

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore is an in-memory Store for tests and short-lived runs.
// Data is lost when the process exits.
type MemoryStore struct {
	mu          sync.RWMutex
	steps       map[string][]Snapshot // keyed by run ID, ordered by save time
	checkpoints map[string]Snapshot   // keyed by label
	closed      bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		steps:       make(map[string][]Snapshot),
		checkpoints: make(map[string]Snapshot),
	}
}

// SaveStep persists a snapshot, replacing any existing snapshot for the
// same run and step.
func (m *MemoryStore) SaveStep(_ context.Context, snap Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("store is closed")
	}
	for i, existing := range m.steps[snap.RunID] {
		if existing.Step == snap.Step {
			m.steps[snap.RunID][i] = snap
			return nil
		}
	}
	m.steps[snap.RunID] = append(m.steps[snap.RunID], snap)
	return nil
}

// LoadLatest returns the highest-step snapshot for a run.
func (m *MemoryStore) LoadLatest(_ context.Context, runID string) (Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return Snapshot{}, fmt.Errorf("store is closed")
	}
	snaps := m.steps[runID]
	if len(snaps) == 0 {
		return Snapshot{}, ErrNotFound
	}
	latest := snaps[0]
	for _, s := range snaps[1:] {
		if s.Step > latest.Step {
			latest = s
		}
	}
	return latest, nil
}

// SaveCheckpoint stores a snapshot under a label, replacing any
// existing checkpoint with the same label.
func (m *MemoryStore) SaveCheckpoint(_ context.Context, label string, snap Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("store is closed")
	}
	m.checkpoints[label] = snap
	return nil
}

// LoadCheckpoint returns the snapshot saved under a label.
func (m *MemoryStore) LoadCheckpoint(_ context.Context, label string) (Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return Snapshot{}, fmt.Errorf("store is closed")
	}
	snap, ok := m.checkpoints[label]
	if !ok {
		return Snapshot{}, ErrNotFound
	}
	return snap, nil
}

// Steps returns the number of snapshots stored for a run. Intended for
// tests.
func (m *MemoryStore) Steps(runID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.steps[runID])
}

// Close marks the store closed. Double-close is a no-op.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

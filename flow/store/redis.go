package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore persists snapshots in Redis. Suited for low-latency
// resumption where durability requirements allow key expiry.
//
// Layout:
//   - flowgraph:steps:{runID}    hash, field = step number, value = snapshot JSON
//   - flowgraph:checkpoint:{label}  string, snapshot JSON
type RedisStore struct {
	client redis.UniversalClient
	ttl    time.Duration
	mu     sync.RWMutex
	closed bool
}

// NewRedisStore wraps an existing go-redis client. A non-zero ttl
// expires run step history that long after the last save; checkpoints
// never expire.
func NewRedisStore(client redis.UniversalClient, ttl time.Duration) (*RedisStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client must not be nil")
	}
	return &RedisStore{client: client, ttl: ttl}, nil
}

func stepsKey(runID string) string      { return "flowgraph:steps:" + runID }
func checkpointKey(label string) string { return "flowgraph:checkpoint:" + label }

// SaveStep persists a snapshot under its step number, replacing any
// previous snapshot for the same step.
func (s *RedisStore) SaveStep(ctx context.Context, snap Snapshot) error {
	if err := s.ensureOpen(); err != nil {
		return err
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	key := stepsKey(snap.RunID)
	if err := s.client.HSet(ctx, key, strconv.Itoa(snap.Step), payload).Err(); err != nil {
		return fmt.Errorf("save step: %w", err)
	}
	if s.ttl > 0 {
		if err := s.client.Expire(ctx, key, s.ttl).Err(); err != nil {
			return fmt.Errorf("refresh ttl: %w", err)
		}
	}
	return nil
}

// LoadLatest returns the highest-step snapshot for a run.
func (s *RedisStore) LoadLatest(ctx context.Context, runID string) (Snapshot, error) {
	if err := s.ensureOpen(); err != nil {
		return Snapshot{}, err
	}
	fields, err := s.client.HGetAll(ctx, stepsKey(runID)).Result()
	if err != nil {
		return Snapshot{}, fmt.Errorf("load steps: %w", err)
	}
	if len(fields) == 0 {
		return Snapshot{}, ErrNotFound
	}
	maxStep := -1
	var payload string
	for field, value := range fields {
		step, err := strconv.Atoi(field)
		if err != nil {
			return Snapshot{}, fmt.Errorf("parse step field %q: %w", field, err)
		}
		if step > maxStep {
			maxStep = step
			payload = value
		}
	}
	var snap Snapshot
	if err := json.Unmarshal([]byte(payload), &snap); err != nil {
		return Snapshot{}, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return snap, nil
}

// SaveCheckpoint stores a snapshot under a label without expiry.
func (s *RedisStore) SaveCheckpoint(ctx context.Context, label string, snap Snapshot) error {
	if err := s.ensureOpen(); err != nil {
		return err
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := s.client.Set(ctx, checkpointKey(label), payload, 0).Err(); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// LoadCheckpoint returns the snapshot saved under a label.
func (s *RedisStore) LoadCheckpoint(ctx context.Context, label string) (Snapshot, error) {
	if err := s.ensureOpen(); err != nil {
		return Snapshot{}, err
	}
	payload, err := s.client.Get(ctx, checkpointKey(label)).Result()
	if errors.Is(err, redis.Nil) {
		return Snapshot{}, ErrNotFound
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("load checkpoint: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal([]byte(payload), &snap); err != nil {
		return Snapshot{}, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return snap, nil
}

// Close closes the underlying client. Double-close is a no-op.
func (s *RedisStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.client.Close()
}

func (s *RedisStore) ensureOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}
	return nil
}

package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/flowgraph/flowgraph/flow/store"
)

func TestRedisStoreTTL(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	st, err := store.NewRedisStore(client, time.Hour)
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	defer st.Close()

	ctx := context.Background()
	if err := st.SaveStep(ctx, testSnapshot("run-ttl", 1, "coder")); err != nil {
		t.Fatalf("SaveStep: %v", err)
	}

	if ttl := srv.TTL("flowgraph:steps:run-ttl"); ttl != time.Hour {
		t.Errorf("step key TTL = %v, want 1h", ttl)
	}

	// Expiry drops the run history.
	srv.FastForward(2 * time.Hour)
	if _, err := st.LoadLatest(ctx, "run-ttl"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("LoadLatest after expiry: got %v, want ErrNotFound", err)
	}
}

func TestRedisStoreCheckpointNoExpiry(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	st, err := store.NewRedisStore(client, time.Minute)
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	defer st.Close()

	ctx := context.Background()
	if err := st.SaveCheckpoint(ctx, "keep", testSnapshot("run", 3, "approver")); err != nil {
		t.Fatalf("SaveCheckpoint: %v", err)
	}

	srv.FastForward(time.Hour)
	snap, err := st.LoadCheckpoint(ctx, "keep")
	if err != nil {
		t.Fatalf("LoadCheckpoint after fast-forward: %v", err)
	}
	if snap.Step != 3 {
		t.Errorf("checkpoint step = %d, want 3", snap.Step)
	}
}

func TestNewRedisStoreNilClient(t *testing.T) {
	if _, err := store.NewRedisStore(nil, 0); err == nil {
		t.Fatal("NewRedisStore(nil): want error")
	}
}

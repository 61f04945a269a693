package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	backend "github.com/redis/go-redis/v9"

	"github.com/dshills/convograph/graph/store"
)

func newRedisStore(t *testing.T, opts ...store.RedisOption) (*store.RedisStore[TestState], *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	st := store.NewRedisStoreFromClient[TestState](client, opts...)
	t.Cleanup(func() { _ = st.Close() })
	return st, mr
}

func TestRedisStore_Contract(t *testing.T) {
	runStoreContract(t, func(t *testing.T) store.Store[TestState] {
		st, _ := newRedisStore(t)
		return st
	})
}

func TestRedisStore_PrefixAndIndex(t *testing.T) {
	ctx := context.Background()
	st, mr := newRedisStore(t, store.WithRedisPrefix("test:"))

	for _, id := range []string{"b", "a"} {
		if err := st.SaveCheckpoint(ctx, store.Checkpoint[TestState]{ThreadID: id, Status: store.StatusRunning}); err != nil {
			t.Fatalf("SaveCheckpoint failed: %v", err)
		}
	}

	if !mr.Exists("test:a") {
		t.Errorf("expected checkpoint under prefixed key")
	}

	threads, err := st.Threads(ctx)
	if err != nil {
		t.Fatalf("Threads failed: %v", err)
	}
	if len(threads) != 2 {
		t.Errorf("expected 2 threads, got %v", threads)
	}

	if err := st.Delete(ctx, "a"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	threads, _ = st.Threads(ctx)
	if len(threads) != 1 || threads[0] != "b" {
		t.Errorf("expected only thread b after delete, got %v", threads)
	}
}

func TestRedisStore_TTL(t *testing.T) {
	ctx := context.Background()
	st, mr := newRedisStore(t, store.WithRedisTTL(time.Minute))

	if err := st.SaveCheckpoint(ctx, store.Checkpoint[TestState]{ThreadID: "short", Status: store.StatusRunning}); err != nil {
		t.Fatalf("SaveCheckpoint failed: %v", err)
	}
	if ttl := mr.TTL("convograph:thread:short"); ttl != time.Minute {
		t.Errorf("expected 1m TTL, got %v", ttl)
	}

	mr.FastForward(2 * time.Minute)
	if _, err := st.LoadCheckpoint(ctx, "short"); err != store.ErrNotFound {
		t.Errorf("expected expired thread to be gone, got %v", err)
	}
}

package presence

import (
	"context"
	"testing"
	"time"
)

// newTestStore connects to a local Redis instance and cleans up test keys.
// Tests that call this helper require a running Redis on localhost:6379 and
// skip otherwise.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore("localhost:6379")
	if err != nil {
		t.Skipf("redis not available: %v", err)
	}

	ctx := context.Background()
	cleanup := func() {
		iter := store.Client().Scan(ctx, 0, KeyPrefix+"test_*", 100).Iterator()
		for iter.Next(ctx) {
			store.Client().Del(ctx, iter.Val())
		}
	}
	cleanup()
	t.Cleanup(func() {
		cleanup()
		store.Close()
	})
	return store
}

func TestSetAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	at := time.Now()
	if err := store.Set(ctx, "test_u1", "Alice", "https://cdn/a.png", "online", at); err != nil {
		t.Fatalf("Set() error: %v", err)
	}

	p, err := store.Get(ctx, "test_u1")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if p == nil {
		t.Fatal("expected presence, got nil")
	}
	if p.Name != "Alice" || p.Status != "online" {
		t.Errorf("unexpected presence: %+v", p)
	}
	if p.LastSeen != at.Unix() {
		t.Errorf("expected last_seen %d, got %d", at.Unix(), p.LastSeen)
	}
}

func TestGetMissing(t *testing.T) {
	store := newTestStore(t)

	p, err := store.Get(context.Background(), "test_ghost")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if p != nil {
		t.Errorf("expected nil for missing key, got %+v", p)
	}
}

func TestSetStatus(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Set(ctx, "test_u2", "Bob", "", "online", time.Now()); err != nil {
		t.Fatalf("Set() error: %v", err)
	}

	later := time.Now().Add(time.Minute)
	if err := store.SetStatus(ctx, "test_u2", "away", later); err != nil {
		t.Fatalf("SetStatus() error: %v", err)
	}

	p, err := store.Get(ctx, "test_u2")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if p.Status != "away" {
		t.Errorf("expected status away, got %q", p.Status)
	}
	if p.LastSeen != later.Unix() {
		t.Errorf("last_seen not refreshed: %d", p.LastSeen)
	}
	if p.Name != "Bob" {
		t.Errorf("SetStatus must not clobber other fields, got %+v", p)
	}
}

func TestDelete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Set(ctx, "test_u3", "Cara", "", "online", time.Now()); err != nil {
		t.Fatalf("Set() error: %v", err)
	}
	if err := store.Delete(ctx, "test_u3"); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}

	p, err := store.Get(ctx, "test_u3")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if p != nil {
		t.Errorf("expected nil after delete, got %+v", p)
	}
}

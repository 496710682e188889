package session

import (
	"context"
	"testing"

	"github.com/redis/go-redis/v9"
)

// setupTestStore creates a Store connected to a test Redis instance.
// Requires Redis running on localhost:6379. Tests are skipped if unavailable.
func setupTestStore(t *testing.T) (*Store, context.Context) {
	t.Helper()

	ctx := context.Background()
	probe := redis.NewClient(&redis.Options{Addr: "localhost:6379", DB: 15})
	if err := probe.Ping(ctx).Err(); err != nil {
		t.Skipf("skipping: Redis not available: %v", err)
	}
	probe.FlushDB(ctx)
	probe.Close()

	store, err := NewStore("localhost:6379", "test-server")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	// Point the store at the test DB.
	store.client = redis.NewClient(&redis.Options{Addr: "localhost:6379", DB: 15})

	t.Cleanup(func() {
		store.client.FlushDB(ctx)
		store.Close()
	})

	return store, ctx
}

func TestStore_CreateAndGet(t *testing.T) {
	store, ctx := setupTestStore(t)

	if err := store.Create(ctx, "handle-1"); err != nil {
		t.Fatalf("create: %v", err)
	}

	sess, err := store.Get(ctx, "handle-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if sess == nil {
		t.Fatal("expected a session record")
	}
	if sess.Handle != "handle-1" {
		t.Errorf("expected handle handle-1, got %s", sess.Handle)
	}
	if sess.Status != StatusIdle {
		t.Errorf("expected fresh record to be idle, got %s", sess.Status)
	}
	if sess.Server != "test-server" {
		t.Errorf("expected server name test-server, got %s", sess.Server)
	}
}

func TestStore_GetMissingReturnsNil(t *testing.T) {
	store, ctx := setupTestStore(t)

	sess, err := store.Get(ctx, "never-created")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if sess != nil {
		t.Errorf("expected nil for a missing record, got %+v", sess)
	}
}

func TestStore_AliveTracksRecordExistence(t *testing.T) {
	store, ctx := setupTestStore(t)

	alive, err := store.Alive(ctx, "handle-1")
	if err != nil {
		t.Fatalf("alive: %v", err)
	}
	if alive {
		t.Error("expected missing record to be reported dead")
	}

	if err := store.Create(ctx, "handle-1"); err != nil {
		t.Fatalf("create: %v", err)
	}
	alive, err = store.Alive(ctx, "handle-1")
	if err != nil {
		t.Fatalf("alive: %v", err)
	}
	if !alive {
		t.Error("expected created record to be reported live")
	}

	if err := store.Delete(ctx, "handle-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	alive, err = store.Alive(ctx, "handle-1")
	if err != nil {
		t.Fatalf("alive: %v", err)
	}
	if alive {
		t.Error("expected deleted record to be reported dead")
	}
}

func TestStore_PairingLifecycle(t *testing.T) {
	store, ctx := setupTestStore(t)

	if err := store.Create(ctx, "handle-1"); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := store.SetPairing(ctx, "handle-1", "abcd1234abcd1234"); err != nil {
		t.Fatalf("set pairing: %v", err)
	}
	sess, err := store.Get(ctx, "handle-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if sess.Status != StatusPaired || sess.PairingID != "abcd1234abcd1234" {
		t.Errorf("expected paired record, got %+v", sess)
	}

	if err := store.ClearPairing(ctx, "handle-1"); err != nil {
		t.Fatalf("clear pairing: %v", err)
	}
	sess, err = store.Get(ctx, "handle-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if sess.Status != StatusIdle || sess.PairingID != "" {
		t.Errorf("expected cleared record, got %+v", sess)
	}
}

func TestStore_UpdateStatus(t *testing.T) {
	store, ctx := setupTestStore(t)

	if err := store.Create(ctx, "handle-1"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.UpdateStatus(ctx, "handle-1", StatusWaiting); err != nil {
		t.Fatalf("update status: %v", err)
	}

	sess, err := store.Get(ctx, "handle-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if sess.Status != StatusWaiting {
		t.Errorf("expected waiting, got %s", sess.Status)
	}
}

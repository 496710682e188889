package pairing

import "testing"

func TestID_OrderIndependent(t *testing.T) {
	if ID("alice", "bob") != ID("bob", "alice") {
		t.Error("expected the same ID regardless of handle order")
	}
}

func TestID_DistinctPairsDistinctIDs(t *testing.T) {
	a := ID("alice", "bob")
	b := ID("alice", "carol")
	if a == b {
		t.Errorf("expected distinct IDs for distinct pairs, both %s", a)
	}
}

func TestID_Format(t *testing.T) {
	id := ID("alice", "bob")
	if len(id) != 16 {
		t.Errorf("expected a 16-char hex ID, got %q (len %d)", id, len(id))
	}
	for _, c := range id {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			t.Errorf("unexpected character %q in ID %q", c, id)
		}
	}
}

func TestRegistry_CreateAndLookup(t *testing.T) {
	r := NewRegistry()

	id, err := r.Create("alice", "bob")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if id != ID("alice", "bob") {
		t.Errorf("expected deterministic ID %s, got %s", ID("alice", "bob"), id)
	}

	p := r.Get(id)
	if p == nil {
		t.Fatal("expected pairing by ID")
	}
	if !p.Has("alice") || !p.Has("bob") {
		t.Error("pairing should contain both handles")
	}
	if p.Peer("alice") != "bob" || p.Peer("bob") != "alice" {
		t.Error("Peer should return the other handle")
	}
	if p.Peer("stranger") != "" {
		t.Error("Peer of a non-member should be empty")
	}

	if r.ByHandle("alice") != p || r.ByHandle("bob") != p {
		t.Error("both handles should resolve to the same pairing")
	}

	peer, ok := r.ResolvePeer("alice")
	if !ok || peer != "bob" {
		t.Errorf("ResolvePeer(alice) = %q, %v; want bob, true", peer, ok)
	}
	if _, ok := r.ResolvePeer("stranger"); ok {
		t.Error("ResolvePeer should report false for unpaired handles")
	}
}

func TestRegistry_CreateRejectsPairedHandle(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Create("alice", "bob"); err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := r.Create("alice", "carol"); err != ErrDuplicatePairing {
		t.Errorf("expected ErrDuplicatePairing, got %v", err)
	}
	if _, err := r.Create("carol", "bob"); err != ErrDuplicatePairing {
		t.Errorf("expected ErrDuplicatePairing, got %v", err)
	}

	// The failed creates must not have touched the registry.
	if r.Len() != 1 {
		t.Errorf("expected 1 pairing, got %d", r.Len())
	}
	if r.ByHandle("carol") != nil {
		t.Error("carol must not be paired after rejected creates")
	}
}

func TestRegistry_EndIsIdempotent(t *testing.T) {
	r := NewRegistry()
	id, err := r.Create("alice", "bob")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if p := r.End(id); p == nil {
		t.Fatal("expected End to return the removed pairing")
	}
	if p := r.End(id); p != nil {
		t.Error("expected second End to be a no-op")
	}

	if r.ByHandle("alice") != nil || r.ByHandle("bob") != nil {
		t.Error("ended pairing must release both handles")
	}
	if r.Len() != 0 {
		t.Errorf("expected empty registry, got %d", r.Len())
	}
}

func TestRegistry_EndByHandle(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Create("alice", "bob"); err != nil {
		t.Fatalf("create: %v", err)
	}

	peer, ok := r.EndByHandle("alice")
	if !ok || peer != "bob" {
		t.Errorf("EndByHandle(alice) = %q, %v; want bob, true", peer, ok)
	}

	// Both sides racing to tear down: the second call is a quiet no-op.
	if _, ok := r.EndByHandle("bob"); ok {
		t.Error("expected EndByHandle on the already-ended pairing to report false")
	}

	// Handles are immediately reusable.
	if _, err := r.Create("alice", "carol"); err != nil {
		t.Errorf("expected alice to be pairable again, got %v", err)
	}
}

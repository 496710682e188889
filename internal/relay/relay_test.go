package relay

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/glimpse/video-chat/internal/pairing"
	"github.com/glimpse/video-chat/internal/protocol"
)

// fakeLiveness marks specific handles as dead; everything else is live.
type fakeLiveness struct {
	dead map[string]bool
	err  error
}

func (f *fakeLiveness) Alive(ctx context.Context, handle string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return !f.dead[handle], nil
}

// fakeDeliverer records every delivered frame per handle.
type fakeDeliverer struct {
	delivered map[string][][]byte
	err       error
}

func newFakeDeliverer() *fakeDeliverer {
	return &fakeDeliverer{delivered: make(map[string][][]byte)}
}

func (f *fakeDeliverer) Deliver(handle string, data []byte) error {
	if f.err != nil {
		return f.err
	}
	f.delivered[handle] = append(f.delivered[handle], data)
	return nil
}

func setupRelay(t *testing.T) (*Relay, *pairing.Registry, *fakeLiveness, *fakeDeliverer) {
	t.Helper()
	registry := pairing.NewRegistry()
	liveness := &fakeLiveness{dead: make(map[string]bool)}
	deliverer := newFakeDeliverer()
	return New(registry, liveness, deliverer), registry, liveness, deliverer
}

func relayMsg(pairingID, target string) protocol.RelayMsg {
	return protocol.RelayMsg{
		Type:         protocol.TypeRelay,
		PairingID:    pairingID,
		TargetHandle: target,
		Signal: protocol.Signal{
			Kind: protocol.SignalOffer,
			Body: json.RawMessage(`{"sdp":"v=0"}`),
		},
	}
}

func TestForward_DeliversToRegisteredPeer(t *testing.T) {
	r, registry, _, deliverer := setupRelay(t)
	id, err := registry.Create("alice", "bob")
	if err != nil {
		t.Fatalf("create pairing: %v", err)
	}

	if err := r.Forward(context.Background(), "alice", relayMsg(id, "bob")); err != nil {
		t.Fatalf("forward: %v", err)
	}

	frames := deliverer.delivered["bob"]
	if len(frames) != 1 {
		t.Fatalf("expected exactly one delivery to bob, got %d", len(frames))
	}
	if len(deliverer.delivered["alice"]) != 0 {
		t.Error("nothing should be delivered back to the sender")
	}

	var out protocol.ServerRelayMsg
	if err := json.Unmarshal(frames[0], &out); err != nil {
		t.Fatalf("unmarshal delivered frame: %v", err)
	}
	if out.Type != protocol.TypeRelay {
		t.Errorf("expected type %s, got %s", protocol.TypeRelay, out.Type)
	}
	if out.PairingID != id {
		t.Errorf("expected pairing ID %s, got %s", id, out.PairingID)
	}
	if out.FromHandle != "alice" {
		t.Errorf("expected fromHandle alice, got %s", out.FromHandle)
	}
	if out.Signal.Kind != protocol.SignalOffer {
		t.Errorf("expected signal kind offer, got %s", out.Signal.Kind)
	}
}

func TestForward_SenderNotPaired(t *testing.T) {
	r, _, _, deliverer := setupRelay(t)

	err := r.Forward(context.Background(), "alice", relayMsg("whatever", "bob"))
	if !errors.Is(err, ErrNotPaired) {
		t.Errorf("expected ErrNotPaired, got %v", err)
	}
	if len(deliverer.delivered) != 0 {
		t.Error("nothing should be delivered on a rejected relay")
	}
}

func TestForward_PeerMismatch(t *testing.T) {
	r, registry, _, deliverer := setupRelay(t)
	id, err := registry.Create("alice", "bob")
	if err != nil {
		t.Fatalf("create pairing: %v", err)
	}
	// carol is paired elsewhere; alice must not reach her.
	if _, err := registry.Create("carol", "dave"); err != nil {
		t.Fatalf("create pairing: %v", err)
	}

	// Right pairing ID, wrong target.
	err = r.Forward(context.Background(), "alice", relayMsg(id, "carol"))
	if !errors.Is(err, ErrPeerMismatch) {
		t.Errorf("wrong target: expected ErrPeerMismatch, got %v", err)
	}

	// Right target, stale pairing ID.
	err = r.Forward(context.Background(), "alice", relayMsg("stale-id", "bob"))
	if !errors.Is(err, ErrPeerMismatch) {
		t.Errorf("stale pairing ID: expected ErrPeerMismatch, got %v", err)
	}

	if len(deliverer.delivered) != 0 {
		t.Error("nothing should be delivered on a rejected relay")
	}
}

func TestForward_TargetGone(t *testing.T) {
	r, registry, liveness, deliverer := setupRelay(t)
	id, err := registry.Create("alice", "bob")
	if err != nil {
		t.Fatalf("create pairing: %v", err)
	}
	liveness.dead["bob"] = true

	err = r.Forward(context.Background(), "alice", relayMsg(id, "bob"))
	if !errors.Is(err, ErrTargetGone) {
		t.Errorf("expected ErrTargetGone, got %v", err)
	}
	if len(deliverer.delivered) != 0 {
		t.Error("nothing should be delivered to a dead target")
	}

	// The pairing itself survives a failed relay.
	if registry.Get(id) == nil {
		t.Error("pairing must remain intact after a target-gone relay")
	}
}

func TestForward_LivenessErrorPropagates(t *testing.T) {
	r, registry, liveness, _ := setupRelay(t)
	id, err := registry.Create("alice", "bob")
	if err != nil {
		t.Fatalf("create pairing: %v", err)
	}
	liveness.err = errors.New("redis down")

	err = r.Forward(context.Background(), "alice", relayMsg(id, "bob"))
	if err == nil || errors.Is(err, ErrTargetGone) {
		t.Errorf("expected a wrapped liveness error, got %v", err)
	}
}

func TestForward_DeliveryErrorPropagates(t *testing.T) {
	r, registry, _, _ := setupRelay(t)
	id, err := registry.Create("alice", "bob")
	if err != nil {
		t.Fatalf("create pairing: %v", err)
	}

	failing := &fakeDeliverer{err: errors.New("socket closed")}
	r.deliverer = failing

	if err := r.Forward(context.Background(), "alice", relayMsg(id, "bob")); err == nil {
		t.Error("expected delivery error to propagate")
	}
}

// Package relay forwards negotiation payloads between the two sides of an
// active pairing. It validates every message against the pairing registry
// and the target's liveness, then delivers it verbatim: no payload
// inspection, no retry, no buffering — at most once, immediate or drop.
package relay

import (
	"context"
	"errors"
	"fmt"

	"github.com/glimpse/video-chat/internal/pairing"
	"github.com/glimpse/video-chat/internal/protocol"
)

var (
	// ErrNotPaired means the sender has no active pairing to relay through.
	ErrNotPaired = errors.New("relay: sender not paired")

	// ErrPeerMismatch means the target handle or pairing ID does not match
	// the sender's registered pairing (stale or forged).
	ErrPeerMismatch = errors.New("relay: target is not the registered peer")

	// ErrTargetGone means the peer's connection vanished between pairing and
	// this relay call. The pairing itself is left intact: only an explicit
	// end or a transport-level disconnect tears it down.
	ErrTargetGone = errors.New("relay: target connection not live")
)

// Liveness answers whether a connection handle is still backed by a live
// connection. The hub wires this to the session store.
type Liveness interface {
	Alive(ctx context.Context, handle string) (bool, error)
}

// Deliverer pushes an already-encoded server message toward a handle's
// connection, wherever it is attached.
type Deliverer interface {
	Deliver(handle string, data []byte) error
}

// Relay validates and forwards signaling messages.
type Relay struct {
	registry  *pairing.Registry
	liveness  Liveness
	deliverer Deliverer
}

// New creates a Relay bound to the given registry, liveness source, and
// delivery sink.
func New(registry *pairing.Registry, liveness Liveness, deliverer Deliverer) *Relay {
	return &Relay{registry: registry, liveness: liveness, deliverer: deliverer}
}

// Forward relays one signaling payload from sender to its registered peer.
// Validation failures are returned to the caller so they can be reported to
// the sender; none of them mutate pairing state.
func (r *Relay) Forward(ctx context.Context, sender string, msg protocol.RelayMsg) error {
	p := r.registry.ByHandle(sender)
	if p == nil {
		return ErrNotPaired
	}

	if msg.PairingID != p.ID || msg.TargetHandle != p.Peer(sender) {
		return ErrPeerMismatch
	}

	alive, err := r.liveness.Alive(ctx, msg.TargetHandle)
	if err != nil {
		return fmt.Errorf("relay: liveness check for %s: %w", msg.TargetHandle, err)
	}
	if !alive {
		return ErrTargetGone
	}

	out, err := protocol.NewServerMessage(protocol.TypeRelay, protocol.ServerRelayMsg{
		PairingID:  p.ID,
		FromHandle: sender,
		Signal:     msg.Signal,
	})
	if err != nil {
		return fmt.Errorf("relay: encode payload: %w", err)
	}

	if err := r.deliverer.Deliver(msg.TargetHandle, out); err != nil {
		return fmt.Errorf("relay: deliver to %s: %w", msg.TargetHandle, err)
	}
	return nil
}

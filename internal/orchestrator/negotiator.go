package orchestrator

import (
	"context"
	"encoding/json"
)

// Negotiator abstracts the local media engine for one pairing: it produces
// and consumes the opaque offer/answer descriptors and connectivity
// candidates the orchestrator relays through the server. Close releases all
// locally held media and negotiation resources; the orchestrator guarantees
// it is called on every exit path.
type Negotiator interface {
	CreateOffer(ctx context.Context) (json.RawMessage, error)
	HandleOffer(ctx context.Context, offer json.RawMessage) (answer json.RawMessage, err error)
	HandleAnswer(ctx context.Context, answer json.RawMessage) error
	AddCandidate(candidate json.RawMessage) error
	Close() error
}

// NegotiatorFactory creates a fresh Negotiator for a new pairing. The
// emitCandidate callback hands locally gathered connectivity candidates back
// to the orchestrator, which relays them to the peer for as long as the
// pairing is negotiating or live. Candidates must be emitted from the
// negotiator's own goroutine, never synchronously from inside CreateOffer,
// HandleOffer, or HandleAnswer.
type NegotiatorFactory func(emitCandidate func(candidate json.RawMessage)) Negotiator

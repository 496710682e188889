// Package orchestrator implements the client-resident state machine that
// drives one participant through the pairing lifecycle: request a partner,
// react to a match, run the negotiation handshake, and tear down — deciding
// on every exit whether to automatically search again.
package orchestrator

// State is the orchestrator's position in the pairing lifecycle.
type State int

const (
	// StateIdle: not searching, not paired.
	StateIdle State = iota
	// StateSearching: join request sent, no server response yet.
	StateSearching
	// StateWaiting: enqueued server-side, waiting for a partner.
	StateWaiting
	// StateMatched: match notification received, negotiation not started.
	StateMatched
	// StateNegotiating: offer/answer exchange in progress.
	StateNegotiating
	// StateLive: negotiation complete, media flowing directly.
	StateLive
	// StateEnding: teardown in progress. Transient; resolves to Idle or
	// Searching depending on the stopped-by-user flag.
	StateEnding
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSearching:
		return "searching"
	case StateWaiting:
		return "waiting"
	case StateMatched:
		return "matched"
	case StateNegotiating:
		return "negotiating"
	case StateLive:
		return "live"
	case StateEnding:
		return "ending"
	}
	return "unknown"
}

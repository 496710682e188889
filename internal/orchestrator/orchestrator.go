package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/glimpse/video-chat/internal/match"
	"github.com/glimpse/video-chat/internal/protocol"
)

// negotiateTimeout bounds each local negotiation step.
const negotiateTimeout = 10 * time.Second

// Transport sends this participant's events to the server. The concrete
// implementation is the WebSocket client; tests use a fake.
type Transport interface {
	JoinQueue(userID string, criteria protocol.JoinCriteria) error
	LeaveQueue() error
	EndPairing() error
	AckPairing(pairingID string) error
	SendSignal(pairingID, targetHandle string, sig protocol.Signal) error
	ReportPeer(reason string) error
}

// Orchestrator is the per-participant session state machine. It is
// single-threaded: every entry point takes the same lock, so negotiation
// steps never overlap for the same pairing. Server events are fed in by the
// transport's read loop; user actions come from the application.
type Orchestrator struct {
	mu sync.Mutex

	transport     Transport
	newNegotiator NegotiatorFactory
	onTransition  func(from, to State) // optional observer, called under the lock

	state         State
	stoppedByUser bool

	selfHandle string
	userID     string
	criteria   protocol.JoinCriteria

	pairingID     string
	peerHandle    string
	peerProfile   match.Profile
	initiator     bool
	queuePosition int

	negotiator Negotiator
}

// New creates an orchestrator in the Idle state. selfHandle is the
// connection handle the server assigned at connect time.
func New(selfHandle string, transport Transport, factory NegotiatorFactory) *Orchestrator {
	return &Orchestrator{
		selfHandle:    selfHandle,
		transport:     transport,
		newNegotiator: factory,
		state:         StateIdle,
		queuePosition: -1,
	}
}

// OnTransition registers an observer invoked after every state change. The
// callback runs with the orchestrator lock held and must not call back in.
func (o *Orchestrator) OnTransition(fn func(from, to State)) {
	o.mu.Lock()
	o.onTransition = fn
	o.mu.Unlock()
}

// State returns the current state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// StoppedByUser reports whether automatic re-entry is suppressed.
func (o *Orchestrator) StoppedByUser() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stoppedByUser
}

// PairingID returns the active pairing ID, or "" outside a pairing.
func (o *Orchestrator) PairingID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.pairingID
}

// PeerProfile returns the current partner's display profile.
func (o *Orchestrator) PeerProfile() match.Profile {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.peerProfile
}

// QueuePosition returns the last reported queue position, or -1.
func (o *Orchestrator) QueuePosition() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.queuePosition
}

// ---------------------------------------------------------------------------
// User actions
// ---------------------------------------------------------------------------

// Start requests a partner with the given criteria. Only valid from Idle.
func (o *Orchestrator) Start(userID string, criteria protocol.JoinCriteria) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state != StateIdle {
		return fmt.Errorf("orchestrator: cannot start from %s", o.state)
	}

	o.userID = userID
	o.criteria = criteria
	o.stoppedByUser = false

	if err := o.transport.JoinQueue(userID, criteria); err != nil {
		return fmt.Errorf("orchestrator: join queue: %w", err)
	}
	o.setState(StateSearching)
	return nil
}

// Next ends the current session and immediately searches again. Only valid
// while paired (Matched, Negotiating, or Live).
func (o *Orchestrator) Next() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch o.state {
	case StateMatched, StateNegotiating, StateLive:
		o.stoppedByUser = false
		o.enterEnding()
		return nil
	}
	return fmt.Errorf("orchestrator: next is invalid from %s", o.state)
}

// Stop cancels whatever is in progress and suppresses automatic re-entry.
// It is safe to call in any state.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.stoppedByUser = true

	switch o.state {
	case StateSearching, StateWaiting:
		if err := o.transport.LeaveQueue(); err != nil {
			log.Printf("[orchestrator] leave queue: %v", err)
		}
		o.queuePosition = -1
		o.setState(StateIdle)
	case StateMatched, StateNegotiating, StateLive:
		o.enterEnding()
	}
}

// Report reports the current partner and ends the session. The automatic
// re-entry decision follows the stopped-by-user flag like every other
// teardown.
func (o *Orchestrator) Report(reason string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch o.state {
	case StateMatched, StateNegotiating, StateLive:
	default:
		return fmt.Errorf("orchestrator: report is invalid from %s", o.state)
	}

	if err := o.transport.ReportPeer(reason); err != nil {
		log.Printf("[orchestrator] report: %v", err)
	}
	o.enterEnding()
	return nil
}

// ---------------------------------------------------------------------------
// Server events (fed by the transport's read loop)
// ---------------------------------------------------------------------------

// HandleWaiting processes the waiting event: enqueued without an immediate
// match.
func (o *Orchestrator) HandleWaiting(msg protocol.WaitingMsg) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state != StateSearching {
		return
	}
	o.queuePosition = msg.QueuePosition
	o.setState(StateWaiting)
}

// HandleMatched processes the matched event. It records the peer, decides
// the offer initiator, acknowledges the pairing, and starts negotiating.
func (o *Orchestrator) HandleMatched(msg protocol.MatchedMsg) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state != StateSearching && o.state != StateWaiting {
		log.Printf("[orchestrator] matched event dropped in state %s", o.state)
		return
	}

	o.pairingID = msg.PairingID
	o.peerHandle = msg.PartnerHandle
	o.peerProfile = msg.Partner
	o.initiator = InitiatesOffer(o.selfHandle, msg.PartnerHandle)
	o.queuePosition = -1
	o.setState(StateMatched)

	o.negotiator = o.newNegotiator(o.emitCandidate)

	// Entering Negotiating acknowledges the pairing.
	o.setState(StateNegotiating)
	if err := o.transport.AckPairing(o.pairingID); err != nil {
		log.Printf("[orchestrator] ack pairing: %v", err)
	}

	if !o.initiator {
		return // wait for the incoming offer
	}

	ctx, cancel := context.WithTimeout(context.Background(), negotiateTimeout)
	defer cancel()

	offer, err := o.negotiator.CreateOffer(ctx)
	if err != nil {
		log.Printf("[orchestrator] create offer: %v", err)
		o.failLocal()
		return
	}
	o.sendSignal(protocol.SignalOffer, offer)
}

// HandleSignal routes a relayed negotiation payload to the matching local
// step. Signals for an unknown pairing or an inapplicable state are dropped;
// candidates keep flowing after Live since connectivity can trickle in.
func (o *Orchestrator) HandleSignal(msg protocol.ServerRelayMsg) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if msg.PairingID != o.pairingID || msg.FromHandle != o.peerHandle {
		log.Printf("[orchestrator] stale signal kind=%s pairing=%s", msg.Signal.Kind, msg.PairingID)
		return
	}

	switch msg.Signal.Kind {
	case protocol.SignalOffer:
		if o.state != StateNegotiating || o.initiator {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), negotiateTimeout)
		defer cancel()

		answer, err := o.negotiator.HandleOffer(ctx, msg.Signal.Body)
		if err != nil {
			log.Printf("[orchestrator] handle offer: %v", err)
			o.failLocal()
			return
		}
		o.sendSignal(protocol.SignalAnswer, answer)
		o.setState(StateLive)

	case protocol.SignalAnswer:
		if o.state != StateNegotiating || !o.initiator {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), negotiateTimeout)
		defer cancel()

		if err := o.negotiator.HandleAnswer(ctx, msg.Signal.Body); err != nil {
			log.Printf("[orchestrator] handle answer: %v", err)
			o.failLocal()
			return
		}
		o.setState(StateLive)

	case protocol.SignalCandidate:
		if o.state != StateNegotiating && o.state != StateLive {
			return
		}
		if err := o.negotiator.AddCandidate(msg.Signal.Body); err != nil {
			log.Printf("[orchestrator] add candidate: %v", err)
		}

	default:
		log.Printf("[orchestrator] unknown signal kind %q", msg.Signal.Kind)
	}
}

// HandlePeerGone processes the peer-gone event: the partner disconnected or
// ended the pairing.
func (o *Orchestrator) HandlePeerGone() {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch o.state {
	case StateMatched, StateNegotiating, StateLive:
		o.enterEnding()
	}
}

// HandleNoMatchTimeout processes the no-match-timeout event: stop waiting
// and return to Idle rather than silently retrying.
func (o *Orchestrator) HandleNoMatchTimeout() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state != StateWaiting && o.state != StateSearching {
		return
	}
	o.queuePosition = -1
	o.setState(StateIdle)
}

// ---------------------------------------------------------------------------
// Internals. All helpers require o.mu to be held.
// ---------------------------------------------------------------------------

// enterEnding runs the guaranteed teardown: notify the server, release local
// negotiation resources, then either re-enter the queue or go idle. Every
// path out of a pairing funnels through here.
func (o *Orchestrator) enterEnding() {
	o.setState(StateEnding)

	if err := o.transport.EndPairing(); err != nil {
		log.Printf("[orchestrator] end pairing: %v", err)
	}
	if o.negotiator != nil {
		if err := o.negotiator.Close(); err != nil {
			log.Printf("[orchestrator] close negotiator: %v", err)
		}
		o.negotiator = nil
	}
	o.pairingID = ""
	o.peerHandle = ""
	o.peerProfile = match.Profile{}
	o.initiator = false

	if o.stoppedByUser {
		o.setState(StateIdle)
		return
	}

	// Automatic re-entry with the same criteria.
	if err := o.transport.JoinQueue(o.userID, o.criteria); err != nil {
		log.Printf("[orchestrator] re-join queue: %v", err)
		o.setState(StateIdle)
		return
	}
	o.setState(StateSearching)
}

// failLocal handles a local negotiation failure: surface it and tear down.
func (o *Orchestrator) failLocal() {
	log.Printf("[orchestrator] negotiation failed for pairing=%s", o.pairingID)
	o.enterEnding()
}

// sendSignal relays one negotiation payload to the peer. Relay failures are
// logged, not escalated; the relay contract is best-effort.
func (o *Orchestrator) sendSignal(kind string, body json.RawMessage) {
	sig := protocol.Signal{Kind: kind, Body: body}
	if err := o.transport.SendSignal(o.pairingID, o.peerHandle, sig); err != nil {
		log.Printf("[orchestrator] send %s: %v", kind, err)
	}
}

// emitCandidate forwards a locally gathered candidate to the peer. Called by
// the negotiator; candidates arriving outside an active pairing are dropped.
func (o *Orchestrator) emitCandidate(candidate json.RawMessage) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state != StateNegotiating && o.state != StateLive {
		return
	}
	o.sendSignal(protocol.SignalCandidate, candidate)
}

func (o *Orchestrator) setState(next State) {
	prev := o.state
	if prev == next {
		return
	}
	o.state = next
	if o.onTransition != nil {
		o.onTransition(prev, next)
	}
}

// Package hub wires the server-side pairing events together. It owns the
// waiting pool and the pairing registry, processes each incoming event
// (join, leave, end, relay, disconnect) to completion under one lock, and
// emits participant-addressed frames through the notifier. The single-writer
// discipline is what keeps a handle from ever being matched twice or left in
// both the pool and the registry at once.
package hub

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/glimpse/video-chat/internal/match"
	"github.com/glimpse/video-chat/internal/metrics"
	"github.com/glimpse/video-chat/internal/pairing"
	"github.com/glimpse/video-chat/internal/protocol"
	"github.com/glimpse/video-chat/internal/relay"
	"github.com/glimpse/video-chat/internal/session"
)

// ErrAlreadyPaired is returned by Join when the handle already has an active
// pairing; a participant must end it before searching again.
var ErrAlreadyPaired = errors.New("hub: handle already paired")

// Notifier delivers already-encoded frames to a participant, wherever their
// socket is attached. Notify carries lifecycle events; Signal carries
// relayed negotiation payloads.
type Notifier interface {
	Notify(handle string, data []byte) error
	Signal(handle string, data []byte) error
}

// Reporter persists abuse reports. It is optional; a nil Reporter makes the
// report event teardown-only.
type Reporter interface {
	Create(ctx context.Context, reporter, reported, pairingID, reason string) error
}

// Config holds hub tunables.
type Config struct {
	WaitTimeout time.Duration // how long a participant may wait before a no-match notice
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{WaitTimeout: 30 * time.Second}
}

// Hub owns the shared pairing state.
type Hub struct {
	mu       sync.Mutex
	config   Config
	pool     *match.Pool
	registry *pairing.Registry
	relay    *relay.Relay
	notifier Notifier
	sessions *session.Store // optional, nil in unit tests
	reporter Reporter       // optional
	timers   map[string]*time.Timer
}

// New creates a Hub. The liveness source backs the relay's target check;
// sessions and reporter may be nil.
func New(config Config, notifier Notifier, liveness relay.Liveness, sessions *session.Store, reporter Reporter) *Hub {
	h := &Hub{
		config:   config,
		pool:     match.NewPool(),
		registry: pairing.NewRegistry(),
		notifier: notifier,
		sessions: sessions,
		reporter: reporter,
		timers:   make(map[string]*time.Timer),
	}
	h.relay = relay.New(h.registry, liveness, signalDeliverer{notifier})
	return h
}

// Registry exposes the pairing registry for read-side consumers (report
// handling, diagnostics).
func (h *Hub) Registry() *pairing.Registry {
	return h.registry
}

// Join handles a join-queue event: pair the participant with the oldest
// compatible waiting entry, or enqueue them. The caller learns the outcome
// through the frames emitted to the participants involved; the returned
// error covers only rejected joins (already queued, already paired).
func (h *Hub) Join(ctx context.Context, p match.Participant) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.registry.ByHandle(p.Handle) != nil {
		return ErrAlreadyPaired
	}
	if h.pool.Contains(p.Handle) {
		return match.ErrAlreadyQueued
	}

	p.JoinedAt = time.Now()

	peer := h.pool.FindMatch(p)
	if peer == nil {
		if err := h.pool.Enqueue(p); err != nil {
			return err
		}
		h.startWaitTimer(p.Handle)
		h.updateStatus(ctx, p.Handle, session.StatusWaiting)
		metrics.WaitingPoolSize.Set(float64(h.pool.Len()))

		h.notify(p.Handle, protocol.TypeWaiting, protocol.WaitingMsg{
			Message:       "waiting for a partner",
			QueuePosition: h.pool.Position(p.Handle),
		})
		log.Printf("[hub] enqueued handle=%s (pool size: %d)", p.Handle, h.pool.Len())
		return nil
	}

	// FindMatch removed the peer from the pool; creating the pairing in the
	// same locked section makes dequeue-both-and-create atomic.
	h.stopWaitTimer(peer.Handle)

	id, err := h.registry.Create(p.Handle, peer.Handle)
	if err != nil {
		// Cannot happen while the invariant holds; put the peer back rather
		// than losing them.
		_ = h.pool.Enqueue(*peer)
		return err
	}

	h.setPairing(ctx, p.Handle, id)
	h.setPairing(ctx, peer.Handle, id)
	metrics.WaitingPoolSize.Set(float64(h.pool.Len()))
	metrics.ActivePairings.Set(float64(h.registry.Len()))
	metrics.MatchDuration.Observe(time.Since(peer.JoinedAt).Seconds())

	h.notify(p.Handle, protocol.TypeMatched, protocol.MatchedMsg{
		PairingID:     id,
		Partner:       peer.Profile,
		PartnerHandle: peer.Handle,
		SelfHandle:    p.Handle,
	})
	h.notify(peer.Handle, protocol.TypeMatched, protocol.MatchedMsg{
		PairingID:     id,
		Partner:       p.Profile,
		PartnerHandle: p.Handle,
		SelfHandle:    peer.Handle,
	})

	log.Printf("[hub] paired %s <-> %s pairing=%s", p.Handle, peer.Handle, id)
	return nil
}

// Leave handles a leave-queue event. Leaving when not queued is a no-op.
func (h *Hub) Leave(ctx context.Context, handle string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(ctx, handle)
}

// End handles an end-pairing event: remove the pairing and tell the peer.
// Ending an already-absent pairing is a no-op, so both sides racing to tear
// down is harmless.
func (h *Hub) End(ctx context.Context, handle string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.endLocked(ctx, handle)
}

// Disconnect handles a transport-level disconnect. The handle may be in the
// pool or in the registry (never both); both are cleared defensively.
func (h *Hub) Disconnect(ctx context.Context, handle string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.leaveLocked(ctx, handle)
	h.endLocked(ctx, handle)
	log.Printf("[hub] disconnect cleanup for handle=%s", handle)
}

// RelaySignal forwards one negotiation payload. Failures are returned so the
// transport layer can report them to the sender; they never mutate pairing
// state.
func (h *Hub) RelaySignal(ctx context.Context, sender string, msg protocol.RelayMsg) error {
	err := h.relay.Forward(ctx, sender, msg)
	switch {
	case err == nil:
		metrics.RelaysTotal.WithLabelValues("delivered").Inc()
	case errors.Is(err, relay.ErrNotPaired):
		metrics.RelaysTotal.WithLabelValues("not_paired").Inc()
	case errors.Is(err, relay.ErrPeerMismatch):
		metrics.RelaysTotal.WithLabelValues("peer_mismatch").Inc()
	case errors.Is(err, relay.ErrTargetGone):
		metrics.RelaysTotal.WithLabelValues("target_gone").Inc()
	default:
		metrics.RelaysTotal.WithLabelValues("error").Inc()
	}
	return err
}

// Ack handles a pair_ack event: the participant has started negotiating.
// An ack for a pairing the handle is not part of is dropped.
func (h *Hub) Ack(ctx context.Context, handle string, pairingID string) {
	p := h.registry.Get(pairingID)
	if p == nil || !p.Has(handle) {
		log.Printf("[hub] stale pair_ack handle=%s pairing=%s", handle, pairingID)
		return
	}
	h.updateStatus(ctx, handle, session.StatusPaired)
}

// Report handles a report event: persist the report against the current
// partner, then tear the pairing down exactly like End.
func (h *Hub) Report(ctx context.Context, handle string, reason string) {
	h.mu.Lock()
	p := h.registry.ByHandle(handle)
	h.mu.Unlock()

	if p != nil && h.reporter != nil {
		if err := h.reporter.Create(ctx, handle, p.Peer(handle), p.ID, reason); err != nil {
			log.Printf("[hub] persist report from %s: %v", handle, err)
		}
	}

	h.End(ctx, handle)
}

// ---------------------------------------------------------------------------
// Internals. All *Locked helpers require h.mu to be held.
// ---------------------------------------------------------------------------

func (h *Hub) leaveLocked(ctx context.Context, handle string) {
	h.stopWaitTimer(handle)
	if h.pool.Dequeue(handle) {
		h.updateStatus(ctx, handle, session.StatusIdle)
		metrics.WaitingPoolSize.Set(float64(h.pool.Len()))
		log.Printf("[hub] dequeued handle=%s", handle)
	}
}

func (h *Hub) endLocked(ctx context.Context, handle string) {
	peer, ok := h.registry.EndByHandle(handle)
	if !ok {
		return
	}

	h.clearPairing(ctx, handle)
	h.clearPairing(ctx, peer)
	metrics.ActivePairings.Set(float64(h.registry.Len()))

	h.notify(peer, protocol.TypePeerGone, protocol.PeerGoneMsg{})
	log.Printf("[hub] pairing ended by %s, notified peer=%s", handle, peer)
}

// startWaitTimer arms the no-match timer for a freshly enqueued handle.
func (h *Hub) startWaitTimer(handle string) {
	if h.config.WaitTimeout <= 0 {
		return
	}
	h.timers[handle] = time.AfterFunc(h.config.WaitTimeout, func() {
		h.waitTimedOut(handle)
	})
}

// stopWaitTimer cancels and forgets the handle's timer, if any.
func (h *Hub) stopWaitTimer(handle string) {
	if t, ok := h.timers[handle]; ok {
		t.Stop()
		delete(h.timers, handle)
	}
}

// waitTimedOut fires when a participant waited past the threshold. The
// participant may have been matched or left in the meantime; only a handle
// still in the pool gets the notice.
func (h *Hub) waitTimedOut(handle string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.timers, handle)
	if !h.pool.Dequeue(handle) {
		return
	}

	h.updateStatus(context.Background(), handle, session.StatusIdle)
	metrics.WaitingPoolSize.Set(float64(h.pool.Len()))
	metrics.TimeoutsTotal.Inc()

	h.notify(handle, protocol.TypeNoMatchTimeout, protocol.NoMatchTimeoutMsg{
		Message: "no compatible partner found",
	})
	log.Printf("[hub] no-match timeout for handle=%s", handle)
}

// notify encodes a lifecycle event and publishes it to the handle. Delivery
// failures are logged; lifecycle events are best-effort like everything else
// crossing the transport.
func (h *Hub) notify(handle string, msgType string, payload interface{}) {
	data, err := protocol.NewServerMessage(msgType, payload)
	if err != nil {
		log.Printf("[hub] build %s for %s: %v", msgType, handle, err)
		return
	}
	if err := h.notifier.Notify(handle, data); err != nil {
		log.Printf("[hub] notify %s handle=%s: %v", msgType, handle, err)
	}
}

func (h *Hub) updateStatus(ctx context.Context, handle string, status string) {
	if h.sessions == nil {
		return
	}
	if err := h.sessions.UpdateStatus(ctx, handle, status); err != nil {
		log.Printf("[hub] session status handle=%s: %v", handle, err)
	}
}

func (h *Hub) setPairing(ctx context.Context, handle string, pairingID string) {
	if h.sessions == nil {
		return
	}
	if err := h.sessions.SetPairing(ctx, handle, pairingID); err != nil {
		log.Printf("[hub] session pairing handle=%s: %v", handle, err)
	}
}

func (h *Hub) clearPairing(ctx context.Context, handle string) {
	if h.sessions == nil {
		return
	}
	if err := h.sessions.ClearPairing(ctx, handle); err != nil {
		log.Printf("[hub] session clear handle=%s: %v", handle, err)
	}
}

// signalDeliverer adapts the notifier's signaling channel to the relay's
// delivery interface.
type signalDeliverer struct {
	n Notifier
}

func (d signalDeliverer) Deliver(handle string, data []byte) error {
	return d.n.Signal(handle, data)
}

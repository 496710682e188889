package hub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/glimpse/video-chat/internal/match"
	"github.com/glimpse/video-chat/internal/pairing"
	"github.com/glimpse/video-chat/internal/protocol"
	"github.com/glimpse/video-chat/internal/relay"
)

// recordingNotifier captures every frame per handle, keeping lifecycle and
// signaling frames in one ordered stream per recipient.
type recordingNotifier struct {
	mu     sync.Mutex
	frames map[string][]json.RawMessage
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{frames: make(map[string][]json.RawMessage)}
}

func (n *recordingNotifier) Notify(handle string, data []byte) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.frames[handle] = append(n.frames[handle], json.RawMessage(data))
	return nil
}

func (n *recordingNotifier) Signal(handle string, data []byte) error {
	return n.Notify(handle, data)
}

// types returns the message types delivered to a handle, in order.
func (n *recordingNotifier) types(handle string) []string {
	n.mu.Lock()
	defer n.mu.Unlock()

	var out []string
	for _, frame := range n.frames[handle] {
		var env struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(frame, &env); err == nil {
			out = append(out, env.Type)
		}
	}
	return out
}

// last decodes the most recent frame delivered to a handle into v.
func (n *recordingNotifier) last(t *testing.T, handle string, v interface{}) {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()

	frames := n.frames[handle]
	if len(frames) == 0 {
		t.Fatalf("no frames delivered to %s", handle)
	}
	if err := json.Unmarshal(frames[len(frames)-1], v); err != nil {
		t.Fatalf("decode last frame for %s: %v", handle, err)
	}
}

// waitForType polls until the handle has received a frame of the given type.
func (n *recordingNotifier) waitForType(t *testing.T, handle, msgType string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		for _, got := range n.types(handle) {
			if got == msgType {
				return
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s frame to %s; got %v", msgType, handle, n.types(handle))
}

// alwaysAlive satisfies the relay's liveness check unconditionally.
type alwaysAlive struct{}

func (alwaysAlive) Alive(ctx context.Context, handle string) (bool, error) { return true, nil }

// recordingReporter captures persisted reports.
type recordingReporter struct {
	mu      sync.Mutex
	reports []struct{ reporter, reported, pairingID, reason string }
}

func (r *recordingReporter) Create(ctx context.Context, reporter, reported, pairingID, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, struct{ reporter, reported, pairingID, reason string }{
		reporter, reported, pairingID, reason,
	})
	return nil
}

func newTestHub(notifier *recordingNotifier) *Hub {
	return New(Config{WaitTimeout: 0}, notifier, alwaysAlive{}, nil, nil)
}

func participant(handle string) match.Participant {
	return match.Participant{
		Handle:   handle,
		Profile:  match.Profile{DisplayName: handle, Age: 25},
		Criteria: match.Criteria{Gender: match.GenderAny, Country: match.CountryAny, AgeMin: 18, AgeMax: 99},
	}
}

func TestJoin_FirstParticipantWaits(t *testing.T) {
	notifier := newRecordingNotifier()
	h := newTestHub(notifier)
	ctx := context.Background()

	if err := h.Join(ctx, participant("alice")); err != nil {
		t.Fatalf("join: %v", err)
	}

	var waiting protocol.WaitingMsg
	notifier.last(t, "alice", &waiting)
	if waiting.Type != protocol.TypeWaiting {
		t.Errorf("expected waiting frame, got %s", waiting.Type)
	}
	if waiting.QueuePosition != 0 {
		t.Errorf("expected queue position 0, got %d", waiting.QueuePosition)
	}
}

func TestJoin_CompatiblePairMatchesImmediately(t *testing.T) {
	notifier := newRecordingNotifier()
	h := newTestHub(notifier)
	ctx := context.Background()

	if err := h.Join(ctx, participant("alice")); err != nil {
		t.Fatalf("join alice: %v", err)
	}
	if err := h.Join(ctx, participant("bob")); err != nil {
		t.Fatalf("join bob: %v", err)
	}

	var aliceMatched, bobMatched protocol.MatchedMsg
	notifier.last(t, "alice", &aliceMatched)
	notifier.last(t, "bob", &bobMatched)

	if aliceMatched.Type != protocol.TypeMatched || bobMatched.Type != protocol.TypeMatched {
		t.Fatalf("expected matched frames, got %s / %s", aliceMatched.Type, bobMatched.Type)
	}
	if aliceMatched.PairingID != bobMatched.PairingID {
		t.Error("both sides must see the same pairing ID")
	}
	if aliceMatched.PairingID != pairing.ID("alice", "bob") {
		t.Errorf("expected deterministic pairing ID, got %s", aliceMatched.PairingID)
	}
	if aliceMatched.PartnerHandle != "bob" || bobMatched.PartnerHandle != "alice" {
		t.Error("partner handles are crossed or missing")
	}
	if aliceMatched.Partner.DisplayName != "bob" {
		t.Errorf("expected bob's profile for alice, got %s", aliceMatched.Partner.DisplayName)
	}

	// Neither participant may remain in the pool once paired.
	if h.pool.Contains("alice") || h.pool.Contains("bob") {
		t.Error("paired participants must not remain in the waiting pool")
	}
	if h.registry.ByHandle("alice") == nil || h.registry.ByHandle("bob") == nil {
		t.Error("both participants must be in the registry")
	}
}

func TestJoin_IncompatibleParticipantsBothWait(t *testing.T) {
	notifier := newRecordingNotifier()
	h := newTestHub(notifier)
	ctx := context.Background()

	alice := participant("alice")
	alice.Profile.Gender = "female"
	alice.Criteria.Gender = "female"

	bob := participant("bob")
	bob.Profile.Gender = "male"

	if err := h.Join(ctx, alice); err != nil {
		t.Fatalf("join alice: %v", err)
	}
	if err := h.Join(ctx, bob); err != nil {
		t.Fatalf("join bob: %v", err)
	}

	if !h.pool.Contains("alice") || !h.pool.Contains("bob") {
		t.Error("incompatible participants must both stay in the pool")
	}
	if h.registry.Len() != 0 {
		t.Error("no pairing should exist between incompatible participants")
	}
}

func TestJoin_RejectsDoubleJoin(t *testing.T) {
	notifier := newRecordingNotifier()
	h := newTestHub(notifier)
	ctx := context.Background()

	if err := h.Join(ctx, participant("alice")); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := h.Join(ctx, participant("alice")); !errors.Is(err, match.ErrAlreadyQueued) {
		t.Errorf("expected ErrAlreadyQueued, got %v", err)
	}

	// Pair alice up, then a third join attempt must fail differently.
	if err := h.Join(ctx, participant("bob")); err != nil {
		t.Fatalf("join bob: %v", err)
	}
	if err := h.Join(ctx, participant("alice")); !errors.Is(err, ErrAlreadyPaired) {
		t.Errorf("expected ErrAlreadyPaired, got %v", err)
	}
}

func TestEnd_NotifiesPeerAndIsIdempotent(t *testing.T) {
	notifier := newRecordingNotifier()
	h := newTestHub(notifier)
	ctx := context.Background()

	if err := h.Join(ctx, participant("alice")); err != nil {
		t.Fatalf("join alice: %v", err)
	}
	if err := h.Join(ctx, participant("bob")); err != nil {
		t.Fatalf("join bob: %v", err)
	}

	h.End(ctx, "alice")

	var gone protocol.PeerGoneMsg
	notifier.last(t, "bob", &gone)
	if gone.Type != protocol.TypePeerGone {
		t.Errorf("expected peer_gone frame for bob, got %s", gone.Type)
	}
	if h.registry.Len() != 0 {
		t.Error("pairing must be removed")
	}

	// Bob racing to end the already-ended pairing must be harmless and
	// must not echo another peer_gone at alice.
	before := len(notifier.types("alice"))
	h.End(ctx, "bob")
	if len(notifier.types("alice")) != before {
		t.Error("ending an absent pairing must not notify anyone")
	}

	// Both are free to pair again.
	if err := h.Join(ctx, participant("alice")); err != nil {
		t.Errorf("alice should be able to rejoin: %v", err)
	}
	if err := h.Join(ctx, participant("bob")); err != nil {
		t.Errorf("bob should be able to rejoin: %v", err)
	}
}

func TestDisconnect_ClearsPoolAndRegistry(t *testing.T) {
	notifier := newRecordingNotifier()
	h := newTestHub(notifier)
	ctx := context.Background()

	// Waiting participant disconnects: silently dequeued.
	if err := h.Join(ctx, participant("alice")); err != nil {
		t.Fatalf("join: %v", err)
	}
	h.Disconnect(ctx, "alice")
	if h.pool.Contains("alice") {
		t.Error("disconnected participant must leave the pool")
	}

	// Paired participant disconnects: peer hears peer_gone.
	if err := h.Join(ctx, participant("carol")); err != nil {
		t.Fatalf("join carol: %v", err)
	}
	if err := h.Join(ctx, participant("dave")); err != nil {
		t.Fatalf("join dave: %v", err)
	}
	h.Disconnect(ctx, "carol")

	var gone protocol.PeerGoneMsg
	notifier.last(t, "dave", &gone)
	if gone.Type != protocol.TypePeerGone {
		t.Errorf("expected peer_gone for dave, got %s", gone.Type)
	}
	if h.registry.Len() != 0 {
		t.Error("disconnect must tear the pairing down")
	}

	// Disconnecting an unknown handle is a no-op.
	h.Disconnect(ctx, "ghost")
}

func TestRelaySignal_EndToEnd(t *testing.T) {
	notifier := newRecordingNotifier()
	h := newTestHub(notifier)
	ctx := context.Background()

	if err := h.Join(ctx, participant("alice")); err != nil {
		t.Fatalf("join alice: %v", err)
	}
	if err := h.Join(ctx, participant("bob")); err != nil {
		t.Fatalf("join bob: %v", err)
	}
	id := h.registry.ByHandle("alice").ID

	msg := protocol.RelayMsg{
		Type:         protocol.TypeRelay,
		PairingID:    id,
		TargetHandle: "bob",
		Signal:       protocol.Signal{Kind: protocol.SignalOffer, Body: json.RawMessage(`{"sdp":"v=0"}`)},
	}
	if err := h.RelaySignal(ctx, "alice", msg); err != nil {
		t.Fatalf("relay: %v", err)
	}

	var relayed protocol.ServerRelayMsg
	notifier.last(t, "bob", &relayed)
	if relayed.Type != protocol.TypeRelay || relayed.FromHandle != "alice" {
		t.Errorf("unexpected relayed frame: %+v", relayed)
	}

	// Relay to a wrong target is rejected without touching state.
	msg.TargetHandle = "carol"
	if err := h.RelaySignal(ctx, "alice", msg); !errors.Is(err, relay.ErrPeerMismatch) {
		t.Errorf("expected ErrPeerMismatch, got %v", err)
	}

	// Unpaired sender.
	if err := h.RelaySignal(ctx, "ghost", msg); !errors.Is(err, relay.ErrNotPaired) {
		t.Errorf("expected ErrNotPaired, got %v", err)
	}
}

func TestLeave_StopsTimerAndIsIdempotent(t *testing.T) {
	notifier := newRecordingNotifier()
	h := New(Config{WaitTimeout: 50 * time.Millisecond}, notifier, alwaysAlive{}, nil, nil)
	ctx := context.Background()

	if err := h.Join(ctx, participant("alice")); err != nil {
		t.Fatalf("join: %v", err)
	}
	h.Leave(ctx, "alice")
	h.Leave(ctx, "alice") // second leave is a no-op

	// The timeout window passes without a no_match_timeout frame: the leave
	// cancelled the timer and dequeued alice.
	time.Sleep(120 * time.Millisecond)
	for _, typ := range notifier.types("alice") {
		if typ == protocol.TypeNoMatchTimeout {
			t.Error("left participant must not receive a no-match timeout")
		}
	}
}

func TestWaitTimeout_NotifiesAndDequeues(t *testing.T) {
	notifier := newRecordingNotifier()
	h := New(Config{WaitTimeout: 30 * time.Millisecond}, notifier, alwaysAlive{}, nil, nil)
	ctx := context.Background()

	if err := h.Join(ctx, participant("alice")); err != nil {
		t.Fatalf("join: %v", err)
	}

	notifier.waitForType(t, "alice", protocol.TypeNoMatchTimeout, time.Second)

	if h.pool.Contains("alice") {
		t.Error("timed-out participant must leave the pool")
	}

	// A timed-out participant can immediately search again.
	if err := h.Join(ctx, participant("alice")); err != nil {
		t.Errorf("rejoin after timeout: %v", err)
	}
}

func TestWaitTimeout_DoesNotFireAfterMatch(t *testing.T) {
	notifier := newRecordingNotifier()
	h := New(Config{WaitTimeout: 40 * time.Millisecond}, notifier, alwaysAlive{}, nil, nil)
	ctx := context.Background()

	if err := h.Join(ctx, participant("alice")); err != nil {
		t.Fatalf("join alice: %v", err)
	}
	if err := h.Join(ctx, participant("bob")); err != nil {
		t.Fatalf("join bob: %v", err)
	}

	time.Sleep(100 * time.Millisecond)
	for _, typ := range notifier.types("alice") {
		if typ == protocol.TypeNoMatchTimeout {
			t.Error("matched participant must not receive a no-match timeout")
		}
	}
}

func TestReport_PersistsAndEndsPairing(t *testing.T) {
	notifier := newRecordingNotifier()
	reporter := &recordingReporter{}
	h := New(Config{WaitTimeout: 0}, notifier, alwaysAlive{}, nil, reporter)
	ctx := context.Background()

	if err := h.Join(ctx, participant("alice")); err != nil {
		t.Fatalf("join alice: %v", err)
	}
	if err := h.Join(ctx, participant("bob")); err != nil {
		t.Fatalf("join bob: %v", err)
	}
	id := h.registry.ByHandle("alice").ID

	h.Report(ctx, "alice", "spam")

	reporter.mu.Lock()
	defer reporter.mu.Unlock()
	if len(reporter.reports) != 1 {
		t.Fatalf("expected one persisted report, got %d", len(reporter.reports))
	}
	r := reporter.reports[0]
	if r.reporter != "alice" || r.reported != "bob" || r.pairingID != id || r.reason != "spam" {
		t.Errorf("unexpected report record: %+v", r)
	}

	if h.registry.Len() != 0 {
		t.Error("report must tear the pairing down")
	}
	var gone protocol.PeerGoneMsg
	notifier.last(t, "bob", &gone)
	if gone.Type != protocol.TypePeerGone {
		t.Errorf("expected peer_gone for the reported peer, got %s", gone.Type)
	}
}

func TestReport_WithoutPairingIsTeardownOnly(t *testing.T) {
	notifier := newRecordingNotifier()
	reporter := &recordingReporter{}
	h := New(Config{WaitTimeout: 0}, notifier, alwaysAlive{}, nil, reporter)

	h.Report(context.Background(), "alice", "spam")

	reporter.mu.Lock()
	defer reporter.mu.Unlock()
	if len(reporter.reports) != 0 {
		t.Errorf("a report without a pairing must not be persisted, got %d", len(reporter.reports))
	}
}

func TestInvariant_NeverInPoolAndRegistry(t *testing.T) {
	notifier := newRecordingNotifier()
	h := newTestHub(notifier)
	ctx := context.Background()

	handles := []string{"a", "b", "c", "d", "e"}
	for _, handle := range handles {
		if err := h.Join(ctx, participant(handle)); err != nil {
			t.Fatalf("join %s: %v", handle, err)
		}
	}

	for _, handle := range handles {
		inPool := h.pool.Contains(handle)
		inRegistry := h.registry.ByHandle(handle) != nil
		if inPool && inRegistry {
			t.Errorf("handle %s is in both the pool and the registry", handle)
		}
	}

	// With wildcard criteria, five joiners become two pairings and one
	// waiting participant.
	if h.registry.Len() != 2 {
		t.Errorf("expected 2 pairings, got %d", h.registry.Len())
	}
	if h.pool.Len() != 1 {
		t.Errorf("expected 1 waiting participant, got %d", h.pool.Len())
	}
}

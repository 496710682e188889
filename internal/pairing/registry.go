package pairing

import (
	"errors"
	"sync"
	"time"
)

// ErrDuplicatePairing is returned by Create when either handle already
// belongs to an active pairing.
var ErrDuplicatePairing = errors.New("pairing: handle already paired")

// Pairing is one active association between two participants.
type Pairing struct {
	ID           string
	ParticipantA string
	ParticipantB string
	CreatedAt    time.Time
}

// Peer returns the other participant's handle, or "" if the given handle is
// not part of this pairing.
func (p *Pairing) Peer(handle string) string {
	switch handle {
	case p.ParticipantA:
		return p.ParticipantB
	case p.ParticipantB:
		return p.ParticipantA
	}
	return ""
}

// Has reports whether the handle is one of the pairing's two participants.
func (p *Pairing) Has(handle string) bool {
	return handle == p.ParticipantA || handle == p.ParticipantB
}

// Registry is a goroutine-safe map of active pairings, indexed both by
// pairing ID and by participant handle.
type Registry struct {
	mu       sync.RWMutex
	byID     map[string]*Pairing
	byHandle map[string]*Pairing
}

// NewRegistry creates an empty pairing registry.
func NewRegistry() *Registry {
	return &Registry{
		byID:     make(map[string]*Pairing),
		byHandle: make(map[string]*Pairing),
	}
}

// Create registers a pairing between two distinct handles and returns its
// deterministic ID. It fails with ErrDuplicatePairing if either handle is
// already paired, leaving the registry untouched.
func (r *Registry) Create(a, b string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byHandle[a]; ok {
		return "", ErrDuplicatePairing
	}
	if _, ok := r.byHandle[b]; ok {
		return "", ErrDuplicatePairing
	}

	p := &Pairing{
		ID:           ID(a, b),
		ParticipantA: a,
		ParticipantB: b,
		CreatedAt:    time.Now(),
	}
	r.byID[p.ID] = p
	r.byHandle[a] = p
	r.byHandle[b] = p
	return p.ID, nil
}

// Get returns the pairing for the given ID, or nil if not found.
func (r *Registry) Get(id string) *Pairing {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byID[id]
}

// ByHandle returns the pairing a handle belongs to, or nil if it is not
// currently paired.
func (r *Registry) ByHandle(handle string) *Pairing {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byHandle[handle]
}

// ResolvePeer returns the partner handle for a paired participant. The
// second return value is false if the handle is not paired.
func (r *Registry) ResolvePeer(handle string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.byHandle[handle]
	if !ok {
		return "", false
	}
	return p.Peer(handle), true
}

// End removes the pairing with the given ID and returns it so the caller can
// notify the other side. Ending an absent pairing is a no-op returning nil:
// both sides racing to tear down must not error.
func (r *Registry) End(id string) *Pairing {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.byID[id]
	if !ok {
		return nil
	}
	r.remove(p)
	return p
}

// EndByHandle removes the pairing a handle belongs to, returning the peer
// handle. It is the idempotent teardown path for end-pairing and disconnect
// events; the second return value is false if the handle was not paired.
func (r *Registry) EndByHandle(handle string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.byHandle[handle]
	if !ok {
		return "", false
	}
	r.remove(p)
	return p.Peer(handle), true
}

// Len returns the number of active pairings.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

func (r *Registry) remove(p *Pairing) {
	delete(r.byID, p.ID)
	delete(r.byHandle, p.ParticipantA)
	delete(r.byHandle, p.ParticipantB)
}

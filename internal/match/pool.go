package match

import (
	"container/list"
	"errors"
	"sync"
	"time"
)

// ErrAlreadyQueued is returned by Enqueue when the handle is already waiting.
var ErrAlreadyQueued = errors.New("match: handle already queued")

// Pool is the waiting pool: participants looking for a partner, in insertion
// order. All methods are goroutine-safe; compound operations that span the
// pool and the pairing registry are serialized by the hub.
type Pool struct {
	mu      sync.Mutex
	order   *list.List               // *Participant, oldest at the front
	entries map[string]*list.Element // handle -> element in order
}

// NewPool creates an empty waiting pool.
func NewPool() *Pool {
	return &Pool{
		order:   list.New(),
		entries: make(map[string]*list.Element),
	}
}

// Enqueue inserts a participant at the back of the pool. It fails with
// ErrAlreadyQueued if the handle is already present.
func (p *Pool) Enqueue(participant Participant) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.entries[participant.Handle]; ok {
		return ErrAlreadyQueued
	}
	if participant.JoinedAt.IsZero() {
		participant.JoinedAt = time.Now()
	}
	elem := p.order.PushBack(&participant)
	p.entries[participant.Handle] = elem
	return nil
}

// Dequeue removes the entry for handle. Removing an absent handle is a no-op
// so that "leave" is idempotent; the return value reports whether an entry
// was actually removed.
func (p *Pool) Dequeue(handle string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	elem, ok := p.entries[handle]
	if !ok {
		return false
	}
	p.order.Remove(elem)
	delete(p.entries, handle)
	return true
}

// FindMatch scans the pool oldest-first and removes and returns the first
// entry compatible with the candidate (both ways). It returns nil if no
// compatible entry exists. The candidate itself is never considered, even if
// a stale entry with the same handle is present.
func (p *Pool) FindMatch(candidate Participant) *Participant {
	p.mu.Lock()
	defer p.mu.Unlock()

	for elem := p.order.Front(); elem != nil; elem = elem.Next() {
		entry := elem.Value.(*Participant)
		if entry.Handle == candidate.Handle {
			continue
		}
		if Compatible(candidate, *entry) {
			p.order.Remove(elem)
			delete(p.entries, entry.Handle)
			return entry
		}
	}
	return nil
}

// Contains reports whether the handle is currently waiting.
func (p *Pool) Contains(handle string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.entries[handle]
	return ok
}

// Position returns the number of entries ahead of handle (0 = next in line),
// or -1 if the handle is not in the pool.
func (p *Pool) Position(handle string) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	pos := 0
	for elem := p.order.Front(); elem != nil; elem = elem.Next() {
		entry := elem.Value.(*Participant)
		if entry.Handle == handle {
			return pos
		}
		pos++
	}
	return -1
}

// Len returns the number of waiting participants.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// Package registry tracks the live peer connections of a relay.
//
// Every operation runs under a single mutex. Fan-out iterates a snapshot, never
// the live map, so sends happen without holding the lock.
package registry

import (
	"errors"
	"sort"
	"sync"
)

// ErrDuplicateAddr is returned by Add when the address is already registered.
var ErrDuplicateAddr = errors.New("registry: address already registered")

// Registry maps remote addresses to live entries.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*Entry
	nextSeq uint64
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{entries: make(map[string]*Entry)}
}

// Add registers e under its address.
func (r *Registry) Add(e *Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[e.Addr]; ok {
		return ErrDuplicateAddr
	}
	r.nextSeq++
	e.seq = r.nextSeq
	r.entries[e.Addr] = e
	return nil
}

// Remove unregisters the entry at addr and marks it not alive.
// The connection is left open; closing it is the caller's job.
func (r *Registry) Remove(addr string) (*Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[addr]
	if !ok {
		return nil, false
	}
	delete(r.entries, addr)
	e.alive.Store(false)
	return e, true
}

// RemoveEntries unregisters a batch of entries in one critical section.
// An entry is removed only if it is still the one registered at its address,
// so a peer that reconnected from the same address is never evicted.
// Returns the entries actually removed by this call.
func (r *Registry) RemoveEntries(entries []*Entry) []*Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []*Entry
	for _, e := range entries {
		if cur, ok := r.entries[e.Addr]; ok && cur == e {
			delete(r.entries, e.Addr)
			removed = append(removed, e)
		}
		e.alive.Store(false)
	}
	return removed
}

// Get returns the entry registered at addr.
func (r *Registry) Get(addr string) (*Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[addr]
	return e, ok
}

// SnapshotExcluding returns every entry except the one at addr, ordered by
// registration. The slice is a copy; later mutations do not affect it.
func (r *Registry) SnapshotExcluding(addr string) []*Entry {
	r.mu.Lock()
	out := make([]*Entry, 0, len(r.entries))
	for a, e := range r.entries {
		if a != addr {
			out = append(out, e)
		}
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

// Snapshot returns every entry, ordered by registration.
func (r *Registry) Snapshot() []*Entry {
	return r.SnapshotExcluding("")
}

// Len returns the number of registered entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// IsEmpty reports whether no entries are registered.
func (r *Registry) IsEmpty() bool {
	return r.Len() == 0
}

package transport

import (
	"context"
	"sync"
)

// InFlightRegistry maps thread IDs to the cancel function of the exchange
// currently running on that thread. Safe for concurrent use.
type InFlightRegistry struct {
	mu      sync.Mutex
	entries map[string]*inflightEntry
}

type inflightEntry struct {
	cancel context.CancelFunc
}

// NewInFlightRegistry creates an empty registry.
func NewInFlightRegistry() *InFlightRegistry {
	return &InFlightRegistry{entries: make(map[string]*inflightEntry)}
}

// Register records cancel for id and returns a release function that
// removes this registration. Release never removes a later registration
// for the same id.
func (r *InFlightRegistry) Register(id string, cancel context.CancelFunc) (release func()) {
	e := &inflightEntry{cancel: cancel}
	r.mu.Lock()
	r.entries[id] = e
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.entries[id] == e {
			delete(r.entries, id)
		}
	}
}

// Cancel cancels the exchange registered for id. It reports whether one was
// running.
func (r *InFlightRegistry) Cancel(id string) bool {
	r.mu.Lock()
	e, ok := r.entries[id]
	if ok {
		delete(r.entries, id)
	}
	r.mu.Unlock()

	if ok {
		e.cancel()
	}
	return ok
}

// Len returns the number of registered exchanges.
func (r *InFlightRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

package chat

import (
	"context"
	"sync"

	"golang.org/x/net/html"
)

// Registry tracks the in-flight translation request of each message
// element. There is at most one live entry per element.
type Registry struct {
	mu      sync.Mutex
	next    uint64
	entries map[*html.Node]pendingRequest
}

type pendingRequest struct {
	id     uint64
	cancel context.CancelFunc
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[*html.Node]pendingRequest)}
}

// Register records cancel for el, canceling any previous entry first, and
// returns the new request id.
func (r *Registry) Register(el *html.Node, cancel context.CancelFunc) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.entries[el]; ok {
		prev.cancel()
	}
	r.next++
	r.entries[el] = pendingRequest{id: r.next, cancel: cancel}
	return r.next
}

// Cancel cancels and removes el's entry. It reports whether one existed.
func (r *Registry) Cancel(el *html.Node) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.entries[el]
	if !ok {
		return false
	}
	p.cancel()
	delete(r.entries, el)
	return true
}

// Release removes el's entry only if it still belongs to request id, so a
// superseded request never drops its successor's handle.
func (r *Registry) Release(el *html.Node, id uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.entries[el]
	if !ok || p.id != id {
		return false
	}
	delete(r.entries, el)
	return true
}

// Current returns the id registered for el, or 0.
func (r *Registry) Current(el *html.Node) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entries[el].id
}

// Has reports whether el has a live entry.
func (r *Registry) Has(el *html.Node) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[el]
	return ok
}

// CancelAll cancels and removes every entry and returns how many there were.
func (r *Registry) CancelAll() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.entries)
	for el, p := range r.entries {
		p.cancel()
		delete(r.entries, el)
	}
	return n
}

// Len returns the number of live entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

package upload

import (
	"sync"
	"time"
)

// Registry keeps one batch per browser session.
type Registry struct {
	previews *Previews
	opts     Options

	mu      sync.Mutex
	batches map[string]*Batch
}

// NewRegistry creates batches with opts and previews from previews.
func NewRegistry(previews *Previews, opts Options) *Registry {
	return &Registry{previews: previews, opts: opts, batches: make(map[string]*Batch)}
}

// Previews returns the shared preview registry.
func (r *Registry) Previews() *Previews { return r.previews }

// Batch returns the session's batch bound to deps, creating it if needed.
func (r *Registry) Batch(sessionID string, deps Deps) *Batch {
	r.mu.Lock()
	b, ok := r.batches[sessionID]
	if !ok {
		b = NewBatch(r.previews, deps, r.opts)
		r.batches[sessionID] = b
	}
	r.mu.Unlock()
	if ok {
		b.Bind(deps)
	}
	return b
}

// Close closes and forgets the session's batch.
func (r *Registry) Close(sessionID string) {
	r.mu.Lock()
	b, ok := r.batches[sessionID]
	delete(r.batches, sessionID)
	r.mu.Unlock()
	if ok {
		b.Close()
	}
}

// Sweep closes batches idle for longer than maxIdle and returns how many.
func (r *Registry) Sweep(maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)
	var stale []*Batch
	r.mu.Lock()
	for id, b := range r.batches {
		if b.idleSince().Before(cutoff) {
			stale = append(stale, b)
			delete(r.batches, id)
		}
	}
	r.mu.Unlock()
	for _, b := range stale {
		b.Close()
	}
	return len(stale)
}

// CloseAll closes every batch, used on shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	batches := r.batches
	r.batches = make(map[string]*Batch)
	r.mu.Unlock()
	for _, b := range batches {
		b.Close()
	}
}

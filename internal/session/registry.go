package session

import (
	"sort"
	"sync"

	"whatspro/internal/store"
	"whatspro/internal/wa"
)

// entry pairs a session's in-memory row with its live handle. sendMu
// serializes sends so each account has at most one in-flight send,
// regardless of how many campaigns share the session.
type entry struct {
	mu   sync.Mutex // guards sess
	sess store.Session

	handle wa.Handle
	sendMu sync.Mutex
}

func (e *entry) snapshot() store.Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sess
}

// Registry is the in-process source of truth for live sessions. It is an
// explicit injected object (no package-level state) so tests can run
// isolated registries side by side. No lock spans more than one session's
// state.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

func NewRegistry() *Registry {
	return &Registry{entries: map[string]*entry{}}
}

func (r *Registry) add(id string, e *entry) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[id]; ok {
		return false
	}
	r.entries[id] = e
	return true
}

func (r *Registry) get(id string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	return e, ok
}

func (r *Registry) remove(id string) *entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.entries[id]
	delete(r.entries, id)
	return e
}

func (r *Registry) removeAll() []*entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	r.entries = map[string]*entry{}
	return out
}

// Snapshot returns a copy of the session's current row.
func (r *Registry) Snapshot(id string) (store.Session, bool) {
	e, ok := r.get(id)
	if !ok {
		return store.Session{}, false
	}
	return e.snapshot(), true
}

// List returns copies of all registered sessions ordered by creation time.
func (r *Registry) List() []store.Session {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	out := make([]store.Session, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Ready reports whether the session is registered and in the ready state.
func (r *Registry) Ready(id string) bool {
	s, ok := r.Snapshot(id)
	return ok && s.Status == StatusReady
}

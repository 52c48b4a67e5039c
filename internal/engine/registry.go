package engine

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/webterm-io/engine/internal/protocol"
)

// Info is the registry's listing row for one session.
type Info struct {
	ID       string `json:"id"`
	Kind     Kind   `json:"kind"`
	ServerID uint   `json:"server_id"`
	Status   string `json:"status"`
	Active   bool   `json:"active"`
}

type regEntry struct {
	session Session
	// downSince is stamped by the sweep when it first observes the
	// session Disconnected; zero while live.
	downSince time.Time
}

// Registry maps session IDs to live sessions and tracks which one is
// "active" for the presentation layer. Mutation is last-writer-wins per
// entry.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*regEntry
	active   string
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*regEntry)}
}

// NewID mints an opaque session identifier, unique per connect attempt.
func NewID() string {
	return uuid.NewString()
}

// Register adds a session under its ID and makes it the active one.
func (r *Registry) Register(s Session) {
	r.mu.Lock()
	r.sessions[s.ID()] = &regEntry{session: s}
	r.active = s.ID()
	r.mu.Unlock()
	log.Printf("[registry] registered %s session %s (server %d)", s.Kind(), s.ID(), s.ServerID())
}

// Get looks up a session by ID.
func (r *Registry) Get(id string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[id]
	if !ok {
		return nil, false
	}
	return e.session, true
}

// Disconnect closes a session. Unknown IDs and repeated calls report
// protocol.ErrSessionClosed consistently with post-disconnect operations.
func (r *Registry) Disconnect(id string) error {
	r.mu.Lock()
	e, ok := r.sessions[id]
	if ok && r.active == id {
		r.active = ""
	}
	r.mu.Unlock()
	if !ok {
		return protocol.ErrSessionClosed
	}
	e.session.Close()
	return nil
}

// Remove drops the registry entry without touching the session.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	if r.active == id {
		r.active = ""
	}
	r.mu.Unlock()
}

// SetActive marks the session the UI is focused on.
func (r *Registry) SetActive(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; !ok {
		return false
	}
	r.active = id
	return true
}

// Active returns the focused session, if any.
func (r *Registry) Active() (Session, bool) {
	r.mu.Lock()
	id := r.active
	r.mu.Unlock()
	if id == "" {
		return nil, false
	}
	return r.Get(id)
}

// List snapshots all registered sessions.
func (r *Registry) List() []Info {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Info, 0, len(r.sessions))
	for id, e := range r.sessions {
		out = append(out, Info{
			ID:       id,
			Kind:     e.session.Kind(),
			ServerID: e.session.ServerID(),
			Status:   e.session.Status().String(),
			Active:   id == r.active,
		})
	}
	return out
}

// Sweep removes sessions that have been Disconnected longer than
// retention. The first sweep that sees a session down stamps it; a
// later sweep past the cutoff evicts it. Returns how many were removed.
func (r *Registry) Sweep(retention time.Duration) int {
	now := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, e := range r.sessions {
		if e.session.Status() != StatusDisconnected {
			e.downSince = time.Time{}
			continue
		}
		if e.downSince.IsZero() {
			e.downSince = now
			continue
		}
		if now.Sub(e.downSince) >= retention {
			delete(r.sessions, id)
			if r.active == id {
				r.active = ""
			}
			removed++
		}
	}
	if removed > 0 {
		log.Printf("[registry] swept %d stale sessions", removed)
	}
	return removed
}

package engine

import (
	"log"
	"sync"
	"time"
)

// maxTransitions bounds the per-session transition history.
const maxTransitions = 50

// Transition records one status change with its trigger.
type Transition struct {
	From   Status    `json:"from"`
	To     Status    `json:"to"`
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}

// Tracker owns a session's status and its recent transition history.
// Sessions start in Connecting; Disconnected is absorbing.
type Tracker struct {
	mu      sync.Mutex
	id      string
	status  Status
	history []Transition
}

func NewTracker(sessionID string) *Tracker {
	return &Tracker{id: sessionID, status: StatusConnecting}
}

// Status returns the current status.
func (t *Tracker) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Set transitions to the given status, recording the reason. Same-state
// sets and any transition out of Disconnected are ignored; the return
// value reports whether the status actually changed.
func (t *Tracker) Set(to Status, reason string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.status == to || t.status == StatusDisconnected {
		return false
	}

	tr := Transition{From: t.status, To: to, Reason: reason, At: time.Now()}
	t.history = append(t.history, tr)
	if len(t.history) > maxTransitions {
		t.history = t.history[len(t.history)-maxTransitions:]
	}
	t.status = to
	log.Printf("[session %s] %s -> %s (%s)", t.id, tr.From, tr.To, reason)
	return true
}

// History returns a copy of the recorded transitions, oldest first.
func (t *Tracker) History() []Transition {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Transition(nil), t.history...)
}

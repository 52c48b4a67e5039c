package engine

import (
	"sync"
	"time"
)

// maxEvents bounds the per-session event ring.
const maxEvents = 100

// Event is one notable occurrence in a session's life, kept for the
// operator API.
type Event struct {
	Kind   string    `json:"kind"`
	Detail string    `json:"detail"`
	At     time.Time `json:"at"`
}

// EventLog is a bounded ring of session events.
type EventLog struct {
	mu     sync.Mutex
	events []Event
}

func NewEventLog() *EventLog {
	return &EventLog{}
}

// Add appends an event, evicting the oldest past capacity.
func (l *EventLog) Add(kind, detail string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, Event{Kind: kind, Detail: detail, At: time.Now()})
	if len(l.events) > maxEvents {
		l.events = l.events[len(l.events)-maxEvents:]
	}
}

// Recent returns up to n latest events, oldest first.
func (l *EventLog) Recent(n int) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n <= 0 || n > len(l.events) {
		n = len(l.events)
	}
	return append([]Event(nil), l.events[len(l.events)-n:]...)
}

// Package pending matches asynchronous replies on a shared transport to
// the call that requested them. Requests are keyed by (session,
// resource), where the resource is typically a file path, with at most
// one outstanding request per key and a per-request deadline.
package pending

import (
	"context"
	"sync"
	"time"

	"github.com/webterm-io/engine/internal/protocol"
)

type key struct {
	session  string
	resource string
}

// Result is the settled value of a pending request.
type Result struct {
	Value any
	Err   error
}

// Request is a registered wait. Exactly one Result is ever delivered.
type Request struct {
	done chan Result
}

// Wait blocks until the request settles or ctx is cancelled.
func (r *Request) Wait(ctx context.Context) (any, error) {
	select {
	case res := <-r.done:
		return res.Value, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Done exposes the settlement channel for select-based callers.
func (r *Request) Done() <-chan Result { return r.done }

type entry struct {
	req   *Request
	timer *time.Timer
}

// Correlator tracks pending requests across all sessions.
type Correlator struct {
	mu      sync.Mutex
	entries map[key]*entry
}

func New() *Correlator {
	return &Correlator{entries: make(map[key]*entry)}
}

// WaitFor registers a pending request. It fails fast with
// protocol.ErrDuplicateRequest if the key already has one outstanding;
// the existing request is left untouched.
func (c *Correlator) WaitFor(sessionID, resource string, timeout time.Duration) (*Request, error) {
	k := key{sessionID, resource}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[k]; exists {
		return nil, protocol.ErrDuplicateRequest
	}

	req := &Request{done: make(chan Result, 1)}
	e := &entry{req: req}
	e.timer = time.AfterFunc(timeout, func() {
		c.settle(k, Result{Err: protocol.ErrTimeout})
	})
	c.entries[k] = e
	return req, nil
}

// Resolve settles the pending request for the key with value. A reply
// with no matching entry (late or duplicate) is dropped; the return
// value reports whether a waiter was settled.
func (c *Correlator) Resolve(sessionID, resource string, value any) bool {
	return c.settle(key{sessionID, resource}, Result{Value: value})
}

// Reject settles the pending request for the key with err.
func (c *Correlator) Reject(sessionID, resource string, err error) bool {
	return c.settle(key{sessionID, resource}, Result{Err: err})
}

// RejectAll settles every remaining request for the session. Used on
// session teardown, where the rejection is protocol.ErrSessionClosed.
func (c *Correlator) RejectAll(sessionID string, err error) {
	c.mu.Lock()
	var victims []key
	for k := range c.entries {
		if k.session == sessionID {
			victims = append(victims, k)
		}
	}
	c.mu.Unlock()

	for _, k := range victims {
		c.settle(k, Result{Err: err})
	}
}

// PendingCount reports outstanding requests for a session.
func (c *Correlator) PendingCount(sessionID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k := range c.entries {
		if k.session == sessionID {
			n++
		}
	}
	return n
}

func (c *Correlator) settle(k key, res Result) bool {
	c.mu.Lock()
	e, ok := c.entries[k]
	if ok {
		delete(c.entries, k)
	}
	c.mu.Unlock()

	if !ok {
		return false
	}
	e.timer.Stop()
	e.req.done <- res
	return true
}

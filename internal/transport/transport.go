// Package transport wraps one bidirectional, message-oriented connection
// to the backend proxy. Exactly one handle exists per session for the
// session's entire lifetime. The handle carries no buffering or retry
// logic; it exists so the protocol state machines above it can be unit
// tested against a fake.
package transport

import "context"

// Handler receives inbound transport events. Events for one connection
// are delivered sequentially in arrival order; implementations need no
// internal locking against concurrent deliveries from the same handle.
type Handler interface {
	// OnText delivers an inbound text frame.
	OnText(data []byte)
	// OnBinary delivers an inbound binary frame.
	OnBinary(data []byte)
	// OnClose fires exactly once when the connection ends. err is nil
	// for a clean remote close and non-nil for transport failures,
	// including failures before any frame was exchanged.
	OnClose(err error)
}

// Transport is one open connection. Send methods are safe for
// concurrent use; after Close (or OnClose) they fail.
type Transport interface {
	SendText(ctx context.Context, data []byte) error
	SendBinary(ctx context.Context, data []byte) error
	Close() error
}

// Dialer opens a Transport to url and begins delivering inbound frames
// to h. A non-nil error means no connection was established and h will
// never be called.
type Dialer func(ctx context.Context, url string, h Handler) (Transport, error)

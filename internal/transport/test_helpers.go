package transport

import (
	"context"
	"sync"
)

// Fake is an in-memory Transport for tests. Outbound frames are
// recorded; inbound frames are injected synchronously with DeliverText /
// DeliverBinary, which mirrors the sequential delivery guarantee of the
// real read loop.
type Fake struct {
	mu      sync.Mutex
	handler Handler
	closed  bool

	SentText   [][]byte
	SentBinary [][]byte
}

// NewFake returns a Fake already "connected" to h.
func NewFake(h Handler) *Fake {
	return &Fake{handler: h}
}

// FakeDialer returns a Dialer that hands out f for every dial, wiring
// the session's handler into it.
func FakeDialer(f *Fake) Dialer {
	return func(ctx context.Context, url string, h Handler) (Transport, error) {
		f.mu.Lock()
		f.handler = h
		f.mu.Unlock()
		return f, nil
	}
}

func (f *Fake) SendText(ctx context.Context, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return &closedErr{}
	}
	f.SentText = append(f.SentText, append([]byte(nil), data...))
	return nil
}

func (f *Fake) SendBinary(ctx context.Context, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return &closedErr{}
	}
	f.SentBinary = append(f.SentBinary, append([]byte(nil), data...))
	return nil
}

func (f *Fake) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	h := f.handler
	f.mu.Unlock()
	if h != nil {
		h.OnClose(nil)
	}
	return nil
}

// DeliverText injects an inbound text frame.
func (f *Fake) DeliverText(data []byte) { f.handler.OnText(data) }

// DeliverBinary injects an inbound binary frame.
func (f *Fake) DeliverBinary(data []byte) { f.handler.OnBinary(data) }

// Fail simulates a mid-session transport failure.
func (f *Fake) Fail(err error) {
	f.mu.Lock()
	f.closed = true
	h := f.handler
	f.mu.Unlock()
	if h != nil {
		h.OnClose(err)
	}
}

// Texts returns a copy of the sent text frames.
func (f *Fake) Texts() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.SentText...)
}

// Binaries returns a copy of the sent binary frames.
func (f *Fake) Binaries() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.SentBinary...)
}

// TextCount returns how many text frames were sent.
func (f *Fake) TextCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.SentText)
}

// BinaryCount returns how many binary frames were sent.
func (f *Fake) BinaryCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.SentBinary)
}

type closedErr struct{}

func (*closedErr) Error() string { return "transport closed" }

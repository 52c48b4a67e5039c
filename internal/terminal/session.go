// Package terminal implements the interactive session kind: a PTY byte
// stream multiplexed with an inline zmodem sub-protocol. One session
// owns one transport for its whole life; all inbound traffic is
// processed in arrival order on the transport's delivery goroutine.
package terminal

import (
	"context"
	"log"
	"sync"

	"github.com/webterm-io/engine/internal/engine"
	"github.com/webterm-io/engine/internal/logutil"
	"github.com/webterm-io/engine/internal/protocol"
	"github.com/webterm-io/engine/internal/sink"
	"github.com/webterm-io/engine/internal/transport"
	"github.com/webterm-io/engine/internal/zmodem"
)

// Emulator is the opaque rendering surface attached to a session. The
// engine only writes bytes at it; interpretation is not its concern.
type Emulator interface {
	Write(p []byte)
	Dispose()
}

// ExecResult is the outcome of an exec-mode session's command.
type ExecResult struct {
	ExitCode int
	Output   string
	Timeout  bool
}

// Config assembles a terminal session's collaborators.
type Config struct {
	ID       string
	ServerID uint

	// URL is the backend endpoint for this session's transport.
	URL  string
	Dial transport.Dialer

	// Params is the first text frame after transport open. Zero PTY
	// fields get backend-matching defaults.
	Params protocol.ConnectParams

	// Sinks receives files from terminal-embedded transfers.
	Sinks sink.Provider

	// OnProgress observes transfer movement, already throttled.
	OnProgress func(zmodem.Progress)
}

// Session is one interactive terminal connection.
type Session struct {
	id       string
	serverID uint
	params   protocol.ConnectParams
	url      string
	dial     transport.Dialer

	tracker *engine.Tracker
	events  *engine.EventLog
	scroll  *Scrollback
	sentry  *zmodem.Sentry

	sinks      sink.Provider
	onProgress func(zmodem.Progress)

	mu     sync.Mutex
	tr     transport.Transport
	emu    Emulator
	staged []zmodem.FileOffer

	execCh    chan ExecResult
	down      chan struct{}
	closeOnce sync.Once
}

// New builds a session in Connecting state. Connect must follow.
func New(cfg Config) *Session {
	p := cfg.Params
	if p.Mode == "" {
		p.Mode = protocol.ModeShell
	}
	if p.Term == "" {
		p.Term = protocol.DefaultTerm
	}
	if p.Cols == 0 {
		p.Cols = protocol.DefaultCols
	}
	if p.Rows == 0 {
		p.Rows = protocol.DefaultRows
	}

	s := &Session{
		id:         cfg.ID,
		serverID:   cfg.ServerID,
		params:     p,
		url:        cfg.URL,
		dial:       cfg.Dial,
		tracker:    engine.NewTracker(cfg.ID),
		events:     engine.NewEventLog(),
		scroll:     &Scrollback{},
		sinks:      cfg.Sinks,
		onProgress: cfg.OnProgress,
		execCh:     make(chan ExecResult, 1),
		down:       make(chan struct{}),
	}
	s.sentry = zmodem.NewSentry(s.render, s.onDetect)
	return s
}

func (s *Session) ID() string            { return s.id }
func (s *Session) ServerID() uint        { return s.serverID }
func (s *Session) Kind() engine.Kind     { return engine.KindTerminal }
func (s *Session) Status() engine.Status { return s.tracker.Status() }

// History exposes the status transitions for the operator API.
func (s *Session) History() []engine.Transition { return s.tracker.History() }

// Events exposes recent session events for the operator API.
func (s *Session) Events(n int) []engine.Event { return s.events.Recent(n) }

// Scrollback returns retained output for replay on attach.
func (s *Session) Scrollback() []byte { return s.scroll.Bytes() }

// Connect opens the transport and sends the connection parameters as
// the first text frame. Connected status arrives asynchronously with
// the backend's acknowledgment.
func (s *Session) Connect(ctx context.Context) error {
	tr, err := s.dial(ctx, s.url, s)
	if err != nil {
		s.teardown("connect failed")
		return &protocol.TransportError{Op: "connect", Err: err}
	}
	s.mu.Lock()
	s.tr = tr
	s.mu.Unlock()

	frame, err := protocol.Encode(s.params)
	if err != nil {
		s.teardown("encode connect params")
		return err
	}
	if err := tr.SendText(ctx, frame); err != nil {
		s.teardown("send connect params")
		return &protocol.TransportError{Op: "send connect params", Err: err}
	}
	s.events.Add("connecting", "")
	return nil
}

// Attach replaces the rendering surface, replaying retained output so
// the new emulator repaints the current screen.
func (s *Session) Attach(em Emulator) {
	if hist := s.scroll.Bytes(); len(hist) > 0 {
		em.Write(hist)
	}
	s.mu.Lock()
	old := s.emu
	s.emu = em
	s.mu.Unlock()
	if old != nil {
		old.Dispose()
	}
}

// Detach removes the emulator without disturbing the session.
func (s *Session) Detach() {
	s.mu.Lock()
	old := s.emu
	s.emu = nil
	s.mu.Unlock()
	if old != nil {
		old.Dispose()
	}
}

// Input forwards keystrokes. While a transfer owns the channel, input
// is suppressed and silently dropped.
func (s *Session) Input(data string) error {
	if s.Status() != engine.StatusConnected {
		return protocol.ErrSessionClosed
	}
	if s.sentry.Active() != nil {
		return nil
	}
	frame, err := protocol.Encode(protocol.Input{Type: protocol.TypeInput, Data: data})
	if err != nil {
		return err
	}
	return s.sendText(frame)
}

// Resize forwards a window-size change. Suppressed during transfers
// like other user input.
func (s *Session) Resize(cols, rows uint32) error {
	if s.Status() != engine.StatusConnected {
		return protocol.ErrSessionClosed
	}
	if s.sentry.Active() != nil {
		return nil
	}
	frame, err := protocol.Encode(protocol.Resize{Type: protocol.TypeResize, Cols: cols, Rows: rows})
	if err != nil {
		return err
	}
	return s.sendText(frame)
}

// StageUpload stores the files to offer when the remote side next
// starts rz. Without staged files a send detection is declined.
func (s *Session) StageUpload(files []zmodem.FileOffer) {
	s.mu.Lock()
	s.staged = files
	s.mu.Unlock()
}

// ActiveTransfer returns the in-flight zmodem transfer, or nil.
func (s *Session) ActiveTransfer() *zmodem.Transfer { return s.sentry.Active() }

// WaitExec blocks until an exec-mode session's command completes.
func (s *Session) WaitExec(ctx context.Context) (ExecResult, error) {
	select {
	case res := <-s.execCh:
		return res, nil
	case <-s.down:
		select {
		case res := <-s.execCh:
			return res, nil
		default:
		}
		return ExecResult{}, protocol.ErrSessionClosed
	case <-ctx.Done():
		return ExecResult{}, ctx.Err()
	}
}

// Close tears the session down. Idempotent.
func (s *Session) Close() {
	s.teardown("disconnect requested")
}

// OnText handles an inbound text frame: a tagged control message, or
// raw terminal bytes when the payload is not the control envelope.
func (s *Session) OnText(data []byte) {
	msg, ok := protocol.Decode(data)
	if !ok {
		s.render(data)
		return
	}

	switch msg.Type {
	case protocol.TypeConnected:
		s.tracker.Set(engine.StatusConnected, "backend acknowledged")
		s.events.Add("connected", "")
	case protocol.TypeExecComplete:
		select {
		case s.execCh <- ExecResult{ExitCode: msg.ExitCode, Output: msg.Output, Timeout: msg.Timeout}:
		default:
		}
		s.events.Add("exec_complete", "")
	case protocol.TypeError:
		s.events.Add("error", logutil.Sanitize(msg.Message))
		log.Printf("[terminal %s] backend error: %s", s.id, logutil.Sanitize(msg.Message))
		s.teardown("backend error")
	case protocol.TypeClosed:
		s.teardown("closed by backend")
	default:
		log.Printf("[terminal %s] dropping unexpected %q message", s.id, msg.Type)
	}
}

// OnBinary routes inbound binary frames through the sentry, which
// renders them unless a transfer signature or an active transfer
// claims them.
func (s *Session) OnBinary(data []byte) {
	s.sentry.Consume(data)
}

// OnClose finishes the session on transport closure.
func (s *Session) OnClose(err error) {
	if err != nil {
		log.Printf("[terminal %s] transport failed: %v", s.id, err)
		s.teardown("transport error")
		return
	}
	s.teardown("transport closed")
}

// onDetect decides a zmodem detection: receives are always accepted
// into the configured sink provider; sends require staged files.
func (s *Session) onDetect(d *zmodem.Detection) {
	out := func(b []byte) error { return s.sendBinary(b) }

	switch d.Direction() {
	case zmodem.Receive:
		if _, err := d.Confirm(zmodem.Options{
			Sinks:      s.sinks,
			Output:     out,
			OnProgress: s.onProgress,
		}); err != nil {
			log.Printf("[terminal %s] receive confirm failed: %v", s.id, err)
			return
		}
		s.events.Add("transfer", "receive started")

	case zmodem.Send:
		s.mu.Lock()
		files := s.staged
		s.staged = nil
		s.mu.Unlock()
		if len(files) == 0 {
			log.Printf("[terminal %s] remote requested files but none are staged", s.id)
			d.Deny()
			return
		}
		if _, err := d.Confirm(zmodem.Options{
			Files:      files,
			Output:     out,
			OnProgress: s.onProgress,
		}); err != nil {
			log.Printf("[terminal %s] send confirm failed: %v", s.id, err)
			return
		}
		s.events.Add("transfer", "send started")
	}
}

// render delivers bytes to the emulator and the scrollback.
func (s *Session) render(p []byte) {
	s.scroll.Append(p)
	s.mu.Lock()
	em := s.emu
	s.mu.Unlock()
	if em != nil {
		em.Write(p)
	}
}

func (s *Session) sendText(frame []byte) error {
	s.mu.Lock()
	tr := s.tr
	s.mu.Unlock()
	if tr == nil {
		return protocol.ErrSessionClosed
	}
	if err := tr.SendText(context.Background(), frame); err != nil {
		return &protocol.TransportError{Op: "send text", Err: err}
	}
	return nil
}

func (s *Session) sendBinary(frame []byte) error {
	s.mu.Lock()
	tr := s.tr
	s.mu.Unlock()
	if tr == nil {
		return protocol.ErrSessionClosed
	}
	if err := tr.SendBinary(context.Background(), frame); err != nil {
		return &protocol.TransportError{Op: "send binary", Err: err}
	}
	return nil
}

// teardown is the single exit path: cancel any transfer, mark the
// session Disconnected, release the transport. The transport is closed
// after the Once completes: Close may report OnClose from the caller's
// goroutine, which lands back here.
func (s *Session) teardown(reason string) {
	var tr transport.Transport
	s.closeOnce.Do(func() {
		if t := s.sentry.Active(); t != nil {
			t.Cancel()
		}
		s.tracker.Set(engine.StatusDisconnected, reason)
		s.events.Add("disconnected", reason)
		close(s.down)

		s.mu.Lock()
		tr = s.tr
		s.tr = nil
		s.mu.Unlock()
	})
	if tr != nil {
		tr.Close()
	}
}

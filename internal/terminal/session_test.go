package terminal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/webterm-io/engine/internal/engine"
	"github.com/webterm-io/engine/internal/protocol"
	"github.com/webterm-io/engine/internal/transport"
	"github.com/webterm-io/engine/internal/zmodem"
)

// Captured opening hex headers: sz greets with ZRQINIT, rz with ZRINIT.
var (
	szGreeting = []byte("**\x18B00000000000000\r\x8a\x11")
	rzGreeting = []byte("**\x18B0100000000b861\r\x8a\x11")
)

type fakeEmu struct {
	mu       sync.Mutex
	buf      bytes.Buffer
	disposed bool
}

func (e *fakeEmu) Write(p []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.buf.Write(p)
}

func (e *fakeEmu) Dispose() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.disposed = true
}

func (e *fakeEmu) String() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.buf.String()
}

func newTestSession(t *testing.T, params protocol.ConnectParams) (*Session, *transport.Fake) {
	t.Helper()
	fake := transport.NewFake(nil)
	s := New(Config{
		ID:       "sess-1",
		ServerID: 7,
		URL:      "ws://backend/ssh",
		Dial:     transport.FakeDialer(fake),
		Params:   params,
	})
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	return s, fake
}

func connect(t *testing.T, s *Session, fake *transport.Fake) {
	t.Helper()
	fake.DeliverText([]byte(`{"type":"connected"}`))
	if s.Status() != engine.StatusConnected {
		t.Fatalf("status = %s, want connected", s.Status())
	}
}

func TestConnectSendsParamsWithDefaults(t *testing.T) {
	s, fake := newTestSession(t, protocol.ConnectParams{ServerID: 7})
	defer s.Close()

	if fake.TextCount() != 1 {
		t.Fatalf("sent %d text frames, want 1", fake.TextCount())
	}
	var p protocol.ConnectParams
	if err := json.Unmarshal(fake.SentText[0], &p); err != nil {
		t.Fatalf("decode params: %v", err)
	}
	if p.ServerID != 7 || p.Mode != protocol.ModeShell {
		t.Errorf("params = %+v", p)
	}
	if p.Term != protocol.DefaultTerm || p.Cols != protocol.DefaultCols || p.Rows != protocol.DefaultRows {
		t.Errorf("PTY defaults not applied: %+v", p)
	}
}

func TestConnectDialFailure(t *testing.T) {
	s := New(Config{
		ID:  "sess-1",
		URL: "ws://backend/ssh",
		Dial: func(ctx context.Context, url string, h transport.Handler) (transport.Transport, error) {
			return nil, errors.New("refused")
		},
	})
	err := s.Connect(context.Background())
	var te *protocol.TransportError
	if !errors.As(err, &te) {
		t.Fatalf("err = %v, want TransportError", err)
	}
	if s.Status() != engine.StatusDisconnected {
		t.Errorf("status = %s, want disconnected", s.Status())
	}
}

func TestStatusLifecycle(t *testing.T) {
	s, fake := newTestSession(t, protocol.ConnectParams{ServerID: 7})
	if s.Status() != engine.StatusConnecting {
		t.Fatalf("initial status = %s, want connecting", s.Status())
	}
	connect(t, s, fake)
	s.Close()
	if s.Status() != engine.StatusDisconnected {
		t.Fatalf("status after close = %s", s.Status())
	}

	// Disconnected is terminal; a stray late acknowledgment is ignored.
	fake.DeliverText([]byte(`{"type":"connected"}`))
	if s.Status() != engine.StatusDisconnected {
		t.Error("status left disconnected on late message")
	}

	hist := s.History()
	if len(hist) != 2 {
		t.Fatalf("history length = %d, want 2", len(hist))
	}
	if hist[1].To != engine.StatusDisconnected {
		t.Errorf("last transition = %+v", hist[1])
	}
}

// The fake transport reports OnClose from inside Close, on the closing
// goroutine; teardown must tolerate landing back in itself that way.
func TestCloseReturnsWithSynchronousTransportClose(t *testing.T) {
	s, fake := newTestSession(t, protocol.ConnectParams{ServerID: 7})
	connect(t, s, fake)

	done := make(chan struct{})
	go func() {
		s.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close never returned")
	}
	if s.Status() != engine.StatusDisconnected {
		t.Errorf("status = %s, want disconnected", s.Status())
	}
}

func TestInputAndResizeForwarded(t *testing.T) {
	s, fake := newTestSession(t, protocol.ConnectParams{ServerID: 7})
	defer s.Close()
	connect(t, s, fake)

	if err := s.Input("ls -la\n"); err != nil {
		t.Fatalf("Input: %v", err)
	}
	if err := s.Resize(120, 40); err != nil {
		t.Fatalf("Resize: %v", err)
	}

	// Frame 0 is the connect params.
	if fake.TextCount() != 3 {
		t.Fatalf("sent %d frames, want 3", fake.TextCount())
	}
	var in protocol.Input
	json.Unmarshal(fake.SentText[1], &in)
	if in.Type != protocol.TypeInput || in.Data != "ls -la\n" {
		t.Errorf("input frame = %+v", in)
	}
	var rs protocol.Resize
	json.Unmarshal(fake.SentText[2], &rs)
	if rs.Type != protocol.TypeResize || rs.Cols != 120 || rs.Rows != 40 {
		t.Errorf("resize frame = %+v", rs)
	}
}

func TestInputRejectedBeforeAndAfterConnected(t *testing.T) {
	s, fake := newTestSession(t, protocol.ConnectParams{ServerID: 7})
	if err := s.Input("x"); !errors.Is(err, protocol.ErrSessionClosed) {
		t.Errorf("Input while connecting = %v, want ErrSessionClosed", err)
	}
	connect(t, s, fake)
	s.Close()
	if err := s.Input("x"); !errors.Is(err, protocol.ErrSessionClosed) {
		t.Errorf("Input after close = %v, want ErrSessionClosed", err)
	}
	if err := s.Resize(1, 1); !errors.Is(err, protocol.ErrSessionClosed) {
		t.Errorf("Resize after close = %v, want ErrSessionClosed", err)
	}
}

func TestPlainTextRendered(t *testing.T) {
	s, fake := newTestSession(t, protocol.ConnectParams{ServerID: 7})
	defer s.Close()
	connect(t, s, fake)

	// Text frames that are not the control envelope are raw output.
	fake.DeliverText([]byte("motd: welcome\r\n"))
	fake.DeliverBinary([]byte("$ "))

	if got := string(s.Scrollback()); got != "motd: welcome\r\n$ " {
		t.Errorf("scrollback = %q", got)
	}
}

func TestAttachReplaysScrollback(t *testing.T) {
	s, fake := newTestSession(t, protocol.ConnectParams{ServerID: 7})
	defer s.Close()
	connect(t, s, fake)

	fake.DeliverBinary([]byte("history line\r\n"))

	em := &fakeEmu{}
	s.Attach(em)
	if em.String() != "history line\r\n" {
		t.Errorf("replayed = %q", em.String())
	}

	fake.DeliverBinary([]byte("live line\r\n"))
	if em.String() != "history line\r\nlive line\r\n" {
		t.Errorf("after live output = %q", em.String())
	}

	// A second attach displaces the first.
	em2 := &fakeEmu{}
	s.Attach(em2)
	if !em.disposed {
		t.Error("displaced emulator not disposed")
	}
	s.Detach()
	if !em2.disposed {
		t.Error("detached emulator not disposed")
	}
}

func TestBackendErrorTearsDown(t *testing.T) {
	s, fake := newTestSession(t, protocol.ConnectParams{ServerID: 7})
	connect(t, s, fake)

	fake.DeliverText([]byte(`{"type":"error","message":"auth failed"}`))
	if s.Status() != engine.StatusDisconnected {
		t.Fatalf("status = %s, want disconnected", s.Status())
	}

	found := false
	for _, ev := range s.Events(10) {
		if ev.Kind == "error" && strings.Contains(ev.Detail, "auth failed") {
			found = true
		}
	}
	if !found {
		t.Error("backend error not recorded in events")
	}
}

func TestTransportFailureTearsDown(t *testing.T) {
	s, fake := newTestSession(t, protocol.ConnectParams{ServerID: 7})
	connect(t, s, fake)

	fake.Fail(errors.New("broken pipe"))
	if s.Status() != engine.StatusDisconnected {
		t.Errorf("status = %s, want disconnected", s.Status())
	}
}

func TestReceiveTransferClaimsChannel(t *testing.T) {
	s, fake := newTestSession(t, protocol.ConnectParams{ServerID: 7})
	defer s.Close()
	connect(t, s, fake)

	fake.DeliverBinary(append([]byte("$ sz report.txt\r\n"), szGreeting...))

	tr := s.ActiveTransfer()
	if tr == nil {
		t.Fatal("no transfer after sz greeting")
	}
	if tr.Direction() != zmodem.Receive {
		t.Errorf("direction = %s, want receive", tr.Direction())
	}
	// The receiver's ZRINIT reply goes out as a binary frame.
	if fake.BinaryCount() == 0 {
		t.Error("no reply written toward sz")
	}

	// Keystrokes are suppressed, not failed, while the transfer owns the
	// channel.
	before := fake.TextCount()
	if err := s.Input("should vanish"); err != nil {
		t.Fatalf("Input during transfer: %v", err)
	}
	if fake.TextCount() != before {
		t.Error("input leaked onto the wire during a transfer")
	}

	// Only the prompt bytes before the signature reached the terminal.
	if got := string(s.Scrollback()); got != "$ sz report.txt\r\n" {
		t.Errorf("scrollback = %q", got)
	}
}

func TestSendRequiresStagedFiles(t *testing.T) {
	s, fake := newTestSession(t, protocol.ConnectParams{ServerID: 7})
	defer s.Close()
	connect(t, s, fake)

	// rz with nothing staged is declined and its greeting rendered.
	fake.DeliverBinary(rzGreeting)
	if s.ActiveTransfer() != nil {
		t.Fatal("send transfer started with no staged files")
	}
	if !bytes.Contains(s.Scrollback(), rzGreeting) {
		t.Error("declined greeting not rendered")
	}
}

func TestStagedUploadConfirmsSend(t *testing.T) {
	s, fake := newTestSession(t, protocol.ConnectParams{ServerID: 7})
	defer s.Close()
	connect(t, s, fake)

	content := []byte("staged payload")
	s.StageUpload([]zmodem.FileOffer{{
		Info: zmodem.FileInfo{Name: "up.bin", Size: uint64(len(content))},
		Data: bytes.NewReader(content),
	}})

	fake.DeliverBinary(rzGreeting)
	tr := s.ActiveTransfer()
	if tr == nil {
		t.Fatal("no transfer after rz greeting with staged files")
	}
	if tr.Direction() != zmodem.Send {
		t.Errorf("direction = %s, want send", tr.Direction())
	}

	// Staged offers are consumed by the detection; the next rz greeting
	// with nothing staged is declined.
	tr.Cancel()
	fake.DeliverBinary(rzGreeting)
	if got := s.ActiveTransfer(); got != nil {
		t.Error("second send confirmed without fresh staging")
	}
}

func TestCloseCancelsActiveTransfer(t *testing.T) {
	s, fake := newTestSession(t, protocol.ConnectParams{ServerID: 7})
	connect(t, s, fake)

	fake.DeliverBinary(szGreeting)
	tr := s.ActiveTransfer()
	if tr == nil {
		t.Fatal("no transfer")
	}

	s.Close()
	select {
	case <-tr.Done():
	case <-time.After(time.Second):
		t.Fatal("transfer not settled by close")
	}
	if tr.State() != zmodem.StateCancelled {
		t.Errorf("state = %s, want cancelled", tr.State())
	}
}

func TestWaitExec(t *testing.T) {
	s, fake := newTestSession(t, protocol.ConnectParams{ServerID: 7, Mode: protocol.ModeExec, Command: "uname -a"})
	defer s.Close()
	connect(t, s, fake)

	fake.DeliverText([]byte(`{"type":"exec_complete","exit_code":3,"output":"Linux\n"}`))

	res, err := s.WaitExec(context.Background())
	if err != nil {
		t.Fatalf("WaitExec: %v", err)
	}
	if res.ExitCode != 3 || res.Output != "Linux\n" || res.Timeout {
		t.Errorf("result = %+v", res)
	}
}

func TestWaitExecResultBeatsClose(t *testing.T) {
	s, fake := newTestSession(t, protocol.ConnectParams{ServerID: 7, Mode: protocol.ModeExec, Command: "true"})
	connect(t, s, fake)

	// Result and closure race on real backends; a buffered result must
	// still win after teardown.
	fake.DeliverText([]byte(`{"type":"exec_complete","exit_code":0}`))
	s.Close()

	res, err := s.WaitExec(context.Background())
	if err != nil {
		t.Fatalf("WaitExec: %v", err)
	}
	if res.ExitCode != 0 {
		t.Errorf("result = %+v", res)
	}
}

func TestWaitExecSessionClosed(t *testing.T) {
	s, fake := newTestSession(t, protocol.ConnectParams{ServerID: 7, Mode: protocol.ModeExec, Command: "true"})
	connect(t, s, fake)
	s.Close()

	if _, err := s.WaitExec(context.Background()); !errors.Is(err, protocol.ErrSessionClosed) {
		t.Errorf("err = %v, want ErrSessionClosed", err)
	}
}

func TestScrollbackTruncation(t *testing.T) {
	var sb Scrollback
	chunk := bytes.Repeat([]byte("x"), 100*1024)
	sb.Append(chunk)
	sb.Append(chunk)
	sb.Append(chunk)
	if sb.Len() > maxScrollback {
		t.Errorf("scrollback %d exceeds cap %d", sb.Len(), maxScrollback)
	}
	if sb.Len() == 0 {
		t.Error("scrollback empty after appends")
	}
}

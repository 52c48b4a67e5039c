package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
)

// chanHandler funnels handler callbacks into channels for assertions.
type chanHandler struct {
	text   chan []byte
	binary chan []byte
	closed chan error
}

func newChanHandler() *chanHandler {
	return &chanHandler{
		text:   make(chan []byte, 8),
		binary: make(chan []byte, 8),
		closed: make(chan error, 1),
	}
}

func (h *chanHandler) OnText(data []byte)   { h.text <- append([]byte(nil), data...) }
func (h *chanHandler) OnBinary(data []byte) { h.binary <- append([]byte(nil), data...) }
func (h *chanHandler) OnClose(err error)    { h.closed <- err }

// echoServer upgrades and echoes every frame until the client closes.
func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		for {
			typ, data, err := conn.Read(r.Context())
			if err != nil {
				return
			}
			if err := conn.Write(r.Context(), typ, data); err != nil {
				return
			}
		}
	}))
}

func wsURL(s *httptest.Server) string {
	return strings.Replace(s.URL, "http://", "ws://", 1)
}

func TestDialEchoAndClose(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()

	h := newChanHandler()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tr, err := Dial(ctx, wsURL(srv), h)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}

	if err := tr.SendText(ctx, []byte(`{"type":"input"}`)); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if err := tr.SendBinary(ctx, []byte{0x00, 0xFF, 0x18}); err != nil {
		t.Fatalf("SendBinary: %v", err)
	}

	select {
	case got := <-h.text:
		if string(got) != `{"type":"input"}` {
			t.Errorf("text = %q", got)
		}
	case <-ctx.Done():
		t.Fatal("text frame never echoed")
	}
	select {
	case got := <-h.binary:
		if len(got) != 3 || got[2] != 0x18 {
			t.Errorf("binary = %v", got)
		}
	case <-ctx.Done():
		t.Fatal("binary frame never echoed")
	}

	// A locally initiated close reports a nil-error OnClose.
	if err := tr.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	select {
	case err := <-h.closed:
		if err != nil {
			t.Errorf("OnClose after local close = %v, want nil", err)
		}
	case <-ctx.Done():
		t.Fatal("OnClose never fired")
	}

	// Close is idempotent and OnClose fires exactly once.
	if err := tr.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	select {
	case err := <-h.closed:
		t.Errorf("second OnClose fired: %v", err)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRemoteNormalCloseIsClean(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		conn.Close(websocket.StatusNormalClosure, "done")
	}))
	defer srv.Close()

	h := newChanHandler()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := Dial(ctx, wsURL(srv), h); err != nil {
		t.Fatalf("Dial: %v", err)
	}
	select {
	case err := <-h.closed:
		if err != nil {
			t.Errorf("OnClose after remote normal close = %v, want nil", err)
		}
	case <-ctx.Done():
		t.Fatal("OnClose never fired")
	}
}

func TestRemoteAbnormalCloseReportsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		conn.CloseNow()
	}))
	defer srv.Close()

	h := newChanHandler()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := Dial(ctx, wsURL(srv), h); err != nil {
		t.Fatalf("Dial: %v", err)
	}
	select {
	case err := <-h.closed:
		if err == nil {
			t.Error("OnClose after abnormal close = nil, want error")
		}
	case <-ctx.Done():
		t.Fatal("OnClose never fired")
	}
}

func TestDialFailure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := Dial(ctx, "ws://127.0.0.1:1", newChanHandler()); err == nil {
		t.Fatal("Dial to a dead port succeeded")
	}
}

package handlers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"

	"github.com/webterm-io/engine/internal/terminal"
)

// attachRateLimit caps inbound messages per second per attached client;
// attachRateBurst lets pastes through before limiting kicks in.
const (
	attachRateLimit = 200
	attachRateBurst = 200

	// attachInputLimit caps one input message.
	attachInputLimit = 64 * 1024
)

type attachControlMsg struct {
	Type string `json:"type"`
	Cols uint32 `json:"cols"`
	Rows uint32 `json:"rows"`
}

// tokenBucket is a simple rate limiter for attached-client input.
type tokenBucket struct {
	tokens     int
	maxTokens  int
	refillRate int
	lastRefill time.Time
}

func newTokenBucket(maxTokens, refillRate int) *tokenBucket {
	return &tokenBucket{
		tokens:     maxTokens,
		maxTokens:  maxTokens,
		refillRate: refillRate,
		lastRefill: time.Now(),
	}
}

func (tb *tokenBucket) allow() bool {
	now := time.Now()
	elapsed := now.Sub(tb.lastRefill)
	tb.lastRefill = now

	tb.tokens += int(elapsed.Seconds() * float64(tb.refillRate))
	if tb.tokens > tb.maxTokens {
		tb.tokens = tb.maxTokens
	}
	if tb.tokens <= 0 {
		return false
	}
	tb.tokens--
	return true
}

// wsEmulator adapts an attached WebSocket client to the session's
// Emulator interface: rendered bytes go out as binary frames.
type wsEmulator struct {
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
}

func (e *wsEmulator) Write(p []byte) {
	if err := e.conn.Write(e.ctx, websocket.MessageBinary, p); err != nil {
		e.cancel()
	}
}

func (e *wsEmulator) Dispose() { e.cancel() }

// Attach bridges a UI WebSocket to a terminal session: binary frames in
// are keystrokes, text frames carry resize control, binary frames out
// are rendered output. Scrollback replays on attach.
func Attach(w http.ResponseWriter, r *http.Request) {
	s, ok := Registry.Get(chi.URLParam(r, "id"))
	if !ok {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}
	ts, ok := s.(*terminal.Session)
	if !ok {
		http.Error(w, "Not a terminal session", http.StatusBadRequest)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		log.Printf("[handlers] attach accept failed: %v", err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(1024 * 1024)

	relayCtx, relayCancel := context.WithCancel(r.Context())
	defer relayCancel()

	em := &wsEmulator{conn: conn, ctx: relayCtx, cancel: relayCancel}
	ts.Attach(em)
	defer ts.Detach()

	limiter := newTokenBucket(attachRateBurst, attachRateLimit)

	for {
		msgType, data, err := conn.Read(relayCtx)
		if err != nil {
			break
		}
		if !limiter.allow() {
			continue
		}

		if msgType == websocket.MessageBinary {
			if len(data) > attachInputLimit {
				log.Printf("[handlers] attach input too large: session=%s size=%d", ts.ID(), len(data))
				continue
			}
			if err := ts.Input(string(data)); err != nil {
				break
			}
			continue
		}

		var msg attachControlMsg
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type == "resize" && msg.Cols > 0 && msg.Rows > 0 {
			if msg.Cols > 1000 {
				msg.Cols = 1000
			}
			if msg.Rows > 1000 {
				msg.Rows = 1000
			}
			if err := ts.Resize(msg.Cols, msg.Rows); err != nil {
				break
			}
		}
	}

	conn.Close(websocket.StatusNormalClosure, "")
}

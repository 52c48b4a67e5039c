package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/coder/websocket"
)

// wsReadLimit caps a single inbound frame. Download chunks are 1 MiB on
// the wire; 16 MiB leaves headroom for large directory listings.
const wsReadLimit = 16 * 1024 * 1024

// wsTransport is the production Transport over a WebSocket connection.
type wsTransport struct {
	conn *websocket.Conn

	mu     sync.Mutex
	closed bool
	cancel context.CancelFunc
}

// Dial opens a WebSocket connection to url and starts the read loop
// that feeds h. It satisfies the Dialer signature.
func Dial(ctx context.Context, url string, h Handler) (Transport, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial %s: %w", url, err)
	}
	conn.SetReadLimit(wsReadLimit)

	readCtx, cancel := context.WithCancel(context.Background())
	t := &wsTransport{conn: conn, cancel: cancel}
	go t.readLoop(readCtx, h)
	return t, nil
}

// readLoop delivers inbound frames to the handler one at a time, in
// arrival order. It exits on the first read error, reporting it through
// OnClose unless the close was locally initiated.
func (t *wsTransport) readLoop(ctx context.Context, h Handler) {
	for {
		typ, data, err := t.conn.Read(ctx)
		if err != nil {
			t.mu.Lock()
			local := t.closed
			t.closed = true
			t.mu.Unlock()
			if local || websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				h.OnClose(nil)
			} else {
				h.OnClose(err)
			}
			return
		}
		switch typ {
		case websocket.MessageText:
			h.OnText(data)
		case websocket.MessageBinary:
			h.OnBinary(data)
		}
	}
}

func (t *wsTransport) SendText(ctx context.Context, data []byte) error {
	if err := t.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("websocket write text: %w", err)
	}
	return nil
}

func (t *wsTransport) SendBinary(ctx context.Context, data []byte) error {
	if err := t.conn.Write(ctx, websocket.MessageBinary, data); err != nil {
		return fmt.Errorf("websocket write binary: %w", err)
	}
	return nil
}

// Close releases the connection. Safe to call more than once; the read
// loop reports a nil-error OnClose for locally initiated closes.
func (t *wsTransport) Close() error {
	t.mu.Lock()
	already := t.closed
	t.closed = true
	t.mu.Unlock()
	if already {
		return nil
	}
	t.cancel()
	err := t.conn.Close(websocket.StatusNormalClosure, "")
	if err != nil {
		// The peer may already be gone; tear down the socket regardless.
		t.conn.CloseNow()
	}
	return nil
}

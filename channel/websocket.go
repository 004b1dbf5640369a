package channel

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/c360/resilkit/errors"
)

// WebSocketTransport dials feeds over WebSocket.
type WebSocketTransport struct {
	Dialer *websocket.Dialer
	Header http.Header

	// ReadLimit caps the size of a single inbound frame. Zero means 1 MiB.
	ReadLimit int64
}

var _ Transport = (*WebSocketTransport)(nil)

// NewWebSocketTransport returns a transport using websocket.DefaultDialer.
func NewWebSocketTransport() *WebSocketTransport {
	return &WebSocketTransport{Dialer: websocket.DefaultDialer}
}

// Dial opens a WebSocket connection and starts its read loop. Text and
// binary frames are both delivered as messages.
func (t *WebSocketTransport) Dial(ctx context.Context, endpoint string, events Events) (Conn, error) {
	dialer := t.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	conn, _, err := dialer.DialContext(ctx, endpoint, t.Header)
	if err != nil {
		return nil, errors.WrapTransient(err, "websocket_transport", "Dial", "websocket handshake")
	}

	limit := t.ReadLimit
	if limit <= 0 {
		limit = 1 << 20
	}
	conn.SetReadLimit(limit)

	wc := &wsConn{conn: conn}
	go wc.readLoop(events)
	return wc, nil
}

type wsConn struct {
	conn      *websocket.Conn
	closing   atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

func (c *wsConn) readLoop(events Events) {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			switch {
			case c.closing.Load():
				events.OnClose(true, nil)
			case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
				events.OnClose(true, nil)
			default:
				events.OnClose(false, errors.WrapTransient(err, "websocket_transport", "readLoop", "read frame"))
			}
			_ = c.conn.Close()
			return
		}
		events.OnMessage(data)
	}
}

// Close sends a normal-closure frame and closes the socket.
func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		c.closing.Store(true)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

package stream

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
)

const closeGracePeriod = time.Second

// NewUpgrader returns a WebSocket upgrader guarded by checkOrigin.
func NewUpgrader(checkOrigin func(r *http.Request) bool) *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     checkOrigin,
	}
}

// WebSocketHandle carries push frames as text messages and heartbeats as
// ping control frames.
type WebSocketHandle struct {
	conn   *websocket.Conn
	clock  clockwork.Clock
	mu     sync.Mutex
	closed bool
}

func NewWebSocketHandle(conn *websocket.Conn, clock clockwork.Clock) *WebSocketHandle {
	return &WebSocketHandle{conn: conn, clock: clock}
}

func (h *WebSocketHandle) Transport() string { return "websocket" }

func (h *WebSocketHandle) WriteData(data []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return errConnectionClosed
	}
	_ = h.conn.SetWriteDeadline(h.clock.Now().Add(writeTimeout))
	if err := h.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

func (h *WebSocketHandle) WriteHeartbeat() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return errConnectionClosed
	}
	if err := h.conn.WriteControl(websocket.PingMessage, nil, h.clock.Now().Add(writeTimeout)); err != nil {
		return fmt.Errorf("failed to write ping: %w", err)
	}
	return nil
}

// Close sends a close frame and closes the socket. Safe to call twice.
func (h *WebSocketHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}
	h.closed = true

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = h.conn.WriteControl(websocket.CloseMessage, msg, h.clock.Now().Add(closeGracePeriod))
	return h.conn.Close()
}

// ReadLoop consumes inbound frames until the peer goes away. Pongs extend the
// read deadline, so a peer that stops answering pings is detected after
// readTimeout even if writes still succeed locally.
func (h *WebSocketHandle) ReadLoop(readTimeout time.Duration) error {
	_ = h.conn.SetReadDeadline(h.clock.Now().Add(readTimeout))
	h.conn.SetPongHandler(func(string) error {
		return h.conn.SetReadDeadline(h.clock.Now().Add(readTimeout))
	})

	for {
		if _, _, err := h.conn.NextReader(); err != nil {
			return err
		}
	}
}

package stream

import (
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

const writeTimeout = 5 * time.Second

var heartbeatFrame = []byte("event: heartbeat\ndata: {}\n\n")

// SSEHandle writes text/event-stream frames to an HTTP response. Payload
// frames are unlabelled `data:` lines; heartbeats use `event: heartbeat`.
type SSEHandle struct {
	mu     sync.Mutex
	w      http.ResponseWriter
	rc     *http.ResponseController
	clock  clockwork.Clock
	closed bool
}

// NewSSEHandle sends the stream headers and flushes them so the client sees
// the connection as open.
func NewSSEHandle(w http.ResponseWriter, clock clockwork.Clock) (*SSEHandle, error) {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	if err := rc.Flush(); err != nil {
		return nil, fmt.Errorf("response does not support streaming: %w", err)
	}

	return &SSEHandle{w: w, rc: rc, clock: clock}, nil
}

func (h *SSEHandle) Transport() string { return "sse" }

func (h *SSEHandle) WriteData(data []byte) error {
	frame := make([]byte, 0, len(data)+8)
	frame = append(frame, "data: "...)
	frame = append(frame, data...)
	frame = append(frame, "\n\n"...)
	return h.writeFrame(frame)
}

func (h *SSEHandle) WriteHeartbeat() error {
	return h.writeFrame(heartbeatFrame)
}

func (h *SSEHandle) writeFrame(frame []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return errConnectionClosed
	}

	if err := h.rc.SetWriteDeadline(h.clock.Now().Add(writeTimeout)); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return fmt.Errorf("failed to set write deadline: %w", err)
	}
	if _, err := h.w.Write(frame); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	if err := h.rc.Flush(); err != nil {
		return fmt.Errorf("failed to flush frame: %w", err)
	}
	return nil
}

// Close marks the handle closed. The owning HTTP handler returns afterwards,
// which ends the response.
func (h *SSEHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	return nil
}

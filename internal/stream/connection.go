package stream

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

type frameKind string

const (
	frameData      frameKind = "data"
	frameHeartbeat frameKind = "heartbeat"
)

var errConnectionClosed = errors.New("connection closed")

// Connection is one registered push stream. Its context is cancelled exactly
// once, which stops both the heartbeat loop and the idle timer.
type Connection struct {
	id       string
	userID   string
	handle   Handle
	registry *Registry

	ctx    context.Context
	cancel context.CancelFunc

	writeMu   sync.Mutex
	idleTimer clockwork.Timer

	closeOnce sync.Once
	done      chan struct{}
}

func newConnection(r *Registry, userID string, handle Handle) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	return &Connection{
		id:       uuid.NewString(),
		userID:   userID,
		handle:   handle,
		registry: r,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

func (c *Connection) ID() string     { return c.id }
func (c *Connection) UserID() string { return c.userID }

// Done is closed once the connection was torn down and its handle closed.
func (c *Connection) Done() <-chan struct{} { return c.done }

func (c *Connection) start() {
	r := c.registry

	c.writeMu.Lock()
	if c.ctx.Err() != nil {
		c.writeMu.Unlock()
		return
	}
	c.idleTimer = r.clock.AfterFunc(r.idleTimeout, func() {
		if c.ctx.Err() != nil {
			return
		}
		slog.Info("Push connection idle, evicting",
			"user_id", c.userID,
			"connection_id", c.id,
			"idle_timeout", r.idleTimeout,
		)
		r.evict(c, ReasonIdleTimeout)
	})
	c.writeMu.Unlock()

	go c.heartbeatLoop()
}

func (c *Connection) heartbeatLoop() {
	r := c.registry
	ticker := r.clock.NewTicker(r.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.Chan():
			if err := c.write(frameHeartbeat, nil); err != nil {
				if errors.Is(err, errConnectionClosed) {
					return
				}
				slog.Info("Heartbeat failed, evicting connection",
					"user_id", c.userID,
					"connection_id", c.id,
					"error", err,
				)
				r.evict(c, ReasonHeartbeatFailed)
				return
			}
		}
	}
}

// write serialises frames on the handle. A successful write counts as
// liveness and re-arms the idle timer.
func (c *Connection) write(kind frameKind, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.ctx.Err() != nil {
		return errConnectionClosed
	}

	var err error
	if kind == frameHeartbeat {
		err = c.handle.WriteHeartbeat()
	} else {
		err = c.handle.WriteData(data)
	}

	m := c.registry.metrics
	if err != nil {
		if m != nil {
			m.WriteFailures.WithLabelValues(string(kind)).Inc()
		}
		return err
	}

	if m != nil {
		m.FramesWritten.WithLabelValues(string(kind)).Inc()
	}
	if c.idleTimer != nil {
		c.idleTimer.Reset(c.registry.idleTimeout)
	}
	return nil
}

// teardown reports whether this call performed the teardown.
func (c *Connection) teardown() bool {
	first := false
	c.closeOnce.Do(func() {
		first = true
		c.cancel()

		c.writeMu.Lock()
		if c.idleTimer != nil {
			c.idleTimer.Stop()
		}
		c.writeMu.Unlock()

		if err := c.handle.Close(); err != nil {
			slog.Debug("Push handle close failed", "connection_id", c.id, "error", err)
		}
		close(c.done)
	})
	return first
}

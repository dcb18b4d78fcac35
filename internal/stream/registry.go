package stream

import (
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/splitpulse/internal/adapter/metrics"
	"github.com/pscheid92/splitpulse/internal/domain"
)

const (
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultIdleTimeout       = 90 * time.Second
	DefaultMaxConnections    = 10000
)

// Eviction reasons, used as the metrics label.
const (
	ReasonSuperseded      = "superseded"
	ReasonWriteFailed     = "write_failed"
	ReasonHeartbeatFailed = "heartbeat_failed"
	ReasonIdleTimeout     = "idle_timeout"
	ReasonClientClosed    = "client_closed"
	ReasonUnregistered    = "unregistered"
	ReasonShutdown        = "shutdown"
)

// Handle is the write side of an open push stream.
// Implementations must make Close safe to call concurrently with writes and
// must not touch the underlying transport once Close has returned.
type Handle interface {
	WriteData(data []byte) error
	WriteHeartbeat() error
	Close() error
}

// transporter is implemented by handles that want their transport counted.
type transporter interface {
	Transport() string
}

type Options struct {
	HeartbeatInterval time.Duration
	IdleTimeout       time.Duration
	MaxConnections    int
	Clock             clockwork.Clock
	Metrics           *metrics.StreamMetrics
}

// Registry holds zero or one Connection per user on this process.
type Registry struct {
	mu     sync.Mutex
	conns  map[string]*Connection
	closed bool

	clock             clockwork.Clock
	heartbeatInterval time.Duration
	idleTimeout       time.Duration
	maxConnections    int
	metrics           *metrics.StreamMetrics
}

var _ domain.LocalDispatcher = (*Registry)(nil)

func NewRegistry(opts Options) *Registry {
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	if opts.MaxConnections <= 0 {
		opts.MaxConnections = DefaultMaxConnections
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}

	return &Registry{
		conns:             make(map[string]*Connection),
		clock:             opts.Clock,
		heartbeatInterval: opts.HeartbeatInterval,
		idleTimeout:       opts.IdleTimeout,
		maxConnections:    opts.MaxConnections,
		metrics:           opts.Metrics,
	}
}

// Register stores handle as the connection for userID and arms its
// heartbeat and idle timers. A previous connection for the same user is
// removed and closed before the new one is stored.
func (r *Registry) Register(userID string, handle Handle) (*Connection, error) {
	conn := newConnection(r, userID, handle)
	superseded := false

	for {
		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			conn.cancel()
			return nil, domain.ErrRegistryClosed
		}

		prev := r.conns[userID]
		if prev == nil {
			// A replacement keeps the slot it freed.
			if !superseded && len(r.conns) >= r.maxConnections {
				r.mu.Unlock()
				conn.cancel()
				if r.metrics != nil {
					r.metrics.Rejected.Inc()
				}
				return nil, domain.ErrTooManyConnections
			}
			r.conns[userID] = conn
			r.setActiveLocked()
			r.mu.Unlock()
			break
		}

		delete(r.conns, userID)
		r.setActiveLocked()
		r.mu.Unlock()

		slog.Info("Push connection superseded",
			"user_id", userID,
			"connection_id", prev.id,
			"replaced_by", conn.id,
		)
		r.finish(prev, ReasonSuperseded)
		superseded = true
	}

	conn.start()

	if r.metrics != nil {
		transport := "unknown"
		if t, ok := handle.(transporter); ok {
			transport = t.Transport()
		}
		r.metrics.ConnectionsOpened.WithLabelValues(transport).Inc()
	}

	slog.Debug("Push connection registered", "user_id", userID, "connection_id", conn.id)
	return conn, nil
}

// Unregister tears down the connection for userID, if any. Safe to call
// repeatedly.
func (r *Registry) Unregister(userID string) {
	r.mu.Lock()
	conn := r.conns[userID]
	if conn != nil {
		delete(r.conns, userID)
		r.setActiveLocked()
	}
	r.mu.Unlock()

	if conn != nil {
		r.finish(conn, ReasonUnregistered)
	}
}

// UnregisterConnection tears down the connection only if it is still the
// current one for userID. A handler whose connection was superseded must not
// evict its successor.
func (r *Registry) UnregisterConnection(userID, connectionID string) {
	r.mu.Lock()
	conn := r.conns[userID]
	if conn == nil || conn.id != connectionID {
		r.mu.Unlock()
		return
	}
	delete(r.conns, userID)
	r.setActiveLocked()
	r.mu.Unlock()

	r.finish(conn, ReasonClientClosed)
}

// DispatchLocal writes data to the user's connection on this process. It
// reports whether a live connection took the write. A failed write evicts
// the connection.
func (r *Registry) DispatchLocal(userID string, data []byte) bool {
	r.mu.Lock()
	conn := r.conns[userID]
	r.mu.Unlock()

	if conn == nil {
		return false
	}

	if err := conn.write(frameData, data); err != nil {
		slog.Warn("Push write failed, evicting connection",
			"user_id", userID,
			"connection_id", conn.id,
			"error", err,
		)
		r.evict(conn, ReasonWriteFailed)
		return false
	}
	return true
}

// Count returns the number of connections held by this process.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// Has reports whether userID has a connection on this process.
func (r *Registry) Has(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.conns[userID]
	return ok
}

// Accepting reports whether new connections can still register.
func (r *Registry) Accepting() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.closed
}

// Shutdown closes every connection and rejects further registrations.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	conns := make([]*Connection, 0, len(r.conns))
	for userID, conn := range r.conns {
		conns = append(conns, conn)
		delete(r.conns, userID)
	}
	r.setActiveLocked()
	r.mu.Unlock()

	for _, conn := range conns {
		r.finish(conn, ReasonShutdown)
	}
	slog.Info("Connection registry shut down", "closed_connections", len(conns))
}

// evict removes conn if it still owns its slot, then tears it down.
func (r *Registry) evict(conn *Connection, reason string) {
	r.mu.Lock()
	if r.conns[conn.userID] == conn {
		delete(r.conns, conn.userID)
		r.setActiveLocked()
	}
	r.mu.Unlock()

	r.finish(conn, reason)
}

func (r *Registry) finish(conn *Connection, reason string) {
	if !conn.teardown() {
		return
	}
	if r.metrics != nil {
		r.metrics.Evictions.WithLabelValues(reason).Inc()
	}
	slog.Debug("Push connection closed",
		"user_id", conn.userID,
		"connection_id", conn.id,
		"reason", reason,
	)
}

func (r *Registry) setActiveLocked() {
	if r.metrics != nil {
		r.metrics.ActiveConnections.Set(float64(len(r.conns)))
	}
}

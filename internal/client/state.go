package client

import (
	"time"
)

// Mode is the push-connection state of a receiver.
type Mode int

const (
	ModeDisconnected Mode = iota
	ModeStreaming
	ModePollingOnly
)

func (m Mode) String() string {
	switch m {
	case ModeDisconnected:
		return "disconnected"
	case ModeStreaming:
		return "streaming"
	case ModePollingOnly:
		return "polling-only"
	default:
		return "unknown"
	}
}

// Policy is the backoff and circuit-breaker configuration.
type Policy struct {
	// BaseInterval is the fetch cadence while healthy.
	BaseInterval time.Duration
	// FailureThreshold is the failure count at which the stream is abandoned.
	FailureThreshold int
}

var DefaultPolicy = Policy{
	BaseInterval:     60 * time.Second,
	FailureThreshold: 3,
}

// State is the receiver's full state. Loading and Err are an overlay that is
// independent of Mode.
type State struct {
	Mode     Mode
	Failures int
	Count    int
	HasCount bool

	Loading bool
	Err     error

	mounted       bool
	streamPending bool
}

// Effects are the side effects a transition asks the runtime to perform.
type Effects struct {
	FetchNow bool
	// NextFetch, when positive, replaces any pending fetch timer.
	NextFetch   time.Duration
	OpenStream  bool
	CloseStream bool
	StopTimer   bool
}

// BackoffDelay is base × 2^failures with the exponent held at the threshold,
// so polling keeps a finite cadence after the stream has been abandoned.
func (p Policy) BackoffDelay(failures int) time.Duration {
	exp := min(max(failures, 0), p.FailureThreshold)
	return p.BaseInterval << exp
}

// Mount starts a session: one immediate fetch and a push connection attempt.
func (p Policy) Mount(s State) (State, Effects) {
	s = State{mounted: true, Loading: true, streamPending: true}
	return s, Effects{FetchNow: true, OpenStream: true}
}

// FetchSucceeded records a fetched count, schedules the next fetch at the
// base interval and reopens the push connection when none is open.
func (p Policy) FetchSucceeded(s State, count int) (State, Effects) {
	if !s.mounted {
		return s, Effects{}
	}
	s.Count, s.HasCount = count, true
	s.Loading, s.Err = false, nil

	eff := Effects{NextFetch: p.BaseInterval}
	if s.Mode == ModeDisconnected && !s.streamPending {
		s.streamPending = true
		eff.OpenStream = true
	}
	return s, eff
}

// FetchFailed surfaces err and backs off. Fetch failures count towards the
// threshold like stream failures do.
func (p Policy) FetchFailed(s State, err error) (State, Effects) {
	if !s.mounted {
		return s, Effects{}
	}
	s.Loading, s.Err = false, err
	return p.fail(s)
}

// StreamOpened marks the push connection live. It does not clear the
// failure count: a server that accepts and then drops every stream must
// still trip the breaker.
func (p Policy) StreamOpened(s State) (State, Effects) {
	if !s.mounted || !s.streamPending {
		return s, Effects{CloseStream: true}
	}
	s.streamPending = false
	s.Mode = ModeStreaming
	return s, Effects{}
}

// StreamFailed handles a push-connection error silently: no user-visible
// error, only the backoff schedule and the circuit breaker change.
func (p Policy) StreamFailed(s State) (State, Effects) {
	if !s.mounted || (s.Mode != ModeStreaming && !s.streamPending) {
		return s, Effects{}
	}
	s.streamPending = false
	if s.Mode == ModeStreaming {
		s.Mode = ModeDisconnected
	}
	s, eff := p.fail(s)
	eff.CloseStream = true
	return s, eff
}

// StreamSkipped records that no connection was attempted, e.g. because no
// token is stored. It is not a failure; the next successful fetch tries again.
func (p Policy) StreamSkipped(s State) (State, Effects) {
	s.streamPending = false
	return s, Effects{}
}

func (p Policy) fail(s State) (State, Effects) {
	s.Failures++
	eff := Effects{NextFetch: p.BackoffDelay(s.Failures)}
	if s.Failures >= p.FailureThreshold && s.Mode != ModePollingOnly {
		s.Mode = ModePollingOnly
		s.streamPending = false
		eff.CloseStream = true
	}
	return s, eff
}

// FrameReceived applies a pushed count.
func (p Policy) FrameReceived(s State, count int) (State, Effects) {
	if !s.mounted {
		return s, Effects{}
	}
	s.Count, s.HasCount = count, true
	return s, Effects{}
}

// ManualRefresh fetches now and always retries the push connection when it
// is not open. An attempt still waiting for the server is abandoned and
// replaced. The failure count drops to one, not zero, so a single retry
// does not re-arm full-speed polling.
func (p Policy) ManualRefresh(s State) (State, Effects) {
	if !s.mounted {
		return s, Effects{}
	}
	s.Failures = 1
	s.Loading, s.Err = true, nil

	eff := Effects{FetchNow: true}
	if s.Mode != ModeStreaming {
		eff.CloseStream = s.streamPending
		s.Mode = ModeDisconnected
		s.streamPending = true
		eff.OpenStream = true
	}
	return s, eff
}

func (p Policy) DismissError(s State) (State, Effects) {
	s.Err = nil
	return s, Effects{}
}

// Teardown stops the timer and closes the push connection. Later results
// are ignored.
func (p Policy) Teardown(s State) (State, Effects) {
	s.mounted = false
	s.streamPending = false
	s.Mode = ModeDisconnected
	s.Loading = false
	return s, Effects{StopTimer: true, CloseStream: true}
}

// Mounted reports whether the session is live.
func (s State) Mounted() bool { return s.mounted }

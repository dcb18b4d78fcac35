package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/splitpulse/internal/domain"
)

const (
	defaultFetchTimeout      = 10 * time.Second
	defaultStreamIdleTimeout = 90 * time.Second
	defaultStreamOpenTimeout = 30 * time.Second
	maxResponseSize          = 64 * 1024
)

var (
	errStreamIdle        = errors.New("stream idle timeout")
	errStreamOpenTimeout = errors.New("stream open timeout")
	errStreamClosed      = errors.New("stream closed by server")
)

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.StatusCode)
}

type Config struct {
	// APIBase is the server's base URL, with or without the API prefix.
	APIBase   string
	APIPrefix string

	Tokens     TokenSource
	HTTPClient *http.Client
	Clock      clockwork.Clock
	Policy     Policy
	UserAgent  string

	FetchTimeout time.Duration
	// StreamOpenTimeout bounds the wait for the stream's response headers.
	StreamOpenTimeout time.Duration
	// StreamIdleTimeout drops a stream that delivered nothing, not even a
	// heartbeat, for this long.
	StreamIdleTimeout time.Duration

	// OnChange is called from the receiver goroutine after every transition.
	OnChange func(State)
}

// Receiver keeps an unread count current through a push stream plus
// periodic fetches. All state lives in the Run goroutine; other goroutines
// talk to it through events.
type Receiver struct {
	cfg       Config
	unreadURL string
	streamURL string

	streamClient *http.Client
	events       chan any
	done         chan struct{}
	started      atomic.Bool
}

type (
	fetchDone struct {
		count int
		err   error
	}
	streamOpened struct{ gen uint64 }
	streamFailed struct {
		gen uint64
		err error
	}
	frameReceived struct {
		gen   uint64
		count int
	}
	manualRefresh struct{}
	dismissError  struct{}
)

func NewReceiver(cfg Config) (*Receiver, error) {
	if cfg.Tokens == nil {
		return nil, errors.New("token source is required")
	}
	if cfg.APIPrefix == "" {
		cfg.APIPrefix = DefaultAPIPrefix
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Policy.BaseInterval <= 0 {
		cfg.Policy.BaseInterval = DefaultPolicy.BaseInterval
	}
	if cfg.Policy.FailureThreshold <= 0 {
		cfg.Policy.FailureThreshold = DefaultPolicy.FailureThreshold
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = defaultFetchTimeout
	}
	if cfg.StreamIdleTimeout <= 0 {
		cfg.StreamIdleTimeout = defaultStreamIdleTimeout
	}
	if cfg.StreamOpenTimeout <= 0 {
		cfg.StreamOpenTimeout = defaultStreamOpenTimeout
	}

	unreadURL, err := ResolveEndpoint(cfg.APIBase, cfg.APIPrefix, unreadPath)
	if err != nil {
		return nil, err
	}
	streamURL, err := ResolveEndpoint(cfg.APIBase, cfg.APIPrefix, streamPath)
	if err != nil {
		return nil, err
	}
	if u, _ := url.Parse(unreadURL); !u.IsAbs() {
		return nil, fmt.Errorf("API base must be an absolute URL, got %q", cfg.APIBase)
	}

	// The stream lives far longer than any request timeout.
	streamClient := *cfg.HTTPClient
	streamClient.Timeout = 0

	return &Receiver{
		cfg:          cfg,
		unreadURL:    unreadURL,
		streamURL:    streamURL,
		streamClient: &streamClient,
		events:       make(chan any, 16),
		done:         make(chan struct{}),
	}, nil
}

// Refresh is the user's manual retry.
func (r *Receiver) Refresh() { r.send(manualRefresh{}) }

// DismissError clears the visible fetch error.
func (r *Receiver) DismissError() { r.send(dismissError{}) }

// Run mounts the receiver and blocks until ctx is cancelled, then tears down.
// A Receiver runs once.
func (r *Receiver) Run(ctx context.Context) error {
	if !r.started.CompareAndSwap(false, true) {
		return errors.New("receiver already running")
	}
	defer close(r.done)

	l := &loop{r: r, ctx: ctx, policy: r.cfg.Policy}
	state := l.apply(l.policy.Mount(State{}))

	for {
		select {
		case <-ctx.Done():
			l.apply(l.policy.Teardown(state))
			return nil
		case <-l.timerC:
			l.startFetch()
		case ev := <-r.events:
			state = l.apply(l.handle(state, ev))
		}
	}
}

func (r *Receiver) send(ev any) {
	select {
	case r.events <- ev:
	case <-r.done:
	}
}

// loop is the Run goroutine's private state.
type loop struct {
	r      *Receiver
	ctx    context.Context
	policy Policy

	timer    clockwork.Timer
	timerC   <-chan time.Time
	fetching bool

	streamGen    uint64
	streamCancel context.CancelFunc
}

func (l *loop) handle(s State, ev any) (State, Effects) {
	switch ev := ev.(type) {
	case fetchDone:
		l.fetching = false
		if ev.err != nil {
			slog.Debug("Unread count fetch failed", "error", ev.err)
			return l.policy.FetchFailed(s, ev.err)
		}
		return l.policy.FetchSucceeded(s, ev.count)
	case streamOpened:
		if ev.gen != l.streamGen {
			return s, Effects{}
		}
		return l.policy.StreamOpened(s)
	case streamFailed:
		if ev.gen != l.streamGen {
			return s, Effects{}
		}
		slog.Debug("Push stream failed", "error", ev.err, "failures", s.Failures+1)
		return l.policy.StreamFailed(s)
	case frameReceived:
		if ev.gen != l.streamGen {
			return s, Effects{}
		}
		return l.policy.FrameReceived(s, ev.count)
	case manualRefresh:
		return l.policy.ManualRefresh(s)
	case dismissError:
		return l.policy.DismissError(s)
	default:
		return s, Effects{}
	}
}

func (l *loop) apply(s State, eff Effects) State {
	if eff.StopTimer {
		l.stopTimer()
	}
	if eff.NextFetch > 0 {
		l.stopTimer()
		l.timer = l.r.cfg.Clock.NewTimer(eff.NextFetch)
		l.timerC = l.timer.Chan()
	}
	if eff.CloseStream {
		l.closeStream()
	}
	if eff.FetchNow {
		l.startFetch()
	}
	if eff.OpenStream {
		if !l.openStream() {
			s, _ = l.policy.StreamSkipped(s)
		}
	}

	if l.r.cfg.OnChange != nil {
		l.r.cfg.OnChange(s)
	}
	return s
}

func (l *loop) stopTimer() {
	if l.timer != nil {
		l.timer.Stop()
	}
	l.timer, l.timerC = nil, nil
}

// startFetch runs one count fetch unless one is already in flight. The
// fetch is not tied to Run's context: a teardown does not abort it, its
// result is simply dropped.
func (l *loop) startFetch() {
	if l.fetching {
		return
	}
	l.fetching = true

	ctx, cancel := context.WithTimeout(context.WithoutCancel(l.ctx), l.r.cfg.FetchTimeout)
	go func() {
		defer cancel()
		count, err := l.r.fetchUnread(ctx)
		l.r.send(fetchDone{count: count, err: err})
	}()
}

func (l *loop) openStream() bool {
	token, err := l.r.cfg.Tokens.Token()
	if err != nil {
		slog.Debug("Not opening push stream", "error", err)
		return false
	}

	l.closeStream()
	l.streamGen++
	ctx, cancel := context.WithCancel(l.ctx)
	l.streamCancel = cancel

	gen := l.streamGen
	go func() {
		err := l.r.readStream(ctx, gen, token)
		if ctx.Err() != nil {
			return
		}
		l.r.send(streamFailed{gen: gen, err: err})
	}()
	return true
}

func (l *loop) closeStream() {
	if l.streamCancel != nil {
		l.streamCancel()
		l.streamCancel = nil
	}
}

func (r *Receiver) newRequest(ctx context.Context, target, token, accept string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", accept)
	if r.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", r.cfg.UserAgent)
	}
	return req, nil
}

func (r *Receiver) fetchUnread(ctx context.Context) (int, error) {
	token, err := r.cfg.Tokens.Token()
	if err != nil {
		return 0, err
	}

	req, err := r.newRequest(ctx, r.unreadURL, token, "application/json")
	if err != nil {
		return 0, err
	}
	resp, err := r.cfg.HTTPClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch unread count: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return 0, &StatusError{StatusCode: resp.StatusCode}
	}

	var body domain.UnreadCount
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(&body); err != nil {
		return 0, fmt.Errorf("failed to decode unread count: %w", err)
	}
	return body.Count, nil
}

// readStream holds the push stream open until it fails or ctx is cancelled.
// It always returns a non-nil error.
func (r *Receiver) readStream(ctx context.Context, gen uint64, token string) error {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	req, err := r.newRequest(ctx, r.streamURL, token, "text/event-stream")
	if err != nil {
		return err
	}
	req.Header.Set("Cache-Control", "no-cache")

	// The client has no overall timeout, so a server that never answers
	// would hold the attempt open forever.
	openTimer := r.cfg.Clock.AfterFunc(r.cfg.StreamOpenTimeout, func() { cancel(errStreamOpenTimeout) })
	resp, err := r.streamClient.Do(req)
	openTimer.Stop()
	if err != nil {
		if cause := context.Cause(ctx); cause != nil {
			return cause
		}
		return fmt.Errorf("failed to open stream: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return &StatusError{StatusCode: resp.StatusCode}
	}
	r.send(streamOpened{gen: gen})

	watchdog := r.cfg.Clock.AfterFunc(r.cfg.StreamIdleTimeout, func() { cancel(errStreamIdle) })
	defer watchdog.Stop()

	err = readEvents(resp.Body,
		func() { watchdog.Reset(r.cfg.StreamIdleTimeout) },
		func(event, data string) {
			if event != "" {
				return
			}
			var payload domain.UnreadPayload
			if err := json.Unmarshal([]byte(data), &payload); err != nil {
				slog.Debug("Ignoring malformed push frame", "error", err)
				return
			}
			r.send(frameReceived{gen: gen, count: payload.Unread})
		},
	)

	if cause := context.Cause(ctx); cause != nil {
		return cause
	}
	if errors.Is(err, io.EOF) {
		return errStreamClosed
	}
	return err
}

package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/splitpulse/internal/adapter/auth"
	"github.com/pscheid92/splitpulse/internal/adapter/httpserver"
	"github.com/pscheid92/splitpulse/internal/adapter/memory"
	"github.com/pscheid92/splitpulse/internal/app"
	"github.com/pscheid92/splitpulse/internal/domain"
	"github.com/pscheid92/splitpulse/internal/platform/config"
	"github.com/pscheid92/splitpulse/internal/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	eventually = 3 * time.Second
	tick       = 10 * time.Millisecond
)

type stateRecorder struct {
	mu     sync.Mutex
	latest State
}

func (r *stateRecorder) record(s State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.latest = s
}

func (r *stateRecorder) get() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.latest
}

func (r *stateRecorder) waitFor(t *testing.T, cond func(State) bool) State {
	t.Helper()
	require.Eventually(t, func() bool { return cond(r.get()) }, eventually, tick)
	return r.get()
}

func startReceiver(t *testing.T, cfg Config) (*Receiver, *stateRecorder) {
	t.Helper()

	rec := &stateRecorder{}
	cfg.OnChange = rec.record
	rcv, err := NewReceiver(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = rcv.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return rcv, rec
}

// streamHangs makes the fake stream endpoint accept the request and never
// send response headers.
const streamHangs = 0

// fakeAPI serves the unread endpoint and fails every stream attempt.
type fakeAPI struct {
	fetches        atomic.Int32
	streamAttempts atomic.Int32
	unreadStatus   int
	streamStatus   int
}

func newFakeAPI(t *testing.T, unreadStatus, streamStatus int) (*fakeAPI, *httptest.Server) {
	t.Helper()

	api := &fakeAPI{unreadStatus: unreadStatus, streamStatus: streamStatus}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/notifications/unread", func(w http.ResponseWriter, r *http.Request) {
		api.fetches.Add(1)
		if api.unreadStatus != http.StatusOK {
			w.WriteHeader(api.unreadStatus)
			return
		}
		_ = json.NewEncoder(w).Encode(domain.UnreadCount{Count: 1})
	})
	mux.HandleFunc("GET /api/notifications/stream", func(w http.ResponseWriter, r *http.Request) {
		api.streamAttempts.Add(1)
		if api.streamStatus == streamHangs {
			<-r.Context().Done()
			return
		}
		w.WriteHeader(api.streamStatus)
	})

	hs := httptest.NewServer(mux)
	t.Cleanup(hs.Close)
	return api, hs
}

func TestNewReceiver_Validation(t *testing.T) {
	_, err := NewReceiver(Config{APIBase: "https://split.example"})
	assert.ErrorContains(t, err, "token source is required")

	_, err = NewReceiver(Config{APIBase: "/api", Tokens: StaticToken("t")})
	assert.ErrorContains(t, err, "absolute URL")
}

func TestReceiver_RunsOnce(t *testing.T) {
	_, hs := newFakeAPI(t, http.StatusOK, http.StatusServiceUnavailable)
	rcv, _ := startReceiver(t, Config{APIBase: hs.URL, Tokens: StaticToken("t"), Clock: clockwork.NewFakeClock()})

	require.Eventually(t, func() bool { return rcv.started.Load() }, eventually, tick)
	assert.Error(t, rcv.Run(context.Background()))
}

func TestReceiver_StopsStreamAttemptsAfterThreshold(t *testing.T) {
	api, hs := newFakeAPI(t, http.StatusOK, http.StatusServiceUnavailable)
	clock := clockwork.NewFakeClock()
	policy := Policy{BaseInterval: time.Minute, FailureThreshold: 3}

	rcv, rec := startReceiver(t, Config{APIBase: hs.URL, Tokens: StaticToken("t"), Clock: clock, Policy: policy})

	// Each poll tick retries the stream until the threshold is reached.
	require.Eventually(t, func() bool {
		clock.Advance(10 * time.Minute)
		return rec.get().Mode == ModePollingOnly
	}, eventually, tick)

	s := rec.get()
	assert.Equal(t, policy.FailureThreshold, s.Failures)
	assert.Nil(t, s.Err, "push failures stay silent")
	assert.Equal(t, int32(policy.FailureThreshold), api.streamAttempts.Load())

	// Polling carries on, the stream is never attempted again.
	fetches := api.fetches.Load()
	require.Eventually(t, func() bool {
		clock.Advance(10 * time.Minute)
		return api.fetches.Load() >= fetches+3
	}, eventually, tick)
	assert.Equal(t, int32(policy.FailureThreshold), api.streamAttempts.Load())
	assert.Equal(t, ModePollingOnly, rec.get().Mode)

	// A manual refresh always tries the stream again.
	rcv.Refresh()
	require.Eventually(t, func() bool { return api.streamAttempts.Load() > int32(policy.FailureThreshold) }, eventually, tick)
	rec.waitFor(t, func(s State) bool { return s.Failures >= 2 })
}

func TestReceiver_UnansweredStreamTimesOutAndRetries(t *testing.T) {
	api, hs := newFakeAPI(t, http.StatusOK, streamHangs)
	clock := clockwork.NewFakeClock()

	_, rec := startReceiver(t, Config{
		APIBase:           hs.URL,
		Tokens:            StaticToken("t"),
		Clock:             clock,
		Policy:            Policy{BaseInterval: time.Minute, FailureThreshold: 5},
		StreamOpenTimeout: 30 * time.Second,
	})
	require.Eventually(t, func() bool { return api.streamAttempts.Load() == 1 }, eventually, tick)

	// The open timeout counts as a stream failure and a later fetch retries.
	require.Eventually(t, func() bool {
		clock.Advance(time.Minute)
		return rec.get().Failures >= 1 && api.streamAttempts.Load() >= 2
	}, eventually, tick)

	s := rec.get()
	assert.NotEqual(t, ModeStreaming, s.Mode)
	assert.Nil(t, s.Err, "push failures stay silent")
}

func TestReceiver_RefreshReplacesUnansweredStream(t *testing.T) {
	api, hs := newFakeAPI(t, http.StatusOK, streamHangs)

	rcv, rec := startReceiver(t, Config{APIBase: hs.URL, Tokens: StaticToken("t"), Clock: clockwork.NewFakeClock()})
	require.Eventually(t, func() bool { return api.streamAttempts.Load() == 1 }, eventually, tick)
	rec.waitFor(t, func(s State) bool { return s.HasCount })

	rcv.Refresh()

	require.Eventually(t, func() bool { return api.streamAttempts.Load() == 2 }, eventually, tick)
	assert.Equal(t, ModeDisconnected, rec.get().Mode)
}

func TestReceiver_FetchErrorIsVisibleAndDismissable(t *testing.T) {
	_, hs := newFakeAPI(t, http.StatusInternalServerError, http.StatusServiceUnavailable)

	rcv, rec := startReceiver(t, Config{APIBase: hs.URL, Tokens: StaticToken("t"), Clock: clockwork.NewFakeClock()})

	s := rec.waitFor(t, func(s State) bool { return s.Err != nil })
	var statusErr *StatusError
	require.ErrorAs(t, s.Err, &statusErr)
	assert.Equal(t, http.StatusInternalServerError, statusErr.StatusCode)

	rcv.DismissError()
	rec.waitFor(t, func(s State) bool { return s.Err == nil })
}

func TestReceiver_NoTokenMeansNoStream(t *testing.T) {
	api, hs := newFakeAPI(t, http.StatusOK, http.StatusOK)

	_, rec := startReceiver(t, Config{APIBase: hs.URL, Tokens: StaticToken(""), Clock: clockwork.NewFakeClock()})

	s := rec.waitFor(t, func(s State) bool { return s.Err != nil })
	assert.True(t, errors.Is(s.Err, ErrNoToken))
	assert.Equal(t, ModeDisconnected, s.Mode)
	assert.Zero(t, api.streamAttempts.Load())
	assert.Zero(t, api.fetches.Load())
}

type serverEnv struct {
	url      string
	svc      *app.Service
	registry *stream.Registry
	token    string
}

func newServerEnv(t *testing.T, userID string) *serverEnv {
	t.Helper()

	cfg := &config.Config{
		AppEnv:             "test",
		APIPrefix:          "/api",
		StreamEnabled:      true,
		HeartbeatInterval:  30 * time.Second,
		IdleTimeout:        90 * time.Second,
		MaxConnections:     10,
		RateLimitPerSecond: 1000,
		RateLimitBurst:     1000,
	}
	registry := stream.NewRegistry(stream.Options{Clock: clockwork.NewFakeClock()})
	svc := app.NewService(memory.NewNotificationRepo(clockwork.NewRealClock()), stream.NewDirectPublisher(registry, nil))
	verifier := auth.NewVerifier("0123456789abcdef0123456789abcdef", time.Hour)
	srv := httpserver.NewServer(cfg, svc, verifier, registry)

	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(hs.Close)
	t.Cleanup(registry.Shutdown)

	token, err := verifier.Issue(userID)
	require.NoError(t, err)
	return &serverEnv{url: hs.URL, svc: svc, registry: registry, token: token}
}

func TestReceiver_CountPushedAfterNewNotification(t *testing.T) {
	const userA = "user-a"
	env := newServerEnv(t, userA)
	ctx := context.Background()
	for range 2 {
		require.NotNil(t, env.svc.CreateNotification(ctx, domain.NewNotification{UserID: userA, Type: "bill_split", Title: "New split"}))
	}

	_, rec := startReceiver(t, Config{APIBase: env.url, Tokens: StaticToken(env.token), Clock: clockwork.NewFakeClock()})

	rec.waitFor(t, func(s State) bool { return s.HasCount && s.Count == 2 })
	rec.waitFor(t, func(s State) bool { return s.Mode == ModeStreaming })
	require.Eventually(t, func() bool { return env.registry.Has(userA) }, eventually, tick)

	require.NotNil(t, env.svc.CreateNotification(ctx, domain.NewNotification{UserID: userA, Type: "payment", Title: "Payment received"}))

	s := rec.waitFor(t, func(s State) bool { return s.Count == 3 })
	assert.Equal(t, ModeStreaming, s.Mode)
	assert.Zero(t, s.Failures)
}

func TestReceiver_MarkReadPushesLowerCount(t *testing.T) {
	const userA = "user-a"
	env := newServerEnv(t, userA)
	ctx := context.Background()
	first := env.svc.CreateNotification(ctx, domain.NewNotification{UserID: userA, Type: "bill_split", Title: "One"})
	require.NotNil(t, first)
	require.NotNil(t, env.svc.CreateNotification(ctx, domain.NewNotification{UserID: userA, Type: "bill_split", Title: "Two"}))

	_, rec := startReceiver(t, Config{APIBase: env.url + "/api/", Tokens: StaticToken(env.token), Clock: clockwork.NewFakeClock()})
	rec.waitFor(t, func(s State) bool { return s.Count == 2 && s.Mode == ModeStreaming })
	require.Eventually(t, func() bool { return env.registry.Has(userA) }, eventually, tick)

	_, err := env.svc.MarkRead(ctx, userA, first.ID)
	require.NoError(t, err)

	rec.waitFor(t, func(s State) bool { return s.Count == 1 })
}

func TestReceiver_ServerEvictionCountsAsStreamFailure(t *testing.T) {
	const userA = "user-a"
	env := newServerEnv(t, userA)

	_, rec := startReceiver(t, Config{APIBase: env.url, Tokens: StaticToken(env.token), Clock: clockwork.NewFakeClock()})
	rec.waitFor(t, func(s State) bool { return s.Mode == ModeStreaming })
	require.Eventually(t, func() bool { return env.registry.Has(userA) }, eventually, tick)

	env.registry.Unregister(userA)

	s := rec.waitFor(t, func(s State) bool { return s.Failures == 1 })
	assert.Equal(t, ModeDisconnected, s.Mode)
	assert.Nil(t, s.Err)
}

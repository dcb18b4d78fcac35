package httpserver

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/splitpulse/internal/adapter/auth"
	"github.com/pscheid92/splitpulse/internal/domain"
	"github.com/pscheid92/splitpulse/internal/platform/config"
	"github.com/pscheid92/splitpulse/internal/stream"
	"github.com/stretchr/testify/require"
)

const (
	testSecret        = "0123456789abcdef0123456789abcdef"
	testServiceSecret = "fedcba9876543210fedcba9876543210"
	testServiceName   = "billing"
	testUserID = "user-1"
)

// --- Mock implementations ---

type mockNotificationService struct {
	createNotificationFn func(ctx context.Context, n domain.NewNotification) *domain.Notification
	broadcastFn          func(ctx context.Context, userID string)
	unreadCountFn        func(ctx context.Context, userID string) (int, error)
	listFn               func(ctx context.Context, userID string, opts domain.ListOptions) ([]domain.Notification, error)
	markReadFn           func(ctx context.Context, userID string, id uuid.UUID) (*domain.Notification, error)
	markAllReadFn        func(ctx context.Context, userID string) (int64, error)
}

func (m *mockNotificationService) CreateNotification(ctx context.Context, n domain.NewNotification) *domain.Notification {
	if m.createNotificationFn != nil {
		return m.createNotificationFn(ctx, n)
	}
	return nil
}

func (m *mockNotificationService) BroadcastUnreadCount(ctx context.Context, userID string) {
	if m.broadcastFn != nil {
		m.broadcastFn(ctx, userID)
	}
}

func (m *mockNotificationService) UnreadCount(ctx context.Context, userID string) (int, error) {
	if m.unreadCountFn != nil {
		return m.unreadCountFn(ctx, userID)
	}
	return 0, nil
}

func (m *mockNotificationService) List(ctx context.Context, userID string, opts domain.ListOptions) ([]domain.Notification, error) {
	if m.listFn != nil {
		return m.listFn(ctx, userID, opts)
	}
	return nil, nil
}

func (m *mockNotificationService) MarkRead(ctx context.Context, userID string, id uuid.UUID) (*domain.Notification, error) {
	if m.markReadFn != nil {
		return m.markReadFn(ctx, userID, id)
	}
	return nil, errors.New("not implemented")
}

func (m *mockNotificationService) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	if m.markAllReadFn != nil {
		return m.markAllReadFn(ctx, userID)
	}
	return 0, nil
}

// --- Test helpers ---

type testServer struct {
	*Server
	verifier *auth.Verifier
	services *auth.Verifier
	registry *stream.Registry
	clock    *clockwork.FakeClock
}

func newTestConfig() *config.Config {
	return &config.Config{
		AppEnv:             "test",
		Port:               "0",
		APIPrefix:          "/api",
		AllowedOrigins:     []string{"http://localhost:3000"},
		StreamEnabled:      true,
		HeartbeatInterval:  30 * time.Second,
		IdleTimeout:        90 * time.Second,
		MaxConnections:     100,
		RateLimitPerSecond: 1000,
		RateLimitBurst:     1000,
	}
}

func newTestServer(t *testing.T, svc domain.NotificationService, opts ...Option) *testServer {
	t.Helper()
	return newTestServerWithConfig(t, newTestConfig(), svc, opts...)
}

func newTestServerWithConfig(t *testing.T, cfg *config.Config, svc domain.NotificationService, opts ...Option) *testServer {
	t.Helper()

	clock := clockwork.NewFakeClock()
	registry := stream.NewRegistry(stream.Options{
		HeartbeatInterval: cfg.HeartbeatInterval,
		IdleTimeout:       cfg.IdleTimeout,
		MaxConnections:    cfg.MaxConnections,
		Clock:             clock,
	})
	t.Cleanup(registry.Shutdown)

	verifier := auth.NewVerifier(testSecret, time.Hour)
	services := auth.NewServiceVerifier(testServiceSecret, time.Hour)
	opts = append([]Option{WithServiceVerifier(services)}, opts...)
	return &testServer{
		Server:   NewServer(cfg, svc, verifier, registry, opts...),
		verifier: verifier,
		services: services,
		registry: registry,
		clock:    clock,
	}
}

func (ts *testServer) token(t *testing.T, userID string) string {
	t.Helper()
	token, err := ts.verifier.Issue(userID)
	require.NoError(t, err)
	return token
}

// do runs an authenticated request for testUserID through the full router.
func (ts *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	return ts.doWithToken(t, method, path, body, ts.token(t, testUserID))
}

// doAsService runs a request carrying testServiceName's service token.
func (ts *testServer) doAsService(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	token, err := ts.services.Issue(testServiceName)
	require.NoError(t, err)
	return ts.doWithToken(t, method, path, body, token)
}

func (ts *testServer) doWithToken(t *testing.T, method, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()

	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	rec := httptest.NewRecorder()
	ts.Handler().ServeHTTP(rec, req)
	return rec
}

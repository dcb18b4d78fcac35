package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/pscheid92/splitpulse/internal/adapter/metrics"
	"github.com/pscheid92/splitpulse/internal/domain"
	"github.com/pscheid92/splitpulse/internal/platform/config"
	"github.com/pscheid92/splitpulse/internal/stream"
)

type tokenVerifier interface {
	Verify(token string) (string, error)
}

type connectionRegistry interface {
	Register(userID string, handle stream.Handle) (*stream.Connection, error)
	UnregisterConnection(userID, connectionID string)
	Count() int
	Accepting() bool
}

type Server struct {
	echo   *echo.Echo
	config *config.Config

	notifications   domain.NotificationService
	verifier        tokenVerifier
	serviceVerifier tokenVerifier
	registry        connectionRegistry
	upgrader        *websocket.Upgrader

	clock        clockwork.Clock
	promRegistry *prometheus.Registry
	httpMetrics  *metrics.HTTPMetrics
	healthChecks []HealthCheck
	startTime    time.Time
}

type Option func(*Server)

func WithHealthChecks(checks ...HealthCheck) Option {
	return func(s *Server) { s.healthChecks = append(s.healthChecks, checks...) }
}

// WithMetrics serves reg on /metrics and records request metrics with m.
func WithMetrics(reg *prometheus.Registry, m *metrics.HTTPMetrics) Option {
	return func(s *Server) {
		s.promRegistry = reg
		s.httpMetrics = m
	}
}

// WithServiceVerifier enables notification creation for callers holding a
// service token.
func WithServiceVerifier(v tokenVerifier) Option {
	return func(s *Server) { s.serviceVerifier = v }
}

func WithClock(clock clockwork.Clock) Option {
	return func(s *Server) { s.clock = clock }
}

func NewServer(cfg *config.Config, notifications domain.NotificationService, verifier tokenVerifier, registry connectionRegistry, opts ...Option) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	srv := &Server{
		echo:          e,
		config:        cfg,
		notifications: notifications,
		verifier:      verifier,
		registry:      registry,
		upgrader:      stream.NewUpgrader(stream.NewCheckOrigin(cfg.AllowedOrigins, cfg.AppEnv == "development")),
		clock:         clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(srv)
	}
	srv.startTime = srv.clock.Now()

	srv.registerRoutes()
	return srv
}

// Handler exposes the router, mainly for httptest servers.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	if err := s.echo.Start(":" + s.config.Port); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones. Open
// streams must be closed through the registry first or this blocks until ctx
// expires.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}

func serviceFrom(c echo.Context) string {
	service, _ := c.Get(contextKeyService).(string)
	return service
}

func userIDFrom(c echo.Context) string {
	userID, _ := c.Get(contextKeyUserID).(string)
	return userID
}

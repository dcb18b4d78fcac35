package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pscheid92/splitpulse/internal/platform/version"
)

const (
	startupProbeTimeout   = 2 * time.Second
	readinessProbeTimeout = 5 * time.Second
)

// HealthCheck probes one dependency, such as the database or the broker.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type livenessResponse struct {
	Status            string  `json:"status"`
	Uptime            float64 `json:"uptime"`
	StreamConnections int     `json:"stream_connections"`
}

type probeResponse struct {
	Status      string `json:"status"`
	FailedCheck string `json:"failed_check,omitempty"`
	Error       string `json:"error,omitempty"`
}

func (s *Server) registerHealthRoutes() {
	s.echo.GET("/health/startup", s.handleStartup)
	s.echo.GET("/health/live", s.handleLiveness)
	s.echo.GET("/health/ready", s.handleReadiness)
	s.echo.GET("/version", s.handleVersion)
}

func (s *Server) handleStartup(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), startupProbeTimeout)
	defer cancel()

	return s.writeProbe(c, s.checkDependencies(ctx))
}

func (s *Server) handleLiveness(c echo.Context) error {
	return writeJSON(c, http.StatusOK, livenessResponse{
		Status:            "ok",
		Uptime:            s.clock.Since(s.startTime).Seconds(),
		StreamConnections: s.registry.Count(),
	})
}

// handleReadiness fails as soon as the registry stops accepting streams, so
// the load balancer routes reconnecting clients to another instance while
// this one drains.
func (s *Server) handleReadiness(c echo.Context) error {
	if !s.registry.Accepting() {
		return writeJSON(c, http.StatusServiceUnavailable, probeResponse{Status: "draining"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), readinessProbeTimeout)
	defer cancel()

	return s.writeProbe(c, s.checkDependencies(ctx))
}

// checkDependencies runs the checks in order and stops at the first failure.
func (s *Server) checkDependencies(ctx context.Context) probeResponse {
	for _, hc := range s.healthChecks {
		if err := hc.Check(ctx); err != nil {
			slog.WarnContext(ctx, "Health check failed", "check", hc.Name, "error", err)
			return probeResponse{Status: "unhealthy", FailedCheck: hc.Name, Error: err.Error()}
		}
	}
	return probeResponse{Status: "ready"}
}

func (s *Server) writeProbe(c echo.Context, resp probeResponse) error {
	status := http.StatusOK
	if resp.FailedCheck != "" {
		status = http.StatusServiceUnavailable
	}
	return writeJSON(c, status, resp)
}

func (s *Server) handleVersion(c echo.Context) error {
	return writeJSON(c, http.StatusOK, version.Get())
}

func writeJSON(c echo.Context, status int, body any) error {
	if err := c.JSON(status, body); err != nil {
		return fmt.Errorf("failed to write response: %w", err)
	}
	return nil
}

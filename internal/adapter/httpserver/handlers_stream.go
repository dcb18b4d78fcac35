package httpserver

import (
	"log/slog"

	"github.com/labstack/echo/v4"
	apperrors "github.com/pscheid92/splitpulse/internal/platform/errors"
	"github.com/pscheid92/splitpulse/internal/stream"
)

func (s *Server) registerStreamRoutes(rateLimiter echo.MiddlewareFunc) {
	base := s.config.APIPrefix + "/notifications"
	s.echo.GET(base+"/stream", s.handleStream, s.requireStreamAuth, rateLimiter)
	s.echo.GET(base+"/ws", s.handleWebSocket, s.requireStreamAuth, rateLimiter)
}

// handleStream holds an SSE response open until the registry tears the
// connection down or the client goes away.
func (s *Server) handleStream(c echo.Context) error {
	if !s.config.StreamEnabled {
		return apperrors.UnavailableError("streaming is disabled")
	}
	userID := userIDFrom(c)
	ctx := c.Request().Context()

	handle, err := stream.NewSSEHandle(c.Response(), s.clock)
	if err != nil {
		return apperrors.InternalError("failed to open event stream", err)
	}

	// Headers are already on the wire, so a rejected registration can only
	// end the response. The client treats that as a stream failure.
	conn, err := s.registry.Register(userID, handle)
	if err != nil {
		slog.WarnContext(ctx, "Push connection rejected", "user_id", userID, "error", err)
		return nil
	}

	select {
	case <-conn.Done():
	case <-ctx.Done():
		s.registry.UnregisterConnection(userID, conn.ID())
		<-conn.Done()
	}
	return nil
}

// handleWebSocket is the duplex variant of handleStream. Pings act as
// heartbeats; a missing pong ends the read loop.
func (s *Server) handleWebSocket(c echo.Context) error {
	if !s.config.StreamEnabled {
		return apperrors.UnavailableError("streaming is disabled")
	}
	userID := userIDFrom(c)
	ctx := c.Request().Context()

	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// The upgrader has already written the error response.
		slog.DebugContext(ctx, "WebSocket upgrade failed", "user_id", userID, "error", err)
		return nil
	}

	handle := stream.NewWebSocketHandle(ws, s.clock)
	conn, err := s.registry.Register(userID, handle)
	if err != nil {
		slog.WarnContext(ctx, "Push connection rejected", "user_id", userID, "error", err)
		_ = handle.Close()
		return nil
	}

	err = handle.ReadLoop(s.config.IdleTimeout)
	slog.DebugContext(ctx, "WebSocket read loop ended", "user_id", userID, "connection_id", conn.ID(), "error", err)

	s.registry.UnregisterConnection(userID, conn.ID())
	<-conn.Done()
	return nil
}

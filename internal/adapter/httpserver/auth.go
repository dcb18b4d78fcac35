package httpserver

import (
	"strings"

	"github.com/labstack/echo/v4"
	apperrors "github.com/pscheid92/splitpulse/internal/platform/errors"
)

const (
	contextKeyUserID  = "userID"
	contextKeyService = "service"

	// accessTokenParam carries the token for EventSource and browser
	// WebSocket clients, which cannot set an Authorization header.
	accessTokenParam = "access_token"
)

// requireAuth resolves the bearer token to a user ID and stores it on the
// context.
func (s *Server) requireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return s.authenticate(next, false)
}

// requireStreamAuth is requireAuth that also accepts the token as a query
// parameter.
func (s *Server) requireStreamAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return s.authenticate(next, true)
}

func (s *Server) authenticate(next echo.HandlerFunc, allowQuery bool) echo.HandlerFunc {
	return func(c echo.Context) error {
		token := bearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
		if token == "" && allowQuery {
			token = c.QueryParam(accessTokenParam)
		}
		if token == "" {
			return apperrors.UnauthorizedError("missing bearer token", nil)
		}

		userID, err := s.verifier.Verify(token)
		if err != nil {
			return apperrors.UnauthorizedError("invalid bearer token", err)
		}

		c.Set(contextKeyUserID, userID)
		return next(c)
	}
}

// requireServiceAuth admits only service tokens. User tokens are rejected, so
// end users cannot create notifications for each other.
func (s *Server) requireServiceAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if s.serviceVerifier == nil {
			return apperrors.UnauthorizedError("service credentials are not configured", nil)
		}

		token := bearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
		if token == "" {
			return apperrors.UnauthorizedError("missing bearer token", nil)
		}

		service, err := s.serviceVerifier.Verify(token)
		if err != nil {
			return apperrors.UnauthorizedError("invalid service token", err)
		}

		c.Set(contextKeyService, service)
		return next(c)
	}
}

func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

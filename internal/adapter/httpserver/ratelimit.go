package httpserver

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pscheid92/splitpulse/internal/adapter/metrics"
	"golang.org/x/time/rate"
)

const rateLimiterExpiry = 5 * time.Minute

// newRateLimiter gives every caller its own token bucket. Routes run it after
// authentication, so the bucket is keyed by user and people sharing a NAT
// address are not throttled together. The client IP is the fallback key.
func newRateLimiter(ratePerSecond float64, burst int, m *metrics.HTTPMetrics) echo.MiddlewareFunc {
	store := middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
		Rate:      rate.Limit(ratePerSecond),
		Burst:     burst,
		ExpiresIn: rateLimiterExpiry,
	})

	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store:               store,
		IdentifierExtractor: rateLimitKey,
		DenyHandler: func(c echo.Context, identifier string, _ error) error {
			m.ObserveRateLimited(c.Path())
			kind, _, _ := strings.Cut(identifier, ":")
			slog.WarnContext(c.Request().Context(), "Request rate limited",
				"route", c.Path(),
				"key_kind", kind,
				"user_id", userIDFrom(c),
			)
			return c.JSON(http.StatusTooManyRequests, map[string]string{"error": "rate limit exceeded"})
		},
	})
}

func rateLimitKey(c echo.Context) (string, error) {
	if userID := userIDFrom(c); userID != "" {
		return "user:" + userID, nil
	}
	return "ip:" + c.RealIP(), nil
}

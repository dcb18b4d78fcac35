// Package correlation ties log lines of one request together, including the
// count push that a write request triggers after it has returned.
package correlation

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
)

// Header carries a correlation ID between the CRUD services and this one.
const Header = "X-Correlation-ID"

const (
	logKey           = "correlation_id"
	maxInboundLength = 64
)

type contextKey struct{}

// NewID returns a short random ID: the first 8 hex digits of a v4 UUID.
func NewID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:4])
}

// FromInbound keeps an upstream ID when it is safe to put in a log line and
// mints a fresh one otherwise.
func FromInbound(value string) string {
	if !isSafe(value) {
		return NewID()
	}
	return value
}

func isSafe(value string) bool {
	if value == "" || len(value) > maxInboundLength {
		return false
	}
	return !strings.ContainsFunc(value, func(r rune) bool {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return false
		}
		return true
	})
}

func WithID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// ID returns the correlation ID carried by ctx, if any.
func ID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(contextKey{}).(string)
	return id, ok && id != ""
}

// Handler decorates log records with the context's correlation ID.
type Handler struct {
	slog.Handler
}

func NewHandler(inner slog.Handler) *Handler {
	return &Handler{Handler: inner}
}

func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	if id, ok := ID(ctx); ok {
		r.AddAttrs(slog.String(logKey, id))
	}
	if err := h.Handler.Handle(ctx, r); err != nil {
		return fmt.Errorf("correlation handler: %w", err)
	}
	return nil
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &Handler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *Handler) WithGroup(name string) slog.Handler {
	return &Handler{Handler: h.Handler.WithGroup(name)}
}

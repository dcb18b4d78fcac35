package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Notification is write-once-then-flag: it is created once and only ever
// mutated to flip Read to true.
type Notification struct {
	ID         uuid.UUID `json:"id"`
	UserID     string    `json:"userId"`
	ActorID    *string   `json:"actorId,omitempty"`
	Type       string    `json:"type"`
	Title      string    `json:"title"`
	Message    string    `json:"message"`
	Amount     *float64  `json:"amount,omitempty"`
	Read       bool      `json:"read"`
	Actionable bool      `json:"actionable"`
	CreatedAt  time.Time `json:"createdAt"`
}

// NewNotification holds the parameters a collaborator supplies when creating
// a notification.
type NewNotification struct {
	UserID     string
	ActorID    *string
	Type       string
	Title      string
	Message    string
	Amount     *float64
	Actionable bool
}

type ListOptions struct {
	Limit      int
	UnreadOnly bool
}

const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

type NotificationRepository interface {
	Create(ctx context.Context, n NewNotification) (*Notification, error)
	CountUnread(ctx context.Context, userID string) (int, error)
	MarkRead(ctx context.Context, userID string, id uuid.UUID) (*Notification, error)
	MarkAllRead(ctx context.Context, userID string) (int64, error)
	List(ctx context.Context, userID string, opts ListOptions) ([]Notification, error)
}

// NotificationService is the surface used by the HTTP layer and by
// out-of-process collaborators.
type NotificationService interface {
	CreateNotification(ctx context.Context, n NewNotification) *Notification
	BroadcastUnreadCount(ctx context.Context, userID string)
	UnreadCount(ctx context.Context, userID string) (int, error)
	List(ctx context.Context, userID string, opts ListOptions) ([]Notification, error)
	MarkRead(ctx context.Context, userID string, id uuid.UUID) (*Notification, error)
	MarkAllRead(ctx context.Context, userID string) (int64, error)
}

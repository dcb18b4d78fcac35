package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/pscheid92/splitpulse/internal/domain"
)

// broadcastTimeout bounds a count push, which runs detached from the
// caller's cancellation.
const broadcastTimeout = 2 * time.Second

// Service is the application layer for notifications. It is the Event
// Emitter used by collaborators and backs the REST endpoints.
type Service struct {
	notifications domain.NotificationRepository
	publisher     domain.Publisher
}

var _ domain.NotificationService = (*Service)(nil)

func NewService(notifications domain.NotificationRepository, publisher domain.Publisher) *Service {
	return &Service{notifications: notifications, publisher: publisher}
}

// CreateNotification persists a notification and pushes the owner's new
// unread count. It never fails the caller: on persistence errors it logs and
// returns nil.
func (s *Service) CreateNotification(ctx context.Context, n domain.NewNotification) *domain.Notification {
	created, err := s.notifications.Create(ctx, n)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to create notification",
			"user_id", n.UserID,
			"type", n.Type,
			"error", err,
		)
	}

	s.BroadcastUnreadCount(ctx, n.UserID)
	return created
}

// BroadcastUnreadCount recomputes the unread count from persisted state and
// publishes it. Errors are logged, never returned. The push outlives a
// cancelled request context.
func (s *Service) BroadcastUnreadCount(ctx context.Context, userID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), broadcastTimeout)
	defer cancel()

	count, err := s.notifications.CountUnread(ctx, userID)
	if err != nil {
		slog.WarnContext(ctx, "Failed to count unread notifications for push", "user_id", userID, "error", err)
		return
	}

	if err := s.publisher.Publish(ctx, userID, domain.UnreadPayload{Unread: count}); err != nil {
		slog.WarnContext(ctx, "Failed to publish unread count", "user_id", userID, "unread", count, "error", err)
	}
}

func (s *Service) UnreadCount(ctx context.Context, userID string) (int, error) {
	count, err := s.notifications.CountUnread(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to count unread notifications: %w", err)
	}
	return count, nil
}

func (s *Service) List(ctx context.Context, userID string, opts domain.ListOptions) ([]domain.Notification, error) {
	switch {
	case opts.Limit <= 0:
		opts.Limit = domain.DefaultListLimit
	case opts.Limit > domain.MaxListLimit:
		opts.Limit = domain.MaxListLimit
	}

	list, err := s.notifications.List(ctx, userID, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	return list, nil
}

// MarkRead marks one of the caller's notifications read and pushes the new
// count. Returns domain.ErrNotificationNotFound for foreign or unknown IDs.
func (s *Service) MarkRead(ctx context.Context, userID string, id uuid.UUID) (*domain.Notification, error) {
	n, err := s.notifications.MarkRead(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	s.BroadcastUnreadCount(ctx, userID)
	return n, nil
}

// MarkAllRead marks all of the caller's unread notifications read, pushes the
// new count, and returns how many were updated.
func (s *Service) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	updated, err := s.notifications.MarkAllRead(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to mark all notifications read: %w", err)
	}

	s.BroadcastUnreadCount(ctx, userID)
	return updated, nil
}

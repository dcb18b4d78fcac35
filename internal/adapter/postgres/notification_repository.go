package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pscheid92/splitpulse/internal/domain"
)

// notificationColumns must match the Scan order in scanNotification.
const notificationColumns = `id, user_id, actor_id, type, title, message, amount, read, actionable, created_at`

type NotificationRepo struct {
	pool *pgxpool.Pool
}

var _ domain.NotificationRepository = (*NotificationRepo)(nil)

func NewNotificationRepo(pool *pgxpool.Pool) *NotificationRepo {
	return &NotificationRepo{pool: pool}
}

func scanNotification(row pgx.Row) (domain.Notification, error) {
	var n domain.Notification
	err := row.Scan(&n.ID, &n.UserID, &n.ActorID, &n.Type, &n.Title, &n.Message, &n.Amount, &n.Read, &n.Actionable, &n.CreatedAt)
	return n, err
}

func (r *NotificationRepo) Create(ctx context.Context, nn domain.NewNotification) (*domain.Notification, error) {
	row := r.pool.QueryRow(ctx, `-- name: CreateNotification
		INSERT INTO notifications (user_id, actor_id, type, title, message, amount, actionable)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+notificationColumns,
		nn.UserID, nn.ActorID, nn.Type, nn.Title, nn.Message, nn.Amount, nn.Actionable,
	)

	n, err := scanNotification(row)
	if err != nil {
		return nil, fmt.Errorf("failed to insert notification: %w", err)
	}
	return &n, nil
}

func (r *NotificationRepo) CountUnread(ctx context.Context, userID string) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `-- name: CountUnread
		SELECT count(*) FROM notifications WHERE user_id = $1 AND NOT read`,
		userID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count unread notifications: %w", err)
	}
	return count, nil
}

// MarkRead flips a single notification to read. A notification owned by
// another user is reported as not found.
func (r *NotificationRepo) MarkRead(ctx context.Context, userID string, id uuid.UUID) (*domain.Notification, error) {
	row := r.pool.QueryRow(ctx, `-- name: MarkRead
		UPDATE notifications SET read = true
		WHERE id = $1 AND user_id = $2
		RETURNING `+notificationColumns,
		id, userID,
	)

	n, err := scanNotification(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotificationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to mark notification read: %w", err)
	}
	return &n, nil
}

func (r *NotificationRepo) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	tag, err := r.pool.Exec(ctx, `-- name: MarkAllRead
		UPDATE notifications SET read = true WHERE user_id = $1 AND NOT read`,
		userID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to mark all notifications read: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *NotificationRepo) List(ctx context.Context, userID string, opts domain.ListOptions) ([]domain.Notification, error) {
	rows, err := r.pool.Query(ctx, `-- name: ListNotifications
		SELECT `+notificationColumns+`
		FROM notifications
		WHERE user_id = $1 AND (NOT $2 OR NOT read)
		ORDER BY created_at DESC, id
		LIMIT $3`,
		userID, opts.UnreadOnly, opts.Limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}

	list, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Notification, error) {
		return scanNotification(row)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan notifications: %w", err)
	}
	return list, nil
}

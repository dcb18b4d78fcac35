package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/splitpulse/internal/domain"
)

// NotificationRepo keeps notifications in process memory. Used in development
// without a database and in tests.
type NotificationRepo struct {
	mu            sync.RWMutex
	clock         clockwork.Clock
	notifications map[uuid.UUID]*domain.Notification
	byUser        map[string][]uuid.UUID
}

var _ domain.NotificationRepository = (*NotificationRepo)(nil)

func NewNotificationRepo(clock clockwork.Clock) *NotificationRepo {
	return &NotificationRepo{
		clock:         clock,
		notifications: make(map[uuid.UUID]*domain.Notification),
		byUser:        make(map[string][]uuid.UUID),
	}
}

func (r *NotificationRepo) Create(_ context.Context, nn domain.NewNotification) (*domain.Notification, error) {
	n := &domain.Notification{
		ID:         uuid.New(),
		UserID:     nn.UserID,
		ActorID:    nn.ActorID,
		Type:       nn.Type,
		Title:      nn.Title,
		Message:    nn.Message,
		Amount:     nn.Amount,
		Actionable: nn.Actionable,
		CreatedAt:  r.clock.Now().UTC(),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifications[n.ID] = n
	r.byUser[n.UserID] = append(r.byUser[n.UserID], n.ID)

	c := *n
	return &c, nil
}

func (r *NotificationRepo) CountUnread(_ context.Context, userID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, id := range r.byUser[userID] {
		if !r.notifications[id].Read {
			count++
		}
	}
	return count, nil
}

func (r *NotificationRepo) MarkRead(_ context.Context, userID string, id uuid.UUID) (*domain.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.notifications[id]
	if !ok || n.UserID != userID {
		return nil, domain.ErrNotificationNotFound
	}
	n.Read = true

	c := *n
	return &c, nil
}

func (r *NotificationRepo) MarkAllRead(_ context.Context, userID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var updated int64
	for _, id := range r.byUser[userID] {
		if n := r.notifications[id]; !n.Read {
			n.Read = true
			updated++
		}
	}
	return updated, nil
}

// List returns newest first; insertion order breaks timestamp ties.
func (r *NotificationRepo) List(_ context.Context, userID string, opts domain.ListOptions) ([]domain.Notification, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.byUser[userID]
	list := make([]domain.Notification, 0, len(ids))
	for _, id := range slices.Backward(ids) {
		n := r.notifications[id]
		if opts.UnreadOnly && n.Read {
			continue
		}
		list = append(list, *n)
		if opts.Limit > 0 && len(list) == opts.Limit {
			break
		}
	}
	return list, nil
}

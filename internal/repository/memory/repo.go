// Package memory provides an in-process notification store with the same
// compare-and-swap contract as the PostgreSQL repository.
//
// It is used for local runs without a database and as the store behind the
// dispatch pipeline tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aliskhannn/notification-dispatcher/internal/model"
	"github.com/aliskhannn/notification-dispatcher/internal/repository/notification"
)

// Repository keeps notifications in a map guarded by a mutex.
type Repository struct {
	mu            sync.Mutex
	notifications map[uuid.UUID]model.Notification
	now           func() time.Time
}

// NewRepository creates an empty in-memory repository.
func NewRepository() *Repository {
	return &Repository{
		notifications: make(map[uuid.UUID]model.Notification),
		now:           time.Now,
	}
}

// WithClock replaces the time source. Tests use it to age rows.
func (r *Repository) WithClock(now func() time.Time) *Repository {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.now = now
	return r
}

// clone detaches pointer fields so callers never share state with the map.
func clone(n model.Notification) model.Notification {
	if n.ErrorDetail != nil {
		v := *n.ErrorDetail
		n.ErrorDetail = &v
	}
	if n.UpdatedAt != nil {
		v := *n.UpdatedAt
		n.UpdatedAt = &v
	}
	if n.SentAt != nil {
		v := *n.SentAt
		n.SentAt = &v
	}
	return n
}

// touch returns a new updated_at for n at least a microsecond after its
// previous change, matching the PostgreSQL store.
func (r *Repository) touch(n model.Notification) time.Time {
	now := r.now().Truncate(time.Microsecond)

	prev := lastChange(n).Truncate(time.Microsecond)
	if !now.After(prev) {
		now = prev.Add(time.Microsecond)
	}

	return now
}

func lastChange(n model.Notification) time.Time {
	if n.UpdatedAt != nil {
		return *n.UpdatedAt
	}

	return n.CreatedAt
}

// byCreated orders by created_at, then by id so equal timestamps are stable.
func byCreated(items []model.Notification, asc bool) {
	sort.Slice(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			if asc {
				return a.CreatedAt.Before(b.CreatedAt)
			}
			return a.CreatedAt.After(b.CreatedAt)
		}

		if asc {
			return a.ID.String() < b.ID.String()
		}
		return a.ID.String() > b.ID.String()
	})
}

// Insert creates a pending notification.
func (r *Repository) Insert(_ context.Context, in model.CreateNotification) (model.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := model.Notification{
		ID:          uuid.New(),
		RecipientID: in.RecipientID,
		ChannelType: in.ChannelType,
		Subject:     in.Subject,
		Content:     in.Content,
		Status:      model.StatusPending,
		CreatedAt:   r.now(),
	}
	r.notifications[n.ID] = n

	return clone(n), nil
}

// Get returns a notification by id.
func (r *Repository) Get(_ context.Context, id uuid.UUID) (model.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.notifications[id]
	if !ok {
		return model.Notification{}, notification.ErrNotificationNotFound
	}

	return clone(n), nil
}

// List returns matching notifications, pending oldest first, others newest first.
func (r *Repository) List(_ context.Context, filter model.Filter, page model.Page) ([]model.Notification, error) {
	page = page.Normalize()

	r.mu.Lock()
	matched := make([]model.Notification, 0, len(r.notifications))
	for _, n := range r.notifications {
		if filter.RecipientID != "" && n.RecipientID != filter.RecipientID {
			continue
		}
		if filter.ChannelType != "" && n.ChannelType != filter.ChannelType {
			continue
		}
		if filter.Status != "" && n.Status != filter.Status {
			continue
		}
		matched = append(matched, clone(n))
	}
	r.mu.Unlock()

	byCreated(matched, filter.Status == model.StatusPending)

	return paginate(matched, page), nil
}

func paginate(items []model.Notification, page model.Page) []model.Notification {
	if page.Offset >= len(items) {
		return []model.Notification{}
	}

	end := page.Offset + page.Limit
	if end > len(items) {
		end = len(items)
	}

	return items[page.Offset:end]
}

// ListStalePending returns pending notifications last changed at or before olderThan.
func (r *Repository) ListStalePending(_ context.Context, olderThan time.Time, limit int) ([]model.Notification, error) {
	return r.listStale(model.StatusPending, olderThan, limit), nil
}

// ListStaleProcessing returns processing notifications last changed at or before olderThan.
func (r *Repository) ListStaleProcessing(_ context.Context, olderThan time.Time, limit int) ([]model.Notification, error) {
	return r.listStale(model.StatusProcessing, olderThan, limit), nil
}

func (r *Repository) listStale(status model.Status, olderThan time.Time, limit int) []model.Notification {
	r.mu.Lock()
	stale := make([]model.Notification, 0)
	for _, n := range r.notifications {
		if n.Status != status || lastChange(n).After(olderThan) {
			continue
		}

		stale = append(stale, clone(n))
	}
	r.mu.Unlock()

	byCreated(stale, true)

	if limit > 0 && len(stale) > limit {
		stale = stale[:limit]
	}

	return stale
}

// Transition applies expected -> next only if the stored status equals expected.
func (r *Repository) Transition(
	_ context.Context, id uuid.UUID, expected, next model.Status, errorDetail string,
) (model.Notification, error) {
	if !model.CanTransition(expected, next) {
		return model.Notification{}, fmt.Errorf("%w: %s -> %s is not allowed", notification.ErrConflict, expected, next)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.notifications[id]
	if !ok {
		return model.Notification{}, notification.ErrNotificationNotFound
	}
	if n.Status != expected {
		return model.Notification{}, fmt.Errorf("%w: expected %s", notification.ErrConflict, expected)
	}

	now := r.touch(n)
	n.Status = next
	n.UpdatedAt = &now
	n.ErrorDetail = nil

	switch next {
	case model.StatusSent:
		n.SentAt = &now
	case model.StatusFailed:
		detail := errorDetail
		n.ErrorDetail = &detail
	}

	r.notifications[id] = n

	return clone(n), nil
}

// ResetToPending unconditionally sets the status to pending and clears the error detail.
func (r *Repository) ResetToPending(_ context.Context, id uuid.UUID) (model.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.notifications[id]
	if !ok {
		return model.Notification{}, notification.ErrNotificationNotFound
	}

	now := r.touch(n)
	n.Status = model.StatusPending
	n.ErrorDetail = nil
	n.UpdatedAt = &now
	r.notifications[id] = n

	return clone(n), nil
}

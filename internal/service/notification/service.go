package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	notifcache "github.com/aliskhannn/notification-dispatcher/internal/cache/notification"
	"github.com/aliskhannn/notification-dispatcher/internal/channel"
	"github.com/aliskhannn/notification-dispatcher/internal/model"
	notifrepo "github.com/aliskhannn/notification-dispatcher/internal/repository/notification"
)

// ReasonAbandoned is recorded for a notification that stayed in processing
// past the processing timeout without an outcome.
const ReasonAbandoned = "abandoned in processing"

//go:generate mockgen -source=service.go -destination=../../mocks/service/notification/mock.go -package=mocks

type notificationRepository interface {
	Insert(ctx context.Context, in model.CreateNotification) (model.Notification, error)
	Get(ctx context.Context, id uuid.UUID) (model.Notification, error)
	List(ctx context.Context, filter model.Filter, page model.Page) ([]model.Notification, error)
	ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]model.Notification, error)
	ListStaleProcessing(ctx context.Context, olderThan time.Time, limit int) ([]model.Notification, error)
	Transition(ctx context.Context, id uuid.UUID, expected, next model.Status, errorDetail string) (model.Notification, error)
	ResetToPending(ctx context.Context, id uuid.UUID) (model.Notification, error)
}

type notificationPublisher interface {
	Publish(ctx context.Context, task model.DispatchTask, strategy retry.Strategy) error
}

type notificationCache interface {
	Get(ctx context.Context, strategy retry.Strategy, id uuid.UUID) (model.Notification, error)
	Set(ctx context.Context, strategy retry.Strategy, n model.Notification) error
}

type Service struct {
	repo    notificationRepository
	queue   notificationPublisher
	senders channel.Registry
	cache   notificationCache
	now     func() time.Time
}

func NewService(
	repo notificationRepository,
	queue notificationPublisher,
	senders channel.Registry,
	cache notificationCache,
) *Service {
	return &Service{repo: repo, queue: queue, senders: senders, cache: cache, now: time.Now}
}

// WithClock replaces the clock used to compute the sweeper cutoff.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// CreateNotification stores a new pending notification and enqueues a
// dispatch task for it. A failed publish is logged only; the sweeper picks
// the row up later.
func (s *Service) CreateNotification(
	ctx context.Context, strategy retry.Strategy, in model.CreateNotification,
) (model.Notification, error) {
	n, err := s.repo.Insert(ctx, in)
	if err != nil {
		return model.Notification{}, fmt.Errorf("create notification: %w", err)
	}

	s.cacheNotification(ctx, strategy, n)
	s.publish(ctx, strategy, n.ID)

	return n, nil
}

// ResendNotification resets the notification to pending regardless of its
// current status and enqueues it again.
func (s *Service) ResendNotification(ctx context.Context, strategy retry.Strategy, id uuid.UUID) (model.Notification, error) {
	n, err := s.repo.ResetToPending(ctx, id)
	if err != nil {
		return model.Notification{}, fmt.Errorf("resend notification: %w", err)
	}

	s.cacheNotification(ctx, strategy, n)
	s.publish(ctx, strategy, n.ID)

	return n, nil
}

// GetNotification returns the notification from cache, falling back to the
// store. The fill after a miss cannot replace a newer revision written by a
// concurrent transition.
func (s *Service) GetNotification(ctx context.Context, strategy retry.Strategy, id uuid.UUID) (model.Notification, error) {
	n, err := s.cache.Get(ctx, strategy, id)
	if err == nil {
		return n, nil
	}
	if !errors.Is(err, notifcache.ErrCacheMiss) {
		zlog.Logger.Error().Err(err).Str("id", id.String()).Msg("failed to get notification from cache")
	}

	n, err = s.repo.Get(ctx, id)
	if err != nil {
		return model.Notification{}, fmt.Errorf("get notification: %w", err)
	}

	s.cacheNotification(ctx, strategy, n)

	return n, nil
}

func (s *Service) ListNotifications(ctx context.Context, filter model.Filter, page model.Page) ([]model.Notification, error) {
	notifications, err := s.repo.List(ctx, filter, page.Normalize())
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}

	return notifications, nil
}

// LoadNotification reads the notification from the store, bypassing the cache.
func (s *Service) LoadNotification(ctx context.Context, id uuid.UUID) (model.Notification, error) {
	n, err := s.repo.Get(ctx, id)
	if err != nil {
		return model.Notification{}, fmt.Errorf("load notification: %w", err)
	}

	return n, nil
}

// Transition performs a compare-and-swap status change and refreshes the cache.
func (s *Service) Transition(
	ctx context.Context, strategy retry.Strategy, id uuid.UUID, expected, next model.Status, errorDetail string,
) (model.Notification, error) {
	n, err := s.repo.Transition(ctx, id, expected, next, errorDetail)
	if err != nil {
		return model.Notification{}, fmt.Errorf("transition %s -> %s: %w", expected, next, err)
	}

	s.cacheNotification(ctx, strategy, n)

	return n, nil
}

// Send delivers the notification through the sender registered for its channel.
func (s *Service) Send(ctx context.Context, n model.Notification) channel.Result {
	return s.senders.Send(ctx, n.ChannelType, n.RecipientID, n.Subject, n.Content)
}

// RequeueStale publishes a dispatch task for up to batch pending
// notifications untouched for longer than grace, oldest first. It returns
// the number of tasks published.
func (s *Service) RequeueStale(ctx context.Context, strategy retry.Strategy, grace time.Duration, batch int) (int, error) {
	stale, err := s.repo.ListStalePending(ctx, s.now().Add(-grace), batch)
	if err != nil {
		return 0, fmt.Errorf("list stale notifications: %w", err)
	}

	published := 0
	for _, n := range stale {
		err := s.queue.Publish(ctx, model.DispatchTask{NotificationID: n.ID}, strategy)
		if err != nil {
			zlog.Logger.Error().Err(err).Str("id", n.ID.String()).Msg("failed to requeue notification")
			continue
		}
		published++
	}

	return published, nil
}

// FailStaleProcessing marks up to batch notifications that have been
// processing for longer than timeout as failed, so they can be resent. A row
// that a worker finishes meanwhile is left alone. It returns the number of
// notifications failed.
func (s *Service) FailStaleProcessing(ctx context.Context, strategy retry.Strategy, timeout time.Duration, batch int) (int, error) {
	stale, err := s.repo.ListStaleProcessing(ctx, s.now().Add(-timeout), batch)
	if err != nil {
		return 0, fmt.Errorf("list stale processing notifications: %w", err)
	}

	failed := 0
	for _, n := range stale {
		_, err := s.Transition(ctx, strategy, n.ID, model.StatusProcessing, model.StatusFailed, ReasonAbandoned)
		if err != nil {
			if !errors.Is(err, notifrepo.ErrConflict) {
				zlog.Logger.Error().Err(err).Str("id", n.ID.String()).Msg("failed to fail abandoned notification")
			}
			continue
		}

		zlog.Logger.Warn().Str("id", n.ID.String()).Msg("notification abandoned in processing, marked failed")
		failed++
	}

	return failed, nil
}

func (s *Service) publish(ctx context.Context, strategy retry.Strategy, id uuid.UUID) {
	err := s.queue.Publish(ctx, model.DispatchTask{NotificationID: id}, strategy)
	if err != nil {
		zlog.Logger.Error().Err(err).Str("id", id.String()).Msg("failed to publish notification")
	}
}

func (s *Service) cacheNotification(ctx context.Context, strategy retry.Strategy, n model.Notification) {
	if err := s.cache.Set(ctx, strategy, n); err != nil {
		zlog.Logger.Error().Err(err).Str("id", n.ID.String()).Msg("failed to cache notification")
	}
}

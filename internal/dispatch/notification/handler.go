package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/notification-dispatcher/internal/channel"
	"github.com/aliskhannn/notification-dispatcher/internal/model"
	"github.com/aliskhannn/notification-dispatcher/internal/repository/notification"
)

//go:generate mockgen -source=handler.go -destination=../../mocks/dispatch/notification/mock.go -package=mocks

const (
	ReasonTimeout = "timeout"

	DefaultTaskTimeout = 30 * time.Minute
)

type notificationService interface {
	LoadNotification(ctx context.Context, id uuid.UUID) (model.Notification, error)
	Transition(
		ctx context.Context, strategy retry.Strategy, id uuid.UUID, expected, next model.Status, errorDetail string,
	) (model.Notification, error)
	Send(ctx context.Context, n model.Notification) channel.Result
}

// Handler drives one dispatch task through claim, send and record.
type Handler struct {
	service     notificationService
	taskTimeout time.Duration
}

func NewHandler(svc notificationService, taskTimeout time.Duration) *Handler {
	if taskTimeout <= 0 {
		taskTimeout = DefaultTaskTimeout
	}

	return &Handler{
		service:     svc,
		taskTimeout: taskTimeout,
	}
}

// HandleMessage processes a single task. It never panics and never returns
// an error; every way the attempt can end is reported as an Outcome.
func (h *Handler) HandleMessage(ctx context.Context, task model.DispatchTask, strategy retry.Strategy) model.DispatchResult {
	if task.Record != nil {
		return h.recordOnly(context.WithoutCancel(ctx), strategy, task)
	}

	id := task.NotificationID
	result := model.DispatchResult{NotificationID: id}

	n, err := h.service.LoadNotification(ctx, id)
	if err != nil {
		return outcomeForStoreError(result, err)
	}

	if n.Status != model.StatusPending {
		result.Outcome = model.OutcomeSkipped
		result.Detail = fmt.Sprintf("status is %s", n.Status)
		return result
	}

	_, err = h.service.Transition(ctx, strategy, id, model.StatusPending, model.StatusProcessing, "")
	if err != nil {
		return outcomeForStoreError(result, err)
	}

	// Once claimed the attempt runs to completion even if the worker is shutting down.
	ctx = context.WithoutCancel(ctx)

	res := h.send(ctx, n)

	rec := model.Record{Status: model.StatusSent}
	result.Outcome = model.OutcomeSent
	if !res.Sent {
		rec = model.Record{Status: model.StatusFailed, Detail: res.Reason}
		result.Outcome = model.OutcomeFailed
		result.Detail = res.Reason
	}

	return h.finish(ctx, strategy, result, rec)
}

// finish stores the delivery outcome. A conflict or missing row keeps the
// delivery outcome and only adds the error to the detail.
func (h *Handler) finish(
	ctx context.Context, strategy retry.Strategy, result model.DispatchResult, rec model.Record,
) model.DispatchResult {
	err := h.record(ctx, strategy, result.NotificationID, rec)
	switch {
	case err == nil:
		return result
	case errors.Is(err, notification.ErrStorageUnavailable):
		return requeueRecord(result, rec, err)
	}

	zlog.Logger.Error().Err(err).Str("id", result.NotificationID.String()).
		Str("status", string(rec.Status)).Msg("failed to record delivery result")

	if result.Detail == "" {
		result.Detail = err.Error()
	}

	return result
}

// recordOnly handles a task that carries the outcome of an earlier attempt.
// Here a conflict means the row moved on, e.g. it was resent or failed by the
// sweeper, and the task is dropped.
func (h *Handler) recordOnly(ctx context.Context, strategy retry.Strategy, task model.DispatchTask) model.DispatchResult {
	rec := *task.Record
	result := model.DispatchResult{NotificationID: task.NotificationID, Outcome: model.OutcomeSent}
	if rec.Status == model.StatusFailed {
		result.Outcome = model.OutcomeFailed
		result.Detail = rec.Detail
	}

	err := h.record(ctx, strategy, task.NotificationID, rec)
	switch {
	case err == nil:
		return result
	case errors.Is(err, notification.ErrStorageUnavailable):
		return requeueRecord(result, rec, err)
	default:
		return outcomeForStoreError(result, err)
	}
}

// requeueRecord turns a result whose outcome could not be stored into a retry
// of a record-only task. The redelivery writes the status without sending.
func requeueRecord(result model.DispatchResult, rec model.Record, err error) model.DispatchResult {
	zlog.Logger.Error().Err(err).Str("id", result.NotificationID.String()).
		Str("status", string(rec.Status)).Msg("storage unavailable, requeueing delivery record")

	result.Outcome = model.OutcomeRetry
	result.Detail = fmt.Sprintf("%s not recorded: %v", rec.Status, err)
	result.Requeue = &model.DispatchTask{NotificationID: result.NotificationID, Record: &rec}

	return result
}

// send delivers n within the task timeout. A panicking sender is reported as
// a failure; a sender that does not return before the deadline is abandoned.
func (h *Handler) send(ctx context.Context, n model.Notification) channel.Result {
	ctx, cancel := context.WithTimeout(ctx, h.taskTimeout)
	defer cancel()

	done := make(chan channel.Result, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- channel.Failed(fmt.Sprintf("panic: %v", r))
			}
		}()

		done <- h.service.Send(ctx, n)
	}()

	select {
	case res := <-done:
		if !res.Sent && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return channel.Failed(ReasonTimeout)
		}
		return res
	case <-ctx.Done():
		return channel.Failed(ReasonTimeout)
	}
}

func (h *Handler) record(ctx context.Context, strategy retry.Strategy, id uuid.UUID, rec model.Record) error {
	if strategy.Attempts < 1 {
		strategy.Attempts = 1
	}

	var final error

	err := retry.Do(func() error {
		_, err := h.service.Transition(ctx, strategy, id, model.StatusProcessing, rec.Status, rec.Detail)
		if err == nil {
			return nil
		}

		if errors.Is(err, notification.ErrStorageUnavailable) {
			return err
		}

		// conflict or missing row, retrying cannot help
		final = err
		return nil
	}, strategy)
	if err != nil {
		return err
	}

	return final
}

func outcomeForStoreError(result model.DispatchResult, err error) model.DispatchResult {
	result.Detail = err.Error()

	switch {
	case errors.Is(err, notification.ErrNotificationNotFound):
		result.Outcome = model.OutcomeNotFound
	case errors.Is(err, notification.ErrConflict):
		result.Outcome = model.OutcomeSkipped
	default:
		result.Outcome = model.OutcomeRetry
	}

	return result
}

// Package queue is an in-process dispatch task queue backed by a buffered channel.
//
// It delivers each task to exactly one consumer and never persists anything;
// tasks lost on restart are recovered by the sweeper.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/notification-dispatcher/internal/model"
)

var ErrQueueFull = errors.New("dispatch queue is full")

// Queue is a bounded FIFO of dispatch tasks.
type Queue struct {
	tasks      chan model.DispatchTask
	retryDelay time.Duration
}

// New creates a queue holding up to capacity tasks. Retried tasks are
// re-enqueued after retryDelay.
func New(capacity int, retryDelay time.Duration) *Queue {
	return &Queue{
		tasks:      make(chan model.DispatchTask, capacity),
		retryDelay: retryDelay,
	}
}

// Publish enqueues without blocking and fails with ErrQueueFull when the buffer is full.
func (q *Queue) Publish(ctx context.Context, task model.DispatchTask, _ retry.Strategy) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	select {
	case q.tasks <- task:
		return nil
	default:
		return ErrQueueFull
	}
}

// Retry re-enqueues the task after the retry delay.
func (q *Queue) Retry(_ context.Context, task model.DispatchTask, strategy retry.Strategy) error {
	time.AfterFunc(q.retryDelay, func() {
		if err := q.Publish(context.Background(), task, strategy); err != nil {
			zlog.Logger.Warn().Err(err).Str("id", task.NotificationID.String()).Msg("failed to re-enqueue task")
		}
	})

	return nil
}

// Consume forwards tasks into out until ctx is done.
func (q *Queue) Consume(ctx context.Context, out chan<- model.DispatchTask, _ retry.Strategy) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case task := <-q.tasks:
			select {
			case out <- task:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// Len returns the number of buffered tasks.
func (q *Queue) Len() int {
	return len(q.tasks)
}

package worker

import (
	"context"
	"sync"

	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/notification-dispatcher/internal/model"
)

type taskQueue interface {
	Consume(ctx context.Context, out chan<- model.DispatchTask, strategy retry.Strategy) error
	Retry(ctx context.Context, task model.DispatchTask, strategy retry.Strategy) error
}

type taskHandler interface {
	HandleMessage(ctx context.Context, task model.DispatchTask, strategy retry.Strategy) model.DispatchResult
}

// OutcomeHook observes every dispatch result.
type OutcomeHook func(model.DispatchResult)

// DefaultWorkerCount is used when Run is given a non-positive count.
const DefaultWorkerCount = 4

type Notifier struct {
	queue   taskQueue
	handler taskHandler
	hook    OutcomeHook
}

func NewNotifier(q taskQueue, h taskHandler) *Notifier {
	return &Notifier{
		queue:   q,
		handler: h,
	}
}

// WithOutcomeHook registers fn to be called after every task.
func (n *Notifier) WithOutcomeHook(fn OutcomeHook) *Notifier {
	n.hook = fn
	return n
}

// Run consumes tasks with workerCount goroutines sharing one channel. It
// blocks until ctx is done and every worker has returned.
func (n *Notifier) Run(ctx context.Context, strategy retry.Strategy, workerCount int) {
	if workerCount <= 0 {
		workerCount = DefaultWorkerCount
	}

	var wg sync.WaitGroup
	taskChan := make(chan model.DispatchTask, workerCount*10)

	go func() {
		if err := n.queue.Consume(ctx, taskChan, strategy); err != nil {
			zlog.Logger.Error().Err(err).Msg("failed to consume tasks")
		}
	}()

	wg.Add(workerCount)
	for i := 0; i < workerCount; i++ {
		go func(id int) {
			defer wg.Done()

			zlog.Logger.Printf("worker-%d started", id)

			for {
				select {
				case <-ctx.Done():
					zlog.Logger.Printf("worker-%d shutting down", id)
					return
				case task, ok := <-taskChan:
					if !ok {
						zlog.Logger.Printf("worker-%d channel closed, shutting down", id)
						return
					}

					n.process(ctx, task, strategy)
				}
			}
		}(i)
	}

	<-ctx.Done()
	wg.Wait()
	zlog.Logger.Print("notifier stopped")
}

func (n *Notifier) process(ctx context.Context, task model.DispatchTask, strategy retry.Strategy) {
	res := n.handler.HandleMessage(ctx, task, strategy)

	logEvent := zlog.Logger.Info()
	switch res.Outcome {
	case model.OutcomeFailed, model.OutcomeNotFound:
		logEvent = zlog.Logger.Warn()
	case model.OutcomeRetry:
		logEvent = zlog.Logger.Warn()

		next := task
		if res.Requeue != nil {
			next = *res.Requeue
		}

		if err := n.queue.Retry(ctx, next, strategy); err != nil {
			zlog.Logger.Error().Err(err).Str("id", task.NotificationID.String()).Msg("failed to requeue task")
		}
	}

	logEvent.
		Str("id", res.NotificationID.String()).
		Str("outcome", string(res.Outcome)).
		Str("detail", res.Detail).
		Msg("task processed")

	if n.hook != nil {
		n.hook(res)
	}
}

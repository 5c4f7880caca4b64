package worker

import (
	"context"
	"time"

	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"
)

const (
	DefaultSweepInterval = 60 * time.Second
	DefaultGracePeriod   = 30 * time.Second
	DefaultSweepBatch    = 100
)

type staleRequeuer interface {
	RequeueStale(ctx context.Context, strategy retry.Strategy, grace time.Duration, batch int) (int, error)
	FailStaleProcessing(ctx context.Context, strategy retry.Strategy, timeout time.Duration, batch int) (int, error)
}

// Sweeper periodically re-enqueues pending notifications whose task was
// lost, e.g. after a crash between insert and publish. With a processing
// timeout set it also fails notifications whose worker never recorded an
// outcome.
type Sweeper struct {
	service           staleRequeuer
	strategy          retry.Strategy
	interval          time.Duration
	grace             time.Duration
	batch             int
	processingTimeout time.Duration // zero disables the processing scan
}

func NewSweeper(svc staleRequeuer, strategy retry.Strategy, interval, grace time.Duration, batch int) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if grace < 0 {
		grace = DefaultGracePeriod
	}
	if batch <= 0 {
		batch = DefaultSweepBatch
	}

	return &Sweeper{
		service:  svc,
		strategy: strategy,
		interval: interval,
		grace:    grace,
		batch:    batch,
	}
}

// WithProcessingTimeout enables failing notifications stuck in processing
// for longer than d.
func (s *Sweeper) WithProcessingTimeout(d time.Duration) *Sweeper {
	s.processingTimeout = d
	return s
}

// Run sweeps every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			zlog.Logger.Print("sweeper stopped")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single sweep and returns the number of re-enqueued tasks.
func (s *Sweeper) RunOnce(ctx context.Context) int {
	if s.processingTimeout > 0 {
		failed, err := s.service.FailStaleProcessing(ctx, s.strategy, s.processingTimeout, s.batch)
		if err != nil {
			zlog.Logger.Error().Err(err).Msg("failed to sweep abandoned notifications")
		} else if failed > 0 {
			zlog.Logger.Warn().Int("count", failed).Msg("failed abandoned notifications")
		}
	}

	n, err := s.service.RequeueStale(ctx, s.strategy, s.grace, s.batch)
	if err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to sweep stale notifications")
		return 0
	}

	if n > 0 {
		zlog.Logger.Info().Int("count", n).Msg("re-enqueued stale notifications")
	}

	return n
}

package scheduler

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"

	"digest_fetcher/internal/domain"
)

// CycleRunner runs one fetch cycle.
type CycleRunner interface {
	RunCycle(ctx context.Context, maxSources int) (*domain.CycleStats, error)
}

type CycleObserver interface {
	ObserveCycle(stats *domain.CycleStats, err error)
}

// Scheduler drives fetch cycles on a fixed interval plus random jitter, so
// replicas started together drift apart.
type Scheduler struct {
	runner     CycleRunner
	observer   CycleObserver
	interval   time.Duration
	jitter     time.Duration
	maxSources int
	logger     *slog.Logger
}

func NewScheduler(
	runner CycleRunner,
	observer CycleObserver,
	interval time.Duration,
	jitter time.Duration,
	maxSources int,
	logger *slog.Logger,
) *Scheduler {
	return &Scheduler{
		runner:     runner,
		observer:   observer,
		interval:   interval,
		jitter:     jitter,
		maxSources: maxSources,
		logger:     logger.With("component", "fetch_scheduler"),
	}
}

// Start runs a cycle immediately and then after every interval until ctx is
// cancelled. A failed cycle is logged and does not stop the loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info("scheduler started", "interval", s.interval, "jitter", s.jitter)

	for {
		s.runCycle(ctx)

		if err := sleep(ctx, s.nextDelay()); err != nil {
			s.logger.Info("scheduler stopped")
			return err
		}
	}
}

func (s *Scheduler) runCycle(ctx context.Context) {
	stats, err := s.runner.RunCycle(ctx, s.maxSources)
	if s.observer != nil {
		s.observer.ObserveCycle(stats, err)
	}
	if err != nil {
		s.logger.Error("fetch cycle failed", "error", err)
	}
}

func (s *Scheduler) nextDelay() time.Duration {
	if s.jitter <= 0 {
		return s.interval
	}
	return s.interval + rand.N(s.jitter)
}

// sleep waits for d or until ctx is done, whichever comes first.
func sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

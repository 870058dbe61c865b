package scheduler

import (
	"context"
	"log/slog"
	"time"

	"digest_fetcher/internal/domain"
	"digest_fetcher/internal/timeofday"
)

// DigestRunner decides when the digest is due and runs it.
type DigestRunner interface {
	NextRun(ctx context.Context, now time.Time) (time.Time, error)
	RunOnce(ctx context.Context, now time.Time) (domain.DigestOutcome, error)
}

type DigestObserver interface {
	ObserveDigest(outcome domain.DigestOutcome)
}

// Daily sleeps until the configured UTC time of day and runs the digest.
type Daily struct {
	runner     DigestRunner
	observer   DigestObserver
	fallback   timeofday.TimeOfDay
	runTimeout time.Duration
	now        func() time.Time
	logger     *slog.Logger
}

// NewDaily creates the loop. fallback is used when the runner cannot compute
// the next run from the current settings.
func NewDaily(
	runner DigestRunner,
	observer DigestObserver,
	fallback timeofday.TimeOfDay,
	runTimeout time.Duration,
	logger *slog.Logger,
) *Daily {
	return &Daily{
		runner:     runner,
		observer:   observer,
		fallback:   fallback,
		runTimeout: runTimeout,
		now:        time.Now,
		logger:     logger.With("component", "digest_loop"),
	}
}

// Start loops until ctx is cancelled. The digest time is re-read before every
// sleep so setting changes apply from the next day on.
func (d *Daily) Start(ctx context.Context) error {
	d.logger.Info("digest loop started")

	for {
		now := d.now().UTC()

		next, err := d.runner.NextRun(ctx, now)
		if err != nil {
			d.logger.Warn("invalid digest time, using fallback", "error", err, "fallback", d.fallback.String())
			next = d.fallback.Next(now)
		}

		d.logger.Info("next digest run scheduled", "at", next, "in", next.Sub(now))

		if err := sleep(ctx, next.Sub(now)); err != nil {
			d.logger.Info("digest loop stopped")
			return err
		}

		d.run(ctx, next)
	}
}

// run executes one tick on a context detached from shutdown so an in-flight
// digest is not interrupted halfway.
func (d *Daily) run(ctx context.Context, at time.Time) {
	runCtx := context.WithoutCancel(ctx)
	if d.runTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(runCtx, d.runTimeout)
		defer cancel()
	}

	outcome, err := d.runner.RunOnce(runCtx, at)
	if d.observer != nil {
		d.observer.ObserveDigest(outcome)
	}
	if err != nil {
		d.logger.Error("digest run failed", "error", err)
	}
}

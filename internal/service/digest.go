package service

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"time"

	"digest_fetcher/internal/domain"
	"digest_fetcher/internal/timeofday"
)

// ComputeNextRun returns the first instant strictly after now at which the
// UTC wall clock reads hhmm.
func ComputeNextRun(now time.Time, hhmm string) (time.Time, error) {
	tod, err := timeofday.Parse(hhmm)
	if err != nil {
		return time.Time{}, err
	}
	return tod.Next(now), nil
}

// DigestScheduler runs the once-per-day digest job. Several instances may
// fire for the same date; the unique date constraint decides the winner.
type DigestScheduler struct {
	digests    DigestStore
	aggregator Aggregator
	runs       *JobRunRecorder
	settings   SettingsProvider
	logger     *slog.Logger
}

func NewDigestScheduler(
	digests DigestStore,
	aggregator Aggregator,
	runs *JobRunRecorder,
	settings SettingsProvider,
	logger *slog.Logger,
) *DigestScheduler {
	return &DigestScheduler{
		digests:    digests,
		aggregator: aggregator,
		runs:       runs,
		settings:   settings,
		logger:     logger.With("component", "digest_scheduler"),
	}
}

// NextRun computes the next firing time from the current digest_time setting.
func (s *DigestScheduler) NextRun(ctx context.Context, now time.Time) (time.Time, error) {
	return ComputeNextRun(now, s.settings.Snapshot(ctx).DigestTime)
}

// RunOnce attempts the digest for now's UTC date and records the attempt in
// the ledger. Aggregation failures are reported through the outcome; the
// returned error is only set when the ledger itself could not be written.
func (s *DigestScheduler) RunOnce(ctx context.Context, now time.Time) (domain.DigestOutcome, error) {
	snapshot := s.settings.Snapshot(ctx)
	day := now.UTC()

	details := domain.Details{
		"digest_date":     domain.DateKey(day),
		"digest_time_utc": snapshot.DigestTime,
	}
	logger := s.logger.With("digest_date", domain.DateKey(day))

	if !snapshot.DigestEnabled {
		details["reason"] = "disabled"
		if err := s.record(ctx, domain.JobStatusSkipped, details, ""); err != nil {
			return domain.DigestErrored, err
		}
		logger.Info("digest skipped", "reason", "disabled")
		return domain.DigestSkippedDisabled, nil
	}

	runID, err := s.runs.Start(ctx, domain.JobDigestScheduler, maps.Clone(details))
	if err != nil {
		return domain.DigestErrored, err
	}

	finish := func(status domain.JobStatus, errMsg string) error {
		return s.runs.Finish(context.WithoutCancel(ctx), runID, status, details, errMsg)
	}

	exists, err := s.digests.ExistsForDate(ctx, day)
	if err != nil {
		logger.Error("digest pre-check failed", "error", err)
		return domain.DigestErrored, finish(domain.JobStatusError, err.Error())
	}
	if exists {
		details["reason"] = "already_exists"
		logger.Info("digest skipped", "reason", "already_exists")
		return domain.DigestSkippedExists, finish(domain.JobStatusSkipped, "")
	}

	digest, err := s.aggregator.Generate(ctx, day)
	switch {
	case errors.Is(err, domain.ErrUniqueConflict):
		details["reason"] = "unique_conflict"
		logger.Info("digest skipped", "reason", "unique_conflict")
		return domain.DigestSkippedConflict, finish(domain.JobStatusSkipped, "")
	case err != nil:
		logger.Error("digest generation failed", "error", err)
		return domain.DigestErrored, finish(domain.JobStatusError, err.Error())
	}

	details["digest_id"] = digest.ID.String()
	details["article_count"] = digest.ArticleCount
	details["notified"] = digest.NotifiedAt != nil

	logger.Info("digest generated",
		"digest_id", digest.ID,
		"article_count", digest.ArticleCount,
		"notified", digest.NotifiedAt != nil,
	)

	return domain.DigestGenerated, finish(domain.JobStatusSuccess, "")
}

func (s *DigestScheduler) record(ctx context.Context, status domain.JobStatus, details domain.Details, errMsg string) error {
	runID, err := s.runs.Start(ctx, domain.JobDigestScheduler, maps.Clone(details))
	if err != nil {
		return err
	}
	return s.runs.Finish(context.WithoutCancel(ctx), runID, status, details, errMsg)
}

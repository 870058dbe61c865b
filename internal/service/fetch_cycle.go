package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"digest_fetcher/internal/domain"
)

// FetchCycleRunner processes up to N due sources per cycle, one claim
// transaction per source. Any number of runners may work the same table.
type FetchCycleRunner struct {
	claimer       SourceClaimer
	fetcher       Fetcher
	upserter      Upserter
	txManager     TransactionManager
	runs          *JobRunRecorder
	settings      SettingsProvider
	clock         Clock
	sourceTimeout time.Duration
	logger        *slog.Logger
}

func NewFetchCycleRunner(
	claimer SourceClaimer,
	fetcher Fetcher,
	upserter Upserter,
	txManager TransactionManager,
	runs *JobRunRecorder,
	settings SettingsProvider,
	clock Clock,
	sourceTimeout time.Duration,
	logger *slog.Logger,
) *FetchCycleRunner {
	return &FetchCycleRunner{
		claimer:       claimer,
		fetcher:       fetcher,
		upserter:      upserter,
		txManager:     txManager,
		runs:          runs,
		settings:      settings,
		clock:         clock,
		sourceTimeout: sourceTimeout,
		logger:        logger.With("component", "fetch_cycle"),
	}
}

// RunCycle claims and processes due sources until maxSources were attempted,
// nothing is due, or ctx is cancelled. maxSources < 1 uses the
// max_sources_per_cycle setting. Source failures are collected in the stats;
// only a storage failure while claiming aborts the cycle and is returned.
func (r *FetchCycleRunner) RunCycle(ctx context.Context, maxSources int) (*domain.CycleStats, error) {
	started := r.clock.Now()
	stats := &domain.CycleStats{}

	snapshot := r.settings.Snapshot(ctx)
	if !snapshot.FetchEnabled {
		return stats, r.recordSkipped(ctx, "disabled")
	}
	if maxSources < 1 {
		maxSources = snapshot.MaxSourcesPerCycle
	}
	defaultInterval := time.Duration(snapshot.FetchIntervalMinutes) * time.Minute

	runID, err := r.runs.Start(ctx, domain.JobFetchWorker, domain.Details{"max_sources": maxSources})
	if err != nil {
		return nil, err
	}

	r.logger.Info("starting fetch cycle",
		"run_id", runID,
		"max_sources", maxSources,
		"default_interval", defaultInterval,
	)

	attempted := make([]uuid.UUID, 0, maxSources)
	var fatal error

	for len(attempted) < maxSources {
		if ctx.Err() != nil {
			r.logger.Info("fetch cycle interrupted", "run_id", runID)
			break
		}

		src, result, err := r.processNext(ctx, defaultInterval, attempted)
		if src == nil {
			if err != nil && !errors.Is(err, domain.ErrNoDueSource) {
				fatal = err
			}
			break
		}

		attempted = append(attempted, src.ID)
		stats.SourcesAttempted++

		if err != nil {
			r.logger.Warn("source failed", "source", src.Name, "source_id", src.ID, "error", err)
			stats.Errors = append(stats.Errors, fmt.Sprintf("%s: %v", src.Name, err))
			continue
		}

		stats.SourcesSucceeded++
		stats.Inserted += result.Inserted
		stats.Duplicate += result.Duplicate
		stats.FilteredOld += result.FilteredOld
		stats.FilteredKeyword += result.FilteredKeyword
	}

	stats.Duration = r.clock.Now().Sub(started)

	// The ledger entry must be closed even if the cycle was interrupted.
	ledgerCtx := context.WithoutCancel(ctx)
	details := cycleDetails(stats, maxSources)

	if fatal != nil {
		r.logger.Error("fetch cycle aborted", "run_id", runID, "error", fatal)
		if err := r.runs.Finish(ledgerCtx, runID, domain.JobStatusError, details, fatal.Error()); err != nil {
			return stats, errors.Join(fatal, err)
		}
		return stats, fatal
	}

	if err := r.runs.Finish(ledgerCtx, runID, domain.JobStatusSuccess, details, ""); err != nil {
		return stats, err
	}

	r.logger.Info("fetch cycle completed",
		"run_id", runID,
		"attempted", stats.SourcesAttempted,
		"succeeded", stats.SourcesSucceeded,
		"inserted", stats.Inserted,
		"duplicate", stats.Duplicate,
		"errors", len(stats.Errors),
		"duration", stats.Duration,
	)

	return stats, nil
}

// processNext runs one claim transaction. A nil source means nothing was
// claimed and err, if any, is a claim failure. With a non-nil source, err is
// that source's failure and the transaction was rolled back.
func (r *FetchCycleRunner) processNext(
	ctx context.Context,
	defaultInterval time.Duration,
	exclude []uuid.UUID,
) (*domain.Source, domain.UpsertResult, error) {
	workCtx := context.WithoutCancel(ctx)
	if r.sourceTimeout > 0 {
		var cancel context.CancelFunc
		workCtx, cancel = context.WithTimeout(workCtx, r.sourceTimeout)
		defer cancel()
	}

	var (
		claimed *domain.Source
		result  domain.UpsertResult
	)

	err := r.txManager.WithTransaction(workCtx, func(txCtx context.Context) error {
		claimTime := r.clock.Now().UTC()

		src, err := r.claimer.ClaimNextDue(txCtx, claimTime, defaultInterval, exclude)
		if err != nil {
			return err
		}
		claimed = src

		items, err := r.fetcher.Fetch(txCtx, src)
		if err != nil {
			return fmt.Errorf("fetch: %w", err)
		}

		result, err = r.upserter.Upsert(txCtx, src, items)
		if err != nil {
			return err
		}

		return r.claimer.MarkFetched(txCtx, src.ID, claimTime)
	})

	return claimed, result, err
}

func (r *FetchCycleRunner) recordSkipped(ctx context.Context, reason string) error {
	runID, err := r.runs.Start(ctx, domain.JobFetchWorker, domain.Details{"reason": reason})
	if err != nil {
		return err
	}
	r.logger.Info("fetch cycle skipped", "run_id", runID, "reason", reason)
	return r.runs.Finish(context.WithoutCancel(ctx), runID, domain.JobStatusSkipped, nil, "")
}

func cycleDetails(stats *domain.CycleStats, maxSources int) domain.Details {
	errs := stats.Errors
	if errs == nil {
		errs = []string{}
	}
	return domain.Details{
		"max_sources":       maxSources,
		"sources_attempted": stats.SourcesAttempted,
		"sources_succeeded": stats.SourcesSucceeded,
		"inserted":          stats.Inserted,
		"duplicate":         stats.Duplicate,
		"filtered_old":      stats.FilteredOld,
		"filtered_keyword":  stats.FilteredKeyword,
		"errors":            errs,
	}
}

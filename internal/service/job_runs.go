package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"digest_fetcher/internal/domain"
)

const maxErrorMessageLen = 500

// JobRunRecorder writes the job_runs ledger.
type JobRunRecorder struct {
	store JobRunStore
	clock Clock
}

func NewJobRunRecorder(store JobRunStore, clock Clock) *JobRunRecorder {
	return &JobRunRecorder{store: store, clock: clock}
}

// Start records a running job and returns its id.
func (r *JobRunRecorder) Start(ctx context.Context, jobName string, details domain.Details) (uuid.UUID, error) {
	if details == nil {
		details = domain.Details{}
	}

	run := &domain.JobRun{
		ID:        uuid.New(),
		JobName:   jobName,
		Status:    domain.JobStatusRunning,
		StartedAt: r.clock.Now().UTC(),
		Details:   details,
	}

	if err := r.store.Create(ctx, run); err != nil {
		return uuid.Nil, fmt.Errorf("start %s run: %w", jobName, err)
	}
	return run.ID, nil
}

// Finish moves a run to a terminal status. A nil details map keeps the
// details recorded at start. errMsg is truncated to 500 characters.
func (r *JobRunRecorder) Finish(ctx context.Context, id uuid.UUID, status domain.JobStatus, details domain.Details, errMsg string) error {
	if !status.Terminal() {
		return fmt.Errorf("finish job run %s: invalid terminal status %q", id, status)
	}

	var msg *string
	if errMsg != "" {
		truncated := truncate(errMsg, maxErrorMessageLen)
		msg = &truncated
	}

	return r.store.Finish(ctx, id, status, r.clock.Now().UTC(), details, msg)
}

func (r *JobRunRecorder) Latest(ctx context.Context, jobName string) (*domain.JobRun, error) {
	return r.store.Latest(ctx, jobName)
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns the wall clock.
func SystemClock() Clock { return systemClock{} }

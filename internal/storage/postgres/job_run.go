package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"digest_fetcher/internal/domain"
)

const jobRunColumns = `id, job_name, status, started_at, finished_at, details, error_message`

// JobRunStore is the append-only ledger of job executions. It always writes
// through the pool, never through a transaction on ctx, so a rolled back unit
// of work cannot erase its own ledger entry.
type JobRunStore struct {
	db *sqlx.DB
}

func NewJobRunStore(db *sqlx.DB) *JobRunStore {
	return &JobRunStore{db: db}
}

func (s *JobRunStore) Create(ctx context.Context, run *domain.JobRun) error {
	query := `
		INSERT INTO job_runs (id, job_name, status, started_at, details)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := s.db.ExecContext(ctx, query,
		run.ID,
		run.JobName,
		run.Status,
		run.StartedAt.UTC(),
		run.Details,
	)
	if err != nil {
		return fmt.Errorf("create job run: %w", err)
	}
	return nil
}

// Finish moves a running job to a terminal status. A nil details map keeps
// the existing payload. Returns domain.ErrJobRunFinished if the run is not
// running anymore and domain.ErrNotFound if it does not exist.
func (s *JobRunStore) Finish(
	ctx context.Context,
	id uuid.UUID,
	status domain.JobStatus,
	finishedAt time.Time,
	details domain.Details,
	errMsg *string,
) error {
	var detailsArg any
	if details != nil {
		detailsArg = details
	}

	query := `
		UPDATE job_runs
		SET status = $1,
		    finished_at = $2,
		    details = COALESCE($3::jsonb, details),
		    error_message = COALESCE($4, error_message)
		WHERE id = $5 AND status = 'running'`

	result, err := s.db.ExecContext(ctx, query, status, finishedAt.UTC(), detailsArg, errMsg, id)
	if err != nil {
		return fmt.Errorf("finish job run: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish job run: %w", err)
	}
	if n > 0 {
		return nil
	}

	if _, getErr := s.Get(ctx, id); getErr != nil {
		return getErr
	}
	return fmt.Errorf("finish job run %s: %w", id, domain.ErrJobRunFinished)
}

func (s *JobRunStore) Get(ctx context.Context, id uuid.UUID) (*domain.JobRun, error) {
	var run domain.JobRun
	err := s.db.GetContext(ctx, &run, `SELECT `+jobRunColumns+` FROM job_runs WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job run %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get job run: %w", err)
	}
	return &run, nil
}

// Latest returns the most recently started run of jobName.
func (s *JobRunStore) Latest(ctx context.Context, jobName string) (*domain.JobRun, error) {
	query := `
		SELECT ` + jobRunColumns + `
		FROM job_runs
		WHERE job_name = $1
		ORDER BY started_at DESC
		LIMIT 1`

	var run domain.JobRun
	err := s.db.GetContext(ctx, &run, query, jobName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("latest %s run: %w", jobName, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get latest job run: %w", err)
	}
	return &run, nil
}

package service

//go:generate mockgen -source=interfaces.go -destination=mocks/mocks.go -package=mocks

import (
	"context"
	"time"

	"github.com/google/uuid"

	"digest_fetcher/internal/domain"
	"digest_fetcher/internal/settings"
)

type SourceClaimer interface {
	ClaimNextDue(ctx context.Context, now time.Time, defaultInterval time.Duration, exclude []uuid.UUID) (*domain.Source, error)
	MarkFetched(ctx context.Context, id uuid.UUID, at time.Time) error
}

type ArticleStore interface {
	InsertBatch(ctx context.Context, articles []domain.Article) ([]string, error)
}

type Upserter interface {
	Upsert(ctx context.Context, src *domain.Source, candidates []domain.RawArticle) (domain.UpsertResult, error)
}

type DigestStore interface {
	ExistsForDate(ctx context.Context, day time.Time) (bool, error)
}

type JobRunStore interface {
	Create(ctx context.Context, run *domain.JobRun) error
	Finish(ctx context.Context, id uuid.UUID, status domain.JobStatus, finishedAt time.Time, details domain.Details, errMsg *string) error
	Latest(ctx context.Context, jobName string) (*domain.JobRun, error)
}

// Fetcher retrieves candidate records for a source. Errors are opaque.
type Fetcher interface {
	Fetch(ctx context.Context, src *domain.Source) ([]domain.RawArticle, error)
}

// Aggregator builds and persists the digest for one date. It must return an
// error wrapping domain.ErrUniqueConflict when another instance created it first.
type Aggregator interface {
	Generate(ctx context.Context, day time.Time) (*domain.Digest, error)
}

type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type SettingsProvider interface {
	Snapshot(ctx context.Context) settings.Values
}

type Clock interface {
	Now() time.Time
}

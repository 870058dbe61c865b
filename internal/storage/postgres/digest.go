package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"digest_fetcher/internal/domain"
)

const digestColumns = `id, date, status, article_count, created_at, notified_at`

type DigestStore struct {
	db *sqlx.DB
}

func NewDigestStore(db *sqlx.DB) *DigestStore {
	return &DigestStore{db: db}
}

// ExistsForDate reports whether a digest row exists for the UTC calendar date of day.
func (s *DigestStore) ExistsForDate(ctx context.Context, day time.Time) (bool, error) {
	var exists bool
	err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &exists,
		`SELECT EXISTS (SELECT 1 FROM digests WHERE date = $1::date)`,
		domain.DateKey(day),
	)
	if err != nil {
		return false, fmt.Errorf("check digest exists: %w", err)
	}
	return exists, nil
}

// Create inserts a building digest for day. A concurrent creator for the same
// date surfaces as domain.ErrUniqueConflict.
func (s *DigestStore) Create(ctx context.Context, day time.Time) (*domain.Digest, error) {
	query := `
		INSERT INTO digests (date, status)
		VALUES ($1::date, $2)
		RETURNING ` + digestColumns

	var d domain.Digest
	err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &d, query,
		domain.DateKey(day), domain.DigestStatusBuilding)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("create digest for %s: %w", domain.DateKey(day), domain.ErrUniqueConflict)
		}
		return nil, fmt.Errorf("create digest: %w", err)
	}
	return &d, nil
}

// AssignUnprocessed links every article without a digest to digestID and
// returns how many were linked. An empty sections list matches every article.
func (s *DigestStore) AssignUnprocessed(ctx context.Context, digestID uuid.UUID, sections []string) (int, error) {
	query := `
		UPDATE articles SET digest_id = $1
		WHERE digest_id IS NULL
		  AND (cardinality($2::text[]) = 0 OR digest_section = ANY($2::text[]))`

	// A nil slice would bind as NULL and match nothing.
	if sections == nil {
		sections = []string{}
	}

	result, err := GetExecutor(ctx, s.db).ExecContext(ctx, query, digestID, pq.Array(sections))
	if err != nil {
		return 0, fmt.Errorf("assign articles to digest: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("assign articles to digest: %w", err)
	}
	return int(n), nil
}

func (s *DigestStore) MarkReady(ctx context.Context, id uuid.UUID, articleCount int) error {
	result, err := GetExecutor(ctx, s.db).ExecContext(ctx,
		`UPDATE digests SET status = $1, article_count = $2 WHERE id = $3`,
		domain.DigestStatusReady, articleCount, id,
	)
	return requireRows(result, err, "mark digest ready", id)
}

func (s *DigestStore) MarkNotified(ctx context.Context, id uuid.UUID, at time.Time) error {
	result, err := GetExecutor(ctx, s.db).ExecContext(ctx,
		`UPDATE digests SET notified_at = $1 WHERE id = $2`,
		at.UTC(), id,
	)
	return requireRows(result, err, "mark digest notified", id)
}

// GetByDate returns the digest row for the calendar day of day.
func (s *DigestStore) GetByDate(ctx context.Context, day time.Time) (*domain.Digest, error) {
	var d domain.Digest
	err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &d,
		`SELECT `+digestColumns+` FROM digests WHERE date = $1::date`,
		domain.DateKey(day),
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("digest for %s: %w", domain.DateKey(day), domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get digest: %w", err)
	}
	return &d, nil
}

func requireRows(result sql.Result, err error, op string, id uuid.UUID) error {
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", op, id, domain.ErrNotFound)
	}
	return nil
}

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

const sourceColumns = `id, name, url, source_type, keywords, digest_section, enabled,
		fetch_interval_minutes, last_fetched_at, created_at`

type SourceStore struct {
	db *sqlx.DB
}

func NewSourceStore(db *sqlx.DB) *SourceStore {
	return &SourceStore{db: db}
}

// ClaimNextDue selects and row-locks the longest-starved due source, skipping
// rows locked by other transactions. It must run inside a transaction carried
// by ctx; the lock is released when that transaction ends. defaultInterval
// applies to sources without their own fetch_interval_minutes.
//
// A holder that dies without closing its connection keeps the lock until the
// server drops the session. Nothing here reclaims it.
func (s *SourceStore) ClaimNextDue(
	ctx context.Context,
	now time.Time,
	defaultInterval time.Duration,
	exclude []uuid.UUID,
) (*domain.Source, error) {
	tx := GetTxFromContext(ctx)
	if tx == nil {
		return nil, ErrNoTransaction
	}

	query := `
		SELECT ` + sourceColumns + `
		FROM sources
		WHERE enabled
		  AND (last_fetched_at IS NULL
		       OR last_fetched_at <= $1::timestamptz - COALESCE(fetch_interval_minutes, $2) * INTERVAL '1 minute')
		  AND NOT (id = ANY($3::uuid[]))
		ORDER BY last_fetched_at ASC NULLS FIRST, id
		LIMIT 1
		FOR UPDATE SKIP LOCKED`

	var src domain.Source
	err := tx.GetContext(ctx, &src, query,
		now.UTC(),
		int(defaultInterval/time.Minute),
		pq.Array(uuidStrings(exclude)),
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNoDueSource
	}
	if err != nil {
		return nil, fmt.Errorf("claim due source: %w", err)
	}

	return &src, nil
}

// MarkFetched records a successful fetch. Called in the claiming transaction
// so the update and the lock release commit together.
func (s *SourceStore) MarkFetched(ctx context.Context, id uuid.UUID, at time.Time) error {
	result, err := GetExecutor(ctx, s.db).ExecContext(ctx,
		`UPDATE sources SET last_fetched_at = $1 WHERE id = $2`,
		at.UTC(), id,
	)
	return requireRows(result, err, "mark source fetched", id)
}

// Get loads one source by id.
func (s *SourceStore) Get(ctx context.Context, id uuid.UUID) (*domain.Source, error) {
	exec := GetExecutor(ctx, s.db)

	var src domain.Source
	err := sqlx.GetContext(ctx, exec, &src, `SELECT `+sourceColumns+` FROM sources WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("source %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get source: %w", err)
	}
	return &src, nil
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

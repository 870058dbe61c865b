package domain

import (
	"time"

	"github.com/google/uuid"
)

type DigestStatus string

const (
	DigestStatusBuilding DigestStatus = "building"
	DigestStatusReady    DigestStatus = "ready"
)

// Digest is the aggregation batch for one calendar date. At most one exists per date.
type Digest struct {
	ID           uuid.UUID    `db:"id"`
	Date         time.Time    `db:"date"`
	Status       DigestStatus `db:"status"`
	ArticleCount int          `db:"article_count"`
	CreatedAt    time.Time    `db:"created_at"`
	NotifiedAt   *time.Time   `db:"notified_at"`
}

// DigestOutcome is the terminal state of one scheduler tick.
type DigestOutcome string

const (
	DigestGenerated       DigestOutcome = "generated"
	DigestSkippedExists   DigestOutcome = "skipped_exists"
	DigestSkippedConflict DigestOutcome = "skipped_conflict"
	DigestSkippedDisabled DigestOutcome = "skipped_disabled"
	DigestErrored         DigestOutcome = "errored"
)

// DateKey formats t as the calendar date used for digests, in UTC.
func DateKey(t time.Time) string {
	return t.UTC().Format(time.DateOnly)
}

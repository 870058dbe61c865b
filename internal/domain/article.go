package domain

import (
	"time"

	"github.com/google/uuid"
)

// RawArticle is a candidate record returned by a fetcher, before filtering.
type RawArticle struct {
	URL         string
	Title       string
	Content     string
	PublishedAt *time.Time
}

// Article is a persisted record. URL is the natural key; the first writer wins.
type Article struct {
	ID            uuid.UUID  `db:"id"`
	SourceID      uuid.UUID  `db:"source_id"`
	URL           string     `db:"url"`
	Title         string     `db:"title"`
	RawContent    *string    `db:"raw_content"`
	DigestSection *string    `db:"digest_section"`
	PublishedAt   *time.Time `db:"published_at"`
	FetchedAt     time.Time  `db:"fetched_at"`
	DigestID      *uuid.UUID `db:"digest_id"`
}

package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

type SourceType string

const (
	SourceTypeWebsite SourceType = "website"
	SourceTypeTwitter SourceType = "twitter"
	SourceTypeReddit  SourceType = "reddit"
)

// Source is a content origin fetched on its own interval.
type Source struct {
	ID                   uuid.UUID      `db:"id"`
	Name                 string         `db:"name"`
	URL                  string         `db:"url"`
	Type                 SourceType     `db:"source_type"`
	Keywords             pq.StringArray `db:"keywords"`
	DigestSection        *string        `db:"digest_section"`
	Enabled              bool           `db:"enabled"`
	FetchIntervalMinutes *int           `db:"fetch_interval_minutes"`
	LastFetchedAt        *time.Time     `db:"last_fetched_at"`
	CreatedAt            time.Time      `db:"created_at"`
}

// Interval returns the source's fetch interval, or def when the source has none.
func (s *Source) Interval(def time.Duration) time.Duration {
	if s.FetchIntervalMinutes == nil || *s.FetchIntervalMinutes <= 0 {
		return def
	}
	return time.Duration(*s.FetchIntervalMinutes) * time.Minute
}

// IsDue reports whether the source should be fetched at now.
// The claim query evaluates the same predicate in SQL.
func (s *Source) IsDue(now time.Time, def time.Duration) bool {
	if !s.Enabled {
		return false
	}
	if s.LastFetchedAt == nil {
		return true
	}
	return now.Sub(*s.LastFetchedAt) >= s.Interval(def)
}

package domain

import "time"

// CycleStats holds statistics about one fetch cycle.
type CycleStats struct {
	SourcesAttempted int
	SourcesSucceeded int
	Errors           []string
	Inserted         int
	Duplicate        int
	FilteredOld      int
	FilteredKeyword  int
	Duration         time.Duration
}

// UpsertResult is the outcome of persisting one source's candidates.
type UpsertResult struct {
	Inserted        int
	Duplicate       int
	FilteredOld     int
	FilteredKeyword int
}

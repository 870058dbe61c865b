package domain

import "errors"

var (
	// ErrNoDueSource is returned by a claim when no unlocked due source exists.
	ErrNoDueSource = errors.New("no due source available")

	// ErrUniqueConflict signals that a concurrent writer already created the row.
	ErrUniqueConflict = errors.New("unique conflict")

	ErrNotFound = errors.New("not found")

	// ErrJobRunFinished is returned when finishing a run that is no longer running.
	ErrJobRunFinished = errors.New("job run already finished")

	// ErrStorageUnavailable wraps failures to reach the database at all.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

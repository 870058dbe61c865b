package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type JobStatus string

const (
	JobStatusRunning JobStatus = "running"
	JobStatusSuccess JobStatus = "success"
	JobStatusError   JobStatus = "error"
	JobStatusSkipped JobStatus = "skipped"
)

// Terminal reports whether s is a valid final status.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusSuccess, JobStatusError, JobStatusSkipped:
		return true
	}
	return false
}

// Job names recorded in the ledger.
const (
	JobFetchWorker     = "fetch_worker"
	JobDigestScheduler = "digest_scheduler"
)

// Details is the small structured payload stored with a job run.
type Details map[string]any

func (d Details) Value() (driver.Value, error) {
	if d == nil {
		return "{}", nil
	}
	b, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("marshal details: %w", err)
	}
	return string(b), nil
}

func (d *Details) Scan(src any) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*d = Details{}
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("scan details: unsupported type %T", src)
	}
	return json.Unmarshal(data, d)
}

// JobRun is one execution attempt of a recurring job.
type JobRun struct {
	ID           uuid.UUID  `db:"id"`
	JobName      string     `db:"job_name"`
	Status       JobStatus  `db:"status"`
	StartedAt    time.Time  `db:"started_at"`
	FinishedAt   *time.Time `db:"finished_at"`
	Details      Details    `db:"details"`
	ErrorMessage *string    `db:"error_message"`
}

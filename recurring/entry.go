package recurring

import (
	"time"

	"github.com/xraph/ferry"
	"github.com/xraph/ferry/id"
)

// Entry is a recurring definition.
type Entry struct {
	ferry.Entity

	// ID is the caller-chosen recurring id and the upsert key.
	ID string `json:"id"`

	JobName    string        `json:"job_name"`
	Queue      string        `json:"queue,omitempty"`
	Schedule   string        `json:"schedule"`
	Payload    []byte        `json:"payload,omitempty"`
	MaxRetries int           `json:"max_retries"`
	Timeout    time.Duration `json:"timeout,omitempty"`

	LastRunAt   *time.Time `json:"last_run_at,omitempty"`
	LastJobID   id.JobID   `json:"last_job_id,omitempty"`
	NextRunAt   *time.Time `json:"next_run_at,omitempty"`
	LockedBy    string     `json:"locked_by,omitempty"`
	LockedUntil *time.Time `json:"locked_until,omitempty"`
}

// Due reports whether the entry should fire at now.
func (e *Entry) Due(now time.Time) bool {
	return e.NextRunAt != nil && !e.NextRunAt.After(now)
}

// Spec is the caller-supplied part of a recurring definition. Upserting a
// Spec replaces these fields on an existing entry.
type Spec struct {
	ID         string
	JobName    string
	Schedule   string
	Payload    []byte
	Queue      string
	MaxRetries int
	Timeout    time.Duration
}

package job

import (
	"time"

	"github.com/xraph/ferry"
	"github.com/xraph/ferry/id"
)

// State represents the lifecycle state of a job.
type State string

const (
	// StatePending means the job is waiting for its RunAt and a free worker.
	StatePending State = "pending"
	// StateRunning means a worker is currently executing the job.
	StateRunning State = "running"
	// StateCompleted means the job finished successfully.
	StateCompleted State = "completed"
	// StateFailed means the job failed and will not be retried.
	StateFailed State = "failed"
	// StateRetrying means the job failed but is scheduled for retry.
	StateRetrying State = "retrying"
	// StateCancelled means the job was cancelled before it ran.
	StateCancelled State = "cancelled"
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// Cancellable reports whether a job in this state has not started yet.
func (s State) Cancellable() bool {
	return s == StatePending || s == StateRetrying
}

// Job is one invocation of a registered definition.
type Job struct {
	ferry.Entity

	ID           id.JobID      `json:"id"`
	Name         string        `json:"name"`
	InvocationID string        `json:"invocation_id"`
	RecurringID  string        `json:"recurring_id,omitempty"`
	Queue        string        `json:"queue"`
	Payload      []byte        `json:"payload"`
	State        State         `json:"state"`
	MaxRetries   int           `json:"max_retries"`
	RetryCount   int           `json:"retry_count"`
	LastError    string        `json:"last_error,omitempty"`
	WorkerID     id.WorkerID   `json:"worker_id,omitempty"`
	RunAt        time.Time     `json:"run_at"`
	StartedAt    *time.Time    `json:"started_at,omitempty"`
	CompletedAt  *time.Time    `json:"completed_at,omitempty"`
	HeartbeatAt  *time.Time    `json:"heartbeat_at,omitempty"`
	Timeout      time.Duration `json:"timeout,omitempty"`
}

// Clone returns a copy that shares no mutable memory with j.
func (j *Job) Clone() *Job {
	cp := *j
	if j.Payload != nil {
		cp.Payload = append([]byte(nil), j.Payload...)
	}
	cp.StartedAt = cloneTime(j.StartedAt)
	cp.CompletedAt = cloneTime(j.CompletedAt)
	cp.HeartbeatAt = cloneTime(j.HeartbeatAt)
	return &cp
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

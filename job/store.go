package job

import (
	"context"
	"time"

	"github.com/xraph/ferry/id"
)

// CountOpts controls filtering for job count queries.
type CountOpts struct {
	// Queue filters by queue name. Empty means all queues.
	Queue string
	// State filters by job state. Empty means all states.
	State State
}

// Store defines the persistence contract for jobs.
type Store interface {
	// EnqueueJob persists a new job. It returns ferry.ErrJobAlreadyExists
	// if the ID is taken.
	EnqueueJob(ctx context.Context, j *Job) error

	// DequeueJobs atomically claims up to limit jobs from the given queues
	// that are pending or retrying with RunAt <= now, sets them to running,
	// and returns them oldest RunAt first.
	DequeueJobs(ctx context.Context, queues []string, limit int) ([]*Job, error)

	// GetJob retrieves a job by ID. It returns ferry.ErrJobNotFound when
	// missing.
	GetJob(ctx context.Context, jobID id.JobID) (*Job, error)

	// UpdateJob persists changes to an existing job.
	UpdateJob(ctx context.Context, j *Job) error

	// CancelJob moves a pending or retrying job to cancelled. It reports
	// false, without error, when the job is missing or already started.
	CancelJob(ctx context.Context, jobID id.JobID) (bool, error)

	// HeartbeatJob updates the heartbeat timestamp for a running job,
	// indicating the worker is still alive.
	HeartbeatJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error

	// ReapStaleJobs returns running jobs whose last heartbeat is older than
	// the given threshold, indicating the worker may have crashed.
	ReapStaleJobs(ctx context.Context, threshold time.Duration) ([]*Job, error)

	// CountJobs returns the number of jobs matching the given options.
	CountJobs(ctx context.Context, opts CountOpts) (int64, error)

	// PurgeJobs deletes completed, failed, and cancelled jobs last updated
	// before the cutoff and returns how many were removed.
	PurgeJobs(ctx context.Context, before time.Time) (int64, error)
}

package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/ferry"
	"github.com/xraph/ferry/id"
	"github.com/xraph/ferry/job"
)

const jobColumns = `
	id, name, invocation_id, recurring_id, queue, payload, state,
	max_retries, retry_count, last_error, worker_id,
	run_at, started_at, completed_at, heartbeat_at, timeout,
	created_at, updated_at`

// EnqueueJob persists a new job.
func (s *Store) EnqueueJob(ctx context.Context, j *job.Job) error {
	_, err := s.pool.Exec(ctx, s.q(`
		INSERT INTO {jobs} (`+jobColumns+`
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11,
			$12, $13, $14, $15, $16,
			$17, $18
		)`),
		j.ID.String(), j.Name, j.InvocationID, nilIfEmpty(j.RecurringID), j.Queue, j.Payload, string(j.State),
		j.MaxRetries, j.RetryCount, nilIfEmpty(j.LastError), nilIfEmpty(j.WorkerID.String()),
		j.RunAt, j.StartedAt, j.CompletedAt, j.HeartbeatAt, j.Timeout.Nanoseconds(),
		j.CreatedAt, j.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return ferry.ErrJobAlreadyExists
		}
		return fmt.Errorf("ferry/postgres: enqueue job: %w", err)
	}
	return nil
}

// DequeueJobs atomically claims up to limit due jobs from the given
// queues, sets them to running, and returns them. Uses SELECT FOR UPDATE
// SKIP LOCKED for concurrent-safe dequeue.
func (s *Store) DequeueJobs(ctx context.Context, queues []string, limit int) ([]*job.Job, error) {
	rows, err := s.pool.Query(ctx, s.q(`
		WITH dequeued AS (
			UPDATE {jobs}
			SET state = 'running', started_at = NOW(), heartbeat_at = NOW(), updated_at = NOW()
			WHERE id IN (
				SELECT id FROM {jobs}
				WHERE state IN ('pending', 'retrying')
				  AND queue = ANY($1)
				  AND run_at <= NOW()
				ORDER BY run_at ASC, created_at ASC
				FOR UPDATE SKIP LOCKED
				LIMIT $2
			)
			RETURNING `+jobColumns+`
		)
		SELECT * FROM dequeued ORDER BY run_at ASC, created_at ASC`),
		queues, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("ferry/postgres: dequeue jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	row := s.pool.QueryRow(ctx, s.q(`SELECT `+jobColumns+` FROM {jobs} WHERE id = $1`), jobID.String())

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, ferry.ErrJobNotFound
		}
		return nil, fmt.Errorf("ferry/postgres: get job: %w", err)
	}
	return j, nil
}

// UpdateJob persists changes to an existing job.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	tag, err := s.pool.Exec(ctx, s.q(`
		UPDATE {jobs} SET
			name = $2, invocation_id = $3, recurring_id = $4, queue = $5,
			payload = $6, state = $7, max_retries = $8, retry_count = $9,
			last_error = $10, worker_id = $11, run_at = $12, started_at = $13,
			completed_at = $14, heartbeat_at = $15, timeout = $16,
			updated_at = NOW()
		WHERE id = $1`),
		j.ID.String(), j.Name, j.InvocationID, nilIfEmpty(j.RecurringID), j.Queue,
		j.Payload, string(j.State), j.MaxRetries, j.RetryCount,
		nilIfEmpty(j.LastError), nilIfEmpty(j.WorkerID.String()), j.RunAt, j.StartedAt,
		j.CompletedAt, j.HeartbeatAt, j.Timeout.Nanoseconds(),
	)
	if err != nil {
		return fmt.Errorf("ferry/postgres: update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ferry.ErrJobNotFound
	}
	return nil
}

// CancelJob moves a pending or retrying job to cancelled in one
// conditional UPDATE, so a concurrent dequeue either wins or loses cleanly.
func (s *Store) CancelJob(ctx context.Context, jobID id.JobID) (bool, error) {
	tag, err := s.pool.Exec(ctx, s.q(`
		UPDATE {jobs}
		SET state = 'cancelled', completed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND state IN ('pending', 'retrying')`),
		jobID.String(),
	)
	if err != nil {
		return false, fmt.Errorf("ferry/postgres: cancel job: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// HeartbeatJob updates the heartbeat timestamp for a running job.
func (s *Store) HeartbeatJob(ctx context.Context, jobID id.JobID, _ id.WorkerID) error {
	tag, err := s.pool.Exec(ctx,
		s.q(`UPDATE {jobs} SET heartbeat_at = NOW(), updated_at = NOW() WHERE id = $1`),
		jobID.String(),
	)
	if err != nil {
		return fmt.Errorf("ferry/postgres: heartbeat job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ferry.ErrJobNotFound
	}
	return nil
}

// ReapStaleJobs returns running jobs whose last heartbeat is older than
// the given threshold.
func (s *Store) ReapStaleJobs(ctx context.Context, threshold time.Duration) ([]*job.Job, error) {
	rows, err := s.pool.Query(ctx, s.q(`
		SELECT `+jobColumns+`
		FROM {jobs}
		WHERE state = 'running'
		  AND heartbeat_at IS NOT NULL
		  AND heartbeat_at < $1`),
		time.Now().UTC().Add(-threshold),
	)
	if err != nil {
		return nil, fmt.Errorf("ferry/postgres: reap stale jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// CountJobs returns the number of jobs matching the given options.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	query := `SELECT COUNT(*) FROM {jobs} WHERE 1=1`
	args := []any{}
	argIdx := 1

	if opts.Queue != "" {
		query += fmt.Sprintf(" AND queue = $%d", argIdx)
		args = append(args, opts.Queue)
		argIdx++
	}
	if opts.State != "" {
		query += fmt.Sprintf(" AND state = $%d", argIdx)
		args = append(args, string(opts.State))
	}

	var count int64
	if err := s.pool.QueryRow(ctx, s.q(query), args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("ferry/postgres: count jobs: %w", err)
	}
	return count, nil
}

// PurgeJobs deletes terminal jobs last updated before the cutoff.
func (s *Store) PurgeJobs(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, s.q(`
		DELETE FROM {jobs}
		WHERE state IN ('completed', 'failed', 'cancelled') AND updated_at < $1`),
		before,
	)
	if err != nil {
		return 0, fmt.Errorf("ferry/postgres: purge jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

// scanJob scans a single job row.
func scanJob(row pgx.Row) (*job.Job, error) {
	var (
		j           job.Job
		idStr       string
		stateStr    string
		recurringID *string
		lastError   *string
		workerStr   *string
		timeoutNs   int64
	)
	err := row.Scan(
		&idStr, &j.Name, &j.InvocationID, &recurringID, &j.Queue, &j.Payload, &stateStr,
		&j.MaxRetries, &j.RetryCount, &lastError, &workerStr,
		&j.RunAt, &j.StartedAt, &j.CompletedAt, &j.HeartbeatAt, &timeoutNs,
		&j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	j.State = job.State(stateStr)
	j.Timeout = time.Duration(timeoutNs)
	if recurringID != nil {
		j.RecurringID = *recurringID
	}
	if lastError != nil {
		j.LastError = *lastError
	}

	parsedID, parseErr := id.ParseJobID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("ferry/postgres: parse job id %q: %w", idStr, parseErr)
	}
	j.ID = parsedID

	if workerStr != nil {
		if parsedWorker, workerErr := id.ParseWorkerID(*workerStr); workerErr == nil {
			j.WorkerID = parsedWorker
		}
	}

	return &j, nil
}

// collectJobs collects all jobs from query rows.
func collectJobs(rows pgx.Rows) ([]*job.Job, error) {
	var jobs []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("ferry/postgres: scan job row: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ferry/postgres: iterate job rows: %w", err)
	}
	return jobs, nil
}

package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/ferry"
	"github.com/xraph/ferry/id"
	"github.com/xraph/ferry/recurring"
)

const recurringColumns = `
	id, job_name, queue, schedule, payload, max_retries, timeout,
	last_run_at, last_job_id, next_run_at, locked_by, locked_until,
	created_at, updated_at`

// UpsertRecurring inserts the entry or replaces its definition in a single
// statement. Run history and locks of an existing row are kept.
func (s *Store) UpsertRecurring(ctx context.Context, e *recurring.Entry) error {
	_, err := s.pool.Exec(ctx, s.q(`
		INSERT INTO {recurring} (
			id, job_name, queue, schedule, payload, max_retries, timeout,
			next_run_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		ON CONFLICT (id) DO UPDATE SET
			job_name    = EXCLUDED.job_name,
			queue       = EXCLUDED.queue,
			schedule    = EXCLUDED.schedule,
			payload     = EXCLUDED.payload,
			max_retries = EXCLUDED.max_retries,
			timeout     = EXCLUDED.timeout,
			next_run_at = EXCLUDED.next_run_at,
			updated_at  = NOW()`),
		e.ID, e.JobName, e.Queue, e.Schedule, e.Payload, e.MaxRetries, e.Timeout.Nanoseconds(),
		e.NextRunAt, createdAt(e),
	)
	if err != nil {
		return fmt.Errorf("ferry/postgres: upsert recurring: %w", err)
	}
	return nil
}

// GetRecurring retrieves an entry by id.
func (s *Store) GetRecurring(ctx context.Context, recurringID string) (*recurring.Entry, error) {
	row := s.pool.QueryRow(ctx, s.q(`SELECT `+recurringColumns+` FROM {recurring} WHERE id = $1`), recurringID)

	e, err := scanRecurring(row)
	if err != nil {
		if isNoRows(err) {
			return nil, ferry.ErrRecurringNotFound
		}
		return nil, fmt.Errorf("ferry/postgres: get recurring: %w", err)
	}
	return e, nil
}

// ListRecurring returns all entries ordered by id.
func (s *Store) ListRecurring(ctx context.Context) ([]*recurring.Entry, error) {
	rows, err := s.pool.Query(ctx, s.q(`SELECT `+recurringColumns+` FROM {recurring} ORDER BY id ASC`))
	if err != nil {
		return nil, fmt.Errorf("ferry/postgres: list recurring: %w", err)
	}
	defer rows.Close()

	var entries []*recurring.Entry
	for rows.Next() {
		e, scanErr := scanRecurring(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("ferry/postgres: scan recurring row: %w", scanErr)
		}
		entries = append(entries, e)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("ferry/postgres: iterate recurring rows: %w", err)
	}
	return entries, nil
}

// DeleteRecurring removes an entry.
func (s *Store) DeleteRecurring(ctx context.Context, recurringID string) error {
	tag, err := s.pool.Exec(ctx, s.q(`DELETE FROM {recurring} WHERE id = $1`), recurringID)
	if err != nil {
		return fmt.Errorf("ferry/postgres: delete recurring: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ferry.ErrRecurringNotFound
	}
	return nil
}

// AcquireRecurringLock takes the per-entry lock with a conditional UPDATE.
func (s *Store) AcquireRecurringLock(ctx context.Context, recurringID string, holder id.WorkerID, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()
	until := now.Add(ttl)
	hID := holder.String()

	// Succeed if unlocked, expired, or already ours.
	tag, err := s.pool.Exec(ctx, s.q(`
		UPDATE {recurring}
		SET locked_by = $2, locked_until = $3
		WHERE id = $1
		  AND (locked_by IS NULL OR locked_until < $4 OR locked_by = $2)`),
		recurringID, hID, until, now,
	)
	if err != nil {
		return false, fmt.Errorf("ferry/postgres: acquire recurring lock: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}

	var exists bool
	existErr := s.pool.QueryRow(ctx,
		s.q(`SELECT EXISTS(SELECT 1 FROM {recurring} WHERE id = $1)`),
		recurringID,
	).Scan(&exists)
	if existErr != nil {
		return false, fmt.Errorf("ferry/postgres: check recurring exists: %w", existErr)
	}
	if !exists {
		return false, ferry.ErrRecurringNotFound
	}
	return false, nil
}

// ReleaseRecurringLock releases the lock if holder owns it.
func (s *Store) ReleaseRecurringLock(ctx context.Context, recurringID string, holder id.WorkerID) error {
	_, err := s.pool.Exec(ctx, s.q(`
		UPDATE {recurring}
		SET locked_by = NULL, locked_until = NULL
		WHERE id = $1 AND locked_by = $2`),
		recurringID, holder.String(),
	)
	if err != nil {
		return fmt.Errorf("ferry/postgres: release recurring lock: %w", err)
	}
	return nil
}

// UpdateRecurringRun records a firing.
// NextRunAt moves only while schedule still matches run.Schedule.
func (s *Store) UpdateRecurringRun(ctx context.Context, recurringID string, run recurring.Run) error {
	var nextArg *time.Time
	if !run.Next.IsZero() {
		n := run.Next.UTC()
		nextArg = &n
	}

	tag, err := s.pool.Exec(ctx, s.q(`
		UPDATE {recurring}
		SET last_run_at = $2, last_job_id = $3,
		    next_run_at = CASE WHEN schedule = $5 THEN COALESCE($4, next_run_at) ELSE next_run_at END,
		    updated_at = NOW()
		WHERE id = $1`),
		recurringID, run.At.UTC(), nilIfEmpty(run.JobID.String()), nextArg, run.Schedule,
	)
	if err != nil {
		return fmt.Errorf("ferry/postgres: update recurring run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ferry.ErrRecurringNotFound
	}
	return nil
}

func createdAt(e *recurring.Entry) time.Time {
	if e.CreatedAt.IsZero() {
		return time.Now().UTC()
	}
	return e.CreatedAt
}

// scanRecurring scans a single recurring row.
func scanRecurring(row pgx.Row) (*recurring.Entry, error) {
	var (
		e         recurring.Entry
		timeoutNs int64
		lastJob   *string
		lockBy    *string
	)
	err := row.Scan(
		&e.ID, &e.JobName, &e.Queue, &e.Schedule, &e.Payload, &e.MaxRetries, &timeoutNs,
		&e.LastRunAt, &lastJob, &e.NextRunAt, &lockBy, &e.LockedUntil,
		&e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	e.Timeout = time.Duration(timeoutNs)
	if lastJob != nil {
		if parsed, parseErr := id.ParseJobID(*lastJob); parseErr == nil {
			e.LastJobID = parsed
		}
	}
	if lockBy != nil {
		e.LockedBy = *lockBy
	}
	return &e, nil
}

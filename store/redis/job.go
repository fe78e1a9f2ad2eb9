package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/ferry"
	"github.com/xraph/ferry/id"
	"github.com/xraph/ferry/job"
)

// EnqueueJob stores the job as a Hash and indexes it in the queue's
// Sorted Set when it is waiting to run.
func (s *Store) EnqueueJob(ctx context.Context, j *job.Job) error {
	jID := j.ID.String()
	key := s.keys.job(jID)

	created, err := s.client.HSetNX(ctx, key, "id", jID).Result()
	if err != nil {
		return fmt.Errorf("ferry/redis: enqueue claim id: %w", err)
	}
	if !created {
		return ferry.ErrJobAlreadyExists
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, jobToMap(j))
	pipe.SAdd(ctx, s.keys.jobIDs(), jID)
	if j.State.Cancellable() {
		pipe.ZAdd(ctx, s.keys.queue(j.Queue), goredis.Z{Score: jobScore(j.RunAt), Member: jID})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("ferry/redis: enqueue job: %w", err)
	}
	return nil
}

// DequeueJobs claims up to limit due jobs from the given queues, in queue
// order. Each queue is claimed by one atomic script call.
func (s *Store) DequeueJobs(ctx context.Context, queues []string, limit int) ([]*job.Job, error) {
	now := time.Now().UTC()
	var jobs []*job.Job

	for _, q := range queues {
		if len(jobs) >= limit {
			break
		}
		remaining := limit - len(jobs)

		ids, err := dequeueScript.Run(ctx, s.client,
			[]string{s.keys.queue(q)},
			now.UnixMilli(), remaining, now.Format(time.RFC3339Nano), s.keys.job(""),
		).StringSlice()
		if err != nil && !errors.Is(err, goredis.Nil) {
			return nil, fmt.Errorf("ferry/redis: dequeue: %w", err)
		}

		for _, jID := range ids {
			j, getErr := s.getJobByKey(ctx, s.keys.job(jID))
			if getErr != nil {
				return nil, getErr
			}
			jobs = append(jobs, j)
		}
	}
	return jobs, nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return s.getJobByKey(ctx, s.keys.job(jobID.String()))
}

// UpdateJob persists changes to an existing job and keeps the queue index
// in step with its state.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	jID := j.ID.String()
	key := s.keys.job(jID)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("ferry/redis: update job exists: %w", err)
	}
	if exists == 0 {
		return ferry.ErrJobNotFound
	}

	fields := jobToMap(j)
	fields["updated_at"] = time.Now().UTC().Format(time.RFC3339Nano)

	pipe := s.client.TxPipeline()
	pipe.HDel(ctx, key, "started_at", "completed_at", "heartbeat_at")
	pipe.HSet(ctx, key, fields)
	if j.State.Cancellable() {
		pipe.ZAdd(ctx, s.keys.queue(j.Queue), goredis.Z{Score: jobScore(j.RunAt), Member: jID})
	} else {
		pipe.ZRem(ctx, s.keys.queue(j.Queue), jID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("ferry/redis: update job: %w", err)
	}
	return nil
}

// CancelJob cancels a pending or retrying job atomically.
func (s *Store) CancelJob(ctx context.Context, jobID id.JobID) (bool, error) {
	jID := jobID.String()
	n, err := cancelScript.Run(ctx, s.client,
		[]string{s.keys.job(jID)},
		time.Now().UTC().Format(time.RFC3339Nano), s.keys.queue(""), jID,
	).Int()
	if err != nil {
		return false, fmt.Errorf("ferry/redis: cancel job: %w", err)
	}
	return n == 1, nil
}

// HeartbeatJob updates the heartbeat timestamp for a running job.
func (s *Store) HeartbeatJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error {
	key := s.keys.job(jobID.String())
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("ferry/redis: heartbeat exists: %w", err)
	}
	if exists == 0 {
		return ferry.ErrJobNotFound
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = s.client.HSet(ctx, key,
		"heartbeat_at", now,
		"worker_id", workerID.String(),
		"updated_at", now,
	).Result()
	if err != nil {
		return fmt.Errorf("ferry/redis: heartbeat job: %w", err)
	}
	return nil
}

// ReapStaleJobs returns running jobs whose last heartbeat is older than the threshold.
func (s *Store) ReapStaleJobs(ctx context.Context, threshold time.Duration) ([]*job.Job, error) {
	cutoff := time.Now().UTC().Add(-threshold)

	all, err := s.allJobs(ctx)
	if err != nil {
		return nil, err
	}

	var stale []*job.Job
	for _, j := range all {
		if j.State == job.StateRunning && j.HeartbeatAt != nil && j.HeartbeatAt.Before(cutoff) {
			stale = append(stale, j)
		}
	}
	return stale, nil
}

// CountJobs returns the number of jobs matching the given options.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	all, err := s.allJobs(ctx)
	if err != nil {
		return 0, err
	}

	var count int64
	for _, j := range all {
		if opts.State != "" && j.State != opts.State {
			continue
		}
		if opts.Queue != "" && j.Queue != opts.Queue {
			continue
		}
		count++
	}
	return count, nil
}

// PurgeJobs deletes terminal jobs last updated before the cutoff.
func (s *Store) PurgeJobs(ctx context.Context, before time.Time) (int64, error) {
	all, err := s.allJobs(ctx)
	if err != nil {
		return 0, err
	}

	var n int64
	for _, j := range all {
		if !j.State.Terminal() || !j.UpdatedAt.Before(before) {
			continue
		}
		jID := j.ID.String()
		pipe := s.client.TxPipeline()
		pipe.Del(ctx, s.keys.job(jID))
		pipe.SRem(ctx, s.keys.jobIDs(), jID)
		pipe.ZRem(ctx, s.keys.queue(j.Queue), jID)
		if _, err := pipe.Exec(ctx); err != nil {
			return n, fmt.Errorf("ferry/redis: purge job: %w", err)
		}
		n++
	}
	return n, nil
}

// ── helpers ──

// jobScore orders a queue by RunAt; members with score <= now are due.
func jobScore(runAt time.Time) float64 {
	return float64(runAt.UnixMilli())
}

func (s *Store) allJobs(ctx context.Context) ([]*job.Job, error) {
	ids, err := s.client.SMembers(ctx, s.keys.jobIDs()).Result()
	if err != nil {
		return nil, fmt.Errorf("ferry/redis: list job ids: %w", err)
	}
	sort.Strings(ids)

	jobs := make([]*job.Job, 0, len(ids))
	for _, jID := range ids {
		j, getErr := s.getJobByKey(ctx, s.keys.job(jID))
		if getErr != nil {
			continue // skip missing
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

func jobToMap(j *job.Job) map[string]any {
	m := map[string]any{
		"id":            j.ID.String(),
		"name":          j.Name,
		"invocation_id": j.InvocationID,
		"recurring_id":  j.RecurringID,
		"queue":         j.Queue,
		"payload":       string(j.Payload),
		"state":         string(j.State),
		"max_retries":   strconv.Itoa(j.MaxRetries),
		"retry_count":   strconv.Itoa(j.RetryCount),
		"last_error":    j.LastError,
		"worker_id":     j.WorkerID.String(),
		"run_at":        j.RunAt.Format(time.RFC3339Nano),
		"timeout":       strconv.FormatInt(int64(j.Timeout), 10),
		"created_at":    j.CreatedAt.Format(time.RFC3339Nano),
		"updated_at":    j.UpdatedAt.Format(time.RFC3339Nano),
	}
	if j.StartedAt != nil {
		m["started_at"] = j.StartedAt.Format(time.RFC3339Nano)
	}
	if j.CompletedAt != nil {
		m["completed_at"] = j.CompletedAt.Format(time.RFC3339Nano)
	}
	if j.HeartbeatAt != nil {
		m["heartbeat_at"] = j.HeartbeatAt.Format(time.RFC3339Nano)
	}
	return m
}

func (s *Store) getJobByKey(ctx context.Context, key string) (*job.Job, error) {
	vals, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("ferry/redis: get job: %w", err)
	}
	if len(vals) == 0 || vals["name"] == "" {
		return nil, ferry.ErrJobNotFound
	}
	return mapToJob(vals)
}

func mapToJob(m map[string]string) (*job.Job, error) {
	jID, err := id.ParseJobID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("ferry/redis: parse job id: %w", err)
	}

	maxRetries, _ := strconv.Atoi(m["max_retries"])      //nolint:errcheck // best-effort parse from trusted Redis data
	retryCount, _ := strconv.Atoi(m["retry_count"])      //nolint:errcheck // best-effort parse from trusted Redis data
	timeout, _ := strconv.ParseInt(m["timeout"], 10, 64) //nolint:errcheck // best-effort parse from trusted Redis data

	j := &job.Job{
		Entity: ferry.Entity{
			CreatedAt: parseTime(m["created_at"]),
			UpdatedAt: parseTime(m["updated_at"]),
		},
		ID:           jID,
		Name:         m["name"],
		InvocationID: m["invocation_id"],
		RecurringID:  m["recurring_id"],
		Queue:        m["queue"],
		State:        job.State(m["state"]),
		MaxRetries:   maxRetries,
		RetryCount:   retryCount,
		LastError:    m["last_error"],
		RunAt:        parseTime(m["run_at"]),
		Timeout:      time.Duration(timeout),
		StartedAt:    parseTimePtr(m["started_at"]),
		CompletedAt:  parseTimePtr(m["completed_at"]),
		HeartbeatAt:  parseTimePtr(m["heartbeat_at"]),
	}
	if p := m["payload"]; p != "" {
		j.Payload = []byte(p)
	}
	if wid := m["worker_id"]; wid != "" {
		j.WorkerID, _ = id.ParseWorkerID(wid) //nolint:errcheck // best-effort parse from trusted Redis data
	}
	return j, nil
}

func parseTime(v string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
	return t
}

func parseTimePtr(v string) *time.Time {
	if v == "" {
		return nil
	}
	t := parseTime(v)
	return &t
}

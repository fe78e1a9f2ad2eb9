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
	"github.com/xraph/ferry/recurring"
)

// UpsertRecurring writes the definition fields of the entry in one
// transaction. Fields it does not touch (run history) survive a replace.
func (s *Store) UpsertRecurring(ctx context.Context, e *recurring.Entry) error {
	key := s.keys.recurring(e.ID)
	now := time.Now().UTC().Format(time.RFC3339Nano)

	created := e.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}

	pipe := s.client.TxPipeline()
	pipe.HSetNX(ctx, key, "created_at", created.Format(time.RFC3339Nano))
	pipe.HSet(ctx, key, map[string]any{
		"id":          e.ID,
		"job_name":    e.JobName,
		"queue":       e.Queue,
		"schedule":    e.Schedule,
		"payload":     string(e.Payload),
		"max_retries": strconv.Itoa(e.MaxRetries),
		"timeout":     strconv.FormatInt(int64(e.Timeout), 10),
		"updated_at":  now,
	})
	if e.NextRunAt != nil {
		pipe.HSet(ctx, key, "next_run_at", e.NextRunAt.UTC().Format(time.RFC3339Nano))
	} else {
		pipe.HDel(ctx, key, "next_run_at")
	}
	pipe.SAdd(ctx, s.keys.recurringIDs(), e.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("ferry/redis: upsert recurring: %w", err)
	}
	return nil
}

// GetRecurring retrieves an entry by id.
func (s *Store) GetRecurring(ctx context.Context, recurringID string) (*recurring.Entry, error) {
	pipe := s.client.Pipeline()
	hash := pipe.HGetAll(ctx, s.keys.recurring(recurringID))
	holder := pipe.Get(ctx, s.keys.recurringLock(recurringID))
	ttl := pipe.PTTL(ctx, s.keys.recurringLock(recurringID))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, goredis.Nil) {
		return nil, fmt.Errorf("ferry/redis: get recurring: %w", err)
	}

	vals := hash.Val()
	if len(vals) == 0 {
		return nil, ferry.ErrRecurringNotFound
	}
	e := mapToEntry(vals)
	if h := holder.Val(); h != "" {
		e.LockedBy = h
		if d := ttl.Val(); d > 0 {
			until := time.Now().UTC().Add(d)
			e.LockedUntil = &until
		}
	}
	return e, nil
}

// ListRecurring returns all entries ordered by id.
func (s *Store) ListRecurring(ctx context.Context) ([]*recurring.Entry, error) {
	ids, err := s.client.SMembers(ctx, s.keys.recurringIDs()).Result()
	if err != nil {
		return nil, fmt.Errorf("ferry/redis: list recurring ids: %w", err)
	}
	sort.Strings(ids)

	entries := make([]*recurring.Entry, 0, len(ids))
	for _, rID := range ids {
		e, getErr := s.GetRecurring(ctx, rID)
		if getErr != nil {
			if errors.Is(getErr, ferry.ErrRecurringNotFound) {
				continue
			}
			return nil, getErr
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// DeleteRecurring removes an entry and its lock.
func (s *Store) DeleteRecurring(ctx context.Context, recurringID string) error {
	pipe := s.client.TxPipeline()
	del := pipe.Del(ctx, s.keys.recurring(recurringID))
	pipe.Del(ctx, s.keys.recurringLock(recurringID))
	pipe.SRem(ctx, s.keys.recurringIDs(), recurringID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("ferry/redis: delete recurring: %w", err)
	}
	if del.Val() == 0 {
		return ferry.ErrRecurringNotFound
	}
	return nil
}

// AcquireRecurringLock takes or refreshes the entry's lock key.
func (s *Store) AcquireRecurringLock(ctx context.Context, recurringID string, holder id.WorkerID, ttl time.Duration) (bool, error) {
	exists, err := s.client.Exists(ctx, s.keys.recurring(recurringID)).Result()
	if err != nil {
		return false, fmt.Errorf("ferry/redis: acquire recurring lock exists: %w", err)
	}
	if exists == 0 {
		return false, ferry.ErrRecurringNotFound
	}

	ok, err := acquireScript.Run(ctx, s.client,
		[]string{s.keys.recurringLock(recurringID)},
		holder.String(), ttl.Milliseconds(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("ferry/redis: acquire recurring lock: %w", err)
	}
	return ok == 1, nil
}

// ReleaseRecurringLock releases the lock if holder owns it.
func (s *Store) ReleaseRecurringLock(ctx context.Context, recurringID string, holder id.WorkerID) error {
	err := releaseScript.Run(ctx, s.client,
		[]string{s.keys.recurringLock(recurringID)},
		holder.String(),
	).Err()
	if err != nil && !errors.Is(err, goredis.Nil) {
		return fmt.Errorf("ferry/redis: release recurring lock: %w", err)
	}
	return nil
}

// UpdateRecurringRun records a firing. The schedule comparison and the
// write happen in one script.
func (s *Store) UpdateRecurringRun(ctx context.Context, recurringID string, run recurring.Run) error {
	next := ""
	if !run.Next.IsZero() {
		next = run.Next.UTC().Format(time.RFC3339Nano)
	}
	n, err := updateRunScript.Run(ctx, s.client,
		[]string{s.keys.recurring(recurringID)},
		run.At.UTC().Format(time.RFC3339Nano),
		run.JobID.String(),
		time.Now().UTC().Format(time.RFC3339Nano),
		next,
		run.Schedule,
	).Int()
	if err != nil {
		return fmt.Errorf("ferry/redis: update recurring run: %w", err)
	}
	if n == 0 {
		return ferry.ErrRecurringNotFound
	}
	return nil
}

func mapToEntry(m map[string]string) *recurring.Entry {
	maxRetries, _ := strconv.Atoi(m["max_retries"])      //nolint:errcheck // best-effort parse from trusted Redis data
	timeout, _ := strconv.ParseInt(m["timeout"], 10, 64) //nolint:errcheck // best-effort parse from trusted Redis data

	e := &recurring.Entry{
		Entity: ferry.Entity{
			CreatedAt: parseTime(m["created_at"]),
			UpdatedAt: parseTime(m["updated_at"]),
		},
		ID:         m["id"],
		JobName:    m["job_name"],
		Queue:      m["queue"],
		Schedule:   m["schedule"],
		MaxRetries: maxRetries,
		Timeout:    time.Duration(timeout),
		LastRunAt:  parseTimePtr(m["last_run_at"]),
		NextRunAt:  parseTimePtr(m["next_run_at"]),
	}
	if p := m["payload"]; p != "" {
		e.Payload = []byte(p)
	}
	if v := m["last_job_id"]; v != "" {
		e.LastJobID, _ = id.ParseJobID(v) //nolint:errcheck // best-effort parse from trusted Redis data
	}
	return e
}

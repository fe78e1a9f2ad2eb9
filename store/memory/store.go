// Package memory provides an in-memory store for tests and development.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/xraph/ferry"
	"github.com/xraph/ferry/id"
	"github.com/xraph/ferry/job"
	"github.com/xraph/ferry/recurring"
)

// We can't import store here (import cycle), so we verify each subsystem.
var (
	_ job.Store       = (*Store)(nil)
	_ recurring.Store = (*Store)(nil)
)

// Store is a fully in-memory implementation of store.Store.
// Safe for concurrent access.
type Store struct {
	mu sync.RWMutex

	jobs      map[string]*job.Job
	recurring map[string]*recurring.Entry
	closed    bool
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		jobs:      make(map[string]*job.Job),
		recurring: make(map[string]*recurring.Entry),
	}
}

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping reports ferry.ErrStoreClosed after Close.
func (m *Store) Ping(_ context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ferry.ErrStoreClosed
	}
	return nil
}

// Close marks the store closed. Data stays readable.
func (m *Store) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// ──────────────────────────────────────────────────
// Job Store
// ──────────────────────────────────────────────────

// EnqueueJob persists a new job.
func (m *Store) EnqueueJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ferry.ErrStoreClosed
	}
	key := j.ID.String()
	if _, exists := m.jobs[key]; exists {
		return ferry.ErrJobAlreadyExists
	}
	m.jobs[key] = j.Clone()
	return nil
}

// DequeueJobs atomically claims up to limit due jobs from the given
// queues, sets them to running, and returns them.
func (m *Store) DequeueJobs(_ context.Context, queues []string, limit int) ([]*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ferry.ErrStoreClosed
	}

	queueSet := make(map[string]struct{}, len(queues))
	for _, q := range queues {
		queueSet[q] = struct{}{}
	}

	now := time.Now().UTC()

	candidates := make([]*job.Job, 0)
	for _, j := range m.jobs {
		if !j.State.Cancellable() {
			continue
		}
		if j.RunAt.After(now) {
			continue
		}
		if len(queueSet) > 0 {
			if _, ok := queueSet[j.Queue]; !ok {
				continue
			}
		}
		candidates = append(candidates, j)
	}

	sort.Slice(candidates, func(i, k int) bool {
		if !candidates[i].RunAt.Equal(candidates[k].RunAt) {
			return candidates[i].RunAt.Before(candidates[k].RunAt)
		}
		return candidates[i].CreatedAt.Before(candidates[k].CreatedAt)
	})

	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	result := make([]*job.Job, len(candidates))
	for i, j := range candidates {
		j.State = job.StateRunning
		started := now
		j.StartedAt = &started
		hb := now
		j.HeartbeatAt = &hb
		j.UpdatedAt = now
		result[i] = j.Clone()
	}

	return result, nil
}

// GetJob retrieves a job by ID.
func (m *Store) GetJob(_ context.Context, jobID id.JobID) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, ferry.ErrJobNotFound
	}
	return j.Clone(), nil
}

// UpdateJob persists changes to an existing job.
func (m *Store) UpdateJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := j.ID.String()
	if _, ok := m.jobs[key]; !ok {
		return ferry.ErrJobNotFound
	}
	cp := j.Clone()
	cp.UpdatedAt = time.Now().UTC()
	m.jobs[key] = cp
	return nil
}

// CancelJob moves a job that has not started to cancelled.
func (m *Store) CancelJob(_ context.Context, jobID id.JobID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false, ferry.ErrStoreClosed
	}
	j, ok := m.jobs[jobID.String()]
	if !ok || !j.State.Cancellable() {
		return false, nil
	}
	now := time.Now().UTC()
	j.State = job.StateCancelled
	j.CompletedAt = &now
	j.UpdatedAt = now
	return true, nil
}

// HeartbeatJob updates the heartbeat timestamp for a running job.
func (m *Store) HeartbeatJob(_ context.Context, jobID id.JobID, _ id.WorkerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return ferry.ErrJobNotFound
	}
	now := time.Now().UTC()
	j.HeartbeatAt = &now
	return nil
}

// ReapStaleJobs returns running jobs whose last heartbeat is older than
// the given threshold.
func (m *Store) ReapStaleJobs(_ context.Context, threshold time.Duration) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cutoff := time.Now().UTC().Add(-threshold)
	var stale []*job.Job
	for _, j := range m.jobs {
		if j.State != job.StateRunning {
			continue
		}
		if j.HeartbeatAt != nil && j.HeartbeatAt.Before(cutoff) {
			stale = append(stale, j.Clone())
		}
	}
	return stale, nil
}

// CountJobs returns the number of jobs matching the given options.
func (m *Store) CountJobs(_ context.Context, opts job.CountOpts) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var count int64
	for _, j := range m.jobs {
		if opts.Queue != "" && j.Queue != opts.Queue {
			continue
		}
		if opts.State != "" && j.State != opts.State {
			continue
		}
		count++
	}
	return count, nil
}

// PurgeJobs removes terminal jobs last updated before the cutoff.
func (m *Store) PurgeJobs(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for k, j := range m.jobs {
		if j.State.Terminal() && j.UpdatedAt.Before(before) {
			delete(m.jobs, k)
			n++
		}
	}
	return n, nil
}

// ──────────────────────────────────────────────────
// Recurring Store
// ──────────────────────────────────────────────────

// UpsertRecurring creates or replaces a recurring entry.
func (m *Store) UpsertRecurring(_ context.Context, e *recurring.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ferry.ErrStoreClosed
	}

	cp := cloneEntry(e)
	now := time.Now().UTC()
	if existing, ok := m.recurring[e.ID]; ok {
		cp.CreatedAt = existing.CreatedAt
		cp.LastRunAt = existing.LastRunAt
		cp.LastJobID = existing.LastJobID
		cp.LockedBy = existing.LockedBy
		cp.LockedUntil = existing.LockedUntil
	} else if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	m.recurring[e.ID] = cp
	return nil
}

// GetRecurring retrieves a recurring entry by id.
func (m *Store) GetRecurring(_ context.Context, recurringID string) (*recurring.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.recurring[recurringID]
	if !ok {
		return nil, ferry.ErrRecurringNotFound
	}
	return cloneEntry(e), nil
}

// ListRecurring returns all entries ordered by id.
func (m *Store) ListRecurring(_ context.Context) ([]*recurring.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*recurring.Entry, 0, len(m.recurring))
	for _, e := range m.recurring {
		result = append(result, cloneEntry(e))
	}
	sort.Slice(result, func(i, k int) bool { return result[i].ID < result[k].ID })
	return result, nil
}

// DeleteRecurring removes a recurring entry.
func (m *Store) DeleteRecurring(_ context.Context, recurringID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.recurring[recurringID]; !ok {
		return ferry.ErrRecurringNotFound
	}
	delete(m.recurring, recurringID)
	return nil
}

// AcquireRecurringLock takes the per-entry lock.
func (m *Store) AcquireRecurringLock(_ context.Context, recurringID string, holder id.WorkerID, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.recurring[recurringID]
	if !ok {
		return false, ferry.ErrRecurringNotFound
	}

	now := time.Now().UTC()
	if e.LockedBy != "" && e.LockedBy != holder.String() && e.LockedUntil != nil && e.LockedUntil.After(now) {
		return false, nil
	}

	until := now.Add(ttl)
	e.LockedBy = holder.String()
	e.LockedUntil = &until
	return true, nil
}

// ReleaseRecurringLock releases the lock if holder owns it.
func (m *Store) ReleaseRecurringLock(_ context.Context, recurringID string, holder id.WorkerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.recurring[recurringID]
	if !ok {
		return nil
	}
	if e.LockedBy == holder.String() {
		e.LockedBy = ""
		e.LockedUntil = nil
	}
	return nil
}

// UpdateRecurringRun records a firing. NextRunAt moves only while the
// entry still has the schedule the run was computed from.
func (m *Store) UpdateRecurringRun(_ context.Context, recurringID string, run recurring.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.recurring[recurringID]
	if !ok {
		return ferry.ErrRecurringNotFound
	}
	lr := run.At.UTC()
	e.LastRunAt = &lr
	e.LastJobID = run.JobID
	if run.AppliesTo(e.Schedule) {
		n := run.Next.UTC()
		e.NextRunAt = &n
	}
	e.UpdatedAt = time.Now().UTC()
	return nil
}

func cloneEntry(e *recurring.Entry) *recurring.Entry {
	cp := *e
	if e.Payload != nil {
		cp.Payload = append([]byte(nil), e.Payload...)
	}
	cp.LastRunAt = cloneTime(e.LastRunAt)
	cp.NextRunAt = cloneTime(e.NextRunAt)
	cp.LockedUntil = cloneTime(e.LockedUntil)
	return &cp
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xraph/ferry"
	"github.com/xraph/ferry/id"
	"github.com/xraph/ferry/job"
	"github.com/xraph/ferry/recurring"
	"github.com/xraph/ferry/store/storetest"
)

func TestStoreSuite(t *testing.T) {
	storetest.Run(t, func(*testing.T) storetest.Store { return New() })
}

// ──────────────────────────────────────────────────
// Lifecycle tests
// ──────────────────────────────────────────────────

func TestLifecycle(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if err := s.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Ping(ctx); !errors.Is(err, ferry.ErrStoreClosed) {
		t.Fatalf("Ping after Close = %v, want ErrStoreClosed", err)
	}
	if err := s.EnqueueJob(ctx, newJob("late", "default", job.StatePending)); !errors.Is(err, ferry.ErrStoreClosed) {
		t.Fatalf("EnqueueJob after Close = %v, want ErrStoreClosed", err)
	}
}

// ──────────────────────────────────────────────────
// Job Store tests
// ──────────────────────────────────────────────────

func newJob(name, queue string, state job.State) *job.Job {
	return &job.Job{
		Entity:       ferry.NewEntity(),
		ID:           id.NewJobID(),
		Name:         name,
		InvocationID: "inv-" + name,
		Queue:        queue,
		Payload:      []byte(`{"test":true}`),
		State:        state,
		MaxRetries:   3,
		RunAt:        time.Now().UTC().Add(-time.Second), // eligible immediately
	}
}

func TestJobEnqueueAndGet(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	j := newJob("test-job", "default", job.StatePending)

	tests := []struct {
		name    string
		fn      func() error
		wantErr error
	}{
		{
			name:    "enqueue new job",
			fn:      func() error { return s.EnqueueJob(ctx, j) },
			wantErr: nil,
		},
		{
			name:    "enqueue duplicate job",
			fn:      func() error { return s.EnqueueJob(ctx, j) },
			wantErr: ferry.ErrJobAlreadyExists,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.fn()
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("got error %v, want %v", err, tt.wantErr)
			}
		})
	}

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Name != j.Name || got.InvocationID != j.InvocationID {
		t.Fatalf("got %q/%q, want %q/%q", got.Name, got.InvocationID, j.Name, j.InvocationID)
	}

	// The store must not alias caller memory.
	j.Payload[0] = 'X'
	got, _ = s.GetJob(ctx, j.ID)
	if got.Payload[0] != '{' {
		t.Fatal("stored payload changed with caller's slice")
	}

	_, err = s.GetJob(ctx, id.NewJobID())
	if !errors.Is(err, ferry.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestJobDequeue(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	older := newJob("older", "default", job.StatePending)
	older.RunAt = time.Now().UTC().Add(-time.Minute)
	newer := newJob("newer", "default", job.StatePending)
	retry := newJob("retry", "default", job.StateRetrying)
	other := newJob("other-queue", "critical", job.StatePending)
	done := newJob("done", "default", job.StateCompleted)

	for _, j := range []*job.Job{older, newer, retry, other, done} {
		if err := s.EnqueueJob(ctx, j); err != nil {
			t.Fatalf("EnqueueJob: %v", err)
		}
	}

	tests := []struct {
		name      string
		queues    []string
		limit     int
		wantCount int
		wantFirst string
	}{
		{
			name:      "dequeue from critical queue",
			queues:    []string{"critical"},
			limit:     10,
			wantCount: 1,
			wantFirst: "other-queue",
		},
		{
			name:      "dequeue from default queue oldest first",
			queues:    []string{"default"},
			limit:     2,
			wantCount: 2,
			wantFirst: "older",
		},
		{
			name:      "remaining default job",
			queues:    []string{"default"},
			limit:     10,
			wantCount: 1,
		},
		{
			name:      "nothing left",
			queues:    []string{"default", "critical"},
			limit:     10,
			wantCount: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jobs, err := s.DequeueJobs(ctx, tt.queues, tt.limit)
			if err != nil {
				t.Fatalf("DequeueJobs: %v", err)
			}
			if len(jobs) != tt.wantCount {
				t.Fatalf("got %d jobs, want %d", len(jobs), tt.wantCount)
			}
			if tt.wantFirst != "" && jobs[0].Name != tt.wantFirst {
				t.Fatalf("first job name = %q, want %q", jobs[0].Name, tt.wantFirst)
			}
			for _, j := range jobs {
				if j.State != job.StateRunning {
					t.Fatalf("dequeued job state = %q, want %q", j.State, job.StateRunning)
				}
				if j.StartedAt == nil || j.HeartbeatAt == nil {
					t.Fatal("dequeued job missing StartedAt or HeartbeatAt")
				}
			}
		})
	}
}

func TestJobDequeueRunAt(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	jFuture := newJob("future", "default", job.StatePending)
	jFuture.RunAt = time.Now().UTC().Add(time.Hour)
	jReady := newJob("ready", "default", job.StatePending)

	for _, j := range []*job.Job{jFuture, jReady} {
		if err := s.EnqueueJob(ctx, j); err != nil {
			t.Fatalf("EnqueueJob: %v", err)
		}
	}

	jobs, err := s.DequeueJobs(ctx, []string{"default"}, 10)
	if err != nil {
		t.Fatalf("DequeueJobs: %v", err)
	}
	if len(jobs) != 1 || jobs[0].Name != "ready" {
		t.Fatalf("got %d jobs, want only %q", len(jobs), "ready")
	}
}

func TestJobUpdate(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	j := newJob("update-me", "default", job.StatePending)
	if err := s.EnqueueJob(ctx, j); err != nil {
		t.Fatal(err)
	}

	j.State = job.StateCompleted
	if err := s.UpdateJob(ctx, j); err != nil {
		t.Fatal(err)
	}

	got, _ := s.GetJob(ctx, j.ID)
	if got.State != job.StateCompleted {
		t.Fatalf("state = %q, want %q", got.State, job.StateCompleted)
	}

	missing := newJob("missing", "default", job.StatePending)
	if err := s.UpdateJob(ctx, missing); !errors.Is(err, ferry.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestJobCancel(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	pending := newJob("pending", "default", job.StatePending)
	retrying := newJob("retrying", "default", job.StateRetrying)
	running := newJob("running", "default", job.StateRunning)
	completed := newJob("completed", "default", job.StateCompleted)
	for _, j := range []*job.Job{pending, retrying, running, completed} {
		if err := s.EnqueueJob(ctx, j); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		name  string
		jobID id.JobID
		want  bool
	}{
		{"pending", pending.ID, true},
		{"retrying", retrying.ID, true},
		{"pending again", pending.ID, false},
		{"running", running.ID, false},
		{"completed", completed.ID, false},
		{"missing", id.NewJobID(), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.CancelJob(ctx, tt.jobID)
			if err != nil {
				t.Fatalf("CancelJob: %v", err)
			}
			if got != tt.want {
				t.Fatalf("CancelJob = %v, want %v", got, tt.want)
			}
		})
	}

	got, _ := s.GetJob(ctx, pending.ID)
	if got.State != job.StateCancelled {
		t.Fatalf("state = %q, want cancelled", got.State)
	}

	// A cancelled job is never dequeued.
	jobs, _ := s.DequeueJobs(ctx, []string{"default"}, 10)
	if len(jobs) != 0 {
		t.Fatalf("dequeued %d cancelled jobs", len(jobs))
	}
}

func TestJobHeartbeatAndReapStale(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	j := newJob("heartbeat-job", "default", job.StateRunning)
	old := time.Now().UTC().Add(-time.Minute)
	j.HeartbeatAt = &old

	if err := s.EnqueueJob(ctx, j); err != nil {
		t.Fatal(err)
	}

	stale, err := s.ReapStaleJobs(ctx, 30*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if len(stale) != 1 {
		t.Fatalf("expected 1 stale job, got %d", len(stale))
	}

	if err := s.HeartbeatJob(ctx, j.ID, id.NewWorkerID()); err != nil {
		t.Fatal(err)
	}

	stale, err = s.ReapStaleJobs(ctx, 30*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if len(stale) != 0 {
		t.Fatalf("expected 0 stale jobs after heartbeat, got %d", len(stale))
	}

	if err := s.HeartbeatJob(ctx, id.NewJobID(), id.NewWorkerID()); !errors.Is(err, ferry.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestJobCount(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	for _, j := range []*job.Job{
		newJob("a", "default", job.StatePending),
		newJob("b", "default", job.StateRunning),
		newJob("c", "critical", job.StatePending),
	} {
		if err := s.EnqueueJob(ctx, j); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		name string
		opts job.CountOpts
		want int64
	}{
		{"all", job.CountOpts{}, 3},
		{"default queue", job.CountOpts{Queue: "default"}, 2},
		{"pending", job.CountOpts{State: job.StatePending}, 2},
		{"critical running", job.CountOpts{Queue: "critical", State: job.StateRunning}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.CountJobs(ctx, tt.opts)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Fatalf("CountJobs = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestJobPurge(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	done := newJob("done", "default", job.StateCompleted)
	pending := newJob("pending", "default", job.StatePending)
	for _, j := range []*job.Job{done, pending} {
		if err := s.EnqueueJob(ctx, j); err != nil {
			t.Fatal(err)
		}
	}

	n, err := s.PurgeJobs(ctx, time.Now().UTC().Add(time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("purged %d, want 1", n)
	}
	if _, err := s.GetJob(ctx, done.ID); !errors.Is(err, ferry.ErrJobNotFound) {
		t.Fatalf("completed job still present: %v", err)
	}
	if _, err := s.GetJob(ctx, pending.ID); err != nil {
		t.Fatalf("pending job purged: %v", err)
	}
}

// ──────────────────────────────────────────────────
// Recurring Store tests
// ──────────────────────────────────────────────────

func newEntry(recurringID, schedule string) *recurring.Entry {
	next := time.Now().UTC().Add(time.Hour)
	return &recurring.Entry{
		Entity:    ferry.NewEntity(),
		ID:        recurringID,
		JobName:   "report",
		Schedule:  schedule,
		Payload:   []byte(`{"kind":"daily"}`),
		NextRunAt: &next,
	}
}

func TestRecurringUpsert(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	first := newEntry("daily-report", "0 2 * * *")
	if err := s.UpsertRecurring(ctx, first); err != nil {
		t.Fatal(err)
	}

	jobID := id.NewJobID()
	ran := time.Now().UTC()
	if err := s.UpdateRecurringRun(ctx, "daily-report", recurring.Run{At: ran, JobID: jobID}); err != nil {
		t.Fatal(err)
	}

	second := newEntry("daily-report", "0 3 * * *")
	second.JobName = "report-v2"
	if err := s.UpsertRecurring(ctx, second); err != nil {
		t.Fatal(err)
	}

	list, err := s.ListRecurring(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Fatalf("got %d entries after upsert, want 1", len(list))
	}

	got := list[0]
	if got.Schedule != "0 3 * * *" || got.JobName != "report-v2" {
		t.Fatalf("got %q/%q, want replaced definition", got.Schedule, got.JobName)
	}
	if got.LastJobID.String() != jobID.String() || got.LastRunAt == nil {
		t.Fatal("upsert dropped run history")
	}
	if !got.CreatedAt.Equal(first.CreatedAt) {
		t.Fatal("upsert changed CreatedAt")
	}
}

func TestRecurringGetAndDelete(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	if err := s.UpsertRecurring(ctx, newEntry("b", "@hourly")); err != nil {
		t.Fatal(err)
	}
	if err := s.UpsertRecurring(ctx, newEntry("a", "@daily")); err != nil {
		t.Fatal(err)
	}

	list, _ := s.ListRecurring(ctx)
	if len(list) != 2 || list[0].ID != "a" {
		t.Fatalf("list not ordered by id: %+v", list)
	}

	if _, err := s.GetRecurring(ctx, "a"); err != nil {
		t.Fatalf("GetRecurring: %v", err)
	}
	if err := s.DeleteRecurring(ctx, "a"); err != nil {
		t.Fatalf("DeleteRecurring: %v", err)
	}
	if _, err := s.GetRecurring(ctx, "a"); !errors.Is(err, ferry.ErrRecurringNotFound) {
		t.Fatalf("expected ErrRecurringNotFound, got %v", err)
	}
	if err := s.DeleteRecurring(ctx, "a"); !errors.Is(err, ferry.ErrRecurringNotFound) {
		t.Fatalf("second delete = %v, want ErrRecurringNotFound", err)
	}
}

func TestRecurringLocking(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	if err := s.UpsertRecurring(ctx, newEntry("locked", "@every 1m")); err != nil {
		t.Fatal(err)
	}

	w1 := id.NewWorkerID()
	w2 := id.NewWorkerID()

	tests := []struct {
		name string
		fn   func() (bool, error)
		want bool
	}{
		{"w1 acquires", func() (bool, error) { return s.AcquireRecurringLock(ctx, "locked", w1, time.Minute) }, true},
		{"w2 blocked", func() (bool, error) { return s.AcquireRecurringLock(ctx, "locked", w2, time.Minute) }, false},
		{"w1 re-acquires", func() (bool, error) { return s.AcquireRecurringLock(ctx, "locked", w1, time.Minute) }, true},
		{"w2 after w1 release", func() (bool, error) {
			if err := s.ReleaseRecurringLock(ctx, "locked", w1); err != nil {
				return false, err
			}
			return s.AcquireRecurringLock(ctx, "locked", w2, time.Minute)
		}, true},
		{"w1 release is a no-op for w2's lock", func() (bool, error) {
			if err := s.ReleaseRecurringLock(ctx, "locked", w1); err != nil {
				return false, err
			}
			return s.AcquireRecurringLock(ctx, "locked", w1, time.Minute)
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.fn()
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRecurringLockExpires(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	if err := s.UpsertRecurring(ctx, newEntry("ttl", "@every 1m")); err != nil {
		t.Fatal(err)
	}
	if ok, _ := s.AcquireRecurringLock(ctx, "ttl", id.NewWorkerID(), time.Millisecond); !ok {
		t.Fatal("first acquire failed")
	}
	time.Sleep(5 * time.Millisecond)
	if ok, _ := s.AcquireRecurringLock(ctx, "ttl", id.NewWorkerID(), time.Minute); !ok {
		t.Fatal("expired lock was not taken over")
	}
}

func TestRecurringUpdateRun(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	e := newEntry("runs", "@every 1m")
	if err := s.UpsertRecurring(ctx, e); err != nil {
		t.Fatal(err)
	}

	next := time.Now().UTC().Add(2 * time.Minute).Truncate(time.Second)
	if err := s.UpdateRecurringRun(ctx, "runs", recurring.Run{At: time.Now(), JobID: id.NewJobID(), Next: next, Schedule: e.Schedule}); err != nil {
		t.Fatal(err)
	}
	got, _ := s.GetRecurring(ctx, "runs")
	if got.NextRunAt == nil || !got.NextRunAt.Equal(next) {
		t.Fatalf("NextRunAt = %v, want %v", got.NextRunAt, next)
	}

	// Zero next keeps the schedule.
	if err := s.UpdateRecurringRun(ctx, "runs", recurring.Run{At: time.Now(), JobID: id.NewJobID()}); err != nil {
		t.Fatal(err)
	}
	got, _ = s.GetRecurring(ctx, "runs")
	if !got.NextRunAt.Equal(next) {
		t.Fatalf("NextRunAt moved to %v", got.NextRunAt)
	}

	if err := s.UpdateRecurringRun(ctx, "missing", recurring.Run{At: time.Now(), JobID: id.NewJobID(), Next: next}); !errors.Is(err, ferry.ErrRecurringNotFound) {
		t.Fatalf("expected ErrRecurringNotFound, got %v", err)
	}
}

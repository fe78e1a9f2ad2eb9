// Package storetest holds the behavioural suite every store backend must
// pass. Backend packages call Run from their own tests.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/xraph/ferry"
	"github.com/xraph/ferry/id"
	"github.com/xraph/ferry/job"
	"github.com/xraph/ferry/recurring"
)

// Store is the part of store.Store the suite exercises.
type Store interface {
	job.Store
	recurring.Store
}

// Factory returns an empty, migrated store. It is called once per subtest.
type Factory func(t *testing.T) Store

// Run executes the suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(t *testing.T, s Store)
	}{
		{"EnqueueAndGet", testEnqueueAndGet},
		{"DequeueOrderAndRunAt", testDequeueOrderAndRunAt},
		{"DequeueConcurrentClaimsOnce", testDequeueConcurrent},
		{"Cancel", testCancel},
		{"HeartbeatAndReap", testHeartbeatAndReap},
		{"CountAndPurge", testCountAndPurge},
		{"RecurringUpsertKeepsHistory", testRecurringUpsert},
		{"RecurringDelete", testRecurringDelete},
		{"RecurringLocking", testRecurringLocking},
		{"RecurringRunKeepsRescheduledNext", testRecurringRunAfterReschedule},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

// NewJob returns a pending job that is due now.
func NewJob(name, queue string) *job.Job {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &job.Job{
		Entity:       ferry.Entity{CreatedAt: now, UpdatedAt: now},
		ID:           id.NewJobID(),
		Name:         name,
		InvocationID: "inv-" + name,
		Queue:        queue,
		Payload:      []byte(`{"n":1}`),
		State:        job.StatePending,
		MaxRetries:   2,
		RunAt:        now.Add(-time.Second),
		Timeout:      time.Minute,
	}
}

func mustEnqueue(t *testing.T, s Store, jobs ...*job.Job) {
	t.Helper()
	for _, j := range jobs {
		if err := s.EnqueueJob(context.Background(), j); err != nil {
			t.Fatalf("EnqueueJob(%s): %v", j.Name, err)
		}
	}
}

func testEnqueueAndGet(t *testing.T, s Store) {
	ctx := context.Background()
	j := NewJob("welcome", "default")
	j.RecurringID = "nightly"
	mustEnqueue(t, s, j)

	if err := s.EnqueueJob(ctx, j); !errors.Is(err, ferry.ErrJobAlreadyExists) {
		t.Fatalf("duplicate EnqueueJob = %v, want ErrJobAlreadyExists", err)
	}

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Name != j.Name || got.InvocationID != j.InvocationID || got.RecurringID != "nightly" {
		t.Fatalf("GetJob returned %+v", got)
	}
	if string(got.Payload) != string(j.Payload) {
		t.Fatalf("payload = %s, want %s", got.Payload, j.Payload)
	}
	if got.State != job.StatePending || got.MaxRetries != 2 || got.Timeout != time.Minute {
		t.Fatalf("fields not round-tripped: %+v", got)
	}

	if _, err := s.GetJob(ctx, id.NewJobID()); !errors.Is(err, ferry.ErrJobNotFound) {
		t.Fatalf("GetJob(missing) = %v, want ErrJobNotFound", err)
	}
}

func testDequeueOrderAndRunAt(t *testing.T, s Store) {
	ctx := context.Background()

	older := NewJob("older", "default")
	older.RunAt = older.RunAt.Add(-time.Minute)
	newer := NewJob("newer", "default")
	future := NewJob("future", "default")
	future.RunAt = time.Now().UTC().Add(time.Hour)
	other := NewJob("other", "critical")
	mustEnqueue(t, s, newer, older, future, other)

	jobs, err := s.DequeueJobs(ctx, []string{"default"}, 10)
	if err != nil {
		t.Fatalf("DequeueJobs: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("dequeued %d jobs, want 2", len(jobs))
	}
	if jobs[0].Name != "older" || jobs[1].Name != "newer" {
		t.Fatalf("order = %s,%s; want older,newer", jobs[0].Name, jobs[1].Name)
	}
	for _, j := range jobs {
		if j.State != job.StateRunning || j.StartedAt == nil {
			t.Fatalf("dequeued job not marked running: %+v", j)
		}
	}

	again, err := s.DequeueJobs(ctx, []string{"default"}, 10)
	if err != nil {
		t.Fatalf("DequeueJobs: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("re-dequeued %d jobs", len(again))
	}
}

func testDequeueConcurrent(t *testing.T, s Store) {
	ctx := context.Background()
	const total = 20
	for i := 0; i < total; i++ {
		mustEnqueue(t, s, NewJob("bulk", "default"))
	}

	var (
		mu   sync.Mutex
		seen = make(map[string]int)
		wg   sync.WaitGroup
	)
	for w := 0; w < 5; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				jobs, err := s.DequeueJobs(ctx, []string{"default"}, 3)
				if err != nil {
					t.Errorf("DequeueJobs: %v", err)
					return
				}
				if len(jobs) == 0 {
					return
				}
				mu.Lock()
				for _, j := range jobs {
					seen[j.ID.String()]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != total {
		t.Fatalf("claimed %d distinct jobs, want %d", len(seen), total)
	}
	for jobID, n := range seen {
		if n != 1 {
			t.Fatalf("job %s claimed %d times", jobID, n)
		}
	}
}

func testCancel(t *testing.T, s Store) {
	ctx := context.Background()

	pending := NewJob("pending", "default")
	scheduled := NewJob("scheduled", "default")
	scheduled.RunAt = time.Now().UTC().Add(time.Hour)
	running := NewJob("running", "default")
	mustEnqueue(t, s, pending, scheduled, running)

	if _, err := s.DequeueJobs(ctx, []string{"default"}, 10); err != nil {
		t.Fatal(err)
	}
	// pending and running were both claimed; restore pending's state.
	p, _ := s.GetJob(ctx, pending.ID)
	p.State = job.StateRetrying
	if err := s.UpdateJob(ctx, p); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name  string
		jobID id.JobID
		want  bool
	}{
		{"scheduled", scheduled.ID, true},
		{"retrying", pending.ID, true},
		{"already cancelled", scheduled.ID, false},
		{"running", running.ID, false},
		{"missing", id.NewJobID(), false},
	}
	for _, tt := range tests {
		got, err := s.CancelJob(ctx, tt.jobID)
		if err != nil {
			t.Fatalf("%s: CancelJob: %v", tt.name, err)
		}
		if got != tt.want {
			t.Fatalf("%s: CancelJob = %v, want %v", tt.name, got, tt.want)
		}
	}

	got, _ := s.GetJob(ctx, scheduled.ID)
	if got.State != job.StateCancelled {
		t.Fatalf("state = %s, want cancelled", got.State)
	}
}

func testHeartbeatAndReap(t *testing.T, s Store) {
	ctx := context.Background()

	j := NewJob("slow", "default")
	mustEnqueue(t, s, j)
	if _, err := s.DequeueJobs(ctx, []string{"default"}, 1); err != nil {
		t.Fatal(err)
	}

	claimed, _ := s.GetJob(ctx, j.ID)
	old := time.Now().UTC().Add(-time.Hour)
	claimed.HeartbeatAt = &old
	if err := s.UpdateJob(ctx, claimed); err != nil {
		t.Fatal(err)
	}

	stale, err := s.ReapStaleJobs(ctx, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if len(stale) != 1 || stale[0].ID.String() != j.ID.String() {
		t.Fatalf("ReapStaleJobs = %d jobs, want %s", len(stale), j.ID)
	}

	if err := s.HeartbeatJob(ctx, j.ID, id.NewWorkerID()); err != nil {
		t.Fatal(err)
	}
	stale, err = s.ReapStaleJobs(ctx, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if len(stale) != 0 {
		t.Fatalf("job still stale after heartbeat")
	}
}

func testCountAndPurge(t *testing.T, s Store) {
	ctx := context.Background()

	a := NewJob("a", "default")
	b := NewJob("b", "default")
	c := NewJob("c", "critical")
	mustEnqueue(t, s, a, b, c)

	b.State = job.StateCompleted
	if err := s.UpdateJob(ctx, b); err != nil {
		t.Fatal(err)
	}

	count := func(opts job.CountOpts) int64 {
		n, err := s.CountJobs(ctx, opts)
		if err != nil {
			t.Fatal(err)
		}
		return n
	}
	if n := count(job.CountOpts{}); n != 3 {
		t.Fatalf("count all = %d, want 3", n)
	}
	if n := count(job.CountOpts{Queue: "default"}); n != 2 {
		t.Fatalf("count default = %d, want 2", n)
	}
	if n := count(job.CountOpts{State: job.StatePending}); n != 2 {
		t.Fatalf("count pending = %d, want 2", n)
	}

	purged, err := s.PurgeJobs(ctx, time.Now().UTC().Add(time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if purged != 1 {
		t.Fatalf("purged %d, want 1", purged)
	}
	if n := count(job.CountOpts{}); n != 2 {
		t.Fatalf("count after purge = %d, want 2", n)
	}
}

// NewEntry returns a recurring entry due in an hour.
func NewEntry(recurringID, schedule string) *recurring.Entry {
	now := time.Now().UTC().Truncate(time.Microsecond)
	next := now.Add(time.Hour)
	return &recurring.Entry{
		Entity:    ferry.Entity{CreatedAt: now, UpdatedAt: now},
		ID:        recurringID,
		JobName:   "report",
		Schedule:  schedule,
		Payload:   []byte(`{"kind":"daily"}`),
		NextRunAt: &next,
	}
}

func testRecurringUpsert(t *testing.T, s Store) {
	ctx := context.Background()

	if err := s.UpsertRecurring(ctx, NewEntry("daily", "0 2 * * *")); err != nil {
		t.Fatal(err)
	}
	jobID := id.NewJobID()
	if err := s.UpdateRecurringRun(ctx, "daily", recurring.Run{At: time.Now(), JobID: jobID}); err != nil {
		t.Fatal(err)
	}

	replaced := NewEntry("daily", "0 3 * * *")
	replaced.JobName = "report-v2"
	replaced.Payload = []byte(`{"kind":"weekly"}`)
	if err := s.UpsertRecurring(ctx, replaced); err != nil {
		t.Fatal(err)
	}

	list, err := s.ListRecurring(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Fatalf("ListRecurring = %d entries, want 1", len(list))
	}
	got := list[0]
	if got.Schedule != "0 3 * * *" || got.JobName != "report-v2" || string(got.Payload) != `{"kind":"weekly"}` {
		t.Fatalf("definition not replaced: %+v", got)
	}
	if got.LastRunAt == nil || got.LastJobID.String() != jobID.String() {
		t.Fatal("upsert dropped run history")
	}
}

func testRecurringDelete(t *testing.T, s Store) {
	ctx := context.Background()

	if err := s.UpsertRecurring(ctx, NewEntry("gone", "@hourly")); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteRecurring(ctx, "gone"); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteRecurring(ctx, "gone"); !errors.Is(err, ferry.ErrRecurringNotFound) {
		t.Fatalf("second DeleteRecurring = %v, want ErrRecurringNotFound", err)
	}
	if _, err := s.GetRecurring(ctx, "gone"); !errors.Is(err, ferry.ErrRecurringNotFound) {
		t.Fatalf("GetRecurring = %v, want ErrRecurringNotFound", err)
	}
}

func testRecurringLocking(t *testing.T, s Store) {
	ctx := context.Background()

	if err := s.UpsertRecurring(ctx, NewEntry("locked", "@every 1m")); err != nil {
		t.Fatal(err)
	}
	w1, w2 := id.NewWorkerID(), id.NewWorkerID()

	acquire := func(w id.WorkerID) bool {
		ok, err := s.AcquireRecurringLock(ctx, "locked", w, time.Minute)
		if err != nil {
			t.Fatal(err)
		}
		return ok
	}

	if !acquire(w1) {
		t.Fatal("w1 could not take a free lock")
	}
	if acquire(w2) {
		t.Fatal("w2 took a held lock")
	}
	if err := s.ReleaseRecurringLock(ctx, "locked", w2); err != nil {
		t.Fatal(err)
	}
	if acquire(w2) {
		t.Fatal("release by a non-holder freed the lock")
	}
	if err := s.ReleaseRecurringLock(ctx, "locked", w1); err != nil {
		t.Fatal(err)
	}
	if !acquire(w2) {
		t.Fatal("w2 could not take a released lock")
	}
}

func testRecurringRunAfterReschedule(t *testing.T, s Store) {
	ctx := context.Background()

	if err := s.UpsertRecurring(ctx, NewEntry("moved", "@every 1m")); err != nil {
		t.Fatal(err)
	}

	// Re-registered with a new schedule while a firing of the old one is
	// still in flight.
	rescheduled := NewEntry("moved", "@daily")
	want := time.Now().UTC().Add(24 * time.Hour).Truncate(time.Second)
	rescheduled.NextRunAt = &want
	if err := s.UpsertRecurring(ctx, rescheduled); err != nil {
		t.Fatal(err)
	}

	jobID := id.NewJobID()
	stale := recurring.Run{
		At:       time.Now().UTC(),
		JobID:    jobID,
		Next:     time.Now().UTC().Add(time.Minute).Truncate(time.Second),
		Schedule: "@every 1m",
	}
	if err := s.UpdateRecurringRun(ctx, "moved", stale); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetRecurring(ctx, "moved")
	if err != nil {
		t.Fatal(err)
	}
	if got.NextRunAt == nil || !got.NextRunAt.Equal(want) {
		t.Fatalf("NextRunAt = %v, want %v", got.NextRunAt, want)
	}
	if got.LastRunAt == nil || got.LastJobID.String() != jobID.String() {
		t.Fatalf("run not recorded: last job %v at %v", got.LastJobID, got.LastRunAt)
	}

	// A run of the current schedule still advances it.
	next := want.Add(24 * time.Hour)
	current := recurring.Run{At: time.Now().UTC(), JobID: id.NewJobID(), Next: next, Schedule: "@daily"}
	if err := s.UpdateRecurringRun(ctx, "moved", current); err != nil {
		t.Fatal(err)
	}
	got, err = s.GetRecurring(ctx, "moved")
	if err != nil {
		t.Fatal(err)
	}
	if got.NextRunAt == nil || !got.NextRunAt.Equal(next) {
		t.Fatalf("NextRunAt = %v, want %v", got.NextRunAt, next)
	}
}

package worker_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/ferry"
	"github.com/xraph/ferry/backoff"
	"github.com/xraph/ferry/ext"
	"github.com/xraph/ferry/id"
	"github.com/xraph/ferry/job"
	"github.com/xraph/ferry/lifecycle"
	"github.com/xraph/ferry/middleware"
	"github.com/xraph/ferry/store/memory"
	"github.com/xraph/ferry/worker"
)

type greeting struct {
	Name string `json:"name"`
}

func setupTestPool(t *testing.T, concurrency int, pollInterval time.Duration, opts ...worker.PoolOption) (
	*worker.Pool, *memory.Store, *job.Registry,
) {
	t.Helper()
	logger := slog.Default()
	s := memory.New()
	reg := job.NewRegistry()
	extensions := ext.NewRegistry(logger)

	executor := worker.NewExecutor(
		reg, extensions, s,
		worker.RetryPolicy{Enabled: true, Backoff: backoff.NewConstant(10 * time.Millisecond)},
		logger,
		middleware.Recover(logger),
	)

	opts = append([]worker.PoolOption{
		worker.WithPoolConcurrency(concurrency),
		worker.WithPollInterval(pollInterval),
		worker.WithPoolQueues([]string{"default"}),
	}, opts...)
	pool := worker.NewPool(s, executor, extensions, logger, opts...)

	return pool, s, reg
}

func enqueueJob(t *testing.T, s *memory.Store, name string, payload []byte, maxRetries int) *job.Job {
	t.Helper()
	j := &job.Job{
		Entity:       ferry.NewEntity(),
		ID:           id.NewJobID(),
		Name:         name,
		InvocationID: "inv-" + name,
		Queue:        "default",
		Payload:      payload,
		State:        job.StatePending,
		MaxRetries:   maxRetries,
		RunAt:        time.Now().UTC(),
	}
	if err := s.EnqueueJob(context.Background(), j); err != nil {
		t.Fatalf("enqueue error: %v", err)
	}
	return j
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
}

func waitForState(t *testing.T, s *memory.Store, jobID id.JobID, want job.State) *job.Job {
	t.Helper()
	var got *job.Job
	waitFor(t, "job state "+string(want), func() bool {
		j, err := s.GetJob(context.Background(), jobID)
		if err != nil {
			return false
		}
		got = j
		return j.State == want
	})
	return got
}

func stopPool(t *testing.T, pool *worker.Pool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := pool.Stop(ctx); err != nil {
		t.Fatalf("stop error: %v", err)
	}
}

func TestPool_StartStop(t *testing.T) {
	pool, _, _ := setupTestPool(t, 2, 50*time.Millisecond)

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	// Double start should be no-op.
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("unexpected double-start error: %v", err)
	}

	stopPool(t, pool)
	// Double stop should be no-op.
	stopPool(t, pool)
}

func TestPool_ProcessesJob(t *testing.T) {
	pool, s, reg := setupTestPool(t, 1, 10*time.Millisecond)

	var gotInvocation atomic.Value
	job.RegisterDefinition(reg, job.NewAsync("greet", "says hello",
		func(_ context.Context, invocationID string, p greeting) error {
			if p.Name != "Alice" {
				t.Errorf("payload.Name = %q, want %q", p.Name, "Alice")
			}
			gotInvocation.Store(invocationID)
			return nil
		}))

	payload, _ := json.Marshal(greeting{Name: "Alice"})
	j := enqueueJob(t, s, "greet", payload, 3)

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}
	got := waitForState(t, s, j.ID, job.StateCompleted)
	stopPool(t, pool)

	if got.CompletedAt == nil {
		t.Error("expected CompletedAt to be set")
	}
	if got.WorkerID.String() != pool.WorkerID().String() {
		t.Errorf("WorkerID = %s, want %s", got.WorkerID, pool.WorkerID())
	}
	if inv, _ := gotInvocation.Load().(string); inv != "inv-greet" {
		t.Errorf("invocation id = %q, want %q", inv, "inv-greet")
	}
}

func TestPool_FailedJob(t *testing.T) {
	pool, s, reg := setupTestPool(t, 1, 10*time.Millisecond)

	job.RegisterDefinition(reg, job.NewAsync("fail-job", "",
		func(_ context.Context, _ string, _ struct{}) error {
			return errors.New("smtp unreachable")
		}))

	j := enqueueJob(t, s, "fail-job", []byte(`{}`), 0)

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}
	got := waitForState(t, s, j.ID, job.StateFailed)
	stopPool(t, pool)

	if got.LastError != "smtp unreachable" {
		t.Errorf("LastError = %q, want %q", got.LastError, "smtp unreachable")
	}
}

func TestPool_RetriesThenSucceeds(t *testing.T) {
	pool, s, reg := setupTestPool(t, 1, 10*time.Millisecond)

	var attempts atomic.Int32
	job.RegisterDefinition(reg, job.NewAsync("flaky", "",
		func(_ context.Context, _ string, _ struct{}) error {
			if attempts.Add(1) < 3 {
				return errors.New("transient")
			}
			return nil
		}))

	j := enqueueJob(t, s, "flaky", []byte(`{}`), 3)

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}
	got := waitForState(t, s, j.ID, job.StateCompleted)
	stopPool(t, pool)

	if attempts.Load() != 3 {
		t.Errorf("attempts = %d, want 3", attempts.Load())
	}
	if got.RetryCount != 2 {
		t.Errorf("RetryCount = %d, want 2", got.RetryCount)
	}
}

func TestPool_ContractViolationNotRetried(t *testing.T) {
	pool, s, reg := setupTestPool(t, 1, 10*time.Millisecond)

	var calls atomic.Int32
	job.RegisterDefinition(reg, job.NewAsync("strict", "",
		func(_ context.Context, _ string, _ greeting) error {
			calls.Add(1)
			return nil
		}))

	j := enqueueJob(t, s, "strict", []byte(`null`), 5)

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}
	got := waitForState(t, s, j.ID, job.StateFailed)
	stopPool(t, pool)

	if calls.Load() != 0 {
		t.Errorf("handler invoked %d times for a null payload", calls.Load())
	}
	if got.RetryCount != 1 {
		t.Errorf("RetryCount = %d, want 1", got.RetryCount)
	}
}

func TestPool_UnregisteredJobFails(t *testing.T) {
	pool, s, _ := setupTestPool(t, 1, 10*time.Millisecond)

	j := enqueueJob(t, s, "ghost", []byte(`{}`), 5)

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}
	got := waitForState(t, s, j.ID, job.StateFailed)
	stopPool(t, pool)

	if got.LastError == "" {
		t.Error("expected LastError to be set")
	}
}

func TestPool_RetryDisabled(t *testing.T) {
	logger := slog.Default()
	s := memory.New()
	reg := job.NewRegistry()
	extensions := ext.NewRegistry(logger)
	executor := worker.NewExecutor(reg, extensions, s, worker.RetryPolicy{Enabled: false}, logger)
	pool := worker.NewPool(s, executor, extensions, logger,
		worker.WithPoolConcurrency(1),
		worker.WithPollInterval(10*time.Millisecond),
	)

	job.RegisterDefinition(reg, job.NewAsync("once", "",
		func(_ context.Context, _ string, _ struct{}) error { return errors.New("nope") }))

	j := enqueueJob(t, s, "once", []byte(`{}`), 5)

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}
	waitForState(t, s, j.ID, job.StateFailed)
	stopPool(t, pool)
}

func TestPool_LifecycleEvents(t *testing.T) {
	logger := slog.Default()
	s := memory.New()
	reg := job.NewRegistry()
	extensions := ext.NewRegistry(logger)

	var kinds []lifecycle.Kind
	kindsCh := make(chan lifecycle.Kind, 4)
	rec := lifecycle.RecorderFunc(func(_ context.Context, ev lifecycle.Event) { kindsCh <- ev.Kind })

	executor := worker.NewExecutor(reg, extensions, s, worker.RetryPolicy{}, logger,
		middleware.Recover(logger),
		middleware.Lifecycle(rec),
	)
	pool := worker.NewPool(s, executor, extensions, logger,
		worker.WithPoolConcurrency(1),
		worker.WithPollInterval(10*time.Millisecond),
	)

	job.RegisterDefinition(reg, job.NewSync("report", "",
		func(_ string, _ struct{}) error { return nil }))
	j := enqueueJob(t, s, "report", []byte(`{}`), 0)

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}
	waitForState(t, s, j.ID, job.StateCompleted)
	stopPool(t, pool)

	close(kindsCh)
	for k := range kindsCh {
		kinds = append(kinds, k)
	}
	if len(kinds) != 2 || kinds[0] != lifecycle.KindStarted || kinds[1] != lifecycle.KindSucceeded {
		t.Fatalf("lifecycle kinds = %v, want [started succeeded]", kinds)
	}
}

func TestPool_ShutdownInterruptsCooperativeJob(t *testing.T) {
	pool, s, reg := setupTestPool(t, 1, 10*time.Millisecond)

	var started atomic.Bool
	job.RegisterDefinition(reg, job.NewAsync("long", "",
		func(ctx context.Context, _ string, _ struct{}) error {
			started.Store(true)
			<-ctx.Done()
			return ctx.Err()
		}))

	j := enqueueJob(t, s, "long", []byte(`{}`), 3)

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}
	waitFor(t, "job start", started.Load)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := pool.Stop(ctx); err != nil {
		t.Fatalf("stop error: %v", err)
	}

	got, err := s.GetJob(context.Background(), j.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.State != job.StatePending {
		t.Errorf("state = %q, want %q", got.State, job.StatePending)
	}
	if got.RetryCount != 0 {
		t.Errorf("interruption consumed an attempt: RetryCount = %d", got.RetryCount)
	}
}

func TestPool_ReapsStaleJobs(t *testing.T) {
	pool, s, reg := setupTestPool(t, 1, 10*time.Millisecond,
		worker.WithStaleJobThreshold(50*time.Millisecond),
	)

	var ran atomic.Bool
	job.RegisterDefinition(reg, job.NewAsync("orphan", "",
		func(_ context.Context, _ string, _ struct{}) error {
			ran.Store(true)
			return nil
		}))

	// A job left running by a crashed worker.
	j := enqueueJob(t, s, "orphan", []byte(`{}`), 0)
	if _, err := s.DequeueJobs(context.Background(), []string{"default"}, 1); err != nil {
		t.Fatal(err)
	}
	old := time.Now().UTC().Add(-time.Hour)
	claimed, _ := s.GetJob(context.Background(), j.ID)
	claimed.HeartbeatAt = &old
	if err := s.UpdateJob(context.Background(), claimed); err != nil {
		t.Fatal(err)
	}

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}
	waitForState(t, s, j.ID, job.StateCompleted)
	stopPool(t, pool)

	if !ran.Load() {
		t.Error("reaped job was never executed")
	}
}

func TestPool_PurgesExpiredJobs(t *testing.T) {
	pool, s, _ := setupTestPool(t, 1, 10*time.Millisecond,
		worker.WithJobExpiration(time.Nanosecond, 20*time.Millisecond),
	)

	j := enqueueJob(t, s, "done", []byte(`{}`), 0)
	j.State = job.StateCompleted
	if err := s.UpdateJob(context.Background(), j); err != nil {
		t.Fatal(err)
	}

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}
	waitFor(t, "purge", func() bool {
		_, err := s.GetJob(context.Background(), j.ID)
		return errors.Is(err, ferry.ErrJobNotFound)
	})
	stopPool(t, pool)
}

type denyAll struct{ released atomic.Int32 }

func (d *denyAll) Acquire(string) bool { return false }
func (d *denyAll) Release(string)      { d.released.Add(1) }

func TestPool_QueueManagerDefersJob(t *testing.T) {
	qm := &denyAll{}
	pool, s, reg := setupTestPool(t, 1, 20*time.Millisecond, worker.WithQueueManager(qm))

	var ran atomic.Bool
	job.RegisterDefinition(reg, job.NewAsync("limited", "",
		func(_ context.Context, _ string, _ struct{}) error {
			ran.Store(true)
			return nil
		}))
	j := enqueueJob(t, s, "limited", []byte(`{}`), 0)

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}
	time.Sleep(150 * time.Millisecond)
	stopPool(t, pool)

	if ran.Load() {
		t.Fatal("job ran despite the queue manager denying it")
	}
	got, _ := s.GetJob(context.Background(), j.ID)
	if got.State != job.StatePending {
		t.Errorf("state = %q, want %q", got.State, job.StatePending)
	}
	if qm.released.Load() != 0 {
		t.Error("Release called without a successful Acquire")
	}
}

func TestPool_ExtensionFires(t *testing.T) {
	logger := slog.Default()
	s := memory.New()
	reg := job.NewRegistry()
	extensions := ext.NewRegistry(logger)

	tracker := &trackingExt{}
	extensions.Register(tracker)

	executor := worker.NewExecutor(reg, extensions, s, worker.RetryPolicy{}, logger)
	pool := worker.NewPool(s, executor, extensions, logger,
		worker.WithPoolConcurrency(1),
		worker.WithPollInterval(10*time.Millisecond),
	)

	job.RegisterDefinition(reg, job.NewAsync("tracked", "",
		func(_ context.Context, _ string, _ struct{}) error { return nil }))
	j := enqueueJob(t, s, "tracked", []byte(`{}`), 0)

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}
	waitForState(t, s, j.ID, job.StateCompleted)
	stopPool(t, pool)

	if !tracker.started.Load() {
		t.Error("expected OnJobStarted to fire")
	}
	if !tracker.completed.Load() {
		t.Error("expected OnJobCompleted to fire")
	}
	if tracker.failed.Load() {
		t.Error("OnJobFailed fired for a successful job")
	}
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"plain", errors.New("x"), true},
		{"contract", ferry.ErrParameterContract, false},
		{"unregistered", ferry.ErrJobNotRegistered, false},
		{"timeout", context.DeadlineExceeded, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := worker.Retryable(tt.err); got != tt.want {
				t.Fatalf("Retryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

// trackingExt records which hooks fired.
type trackingExt struct {
	started   atomic.Bool
	completed atomic.Bool
	failed    atomic.Bool
}

func (e *trackingExt) Name() string { return "tracker" }

func (e *trackingExt) OnJobStarted(_ context.Context, _ *job.Job) error {
	e.started.Store(true)
	return nil
}

func (e *trackingExt) OnJobCompleted(_ context.Context, _ *job.Job, _ time.Duration) error {
	e.completed.Store(true)
	return nil
}

func (e *trackingExt) OnJobFailed(_ context.Context, _ *job.Job, _ error) error {
	e.failed.Store(true)
	return nil
}

package recurring

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/ferry/id"
)

// EnqueueFunc enqueues one run of a recurring entry. The engine provides
// the implementation.
type EnqueueFunc func(ctx context.Context, e *Entry) (id.JobID, error)

// Emitter emits recurring lifecycle events.
// ext.Registry satisfies this interface.
type Emitter interface {
	EmitRecurringFired(ctx context.Context, recurringID string, jobID id.JobID)
}

// PollerOption configures a Poller.
type PollerOption func(*Poller)

// WithTickInterval sets how often the poller checks for due entries.
func WithTickInterval(d time.Duration) PollerOption {
	return func(p *Poller) { p.tickInterval = d }
}

// WithLockTTL sets the TTL for per-entry locks.
func WithLockTTL(d time.Duration) PollerOption {
	return func(p *Poller) { p.lockTTL = d }
}

// Poller fires due recurring entries on a tick loop. Entries are guarded
// by per-entry store locks so several engines may poll the same store.
type Poller struct {
	store    Store
	enqueue  EnqueueFunc
	emitter  Emitter
	workerID id.WorkerID
	logger   *slog.Logger

	tickInterval time.Duration
	lockTTL      time.Duration

	parsedMu sync.RWMutex
	parsed   map[string]Schedule

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewPoller creates a Poller.
func NewPoller(
	store Store,
	enqueue EnqueueFunc,
	emitter Emitter,
	workerID id.WorkerID,
	logger *slog.Logger,
	opts ...PollerOption,
) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Poller{
		store:        store,
		enqueue:      enqueue,
		emitter:      emitter,
		workerID:     workerID,
		logger:       logger,
		tickInterval: 15 * time.Second,
		lockTTL:      30 * time.Second,
		parsed:       make(map[string]Schedule),
		stopCh:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start launches the tick goroutine.
func (p *Poller) Start(_ context.Context) error {
	p.wg.Add(1)
	go p.tickLoop()
	p.logger.Info("recurring poller started",
		slog.String("worker_id", p.workerID.String()),
		slog.Duration("tick_interval", p.tickInterval),
	)
	return nil
}

// Stop signals the poller to stop and waits for the tick goroutine.
func (p *Poller) Stop(_ context.Context) error {
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()
	p.logger.Info("recurring poller stopped")
	return nil
}

func (p *Poller) tickLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.Poll(context.Background())
		}
	}
}

// Poll fires every entry that is due now and returns how many fired.
func (p *Poller) Poll(ctx context.Context) int {
	entries, err := p.store.ListRecurring(ctx)
	if err != nil {
		p.logger.Error("list recurring error", slog.String("error", err.Error()))
		return 0
	}

	now := time.Now().UTC()
	fired := 0
	for _, entry := range entries {
		if !entry.Due(now) {
			continue
		}
		if p.fire(ctx, entry.ID, now) {
			fired++
		}
	}
	return fired
}

func (p *Poller) fire(ctx context.Context, recurringID string, now time.Time) bool {
	acquired, err := p.store.AcquireRecurringLock(ctx, recurringID, p.workerID, p.lockTTL)
	if err != nil {
		p.logger.Error("acquire recurring lock error",
			slog.String("recurring_id", recurringID),
			slog.String("error", err.Error()),
		)
		return false
	}
	if !acquired {
		return false
	}
	defer p.release(ctx, recurringID)

	// Another poller may have fired or replaced the entry since listing.
	entry, err := p.store.GetRecurring(ctx, recurringID)
	if err != nil || !entry.Due(now) {
		return false
	}

	sched, err := p.schedule(entry.Schedule)
	if err != nil {
		p.logger.Error("parse recurring schedule error",
			slog.String("recurring_id", recurringID),
			slog.String("schedule", entry.Schedule),
			slog.String("error", err.Error()),
		)
		return false
	}

	jobID, err := p.enqueue(ctx, entry)
	if err != nil {
		p.logger.Error("recurring enqueue error",
			slog.String("recurring_id", recurringID),
			slog.String("job_name", entry.JobName),
			slog.String("error", err.Error()),
		)
		return false
	}

	next := sched.Next(now).UTC()
	run := Run{At: now, JobID: jobID, Next: next, Schedule: entry.Schedule}
	if err := p.store.UpdateRecurringRun(ctx, recurringID, run); err != nil {
		p.logger.Error("update recurring run error",
			slog.String("recurring_id", recurringID),
			slog.String("error", err.Error()),
		)
	}

	if p.emitter != nil {
		p.emitter.EmitRecurringFired(ctx, recurringID, jobID)
	}

	p.logger.Info("recurring fired",
		slog.String("recurring_id", recurringID),
		slog.String("job_name", entry.JobName),
		slog.String("job_id", jobID.String()),
		slog.Time("next_run_at", next),
	)
	return true
}

// Trigger enqueues one run of the entry now. NextRunAt is unchanged.
// A missing entry is reported as ferry.ErrRecurringNotFound.
func (p *Poller) Trigger(ctx context.Context, recurringID string) (id.JobID, error) {
	entry, err := p.store.GetRecurring(ctx, recurringID)
	if err != nil {
		return id.Nil, err
	}

	jobID, err := p.enqueue(ctx, entry)
	if err != nil {
		return id.Nil, fmt.Errorf("trigger recurring %s: %w", recurringID, err)
	}

	// A zero Next leaves the schedule to whoever owns it now.
	run := Run{At: time.Now().UTC(), JobID: jobID}
	if err := p.store.UpdateRecurringRun(ctx, recurringID, run); err != nil {
		p.logger.Warn("update recurring run error",
			slog.String("recurring_id", recurringID),
			slog.String("error", err.Error()),
		)
	}

	if p.emitter != nil {
		p.emitter.EmitRecurringFired(ctx, recurringID, jobID)
	}
	p.logger.Info("recurring triggered",
		slog.String("recurring_id", recurringID),
		slog.String("job_id", jobID.String()),
	)
	return jobID, nil
}

func (p *Poller) release(ctx context.Context, recurringID string) {
	if err := p.store.ReleaseRecurringLock(ctx, recurringID, p.workerID); err != nil {
		p.logger.Error("release recurring lock error",
			slog.String("recurring_id", recurringID),
			slog.String("error", err.Error()),
		)
	}
}

// schedule caches parsed cron expressions.
func (p *Poller) schedule(expr string) (Schedule, error) {
	p.parsedMu.RLock()
	sched, ok := p.parsed[expr]
	p.parsedMu.RUnlock()
	if ok {
		return sched, nil
	}

	sched, err := ParseSchedule(expr)
	if err != nil {
		return nil, err
	}

	p.parsedMu.Lock()
	p.parsed[expr] = sched
	p.parsedMu.Unlock()
	return sched, nil
}

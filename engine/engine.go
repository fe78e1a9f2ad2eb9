package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/ferry"
	"github.com/xraph/ferry/backoff"
	"github.com/xraph/ferry/ext"
	"github.com/xraph/ferry/id"
	"github.com/xraph/ferry/job"
	"github.com/xraph/ferry/lifecycle"
	mw "github.com/xraph/ferry/middleware"
	"github.com/xraph/ferry/observability"
	"github.com/xraph/ferry/queue"
	"github.com/xraph/ferry/recurring"
	"github.com/xraph/ferry/store"
	"github.com/xraph/ferry/worker"
)

const instrumentationName = "github.com/xraph/ferry"

type state int

const (
	stateIdle state = iota
	stateRunning
	stateStopped
)

// Engine owns a store, a worker pool, and a recurring poller. It is the
// backend behind the jobs facade.
type Engine struct {
	store      store.Store
	cfg        ferry.Config
	logger     *slog.Logger
	registry   *job.Registry
	extensions *ext.Registry
	pool       *worker.Pool
	poller     *recurring.Poller

	codec    job.Codec
	bo       backoff.Strategy
	mws      []mw.Middleware
	exts     []ext.Extension
	recorder lifecycle.Recorder

	queueConfigs []queue.Config
	queueManager *queue.Manager

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider

	mu    sync.Mutex
	state state
}

// Option configures an Engine.
type Option func(*Engine)

// WithConfig replaces the default configuration.
func WithConfig(cfg ferry.Config) Option {
	return func(e *Engine) { e.cfg = cfg }
}

// WithLogger sets the logger used by every engine component.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithExtension registers an extension with the engine.
func WithExtension(x ext.Extension) Option {
	return func(e *Engine) { e.exts = append(e.exts, x) }
}

// WithMiddleware adds middleware to the end of the execution chain, inside
// the built-in recover, tracing, metrics, lifecycle, and timeout layers.
func WithMiddleware(m mw.Middleware) Option {
	return func(e *Engine) { e.mws = append(e.mws, m) }
}

// WithBackoff sets the retry backoff strategy.
// If not set, backoff.DefaultStrategy() (polynomial, capped at one hour) is used.
func WithBackoff(b backoff.Strategy) Option {
	return func(e *Engine) { e.bo = b }
}

// WithQueueConfig registers queue-level rate limiting and concurrency
// configurations. Queues not listed have no limits.
func WithQueueConfig(configs ...queue.Config) Option {
	return func(e *Engine) { e.queueConfigs = append(e.queueConfigs, configs...) }
}

// WithTracerProvider sets the OTel TracerProvider for the tracing
// middleware. The global provider is used otherwise.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *Engine) { e.tracerProvider = tp }
}

// WithMeterProvider sets the OTel MeterProvider for the metrics middleware
// and the observability extension. The global provider is used otherwise.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(e *Engine) { e.meterProvider = mp }
}

// WithRecorder sets where lifecycle events go. The default writes them to
// the engine logger.
func WithRecorder(r lifecycle.Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// WithCodec sets the payload codec. JSON is the default.
func WithCodec(c job.Codec) Option {
	return func(e *Engine) { e.codec = c }
}

// New builds an engine on st. The engine takes ownership of st and closes
// it in Stop.
func New(st store.Store, opts ...Option) (*Engine, error) {
	if st == nil {
		return nil, ferry.ErrNoStore
	}

	e := &Engine{
		store: st,
		cfg:   ferry.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if err := e.cfg.Validate(); err != nil {
		return nil, err
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.bo == nil {
		e.bo = backoff.DefaultStrategy()
	}
	if e.recorder == nil {
		e.recorder = lifecycle.LogRecorder(e.logger)
	}

	e.registry = job.NewRegistryWithCodec(e.codec)
	e.extensions = ext.NewRegistry(e.logger)

	if e.meterProvider != nil {
		e.extensions.Register(observability.NewMetricsExtensionWithMeter(
			e.meterProvider.Meter(observability.ScopeName)))
	} else {
		e.extensions.Register(observability.NewMetricsExtension())
	}
	for _, x := range e.exts {
		e.extensions.Register(x)
	}

	e.pool = worker.NewPool(e.store, e.newExecutor(), e.extensions, e.logger, e.poolOptions()...)
	e.poller = recurring.NewPoller(
		e.store,
		e.enqueueRecurring,
		e.extensions,
		e.pool.WorkerID(),
		e.logger,
		recurring.WithTickInterval(e.cfg.SchedulePollInterval),
	)
	return e, nil
}

func (e *Engine) newExecutor() *worker.Executor {
	tracing := mw.Tracing()
	if e.tracerProvider != nil {
		tracing = mw.TracingWithTracer(e.tracerProvider.Tracer(instrumentationName))
	}
	metrics := mw.Metrics()
	if e.meterProvider != nil {
		metrics = mw.MetricsWithMeter(e.meterProvider.Meter(instrumentationName))
	}

	// recover → tracing → metrics → lifecycle → timeout → user middleware.
	chain := []mw.Middleware{
		mw.Recover(e.logger),
		tracing,
		metrics,
		mw.Lifecycle(e.recorder),
		mw.Timeout(e.logger),
	}
	chain = append(chain, e.mws...)

	retry := worker.RetryPolicy{Enabled: e.cfg.AutomaticRetry, Backoff: e.bo}
	return worker.NewExecutor(e.registry, e.extensions, e.store, retry, e.logger, chain...)
}

func (e *Engine) poolOptions() []worker.PoolOption {
	opts := []worker.PoolOption{
		worker.WithPoolConcurrency(e.cfg.WorkerCount),
		worker.WithPoolQueues(e.cfg.Queues),
		worker.WithPollInterval(e.cfg.PollInterval),
		worker.WithJobExpiration(e.cfg.JobExpiration, e.cfg.ExpirationCheckInterval),
	}
	if e.cfg.HeartbeatEnabled {
		opts = append(opts,
			worker.WithHeartbeatInterval(e.cfg.HeartbeatInterval),
			worker.WithStaleJobThreshold(e.cfg.StaleJobThreshold),
		)
	}
	if len(e.queueConfigs) > 0 {
		e.queueManager = queue.NewManager(e.queueConfigs...)
		opts = append(opts, worker.WithQueueManager(e.queueManager))
	}
	return opts
}

// Register registers a typed job definition with the engine. Registering
// the same name again replaces the handler.
func Register[T any](e *Engine, def *job.Definition[T]) {
	job.RegisterDefinition(e.registry, def)
}

// Start checks the store and launches the worker pool and the recurring
// poller. Calling Start on a running engine is a no-op.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case stateRunning:
		return nil
	case stateStopped:
		return ferry.ErrEngineStopped
	}

	if err := e.store.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %w", ferry.ErrEngineUnavailable, err)
	}

	// Both return once their goroutines are launched.
	if err := e.pool.Start(ctx); err != nil {
		return fmt.Errorf("ferry: start worker pool: %w", err)
	}
	if err := e.poller.Start(ctx); err != nil {
		_ = e.pool.Stop(ctx)
		return fmt.Errorf("ferry: start recurring poller: %w", err)
	}

	e.state = stateRunning
	e.logger.Info("engine started",
		slog.String("worker_id", e.pool.WorkerID().String()),
		slog.Any("jobs", e.registry.Names()),
	)
	return nil
}

// Stop drains in-flight jobs, notifies shutdown hooks, and closes the
// store. Jobs still running when ShutdownTimeout (or ctx) expires are
// cancelled; asynchronous handlers observe it, synchronous ones finish.
// Every call after Stop returns ferry.ErrEngineStopped.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if e.state == stateStopped {
		e.mu.Unlock()
		return nil
	}
	e.state = stateStopped
	e.mu.Unlock()

	if e.cfg.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.ShutdownTimeout)
		defer cancel()
	}

	var errs []error
	if err := e.poller.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop recurring poller: %w", err))
	}
	if err := e.pool.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop worker pool: %w", err))
	}
	e.extensions.EmitShutdown(ctx)
	if err := e.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}

	e.logger.Info("engine stopped")
	return errors.Join(errs...)
}

func (e *Engine) checkOpen() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == stateStopped {
		return ferry.ErrEngineStopped
	}
	return nil
}

// Submit persists a job and returns its id. The name does not need to be
// registered locally; another process may run it.
func (e *Engine) Submit(ctx context.Context, sub job.Submission) (string, error) {
	j, err := e.enqueue(ctx, sub, "")
	if err != nil {
		return "", err
	}
	return j.ID.String(), nil
}

func (e *Engine) enqueue(ctx context.Context, sub job.Submission, recurringID string) (*job.Job, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	j := &job.Job{
		Entity:       ferry.NewEntity(),
		ID:           id.NewJobID(),
		Name:         sub.Name,
		InvocationID: sub.InvocationID,
		RecurringID:  recurringID,
		Queue:        sub.Queue,
		Payload:      sub.Payload,
		State:        job.StatePending,
		MaxRetries:   e.resolveRetries(sub.MaxRetries),
		RunAt:        now,
		Timeout:      sub.Timeout,
	}
	if j.Queue == "" {
		j.Queue = job.DefaultOptions().Queue
	}
	if !sub.RunAt.IsZero() && sub.RunAt.After(now) {
		j.RunAt = sub.RunAt.UTC()
	}

	if err := e.store.EnqueueJob(ctx, j); err != nil {
		return nil, storeErr("enqueue job", err)
	}

	e.logger.Debug("job enqueued",
		slog.String("job_id", j.ID.String()),
		slog.String("job_name", j.Name),
		slog.String("invocation_id", j.InvocationID),
		slog.Time("run_at", j.RunAt),
	)
	e.extensions.EmitJobEnqueued(ctx, j)
	return j, nil
}

func (e *Engine) resolveRetries(n int) int {
	if n < 0 {
		return e.cfg.MaxRetries
	}
	return n
}

// enqueueRecurring is the poller's EnqueueFunc. The recurring id doubles
// as the invocation id of every job it creates.
func (e *Engine) enqueueRecurring(ctx context.Context, entry *recurring.Entry) (id.JobID, error) {
	j, err := e.enqueue(ctx, job.Submission{
		Name:         entry.JobName,
		InvocationID: entry.ID,
		Payload:      entry.Payload,
		Queue:        entry.Queue,
		MaxRetries:   entry.MaxRetries,
		Timeout:      entry.Timeout,
	}, entry.ID)
	if err != nil {
		return id.Nil, err
	}
	return j.ID, nil
}

// UpsertRecurring creates or replaces the recurring definition spec.ID.
// The next run is computed from the new schedule.
func (e *Engine) UpsertRecurring(ctx context.Context, spec recurring.Spec) error {
	if err := e.checkOpen(); err != nil {
		return err
	}
	if spec.ID == "" {
		return fmt.Errorf("%w: empty recurring id", ferry.ErrInvalidSchedule)
	}
	next, err := recurring.NextRun(spec.Schedule, time.Now().UTC())
	if err != nil {
		return err
	}

	queueName := spec.Queue
	if queueName == "" {
		queueName = job.DefaultOptions().Queue
	}
	entry := &recurring.Entry{
		Entity:     ferry.NewEntity(),
		ID:         spec.ID,
		JobName:    spec.JobName,
		Queue:      queueName,
		Schedule:   spec.Schedule,
		Payload:    spec.Payload,
		MaxRetries: e.resolveRetries(spec.MaxRetries),
		Timeout:    spec.Timeout,
		NextRunAt:  &next,
	}
	if err := e.store.UpsertRecurring(ctx, entry); err != nil {
		return storeErr("upsert recurring", err)
	}

	e.logger.Info("recurring registered",
		slog.String("recurring_id", spec.ID),
		slog.String("schedule", spec.Schedule),
		slog.String("job_name", spec.JobName),
		slog.Time("next_run_at", next),
	)
	return nil
}

// RemoveRecurring deletes a recurring definition. A missing id is not an
// error.
func (e *Engine) RemoveRecurring(ctx context.Context, recurringID string) error {
	if err := e.checkOpen(); err != nil {
		return err
	}
	err := e.store.DeleteRecurring(ctx, recurringID)
	if err != nil && !errors.Is(err, ferry.ErrRecurringNotFound) {
		return storeErr("delete recurring", err)
	}
	return nil
}

// TriggerRecurring enqueues one run of the definition now without
// touching its schedule. A missing id returns ferry.ErrRecurringNotFound.
func (e *Engine) TriggerRecurring(ctx context.Context, recurringID string) (string, error) {
	if err := e.checkOpen(); err != nil {
		return "", err
	}
	jobID, err := e.poller.Trigger(ctx, recurringID)
	if err != nil {
		return "", storeErr("trigger recurring", err)
	}
	return jobID.String(), nil
}

// CancelJob cancels a job that has not started. It reports false for an
// unknown or malformed id and for jobs that already ran or are running.
func (e *Engine) CancelJob(ctx context.Context, jobID string) (bool, error) {
	if err := e.checkOpen(); err != nil {
		return false, err
	}
	parsed, err := id.ParseJobID(jobID)
	if err != nil {
		return false, nil
	}

	ok, err := e.store.CancelJob(ctx, parsed)
	if err != nil {
		return false, storeErr("cancel job", err)
	}
	if ok {
		e.logger.Info("job cancelled", slog.String("job_id", jobID))
		e.extensions.EmitJobCancelled(ctx, parsed)
	}
	return ok, nil
}

// Job returns the stored job.
func (e *Engine) Job(ctx context.Context, jobID string) (*job.Job, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	parsed, err := id.ParseJobID(jobID)
	if err != nil {
		return nil, ferry.ErrJobNotFound
	}
	j, err := e.store.GetJob(ctx, parsed)
	if err != nil {
		return nil, storeErr("get job", err)
	}
	return j, nil
}

// Codec returns the payload codec shared with the registry.
func (e *Engine) Codec() job.Codec { return e.registry.Codec() }

// Registered returns the names of all registered definitions, sorted.
func (e *Engine) Registered() []string { return e.registry.Names() }

// Registry returns the job registry.
func (e *Engine) Registry() *job.Registry { return e.registry }

// Extensions returns the extension registry.
func (e *Engine) Extensions() *ext.Registry { return e.extensions }

// Store returns the store the engine owns.
func (e *Engine) Store() store.Store { return e.store }

// Config returns the effective configuration.
func (e *Engine) Config() ferry.Config { return e.cfg }

// WorkerID returns the id this engine uses for locks and job ownership.
func (e *Engine) WorkerID() id.WorkerID { return e.pool.WorkerID() }

// QueueManager returns the queue manager, or nil if no queue configs
// were provided.
func (e *Engine) QueueManager() *queue.Manager { return e.queueManager }

// storeErr keeps known sentinels and maps every other store failure to
// ferry.ErrEngineUnavailable.
func storeErr(op string, err error) error {
	switch {
	case errors.Is(err, ferry.ErrJobNotFound),
		errors.Is(err, ferry.ErrRecurringNotFound),
		errors.Is(err, ferry.ErrJobAlreadyExists),
		errors.Is(err, ferry.ErrInvalidSchedule),
		errors.Is(err, ferry.ErrEngineUnavailable):
		return err
	default:
		return fmt.Errorf("%w: %s: %w", ferry.ErrEngineUnavailable, op, err)
	}
}

// Package worker provides the job execution engine: an Executor that
// invokes registered handlers through middleware, and a Pool that
// manages concurrent worker goroutines polling for jobs.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/ferry"
	"github.com/xraph/ferry/backoff"
	"github.com/xraph/ferry/ext"
	"github.com/xraph/ferry/job"
	"github.com/xraph/ferry/middleware"
)

// RetryPolicy controls what happens to a job whose handler fails.
type RetryPolicy struct {
	// Enabled turns automatic retries on. When false every failure is final.
	Enabled bool
	// Backoff computes the delay before the next attempt.
	Backoff backoff.Strategy
}

// Executor runs a single job through middleware and the registered handler,
// then handles retry logic, state updates, and lifecycle events.
type Executor struct {
	registry   *job.Registry
	extensions *ext.Registry
	store      job.Store
	retry      RetryPolicy
	mw         middleware.Middleware
	logger     *slog.Logger
}

// NewExecutor creates an Executor with the given dependencies.
func NewExecutor(
	registry *job.Registry,
	extensions *ext.Registry,
	store job.Store,
	retry RetryPolicy,
	logger *slog.Logger,
	mws ...middleware.Middleware,
) *Executor {
	if retry.Backoff == nil {
		retry.Backoff = backoff.DefaultStrategy()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		registry:   registry,
		extensions: extensions,
		store:      store,
		retry:      retry,
		mw:         middleware.Chain(mws...),
		logger:     logger,
	}
}

// Execute runs a job through the middleware chain and handler.
// On success: marks completed, emits JobCompleted.
// On a retryable failure with attempts left: marks retrying with backoff,
// emits JobRetrying.
// Otherwise: marks failed, emits JobFailed.
// A run interrupted by ctx cancellation is returned to pending without
// consuming an attempt.
//
// The returned error is the handler's error, unchanged.
func (e *Executor) Execute(ctx context.Context, j *job.Job) error {
	handler, registered := e.registry.Get(j.Name)

	start := time.Now()

	terminal := func(ctx context.Context) error {
		if !registered {
			return fmt.Errorf("%w: %q", ferry.ErrJobNotRegistered, j.Name)
		}
		return handler(ctx, j.InvocationID, j.Payload)
	}

	err := e.mw(ctx, j, terminal)
	elapsed := time.Since(start)

	// State must be persisted even when the run was cancelled.
	persistCtx := context.WithoutCancel(ctx)
	now := time.Now().UTC()
	j.UpdatedAt = now

	switch {
	case err == nil:
		e.handleSuccess(persistCtx, j, now, elapsed)
	case ctx.Err() != nil && errors.Is(err, context.Canceled):
		e.handleInterrupted(persistCtx, j, err)
	default:
		e.handleFailure(persistCtx, j, err, now)
	}
	return err
}

// Retryable reports whether err may succeed on a later attempt.
// Contract violations and unknown job names never do.
func Retryable(err error) bool {
	return !errors.Is(err, ferry.ErrParameterContract) &&
		!errors.Is(err, ferry.ErrJobNotRegistered)
}

func (e *Executor) handleSuccess(ctx context.Context, j *job.Job, now time.Time, elapsed time.Duration) {
	j.State = job.StateCompleted
	j.CompletedAt = &now
	j.LastError = ""

	if !e.persist(ctx, j, "success") {
		return
	}
	e.extensions.EmitJobCompleted(ctx, j, elapsed)
}

func (e *Executor) handleInterrupted(ctx context.Context, j *job.Job, cause error) {
	j.State = job.StatePending
	j.RunAt = time.Now().UTC()
	j.StartedAt = nil
	j.HeartbeatAt = nil
	j.LastError = cause.Error()

	if !e.persist(ctx, j, "interruption") {
		return
	}
	e.logger.Warn("job interrupted, returned to queue",
		slog.String("job_id", j.ID.String()),
		slog.String("job_name", j.Name),
	)
}

// handleFailure increments the retry counter and either retries or fails.
func (e *Executor) handleFailure(ctx context.Context, j *job.Job, handlerErr error, now time.Time) {
	j.RetryCount++
	j.LastError = handlerErr.Error()

	if e.retry.Enabled && Retryable(handlerErr) && j.RetryCount <= j.MaxRetries {
		e.scheduleRetry(ctx, j, now)
		return
	}
	e.markFailed(ctx, j, handlerErr, now)
}

// scheduleRetry sets the job to StateRetrying with a backoff delay.
func (e *Executor) scheduleRetry(ctx context.Context, j *job.Job, now time.Time) {
	delay := e.retry.Backoff.Delay(j.RetryCount)
	nextRunAt := now.Add(delay)
	j.RunAt = nextRunAt
	j.State = job.StateRetrying
	j.StartedAt = nil
	j.HeartbeatAt = nil

	if !e.persist(ctx, j, "retry") {
		return
	}

	e.extensions.EmitJobRetrying(ctx, j, j.RetryCount, nextRunAt)

	e.logger.Info("job scheduled for retry",
		slog.String("job_id", j.ID.String()),
		slog.String("job_name", j.Name),
		slog.Int("attempt", j.RetryCount),
		slog.Int("max_retries", j.MaxRetries),
		slog.Duration("delay", delay),
	)
}

func (e *Executor) markFailed(ctx context.Context, j *job.Job, handlerErr error, now time.Time) {
	j.State = job.StateFailed
	j.CompletedAt = &now

	if !e.persist(ctx, j, "failure") {
		return
	}

	e.extensions.EmitJobFailed(ctx, j, handlerErr)

	e.logger.Warn("job failed permanently",
		slog.String("job_id", j.ID.String()),
		slog.String("job_name", j.Name),
		slog.Int("retry_count", j.RetryCount),
		slog.Bool("retryable", Retryable(handlerErr)),
		slog.String("error", handlerErr.Error()),
	)
}

func (e *Executor) persist(ctx context.Context, j *job.Job, phase string) bool {
	if err := e.store.UpdateJob(ctx, j); err != nil {
		e.logger.Error("failed to update job after "+phase,
			slog.String("job_id", j.ID.String()),
			slog.String("job_name", j.Name),
			slog.String("error", err.Error()),
		)
		return false
	}
	return true
}

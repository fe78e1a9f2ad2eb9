package jobs

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/xraph/ferry"
	"github.com/xraph/ferry/job"
	"github.com/xraph/ferry/recurring"
)

// Engine is what the facade needs from the engine. *engine.Engine
// implements it.
type Engine interface {
	Submit(ctx context.Context, sub job.Submission) (string, error)
	UpsertRecurring(ctx context.Context, spec recurring.Spec) error
	RemoveRecurring(ctx context.Context, recurringID string) error
	TriggerRecurring(ctx context.Context, recurringID string) (string, error)
	CancelJob(ctx context.Context, jobID string) (bool, error)
	Codec() job.Codec
}

// Service submits jobs and manages recurring definitions.
type Service struct {
	engine Engine
}

// New returns a Service backed by engine.
func New(engine Engine) *Service {
	return &Service{engine: engine}
}

// Enqueue submits def to run as soon as a worker is free.
func Enqueue[T any](ctx context.Context, s *Service, def *job.Definition[T], invocationID string, params T) (string, error) {
	return submit(ctx, s, def, invocationID, time.Time{}, params)
}

// Schedule submits def to run no earlier than now + delay. A negative
// delay is a ferry.ErrInvalidSchedule; zero means now.
func Schedule[T any](ctx context.Context, s *Service, def *job.Definition[T], invocationID string, delay time.Duration, params T) (string, error) {
	if delay < 0 {
		return "", fmt.Errorf("%w: negative delay %s", ferry.ErrInvalidSchedule, delay)
	}
	var runAt time.Time
	if delay > 0 {
		runAt = time.Now().Add(delay)
	}
	return submit(ctx, s, def, invocationID, runAt, params)
}

// ScheduleAt submits def to run no earlier than instant. A zero instant is
// a ferry.ErrInvalidSchedule; a past instant runs as soon as possible.
func ScheduleAt[T any](ctx context.Context, s *Service, def *job.Definition[T], invocationID string, instant time.Time, params T) (string, error) {
	if instant.IsZero() {
		return "", fmt.Errorf("%w: zero instant", ferry.ErrInvalidSchedule)
	}
	return submit(ctx, s, def, invocationID, instant, params)
}

func submit[T any](ctx context.Context, s *Service, def *job.Definition[T], invocationID string, runAt time.Time, params T) (string, error) {
	payload, err := job.Encode(s.engine.Codec(), params)
	if err != nil {
		return "", err
	}
	return s.engine.Submit(ctx, job.Submission{
		Name:         def.Name,
		InvocationID: invocationID,
		Payload:      payload,
		RunAt:        runAt,
		Queue:        def.Opts.Queue,
		MaxRetries:   def.Opts.MaxRetries,
		Timeout:      def.Opts.Timeout,
	})
}

// CreateRecurring creates or replaces the recurring definition recurringID
// so def runs with params on cronExpr. It returns recurringID.
func CreateRecurring[T any](ctx context.Context, s *Service, def *job.Definition[T], recurringID, cronExpr string, params T) (string, error) {
	if strings.TrimSpace(recurringID) == "" {
		return "", fmt.Errorf("%w: empty recurring id", ferry.ErrInvalidSchedule)
	}
	if _, err := recurring.ParseSchedule(cronExpr); err != nil {
		return "", err
	}

	payload, err := job.Encode(s.engine.Codec(), params)
	if err != nil {
		return "", err
	}
	err = s.engine.UpsertRecurring(ctx, recurring.Spec{
		ID:         recurringID,
		JobName:    def.Name,
		Schedule:   cronExpr,
		Payload:    payload,
		Queue:      def.Opts.Queue,
		MaxRetries: def.Opts.MaxRetries,
		Timeout:    def.Opts.Timeout,
	})
	if err != nil {
		return "", err
	}
	return recurringID, nil
}

// DeleteRecurring removes a recurring definition. Removing an id that does
// not exist is not an error.
func (s *Service) DeleteRecurring(ctx context.Context, recurringID string) error {
	return s.engine.RemoveRecurring(ctx, recurringID)
}

// TriggerRecurring runs the definition once now without changing its
// schedule, and returns the new job id.
func (s *Service) TriggerRecurring(ctx context.Context, recurringID string) (string, error) {
	return s.engine.TriggerRecurring(ctx, recurringID)
}

// DeleteJob cancels a job that has not started. It returns false when the
// job is unknown or has already run.
func (s *Service) DeleteJob(ctx context.Context, jobID string) (bool, error) {
	return s.engine.CancelJob(ctx, jobID)
}

package middleware

import (
	"context"

	"github.com/xraph/ferry/job"
	"github.com/xraph/ferry/lifecycle"
)

// Lifecycle returns middleware that runs the rest of the chain inside
// lifecycle.Run, so every execution produces one start event followed by
// one success or failure event.
func Lifecycle(rec lifecycle.Recorder) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		return lifecycle.Run(ctx, rec, Invocation(j), next)
	}
}

// Invocation describes j for lifecycle events.
func Invocation(j *job.Job) lifecycle.Invocation {
	return lifecycle.Invocation{
		JobName:      j.Name,
		InvocationID: j.InvocationID,
		JobID:        j.ID.String(),
		Queue:        j.Queue,
		Attempt:      j.RetryCount + 1,
		Payload:      j.Payload,
	}
}

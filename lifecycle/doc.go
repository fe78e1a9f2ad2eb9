// Package lifecycle wraps job execution with start, success, and failure
// events.
//
// [Run] is the single wrapper used for every job regardless of calling
// convention. It records exactly one [KindStarted] event, then exactly one
// of [KindSucceeded] or [KindFailed], and hands back the job's error value
// untouched so retry decisions upstream see what the job returned.
//
//	err := lifecycle.Run(ctx, lifecycle.LogRecorder(logger), inv, func(ctx context.Context) error {
//	    return handler(ctx, inv.InvocationID, inv.Payload)
//	})
//
// Recorders are plain observers. [LogRecorder] writes structured slog
// records; [RecorderFunc] and [Multi] cover tests and fan-out.
package lifecycle

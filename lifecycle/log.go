package lifecycle

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"unicode/utf8"
)

// maxLoggedPayload caps how much of a payload is copied into a log record.
const maxLoggedPayload = 4096

// LogRecorder writes events as structured slog records: start and success
// at INFO, failure at ERROR with the cause chain.
func LogRecorder(logger *slog.Logger) Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return RecorderFunc(func(ctx context.Context, ev Event) {
		attrs := []slog.Attr{
			slog.String("job_name", ev.Invocation.JobName),
			slog.String("invocation_id", ev.Invocation.InvocationID),
			slog.Time("at", ev.Time),
		}
		if ev.Invocation.JobID != "" {
			attrs = append(attrs, slog.String("job_id", ev.Invocation.JobID))
		}

		switch ev.Kind {
		case KindStarted:
			attrs = append(attrs, slog.Int("attempt", ev.Invocation.Attempt), payloadAttr(ev.Invocation.Payload))
			logger.LogAttrs(ctx, slog.LevelInfo, "job started", attrs...)
		case KindSucceeded:
			attrs = append(attrs, slog.Duration("elapsed", ev.Elapsed))
			logger.LogAttrs(ctx, slog.LevelInfo, "job succeeded", attrs...)
		case KindFailed:
			attrs = append(attrs,
				slog.Duration("elapsed", ev.Elapsed),
				slog.String("error", ev.Err.Error()),
				slog.String("causes", strings.Join(ev.Causes, " <- ")),
			)
			if len(ev.Stack) > 0 {
				attrs = append(attrs, slog.String("stack", string(ev.Stack)))
			}
			logger.LogAttrs(ctx, slog.LevelError, "job failed", attrs...)
		}
	})
}

func payloadAttr(p []byte) slog.Attr {
	if len(p) <= maxLoggedPayload && utf8.Valid(p) && json.Valid(p) {
		return slog.String("parameters", string(p))
	}
	return slog.Int("payload_bytes", len(p))
}

// Package middleware provides composable middleware for job execution.
//
// A [Middleware] wraps the handler of one job run. Middleware are composed
// with [Chain]; the first middleware in the slice is the outermost wrapper.
//
// The engine's default chain is:
//
//	Recover → Tracing → Metrics → Lifecycle → Timeout → handler
//
// # Built-in Middleware
//
//   - [Lifecycle]: records start, success, and failure through a
//     lifecycle.Recorder and returns the handler's error unchanged
//   - [Recover]: turns panics into errors
//   - [Timeout]: cancels the job context after the job's Timeout
//   - [Tracing]: wraps execution in an OpenTelemetry span
//   - [Metrics]: records per-job duration and outcome counters
//
// Middleware MUST call next to continue the chain unless intentionally
// short-circuiting.
package middleware

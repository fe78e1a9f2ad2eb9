// Package observability provides an OpenTelemetry metrics extension for
// ferry. [MetricsExtension] implements the lifecycle hooks from package ext
// and counts enqueues, completions, failures, retries, cancellations, and
// recurring firings.
//
// Per-execution duration lives in middleware.Metrics; this extension
// covers system-wide event rates.
//
//	eng, err := engine.New(st, engine.WithMeterProvider(mp))
//
// The engine registers the extension automatically using the configured
// MeterProvider, or the global one when none is set.
package observability

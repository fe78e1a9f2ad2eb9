package job

import "time"

// InheritRetries tells the engine to use its configured retry budget.
const InheritRetries = -1

// Options configures per-definition behavior.
type Options struct {
	// MaxRetries is the retry budget. InheritRetries defers to the engine.
	MaxRetries int

	// Queue is the queue jobs of this definition are placed on.
	Queue string

	// Timeout bounds one execution. Asynchronous handlers observe it via
	// their context; synchronous handlers run to completion regardless.
	// Zero means unlimited.
	Timeout time.Duration
}

// DefaultOptions returns Options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		MaxRetries: InheritRetries,
		Queue:      "default",
		Timeout:    5 * time.Minute,
	}
}

// Option is a functional option for configuring a job definition.
type Option func(*Options)

// WithMaxRetries sets the maximum number of retry attempts.
func WithMaxRetries(n int) Option {
	return func(o *Options) {
		o.MaxRetries = n
	}
}

// WithQueue sets the queue name for the job.
func WithQueue(q string) Option {
	return func(o *Options) {
		o.Queue = q
	}
}

// WithTimeout sets the maximum execution duration for the job.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.Timeout = d
	}
}

package job

import "context"

// Mode is the calling convention of a definition.
type Mode int

const (
	// ModeAsync handlers receive a context and may be cancelled.
	ModeAsync Mode = iota
	// ModeSync handlers block until they return.
	ModeSync
)

func (m Mode) String() string {
	if m == ModeSync {
		return "sync"
	}
	return "async"
}

// Definition is a named, described unit of work bound to payload type T.
// Definitions are immutable once built; identify them by Name.
type Definition[T any] struct {
	// Name is the stable key used for registration, logs, and metrics.
	// Renaming a definition orphans jobs already stored under the old name.
	Name string

	// Description is free text with no behavioral effect.
	Description string

	// Mode records which constructor built the definition.
	Mode Mode

	// Opts configures retries, queue, and timeout.
	Opts Options

	async func(ctx context.Context, invocationID string, params T) error
	sync  func(invocationID string, params T) error
}

// NewAsync builds a definition whose handler receives a context. The
// context is cancelled when the job's timeout elapses or the engine shuts
// down; long-running handlers should check it between steps.
func NewAsync[T any](name, description string, fn func(ctx context.Context, invocationID string, params T) error, opts ...Option) *Definition[T] {
	def := &Definition[T]{
		Name:        name,
		Description: description,
		Mode:        ModeAsync,
		Opts:        DefaultOptions(),
		async:       fn,
	}
	for _, opt := range opts {
		opt(&def.Opts)
	}
	return def
}

// NewSync builds a definition whose handler blocks the worker until it
// returns. It has no cancellation signal; once started it runs to the end.
func NewSync[T any](name, description string, fn func(invocationID string, params T) error, opts ...Option) *Definition[T] {
	def := &Definition[T]{
		Name:        name,
		Description: description,
		Mode:        ModeSync,
		Opts:        DefaultOptions(),
		sync:        fn,
	}
	for _, opt := range opts {
		opt(&def.Opts)
	}
	return def
}

// Execute runs the handler with already-decoded parameters. ctx is
// ignored by synchronous definitions.
func (d *Definition[T]) Execute(ctx context.Context, invocationID string, params T) error {
	if d.Mode == ModeSync {
		return d.sync(invocationID, params)
	}
	return d.async(ctx, invocationID, params)
}

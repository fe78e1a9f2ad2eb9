package lifecycle

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"
)

// Kind identifies an event in a run.
type Kind string

const (
	KindStarted   Kind = "started"
	KindSucceeded Kind = "succeeded"
	KindFailed    Kind = "failed"
)

// Invocation identifies the run being observed.
type Invocation struct {
	JobName      string
	InvocationID string
	JobID        string
	Queue        string
	Attempt      int

	// Payload is the encoded parameters, kept for diagnostics only.
	Payload []byte
}

// Event is one observation of a run.
type Event struct {
	Kind       Kind
	Time       time.Time
	Invocation Invocation

	// Elapsed is set on KindSucceeded and KindFailed.
	Elapsed time.Duration

	// Err, Causes, and Stack are set on KindFailed. Causes lists the
	// messages of Err and everything it wraps, outermost first. Stack is
	// only captured for panics.
	Err    error
	Causes []string
	Stack  []byte
}

// Recorder observes lifecycle events. Record must not block for long; it
// runs inline with the job.
type Recorder interface {
	Record(ctx context.Context, ev Event)
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(ctx context.Context, ev Event)

// Record calls f.
func (f RecorderFunc) Record(ctx context.Context, ev Event) { f(ctx, ev) }

// Multi fans events out to every recorder in order. Nil entries are
// skipped.
func Multi(recorders ...Recorder) Recorder {
	return RecorderFunc(func(ctx context.Context, ev Event) {
		for _, r := range recorders {
			if r != nil {
				r.Record(ctx, ev)
			}
		}
	})
}

// PanicError is recorded when the wrapped function panics.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string { return fmt.Sprintf("panic: %v", e.Value) }

// Run records a start event, calls fn, and records either success or
// failure. The error fn returns is passed back as-is. A panic in fn is
// recorded as a failure and then re-raised with its original value.
func Run(ctx context.Context, rec Recorder, inv Invocation, fn func(context.Context) error) error {
	if rec == nil {
		rec = RecorderFunc(func(context.Context, Event) {})
	}

	start := time.Now()
	rec.Record(ctx, Event{Kind: KindStarted, Time: start.UTC(), Invocation: inv})

	finished := false
	defer func() {
		if finished {
			return
		}
		r := recover()
		if r == nil {
			// runtime.Goexit; nothing to re-raise.
			return
		}
		perr := &PanicError{Value: r}
		rec.Record(ctx, Event{
			Kind:       KindFailed,
			Time:       time.Now().UTC(),
			Invocation: inv,
			Elapsed:    time.Since(start),
			Err:        perr,
			Causes:     []string{perr.Error()},
			Stack:      debug.Stack(),
		})
		panic(r)
	}()

	err := fn(ctx)
	finished = true

	ev := Event{Time: time.Now().UTC(), Invocation: inv, Elapsed: time.Since(start)}
	if err != nil {
		ev.Kind = KindFailed
		ev.Err = err
		ev.Causes = Causes(err)
		rec.Record(ctx, ev)
		return err
	}
	ev.Kind = KindSucceeded
	rec.Record(ctx, ev)
	return nil
}

// Causes flattens err's wrap tree into messages, outermost first.
// Joined errors are walked depth-first.
func Causes(err error) []string {
	var out []string
	var walk func(error)
	walk = func(e error) {
		if e == nil {
			return
		}
		out = append(out, e.Error())
		switch u := e.(type) {
		case interface{ Unwrap() error }:
			walk(u.Unwrap())
		case interface{ Unwrap() []error }:
			for _, inner := range u.Unwrap() {
				walk(inner)
			}
		}
	}
	walk(err)
	return out
}

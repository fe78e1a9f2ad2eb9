package middleware_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/xraph/ferry/id"
	"github.com/xraph/ferry/job"
	"github.com/xraph/ferry/lifecycle"
	"github.com/xraph/ferry/middleware"
)

func TestChain_ExecutionOrder(t *testing.T) {
	var order []string

	mw1 := func(ctx context.Context, _ *job.Job, next middleware.Handler) error {
		order = append(order, "mw1-before")
		err := next(ctx)
		order = append(order, "mw1-after")
		return err
	}
	mw2 := func(ctx context.Context, _ *job.Job, next middleware.Handler) error {
		order = append(order, "mw2-before")
		err := next(ctx)
		order = append(order, "mw2-after")
		return err
	}

	chain := middleware.Chain(mw1, mw2)
	j := &job.Job{Name: "test", ID: id.NewJobID()}
	err := chain(context.Background(), j, func(_ context.Context) error {
		order = append(order, "handler")
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := []string{"mw1-before", "mw2-before", "handler", "mw2-after", "mw1-after"}
	if len(order) != len(expected) {
		t.Fatalf("expected %d calls, got %d: %v", len(expected), len(order), order)
	}
	for i, want := range expected {
		if order[i] != want {
			t.Errorf("order[%d] = %q, want %q", i, order[i], want)
		}
	}
}

func TestChain_Empty(t *testing.T) {
	called := false
	err := middleware.Chain()(context.Background(), &job.Job{ID: id.NewJobID()}, func(_ context.Context) error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("handler not called with empty chain")
	}
}

func TestRecover_CatchesPanic(t *testing.T) {
	mw := middleware.Recover(slog.Default())
	j := &job.Job{Name: "panicky", ID: id.NewJobID()}

	err := mw(context.Background(), j, func(_ context.Context) error {
		panic("test panic")
	})
	var perr *middleware.PanicError
	if !errors.As(err, &perr) {
		t.Fatalf("expected *PanicError, got %v", err)
	}
	if got := err.Error(); got != "panic in job panicky: test panic" {
		t.Errorf("unexpected error message: %q", got)
	}
}

func TestRecover_PassesThrough(t *testing.T) {
	mw := middleware.Recover(slog.Default())
	j := &job.Job{Name: "normal", ID: id.NewJobID()}

	called := false
	err := mw(context.Background(), j, func(_ context.Context) error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("handler not called")
	}
}

func TestTimeout_CancelsContext(t *testing.T) {
	mw := middleware.Timeout(slog.Default())
	j := &job.Job{Name: "slow", ID: id.NewJobID(), Timeout: 20 * time.Millisecond}

	err := mw(context.Background(), j, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
}

func TestTimeout_ZeroMeansUnlimited(t *testing.T) {
	mw := middleware.Timeout(slog.Default())
	j := &job.Job{Name: "unbounded", ID: id.NewJobID()}

	err := mw(context.Background(), j, func(ctx context.Context) error {
		if _, ok := ctx.Deadline(); ok {
			t.Error("expected no deadline")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLifecycle_ObservesPanicBeforeRecover(t *testing.T) {
	var kinds []lifecycle.Kind
	rec := lifecycle.RecorderFunc(func(_ context.Context, ev lifecycle.Event) {
		kinds = append(kinds, ev.Kind)
	})
	chain := middleware.Chain(
		middleware.Recover(slog.Default()),
		middleware.Lifecycle(rec),
	)
	j := &job.Job{Name: "panicky", ID: id.NewJobID(), InvocationID: "inv-1"}

	err := chain(context.Background(), j, func(context.Context) error {
		panic("kaboom")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if len(kinds) != 2 || kinds[0] != lifecycle.KindStarted || kinds[1] != lifecycle.KindFailed {
		t.Fatalf("events = %v", kinds)
	}
}

func TestLifecycle_ReturnsErrorUnchanged(t *testing.T) {
	var got lifecycle.Event
	rec := lifecycle.RecorderFunc(func(_ context.Context, ev lifecycle.Event) {
		got = ev
	})
	j := &job.Job{
		Name:         "order-processing",
		ID:           id.NewJobID(),
		InvocationID: "order-7",
		Queue:        "orders",
		RetryCount:   1,
	}
	want := errors.New("inventory unavailable")

	err := middleware.Lifecycle(rec)(context.Background(), j, func(context.Context) error {
		return want
	})
	if err != want {
		t.Fatalf("expected the handler's error value, got %v", err)
	}
	if got.Kind != lifecycle.KindFailed {
		t.Fatalf("last event = %v", got.Kind)
	}
	inv := got.Invocation
	if inv.InvocationID != "order-7" || inv.JobID != j.ID.String() || inv.Queue != "orders" || inv.Attempt != 2 {
		t.Errorf("invocation = %+v", inv)
	}
}

package recurring

import (
	"context"
	"time"

	"github.com/xraph/ferry/id"
)

// Store defines the persistence contract for recurring definitions.
type Store interface {
	// UpsertRecurring creates the entry or atomically replaces the schedule,
	// job name, queue, payload, retry budget, timeout, and NextRunAt of the
	// entry with the same ID. CreatedAt, LastRunAt, LastJobID, and lock
	// fields of an existing entry are kept.
	UpsertRecurring(ctx context.Context, e *Entry) error

	// GetRecurring retrieves an entry by id. It returns
	// ferry.ErrRecurringNotFound when missing.
	GetRecurring(ctx context.Context, recurringID string) (*Entry, error)

	// ListRecurring returns all entries ordered by id.
	ListRecurring(ctx context.Context) ([]*Entry, error)

	// DeleteRecurring removes an entry. It returns
	// ferry.ErrRecurringNotFound when missing.
	DeleteRecurring(ctx context.Context, recurringID string) error

	// AcquireRecurringLock takes the per-entry lock for holder unless
	// another holder has an unexpired one. The lock expires after ttl.
	AcquireRecurringLock(ctx context.Context, recurringID string, holder id.WorkerID, ttl time.Duration) (bool, error)

	// ReleaseRecurringLock releases the lock if holder owns it.
	ReleaseRecurringLock(ctx context.Context, recurringID string, holder id.WorkerID) error

	// UpdateRecurringRun records a firing. LastRunAt and LastJobID are
	// always written; NextRunAt only as described on Run.
	UpdateRecurringRun(ctx context.Context, recurringID string, run Run) error
}

// Run is one firing of a recurring entry.
type Run struct {
	At    time.Time
	JobID id.JobID

	// Next is the following occurrence. It replaces NextRunAt only when
	// non-zero and the stored entry still has Schedule as its cron
	// expression, so a concurrent upsert keeps the next run it computed.
	Next     time.Time
	Schedule string
}

// AppliesTo reports whether Next should replace the NextRunAt of an entry
// currently scheduled with schedule.
func (r Run) AppliesTo(schedule string) bool {
	return !r.Next.IsZero() && r.Schedule == schedule
}

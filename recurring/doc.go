// Package recurring stores cron-scheduled job definitions and fires them.
//
// An [Entry] binds a caller-chosen id to a job name, a fixed encoded
// payload, and a cron expression. Ids are upsert keys: saving an entry
// under an existing id replaces its schedule, job, and payload in one
// write while keeping its run history.
//
// # Schedules
//
// Expressions use the standard five-field grammar plus descriptors such as
// "@daily" and "@every 1h". [ParseSchedule] reports malformed input as
// ferry.ErrInvalidSchedule.
//
// # Poller
//
// The [Poller] checks for due entries every tick. For each one it takes a
// per-entry lock in the store, re-reads the entry, enqueues a job whose
// invocation id is the recurring id, records the run, and moves NextRunAt
// to the following occurrence. A missed window fires once on the next
// tick rather than once per missed occurrence. [Poller.Trigger] enqueues
// an extra run immediately and leaves NextRunAt untouched.
package recurring

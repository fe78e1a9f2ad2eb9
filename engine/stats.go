package engine

import (
	"context"

	"github.com/xraph/ferry/job"
	"github.com/xraph/ferry/queue"
)

// Stats is a point-in-time snapshot of the engine.
type Stats struct {
	// Jobs counts stored jobs by state.
	Jobs map[job.State]int64 `json:"jobs"`

	// Recurring is the number of recurring definitions.
	Recurring int `json:"recurring"`

	// Active is the number of jobs this engine is executing right now.
	Active int `json:"active"`

	WorkerID string       `json:"worker_id"`
	Queues   []string     `json:"queues"`
	Limits   []queue.Stat `json:"limits,omitempty"`
}

var allStates = []job.State{
	job.StatePending,
	job.StateRunning,
	job.StateRetrying,
	job.StateCompleted,
	job.StateFailed,
	job.StateCancelled,
}

// Stats counts jobs per state and reports local pool load.
func (e *Engine) Stats(ctx context.Context) (*Stats, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}

	s := &Stats{
		Jobs:     make(map[job.State]int64, len(allStates)),
		Active:   e.pool.ActiveCount(),
		WorkerID: e.pool.WorkerID().String(),
		Queues:   e.pool.Queues(),
	}
	for _, st := range allStates {
		n, err := e.store.CountJobs(ctx, job.CountOpts{State: st})
		if err != nil {
			return nil, storeErr("count jobs", err)
		}
		s.Jobs[st] = n
	}

	entries, err := e.store.ListRecurring(ctx)
	if err != nil {
		return nil, storeErr("list recurring", err)
	}
	s.Recurring = len(entries)

	if e.queueManager != nil {
		s.Limits = e.queueManager.Stats()
	}
	return s, nil
}

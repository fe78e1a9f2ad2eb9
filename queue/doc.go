// Package queue enforces per-queue admission limits on dequeued jobs.
//
// Jobs carry a Queue field naming the queue they belong to; the worker pool
// polls the queues listed in ferry.Config.Queues (default ["default"]).
// Admission is always unconditional at submission time. Limits apply only
// when a worker has claimed a job and is about to run it.
//
// # Per-Queue Configuration
//
//	queue.Config{
//	    Name:           "email",
//	    MaxConcurrency: 5,  // at most 5 email jobs running locally
//	    RateLimit:      10, // at most 10 jobs/s started from this queue
//	    RateBurst:      20,
//	}
//
// Pass configs when building the engine with engine.WithQueueConfig.
//
// # Manager
//
// [Manager] uses a token-bucket limiter (golang.org/x/time/rate) and an
// active-count gate. A job that is not admitted is handed back to the
// store with a short delay.
//
//	if m.Acquire(j.Queue) {
//	    defer m.Release(j.Queue)
//	    // run the job
//	}
//
// Queues without a [Config] have no limits beyond the pool-wide concurrency.
package queue

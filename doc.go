// Package ferry is a job-execution framework for Go. It couples a typed job
// contract, a single lifecycle wrapper that logs every run, and a scheduling
// facade for immediate, delayed, timed and recurring work.
//
// The root package holds the shared pieces: configuration, sentinel errors,
// and the persistence timestamps embedded by stored records. The moving parts
// live in subpackages:
//
//   - [github.com/xraph/ferry/job] defines jobs and the payload contract.
//   - [github.com/xraph/ferry/lifecycle] wraps every execution with start,
//     success, and failure events.
//   - [github.com/xraph/ferry/jobs] is the facade application code submits
//     work through.
//   - [github.com/xraph/ferry/engine] owns the store, worker pool, and
//     recurring poller.
//
// # Quick Start
//
//	st, err := store.Open(ctx, cfg, slog.Default())
//	eng, err := engine.New(st, engine.WithConfig(cfg))
//	if err != nil { ... }
//	defer eng.Stop(context.Background())
//
//	engine.Register(eng, welcomeJob)
//	_ = eng.Start(ctx)
//
//	svc := jobs.New(eng)
//	jobID, err := jobs.Enqueue(ctx, svc, welcomeJob, "welcome-42", payload)
package ferry

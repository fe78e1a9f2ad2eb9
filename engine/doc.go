// Package engine wires the ferry subsystems together: job registry, store,
// worker pool, recurring poller, middleware chain, and extensions.
//
// The engine sits above every subsystem package and below the application
// layer. The root ferry package defines Entity and the error sentinels,
// which job and recurring import, so it cannot import them back.
//
// # Ownership
//
// An Engine owns its store. Stop drains workers, runs shutdown hooks, and
// closes the store; every call after that returns ferry.ErrEngineStopped.
//
//	st, err := store.Open(ctx, cfg, logger)
//	if err != nil {
//	    return err
//	}
//	eng, err := engine.New(st, engine.WithConfig(cfg), engine.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	defer eng.Stop(context.Background())
//
// # Registering Work
//
//	engine.Register(eng, samplejobs.Email)
//	if err := eng.Start(ctx); err != nil {
//	    return err
//	}
//
// Application code submits work through package jobs rather than calling
// Submit directly.
//
// # Options
//
//   - [WithConfig]: engine settings (workers, queues, retries, expiration)
//   - [WithLogger]: logger for every component
//   - [WithExtension]: register a lifecycle extension
//   - [WithMiddleware]: add middleware to the execution chain
//   - [WithBackoff]: set the retry backoff strategy
//   - [WithQueueConfig]: per-queue rate limits and concurrency
//   - [WithTracerProvider], [WithMeterProvider]: OpenTelemetry providers
//   - [WithRecorder]: destination for lifecycle events
//   - [WithCodec]: payload codec (JSON or MessagePack)
package engine

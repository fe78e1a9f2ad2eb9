// Package store defines the aggregate persistence interface and opens a
// backend by driver name.
//
// Each subsystem (job, recurring) defines its own store interface. The
// composite [Store] embeds them, so one backend satisfies every contract.
//
// # Available Backends
//
//   - store/memory: in-process store for development and tests
//   - store/postgres: PostgreSQL using pgx/v5
//   - store/redis: Redis using go-redis/v9
//   - store/mongo: MongoDB using mongo-driver/v2
//
// # Usage
//
//	cfg, _ := ferry.LoadConfig()
//	s, err := store.Open(ctx, cfg, logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := s.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// Backends in sub-packages never import this package, which keeps Open
// free of import cycles.
package store

package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/xraph/ferry"
	"github.com/xraph/ferry/job"
	"github.com/xraph/ferry/recurring"
	"github.com/xraph/ferry/store/memory"
	"github.com/xraph/ferry/store/mongo"
	"github.com/xraph/ferry/store/postgres"
	"github.com/xraph/ferry/store/redis"
)

// Store is the aggregate persistence interface. A single backend
// implements every subsystem store.
type Store interface {
	job.Store
	recurring.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close releases the backend connection.
	Close() error
}

var (
	_ Store = (*memory.Store)(nil)
	_ Store = (*postgres.Store)(nil)
	_ Store = (*redis.Store)(nil)
	_ Store = (*mongo.Store)(nil)
)

// Open connects the backend named by cfg.StoreDriver. The returned store is
// owned by the caller; the engine closes it on Stop.
func Open(ctx context.Context, cfg ferry.Config, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch cfg.StoreDriver {
	case "", ferry.DriverMemory:
		return memory.New(), nil

	case ferry.DriverPostgres:
		s, err := postgres.New(ctx, cfg.StoreURL,
			postgres.WithLogger(logger),
			postgres.WithSchema(cfg.Schema),
		)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ferry.ErrEngineUnavailable, err)
		}
		return s, nil

	case ferry.DriverRedis:
		s, err := redis.NewFromURL(cfg.StoreURL,
			redis.WithLogger(logger),
			redis.WithPrefix(cfg.Schema),
		)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ferry.ErrEngineUnavailable, err)
		}
		return s, nil

	case ferry.DriverMongo:
		s, err := mongo.NewFromURI(ctx, cfg.StoreURL, cfg.Schema,
			mongo.WithLogger(logger),
		)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ferry.ErrEngineUnavailable, err)
		}
		return s, nil

	default:
		return nil, fmt.Errorf("%w: %q", ferry.ErrUnknownDriver, cfg.StoreDriver)
	}
}

package ferry

import (
	"fmt"
	"runtime"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Store driver names accepted by Config.StoreDriver.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
	DriverMongo    = "mongo"
)

// Config holds the settings forwarded to the engine. Values are passed
// through as given; only structurally impossible values are rejected.
type Config struct {
	// StoreDriver selects the backend: memory, postgres, redis, or mongo.
	StoreDriver string `env:"STORE"`

	// StoreURL is the connection string for the selected backend.
	StoreURL string `env:"STORE_URL"`

	// Schema is the namespace for persisted records: a PostgreSQL schema,
	// a Redis key prefix, or a MongoDB database name.
	Schema string `env:"SCHEMA"`

	// WorkerCount is the maximum number of jobs processed concurrently.
	WorkerCount int `env:"WORKER_COUNT"`

	// Queues is the list of queues the worker pool polls.
	Queues []string `env:"QUEUES" envSeparator:","`

	// PollInterval is how often idle workers poll for due jobs.
	PollInterval time.Duration `env:"POLL_INTERVAL"`

	// SchedulePollInterval is how often recurring definitions are checked.
	SchedulePollInterval time.Duration `env:"SCHEDULE_POLL_INTERVAL"`

	// JobExpiration is how long finished jobs are kept before purging.
	JobExpiration time.Duration `env:"JOB_EXPIRATION"`

	// ExpirationCheckInterval is how often the purge runs.
	ExpirationCheckInterval time.Duration `env:"EXPIRATION_CHECK_INTERVAL"`

	// AutomaticRetry enables retrying failed jobs with backoff.
	AutomaticRetry bool `env:"AUTOMATIC_RETRY"`

	// MaxRetries is the default retry budget for jobs that do not set one.
	MaxRetries int `env:"MAX_RETRIES"`

	// HeartbeatEnabled turns worker heartbeats and stale job reaping on.
	HeartbeatEnabled bool `env:"HEARTBEAT_ENABLED"`

	// HeartbeatInterval is how often running jobs send heartbeats.
	HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL"`

	// StaleJobThreshold is how long a running job may go without a
	// heartbeat before it is requeued.
	StaleJobThreshold time.Duration `env:"STALE_JOB_THRESHOLD"`

	// ShutdownTimeout bounds how long Stop waits for in-flight jobs.
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT"`

	// Dashboard settings are carried for hosts that mount a dashboard.
	// Ferry does not interpret them.
	DashboardEnabled        bool   `env:"DASHBOARD_ENABLED"`
	DashboardPath           string `env:"DASHBOARD_PATH"`
	DashboardAllowAnonymous bool   `env:"DASHBOARD_ALLOW_ANONYMOUS"`

	// LogLevel and LogFormat configure the CLI logger.
	LogLevel  string `env:"LOG_LEVEL"`
	LogFormat string `env:"LOG_FORMAT"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		StoreDriver:             DriverMemory,
		Schema:                  "ferry",
		WorkerCount:             runtime.NumCPU() * 5,
		Queues:                  []string{"default"},
		PollInterval:            15 * time.Second,
		SchedulePollInterval:    15 * time.Second,
		JobExpiration:           7 * 24 * time.Hour,
		ExpirationCheckInterval: time.Hour,
		AutomaticRetry:          true,
		MaxRetries:              3,
		HeartbeatEnabled:        true,
		HeartbeatInterval:       30 * time.Second,
		StaleJobThreshold:       4 * time.Minute,
		ShutdownTimeout:         30 * time.Second,
		DashboardEnabled:        true,
		DashboardPath:           "/ferry",
		LogLevel:                "info",
		LogFormat:               "text",
	}
}

// LoadConfig returns DefaultConfig overlaid with FERRY_* environment
// variables. Dotenv files are loaded first when present; missing files
// are ignored.
func LoadConfig(files ...string) (Config, error) {
	// .env is optional.
	_ = godotenv.Load(files...)

	cfg := DefaultConfig()
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: "FERRY_"}); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects values the engine cannot run with.
func (c Config) Validate() error {
	switch {
	case c.WorkerCount <= 0:
		return fmt.Errorf("%w: worker count must be positive, got %d", ErrInvalidConfig, c.WorkerCount)
	case len(c.Queues) == 0:
		return fmt.Errorf("%w: at least one queue is required", ErrInvalidConfig)
	case c.PollInterval <= 0:
		return fmt.Errorf("%w: poll interval must be positive", ErrInvalidConfig)
	case c.SchedulePollInterval <= 0:
		return fmt.Errorf("%w: schedule poll interval must be positive", ErrInvalidConfig)
	case c.MaxRetries < 0:
		return fmt.Errorf("%w: max retries must not be negative", ErrInvalidConfig)
	}
	for _, q := range c.Queues {
		if q == "" {
			return fmt.Errorf("%w: empty queue name", ErrInvalidConfig)
		}
	}
	return nil
}

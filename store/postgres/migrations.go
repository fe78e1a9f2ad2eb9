package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/ferry"
)

type migration struct {
	version int
	name    string
	stmts   []string
}

// migrations are applied in order, each in its own transaction.
var migrations = []migration{
	{
		version: 1,
		name:    "create_jobs_table",
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS {jobs} (
				id              TEXT PRIMARY KEY,
				name            TEXT NOT NULL,
				invocation_id   TEXT NOT NULL,
				recurring_id    TEXT,
				queue           TEXT NOT NULL DEFAULT 'default',
				payload         BYTEA,
				state           TEXT NOT NULL DEFAULT 'pending',
				max_retries     INTEGER NOT NULL DEFAULT 0,
				retry_count     INTEGER NOT NULL DEFAULT 0,
				last_error      TEXT,
				worker_id       TEXT,
				run_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				started_at      TIMESTAMPTZ,
				completed_at    TIMESTAMPTZ,
				heartbeat_at    TIMESTAMPTZ,
				timeout         BIGINT NOT NULL DEFAULT 0,
				created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`,
			`CREATE INDEX IF NOT EXISTS jobs_dequeue_idx
				ON {jobs} (queue, run_at ASC)
				WHERE state IN ('pending', 'retrying')`,
			`CREATE INDEX IF NOT EXISTS jobs_state_idx ON {jobs} (state, updated_at)`,
			`CREATE INDEX IF NOT EXISTS jobs_heartbeat_idx
				ON {jobs} (heartbeat_at)
				WHERE state = 'running'`,
		},
	},
	{
		version: 2,
		name:    "create_recurring_table",
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS {recurring} (
				id              TEXT PRIMARY KEY,
				job_name        TEXT NOT NULL,
				queue           TEXT NOT NULL DEFAULT '',
				schedule        TEXT NOT NULL,
				payload         BYTEA,
				max_retries     INTEGER NOT NULL DEFAULT 0,
				timeout         BIGINT NOT NULL DEFAULT 0,
				last_run_at     TIMESTAMPTZ,
				last_job_id     TEXT,
				next_run_at     TIMESTAMPTZ,
				locked_by       TEXT,
				locked_until    TIMESTAMPTZ,
				created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`,
			`CREATE INDEX IF NOT EXISTS recurring_next_run_idx ON {recurring} (next_run_at)`,
		},
	},
}

// Migrate creates the schema and applies pending migrations. Failures are
// reported as ferry.ErrMigrationFailed.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, s.q(`CREATE SCHEMA IF NOT EXISTS {schema}`)); err != nil {
		return fmt.Errorf("%w: create schema: %w", ferry.ErrMigrationFailed, err)
	}

	_, err := s.pool.Exec(ctx, s.q(`
		CREATE TABLE IF NOT EXISTS {migrations} (
			version    INTEGER PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`))
	if err != nil {
		return fmt.Errorf("%w: create migrations table: %w", ferry.ErrMigrationFailed, err)
	}

	for _, m := range migrations {
		if err := s.apply(ctx, m); err != nil {
			return fmt.Errorf("%w: %03d_%s: %w", ferry.ErrMigrationFailed, m.version, m.name, err)
		}
	}
	return nil
}

func (s *Store) apply(ctx context.Context, m migration) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var applied bool
		err := tx.QueryRow(ctx,
			s.q(`SELECT EXISTS(SELECT 1 FROM {migrations} WHERE version = $1)`),
			m.version,
		).Scan(&applied)
		if err != nil || applied {
			return err
		}

		for _, stmt := range m.stmts {
			if _, err := tx.Exec(ctx, s.q(stmt)); err != nil {
				return err
			}
		}

		if _, err := tx.Exec(ctx,
			s.q(`INSERT INTO {migrations} (version, name) VALUES ($1, $2)`),
			m.version, m.name,
		); err != nil {
			return err
		}

		s.logger.Info("applied migration",
			"version", m.version,
			"name", m.name,
			"schema", s.schema,
		)
		return nil
	})
}

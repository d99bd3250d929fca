package repository

import (
	"context"
	"fmt"
)

// schema holds the DDL for every table. Each statement is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS scenarios (
		id         TEXT PRIMARY KEY,
		name       TEXT NOT NULL,
		region_id  TEXT NOT NULL,
		start_date DATE,
		end_date   DATE,
		owner      TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_scenarios_owner ON scenarios(owner)`,

	`CREATE TABLE IF NOT EXISTS tasks (
		id                 TEXT PRIMARY KEY,
		scenario_id        TEXT NOT NULL REFERENCES scenarios(id) ON DELETE CASCADE,
		name               TEXT NOT NULL,
		indicator_id       TEXT NOT NULL DEFAULT '',
		intervention_id    TEXT NOT NULL DEFAULT '',
		start_date         DATE,
		end_date           DATE,
		response_variables TEXT[] NOT NULL DEFAULT '{}',
		driving_variables  TEXT[] NOT NULL DEFAULT '{}',
		owner              TEXT NOT NULL DEFAULT '',
		created_at         TIMESTAMPTZ NOT NULL,
		updated_at         TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_scenario_id ON tasks(scenario_id)`,

	`CREATE TABLE IF NOT EXISTS threads (
		id                 TEXT PRIMARY KEY,
		task_id            TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
		name               TEXT NOT NULL,
		start_date         DATE,
		end_date           DATE,
		driving_variables  TEXT[] NOT NULL DEFAULT '{}',
		response_variables TEXT[] NOT NULL DEFAULT '{}',
		models             JSONB NOT NULL DEFAULT '{}',
		datasets           JSONB NOT NULL DEFAULT '{}',
		model_ensembles    JSONB NOT NULL DEFAULT '{}',
		execution_summary  JSONB NOT NULL DEFAULT '{}',
		notes              JSONB NOT NULL DEFAULT '{}',
		last_update        JSONB NOT NULL DEFAULT '{}',
		events             JSONB NOT NULL DEFAULT '[]',
		owner              TEXT NOT NULL DEFAULT '',
		created_at         TIMESTAMPTZ NOT NULL,
		updated_at         TIMESTAMPTZ NOT NULL,
		version            BIGINT NOT NULL DEFAULT 0
	)`,
	`ALTER TABLE threads ADD COLUMN IF NOT EXISTS version BIGINT NOT NULL DEFAULT 0`,
	`CREATE INDEX IF NOT EXISTS idx_threads_task_id ON threads(task_id)`,

	`CREATE TABLE IF NOT EXISTS ensembles (
		thread_id    TEXT NOT NULL REFERENCES threads(id) ON DELETE CASCADE,
		id           TEXT NOT NULL,
		model_id     TEXT NOT NULL,
		bindings     JSONB NOT NULL,
		selected     BOOLEAN NOT NULL DEFAULT FALSE,
		runid        TEXT NOT NULL DEFAULT '',
		status       TEXT NOT NULL DEFAULT '',
		run_progress DOUBLE PRECISION NOT NULL DEFAULT 0,
		results      JSONB NOT NULL DEFAULT '{}',
		submitted_at TIMESTAMPTZ,
		updated_at   TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (thread_id, id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_ensembles_thread_model ON ensembles(thread_id, model_id)`,
	`CREATE INDEX IF NOT EXISTS idx_ensembles_status ON ensembles(status) WHERE runid <> ''`,
}

// Migrate creates all required tables and indexes.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	for i, stmt := range schema {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	s.logger.Info("schema migrated", "statements", len(schema))
	return nil
}

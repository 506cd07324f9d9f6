// Package database owns the Postgres connection and the schema the stores
// depend on.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// Open connects to Postgres and verifies the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// EnsureSchema creates the tables the stores expect. Idempotent, so it runs
// at startup and in integration test setup alike.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS document_entities (
			id           TEXT PRIMARY KEY,
			witness_hash TEXT NOT NULL,
			created_at   TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS document_events (
			entity_id TEXT NOT NULL REFERENCES document_entities(id),
			seq       BIGINT NOT NULL,
			kind      TEXT NOT NULL,
			at        TIMESTAMPTZ NOT NULL,
			payload   JSONB NOT NULL,
			PRIMARY KEY (entity_id, seq)
		)`,
		`CREATE TABLE IF NOT EXISTS orchestrator_jobs (
			id             TEXT PRIMARY KEY,
			type           TEXT NOT NULL,
			entity_id      TEXT NOT NULL,
			payload        JSONB,
			status         TEXT NOT NULL,
			attempts       INT NOT NULL DEFAULT 0,
			max_attempts   INT NOT NULL,
			locked_by      TEXT,
			locked_at      TIMESTAMPTZ,
			dedupe_key     TEXT NOT NULL,
			correlation_id TEXT,
			trace_id       TEXT,
			run_at         TIMESTAMPTZ,
			last_error     TEXT,
			created_at     TIMESTAMPTZ NOT NULL,
			updated_at     TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS orchestrator_jobs_due_idx
			ON orchestrator_jobs (status, run_at, created_at)`,
		`DROP INDEX IF EXISTS orchestrator_jobs_dedupe_idx`,
		`CREATE UNIQUE INDEX IF NOT EXISTS orchestrator_jobs_live_dedupe_key
			ON orchestrator_jobs (dedupe_key)
			WHERE status IN ('queued', 'processing', 'retry_scheduled')`,
		`CREATE TABLE IF NOT EXISTS orchestrator_job_runs (
			job_id      TEXT NOT NULL,
			attempt     INT NOT NULL,
			worker_id   TEXT NOT NULL,
			started_at  TIMESTAMPTZ NOT NULL,
			finished_at TIMESTAMPTZ,
			status      TEXT NOT NULL,
			error       TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS orchestrator_job_runs_job_idx
			ON orchestrator_job_runs (job_id, started_at)`,
		`CREATE TABLE IF NOT EXISTS anchors (
			id              TEXT PRIMARY KEY,
			entity_id       TEXT NOT NULL,
			network         TEXT NOT NULL,
			witness_hash    TEXT NOT NULL,
			txid            TEXT,
			status          TEXT NOT NULL,
			attempts        INT NOT NULL DEFAULT 0,
			max_attempts    INT NOT NULL,
			next_attempt_at TIMESTAMPTZ,
			ots_proof       BYTEA,
			calendar_url    TEXT,
			block_number    BIGINT,
			block_hash      TEXT,
			block_time      TIMESTAMPTZ,
			confirmed_at    TIMESTAMPTZ,
			last_error      TEXT,
			created_at      TIMESTAMPTZ NOT NULL,
			updated_at      TIMESTAMPTZ NOT NULL,
			UNIQUE (entity_id, network)
		)`,
		`CREATE INDEX IF NOT EXISTS anchors_poll_idx
			ON anchors (network, status, next_attempt_at)`,
		`CREATE TABLE IF NOT EXISTS workflows (
			id              TEXT PRIMARY KEY,
			owner_id        TEXT NOT NULL,
			entity_id       TEXT NOT NULL,
			status          TEXT NOT NULL,
			forensic_config JSONB NOT NULL,
			created_at      TIMESTAMPTZ NOT NULL,
			updated_at      TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS workflow_signers (
			id            TEXT PRIMARY KEY,
			workflow_id   TEXT NOT NULL REFERENCES workflows(id),
			email         TEXT NOT NULL,
			name          TEXT NOT NULL DEFAULT '',
			signing_order INT NOT NULL,
			status        TEXT NOT NULL,
			updated_at    TIMESTAMPTZ NOT NULL
		)`,
	}

	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

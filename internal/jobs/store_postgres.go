package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"custodia/pkg/platform/sentinel"
)

// PostgresStore is the durable queue. Claim uses FOR UPDATE SKIP LOCKED so
// concurrent workers never lease the same job, and every post-claim update
// re-checks locked_by so a worker that lost its lease aborts instead of
// clobbering the next holder's state.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const jobColumns = `id, type, entity_id, payload, status, attempts, max_attempts,
	locked_by, locked_at, dedupe_key, correlation_id, trace_id, run_at, last_error,
	created_at, updated_at`

func (s *PostgresStore) Enqueue(ctx context.Context, req EnqueueRequest) (*Job, error) {
	dedupeKey := req.EntityID + ":" + string(req.Type)
	maxAttempts := req.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	correlationID := req.CorrelationID
	if correlationID == "" {
		correlationID = req.EntityID
	}
	payload, err := json.Marshal(req.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	// Dedupe against live jobs only; succeeded and dead jobs do not block a
	// fresh enqueue for the same entity and type. The partial unique index
	// orchestrator_jobs_live_dedupe_key arbitrates concurrent enqueues, so two
	// racing inserts collapse to one live row and the loser reads the winner
	// back instead of inserting a duplicate.
	for {
		id := uuid.NewString()
		row := s.db.QueryRowContext(ctx, `
			INSERT INTO orchestrator_jobs
				(id, type, entity_id, payload, status, attempts, max_attempts,
				 dedupe_key, correlation_id, run_at, created_at, updated_at)
			VALUES ($1, $2, $3, $4, 'queued', 0, $5, $6, $7, $8, NOW(), NOW())
			ON CONFLICT (dedupe_key) WHERE status IN ('queued', 'processing', 'retry_scheduled')
				DO NOTHING
			RETURNING `+jobColumns,
			id, req.Type, req.EntityID, payload, maxAttempts, dedupeKey, correlationID, req.RunAt)
		job, err := scanJob(row)
		if err == nil {
			return job, nil
		}
		if err != sql.ErrNoRows {
			return nil, fmt.Errorf("insert job: %w", err)
		}

		row = s.db.QueryRowContext(ctx, `
			SELECT `+jobColumns+`
			FROM orchestrator_jobs
			WHERE dedupe_key = $1
			  AND status IN ('queued', 'processing', 'retry_scheduled')`, dedupeKey)
		existing, err := scanJob(row)
		if err == nil {
			return existing, nil
		}
		if err != sql.ErrNoRows {
			return nil, fmt.Errorf("check dedupe: %w", err)
		}
		// The live holder reached a terminal status between the two statements;
		// insert again.
	}
}

func (s *PostgresStore) Claim(ctx context.Context, workerID string, limit int, leaseTTL time.Duration) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		UPDATE orchestrator_jobs
		SET status = 'processing',
		    attempts = attempts + 1,
		    locked_by = $1,
		    locked_at = NOW(),
		    updated_at = NOW()
		WHERE id IN (
			SELECT id FROM orchestrator_jobs
			WHERE (status = 'queued' AND (run_at IS NULL OR run_at <= NOW()))
			   OR (status = 'retry_scheduled' AND run_at <= NOW())
			   OR (status = 'processing' AND locked_at < NOW() - $3::interval)
			ORDER BY created_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+jobColumns,
		workerID, limit, fmt.Sprintf("%d milliseconds", leaseTTL.Milliseconds()))
	if err != nil {
		return nil, fmt.Errorf("claim jobs: %w", err)
	}
	defer rows.Close()

	var claimed []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan claimed job: %w", err)
		}
		claimed = append(claimed, job)
	}
	return claimed, rows.Err()
}

func (s *PostgresStore) Heartbeat(ctx context.Context, jobID, workerID string) error {
	return s.ownedUpdate(ctx, jobID, workerID, `
		UPDATE orchestrator_jobs
		SET locked_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND locked_by = $2 AND status = 'processing'`)
}

func (s *PostgresStore) StampTrace(ctx context.Context, jobID, workerID, traceID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE orchestrator_jobs
		SET trace_id = $3, updated_at = NOW()
		WHERE id = $1 AND locked_by = $2 AND status = 'processing'`,
		jobID, workerID, traceID)
	if err != nil {
		return fmt.Errorf("stamp trace: %w", err)
	}
	return ownershipResult(result)
}

func (s *PostgresStore) Complete(ctx context.Context, jobID, workerID string) error {
	return s.ownedUpdate(ctx, jobID, workerID, `
		UPDATE orchestrator_jobs
		SET status = 'succeeded', locked_by = NULL, locked_at = NULL, updated_at = NOW()
		WHERE id = $1 AND locked_by = $2 AND status = 'processing'`)
}

func (s *PostgresStore) Fail(ctx context.Context, jobID, workerID, errMsg string, dead bool, retryAt time.Time) error {
	var result sql.Result
	var err error
	if dead {
		result, err = s.db.ExecContext(ctx, `
			UPDATE orchestrator_jobs
			SET status = 'dead', last_error = $3, locked_by = NULL, locked_at = NULL,
			    run_at = NULL, updated_at = NOW()
			WHERE id = $1 AND locked_by = $2 AND status = 'processing'`,
			jobID, workerID, errMsg)
	} else {
		result, err = s.db.ExecContext(ctx, `
			UPDATE orchestrator_jobs
			SET status = 'retry_scheduled', last_error = $3, locked_by = NULL,
			    locked_at = NULL, run_at = $4, updated_at = NOW()
			WHERE id = $1 AND locked_by = $2 AND status = 'processing'`,
			jobID, workerID, errMsg, retryAt)
	}
	if err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	return ownershipResult(result)
}

func (s *PostgresStore) Retry(ctx context.Context, jobID string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE orchestrator_jobs
		SET status = 'queued', attempts = 0, last_error = '', run_at = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'dead'
		RETURNING `+jobColumns, jobID)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		// Distinguish missing from non-dead for the caller's error code.
		var exists bool
		if checkErr := s.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM orchestrator_jobs WHERE id = $1)`, jobID).Scan(&exists); checkErr != nil {
			return nil, fmt.Errorf("check job: %w", checkErr)
		}
		if !exists {
			return nil, sentinel.ErrNotFound
		}
		return nil, sentinel.ErrInvalidState
	}
	if err != nil {
		return nil, fmt.Errorf("retry job: %w", err)
	}
	return job, nil
}

func (s *PostgresStore) ListDead(ctx context.Context, limit int) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+jobColumns+`
		FROM orchestrator_jobs
		WHERE status = 'dead'
		ORDER BY updated_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list dead jobs: %w", err)
	}
	defer rows.Close()

	var dead []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan dead job: %w", err)
		}
		dead = append(dead, job)
	}
	return dead, rows.Err()
}

func (s *PostgresStore) Get(ctx context.Context, jobID string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+jobColumns+`
		FROM orchestrator_jobs
		WHERE id = $1`, jobID)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

func (s *PostgresStore) RecordRun(ctx context.Context, run Run) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO orchestrator_job_runs
			(job_id, attempt, worker_id, started_at, finished_at, status, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		run.JobID, run.Attempt, run.WorkerID, run.StartedAt, run.FinishedAt, run.Status, run.Error)
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, jobID string) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT job_id, attempt, worker_id, started_at, finished_at, status, error
		FROM orchestrator_job_runs
		WHERE job_id = $1
		ORDER BY started_at`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var run Run
		var finishedAt sql.NullTime
		var errMsg sql.NullString
		if err := rows.Scan(&run.JobID, &run.Attempt, &run.WorkerID, &run.StartedAt,
			&finishedAt, &run.Status, &errMsg); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if finishedAt.Valid {
			run.FinishedAt = &finishedAt.Time
		}
		run.Error = errMsg.String
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (s *PostgresStore) ownedUpdate(ctx context.Context, jobID, workerID, query string) error {
	result, err := s.db.ExecContext(ctx, query, jobID, workerID)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	return ownershipResult(result)
}

// ownershipResult maps a zero-row update on a locked_by-conditioned query to
// a lost lease.
func ownershipResult(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrOwnershipLost
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var job Job
	var payload []byte
	var lockedBy, traceID, lastError, correlationID sql.NullString
	var lockedAt, runAt sql.NullTime
	err := row.Scan(&job.ID, &job.Type, &job.EntityID, &payload, &job.Status,
		&job.Attempts, &job.MaxAttempts, &lockedBy, &lockedAt, &job.DedupeKey,
		&correlationID, &traceID, &runAt, &lastError, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &job.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal payload: %w", err)
		}
	}
	job.LockedBy = lockedBy.String
	job.CorrelationID = correlationID.String
	job.TraceID = traceID.String
	job.LastError = lastError.String
	if lockedAt.Valid {
		job.LockedAt = &lockedAt.Time
	}
	if runAt.Valid {
		job.RunAt = &runAt.Time
	}
	return &job, nil
}

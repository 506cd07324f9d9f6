package jobs

import (
	"context"
	"time"
)

// EnqueueRequest describes a job to enqueue. DedupeKey is derived by the
// store as entityID:type when left empty.
type EnqueueRequest struct {
	Type          Type
	EntityID      string
	Payload       map[string]string
	MaxAttempts   int
	CorrelationID string
	RunAt         *time.Time
}

// Store is the queue contract. Claim hands out leases; every post-claim
// transition is conditioned on the caller still holding the lease and
// returns sentinel.ErrOwnershipLost when it does not.
type Store interface {
	// Enqueue inserts a job unless a live job with the same dedupe key
	// already exists, in which case the existing job is returned unchanged.
	Enqueue(ctx context.Context, req EnqueueRequest) (*Job, error)

	// Claim atomically leases up to limit due jobs for workerID. A job is
	// due when queued, retry_scheduled with run_at elapsed, or processing
	// with an expired lease. Claimed jobs move to processing with attempts
	// incremented.
	Claim(ctx context.Context, workerID string, limit int, leaseTTL time.Duration) ([]*Job, error)

	// Heartbeat extends the lease on a processing job.
	Heartbeat(ctx context.Context, jobID, workerID string) error

	// StampTrace records the trace id for the current attempt.
	StampTrace(ctx context.Context, jobID, workerID, traceID string) error

	// Complete marks a processing job succeeded.
	Complete(ctx context.Context, jobID, workerID string) error

	// Fail records a failed attempt. Terminal or exhausted jobs go dead;
	// otherwise the job is rescheduled at the supplied time.
	Fail(ctx context.Context, jobID, workerID, errMsg string, dead bool, retryAt time.Time) error

	// Retry requeues a dead job with a reset attempt budget.
	Retry(ctx context.Context, jobID string) (*Job, error)

	// ListDead returns dead-lettered jobs, newest first.
	ListDead(ctx context.Context, limit int) ([]*Job, error)

	// Get returns a job by id.
	Get(ctx context.Context, jobID string) (*Job, error)

	// RecordRun appends one execution-run audit record.
	RecordRun(ctx context.Context, run Run) error

	// ListRuns returns the run history for a job, oldest first.
	ListRuns(ctx context.Context, jobID string) ([]Run, error)
}

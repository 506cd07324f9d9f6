// Package jobs is the durable work queue behind the orchestrator: leased
// claims, heartbeat-extendable ownership, retry backoff, and dead-lettering.
package jobs

import "time"

// Type enumerates the background jobs the pipeline can require.
type Type string

const (
	TypeRunTSA              Type = "run_tsa"
	TypeSubmitAnchorPolygon Type = "submit_anchor_polygon"
	TypeSubmitAnchorBitcoin Type = "submit_anchor_bitcoin"
	TypeBuildArtifact       Type = "build_artifact"
)

// Status is the job lifecycle enum.
type Status string

const (
	StatusQueued         Status = "queued"
	StatusProcessing     Status = "processing"
	StatusRetryScheduled Status = "retry_scheduled"
	StatusSucceeded      Status = "succeeded"
	StatusDead           Status = "dead"
)

// Job is one logical unit of background work. Jobs are archived, never
// deleted, so the run history stays auditable.
type Job struct {
	ID            string
	Type          Type
	EntityID      string
	Payload       map[string]string
	Status        Status
	Attempts      int
	MaxAttempts   int
	LockedBy      string
	LockedAt      *time.Time
	DedupeKey     string
	CorrelationID string
	TraceID       string
	RunAt         *time.Time
	LastError     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Run is the append-only audit record of one execution attempt.
type Run struct {
	JobID      string
	Attempt    int
	WorkerID   string
	StartedAt  time.Time
	FinishedAt *time.Time
	Status     RunStatus
	Error      string
}

// RunStatus marks the outcome of one attempt.
type RunStatus string

const (
	RunStarted   RunStatus = "started"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// DefaultMaxAttempts applies when an enqueue request does not override it.
const DefaultMaxAttempts = 10

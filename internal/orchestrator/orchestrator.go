// Package orchestrator drives the job queue: claims batches, dispatches to
// per-type handlers, heartbeats long jobs, and applies the retry policy.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"custodia/internal/jobs"
	"custodia/internal/jobs/metrics"
	"custodia/pkg/requestcontext"
)

// Handler executes one job attempt.
type Handler func(ctx context.Context, job *jobs.Job) error

// Options tunes the worker pool.
type Options struct {
	PoolSize          int
	ClaimBatch        int
	LeaseTTL          time.Duration
	HeartbeatInterval time.Duration
}

// Orchestrator owns one worker identity and a handler registry.
type Orchestrator struct {
	store    jobs.Store
	handlers map[jobs.Type]Handler
	logger   *slog.Logger
	opts     Options
	workerID string
}

func New(store jobs.Store, handlers map[jobs.Type]Handler, opts Options, logger *slog.Logger) *Orchestrator {
	if opts.PoolSize <= 0 {
		opts.PoolSize = 4
	}
	if opts.ClaimBatch <= 0 {
		opts.ClaimBatch = 10
	}
	if opts.LeaseTTL <= 0 {
		opts.LeaseTTL = 2 * time.Minute
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 15 * time.Second
	}
	return &Orchestrator{
		store:    store,
		handlers: handlers,
		logger:   logger,
		opts:     opts,
		workerID: "worker-" + uuid.NewString()[:8],
	}
}

// Summary reports one poll batch.
type Summary struct {
	Claimed   int `json:"claimed"`
	Succeeded int `json:"succeeded"`
	Retried   int `json:"retried"`
	Dead      int `json:"dead"`
}

// RunOnce claims one batch and processes it on the pool.
func (o *Orchestrator) RunOnce(ctx context.Context) (Summary, error) {
	var summary Summary

	claimed, err := o.store.Claim(ctx, o.workerID, o.opts.ClaimBatch, o.opts.LeaseTTL)
	if err != nil {
		return summary, fmt.Errorf("claim batch: %w", err)
	}
	summary.Claimed = len(claimed)
	if len(claimed) == 0 {
		return summary, nil
	}

	results := make([]jobOutcome, len(claimed))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.PoolSize)
	for i, job := range claimed {
		g.Go(func() error {
			metrics.JobsClaimed.WithLabelValues(string(job.Type)).Inc()
			results[i] = o.processJob(gctx, job)
			return nil
		})
	}
	_ = g.Wait()

	for _, outcome := range results {
		switch outcome {
		case outcomeSucceeded:
			summary.Succeeded++
		case outcomeRetried:
			summary.Retried++
		case outcomeDead:
			summary.Dead++
		}
	}
	return summary, nil
}

type jobOutcome int

const (
	outcomeAborted jobOutcome = iota
	outcomeSucceeded
	outcomeRetried
	outcomeDead
)

func (o *Orchestrator) processJob(ctx context.Context, job *jobs.Job) jobOutcome {
	traceID := fmt.Sprintf("%s/%s/%d", o.workerID, job.ID, job.Attempts)
	correlationID := job.CorrelationID
	if correlationID == "" {
		correlationID = job.EntityID
	}
	ctx = requestcontext.WithWorkerID(ctx, o.workerID)
	ctx = requestcontext.WithTraceID(ctx, traceID)
	ctx = requestcontext.WithCorrelationID(ctx, correlationID)

	logger := o.logger.With(
		"job_id", job.ID,
		"job_type", job.Type,
		"entity_id", job.EntityID,
		"attempt", job.Attempts,
		"trace_id", traceID,
		"correlation_id", correlationID)

	traceStamped := true
	if err := o.store.StampTrace(ctx, job.ID, o.workerID, traceID); err != nil {
		// A lost lease here means another worker already took over.
		logger.Warn("trace stamp failed", "error", err)
		traceStamped = false
	}

	started := time.Now().UTC()
	if err := o.store.RecordRun(ctx, jobs.Run{
		JobID:     job.ID,
		Attempt:   job.Attempts,
		WorkerID:  o.workerID,
		StartedAt: started,
		Status:    jobs.RunStarted,
	}); err != nil {
		logger.Warn("run record failed", "error", err)
	}

	handler, ok := o.handlers[job.Type]
	var execErr error
	if !ok {
		execErr = fmt.Errorf("no handler registered for job type %s", job.Type)
	} else {
		execErr = o.executeWithHeartbeat(ctx, job, handler)
	}

	finished := time.Now().UTC()
	metrics.JobDuration.WithLabelValues(string(job.Type)).Observe(finished.Sub(started).Seconds())

	if execErr == nil {
		return o.succeed(ctx, job, logger, started, finished, traceStamped)
	}
	return o.fail(ctx, job, logger, started, finished, execErr)
}

// executeWithHeartbeat runs the handler while extending the lease every
// heartbeat interval. A failed heartbeat cancels the handler: the lease is
// gone and continuing would race the next claimant.
func (o *Orchestrator) executeWithHeartbeat(ctx context.Context, job *jobs.Job, handler Handler) error {
	hbCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(o.opts.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-done:
				return
			case <-ticker.C:
				if err := o.store.Heartbeat(hbCtx, job.ID, o.workerID); err != nil {
					metrics.OwnershipLost.WithLabelValues(string(job.Type)).Inc()
					cancel()
					return
				}
			}
		}
	}()

	err := handler(hbCtx, job)
	close(done)
	return err
}

func (o *Orchestrator) succeed(ctx context.Context, job *jobs.Job, logger *slog.Logger,
	started, finished time.Time, traceStamped bool) jobOutcome {
	if err := o.store.Complete(ctx, job.ID, o.workerID); err != nil {
		// The work itself may have been applied; downstream appends are
		// idempotent, so the duplicate attempt after reclaim is harmless.
		logger.Warn("complete failed, ownership lost", "error", err)
		metrics.OwnershipLost.WithLabelValues(string(job.Type)).Inc()
		return outcomeAborted
	}
	if !traceStamped {
		// Gradual enforcement: flagged, not blocked.
		logger.Warn("policy violation: job succeeded without stamped trace id")
	}
	if err := o.store.RecordRun(ctx, jobs.Run{
		JobID:      job.ID,
		Attempt:    job.Attempts,
		WorkerID:   o.workerID,
		StartedAt:  started,
		FinishedAt: &finished,
		Status:     jobs.RunSucceeded,
	}); err != nil {
		logger.Warn("run record failed", "error", err)
	}
	metrics.JobAttempts.WithLabelValues(string(job.Type), "succeeded").Inc()
	logger.Info("job succeeded", "duration", finished.Sub(started))
	return outcomeSucceeded
}

func (o *Orchestrator) fail(ctx context.Context, job *jobs.Job, logger *slog.Logger,
	started, finished time.Time, execErr error) jobOutcome {
	if err := o.store.RecordRun(ctx, jobs.Run{
		JobID:      job.ID,
		Attempt:    job.Attempts,
		WorkerID:   o.workerID,
		StartedAt:  started,
		FinishedAt: &finished,
		Status:     jobs.RunFailed,
		Error:      execErr.Error(),
	}); err != nil {
		logger.Warn("run record failed", "error", err)
	}

	dead := job.Attempts >= job.MaxAttempts || jobs.IsTerminal(job.Type, execErr.Error())
	retryAt := time.Now().UTC().Add(jobs.Backoff(job.Type, job.Attempts))
	if err := o.store.Fail(ctx, job.ID, o.workerID, execErr.Error(), dead, retryAt); err != nil {
		logger.Warn("fail transition lost ownership", "error", err)
		metrics.OwnershipLost.WithLabelValues(string(job.Type)).Inc()
		return outcomeAborted
	}

	if dead {
		metrics.JobAttempts.WithLabelValues(string(job.Type), "dead").Inc()
		metrics.JobsDead.WithLabelValues(string(job.Type)).Inc()
		logger.Error("job dead lettered", "error", execErr, "attempts", job.Attempts)
		return outcomeDead
	}
	metrics.JobAttempts.WithLabelValues(string(job.Type), "retried").Inc()
	logger.Warn("job failed, retry scheduled", "error", execErr, "retry_at", retryAt)
	return outcomeRetried
}

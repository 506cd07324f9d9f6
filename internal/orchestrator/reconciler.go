package orchestrator

import (
	"context"
	"log/slog"

	"custodia/internal/decision"
	"custodia/internal/document"
	"custodia/internal/jobs"
	"custodia/internal/jobs/metrics"
	"custodia/pkg/requestcontext"
)

// EventReader is the slice of the document service the reconciler needs.
type EventReader interface {
	Read(ctx context.Context, entityID string) ([]document.Event, error)
}

// Reconciler closes the loop between the event log and the queue: after any
// append it recomputes the required job set and enqueues what is missing.
// Dedupe keys make repeated reconciliation idempotent.
type Reconciler struct {
	documents EventReader
	queue     jobs.Store
	logger    *slog.Logger
}

func NewReconciler(documents EventReader, queue jobs.Store, logger *slog.Logger) *Reconciler {
	return &Reconciler{documents: documents, queue: queue, logger: logger}
}

// Reconcile re-runs the decision for one entity and enqueues missing jobs.
func (r *Reconciler) Reconcile(ctx context.Context, entityID string) (decision.Decision, error) {
	events, err := r.documents.Read(ctx, entityID)
	if err != nil {
		return decision.Decision{}, err
	}

	protections := requiredProtections(events)
	result := decision.Decide(events, protections)

	for _, jobType := range result.Jobs {
		job, err := r.queue.Enqueue(ctx, jobs.EnqueueRequest{
			Type:          jobType,
			EntityID:      entityID,
			CorrelationID: requestcontext.CorrelationID(ctx),
		})
		if err != nil {
			return result, err
		}
		metrics.JobsEnqueued.WithLabelValues(string(jobType)).Inc()
		r.logger.Info("reconcile enqueued job",
			"entity_id", entityID,
			"job_id", job.ID,
			"job_type", jobType,
			"reason", result.Reason)
	}
	if len(result.Jobs) == 0 {
		r.logger.Debug("reconcile: nothing to enqueue",
			"entity_id", entityID,
			"reason", result.Reason)
	}
	return result, nil
}

// requiredProtections reads the desired evidence set from the protection
// request event. Absent request means nothing is required; Decide handles
// that case explicitly.
func requiredProtections(events []document.Event) decision.Protections {
	for _, e := range events {
		if e.Kind == document.KindProtectedRequested && e.Protection != nil {
			return decision.ProtectionsFromEvidence(e.Protection.RequiredEvidence)
		}
	}
	return decision.Protections{}
}

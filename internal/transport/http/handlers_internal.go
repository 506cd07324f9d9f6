package httptransport

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"custodia/internal/document"
	dErrors "custodia/pkg/domain-errors"
	"custodia/pkg/platform/httputil"
	"custodia/pkg/platform/sentinel"
)

// handleOrchestratorPoll claims and processes one job batch.
func (h *Handler) handleOrchestratorPoll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	summary, err := h.runner.RunOnce(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "orchestrator poll failed", "error", err)
		httputil.WriteError(w, dErrors.Wrap(dErrors.CodeInternal, "orchestrator poll", err))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, summary)
}

// handleAnchorPoll runs one poller pass for the named network, guarded by
// the per-network poll lock.
func (h *Handler) handleAnchorPoll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	network, err := document.ParseNetwork(chi.URLParam(r, "network"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	release, acquired := h.pollLock.Acquire(ctx, network)
	if !acquired {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "skipped", "reason": "poll already running"})
		return
	}
	defer release()

	var summary any
	switch network {
	case document.NetworkPolygon:
		summary, err = h.polygon.Poll(ctx)
	case document.NetworkBitcoin:
		summary, err = h.bitcoin.Poll(ctx)
	}
	if err != nil {
		h.logger.ErrorContext(ctx, "anchor poll failed", "network", network, "error", err)
		httputil.WriteError(w, dErrors.Wrap(dErrors.CodeInternal, "anchor poll", err))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, summary)
}

// handleRetryJob requeues a dead job.
func (h *Handler) handleRetryJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	jobID := chi.URLParam(r, "id")

	job, err := h.queue.Retry(ctx, jobID)
	if err != nil {
		switch {
		case errors.Is(err, sentinel.ErrNotFound):
			httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "job not found"))
		case errors.Is(err, sentinel.ErrInvalidState):
			httputil.WriteError(w, dErrors.New(dErrors.CodeConflict, "only dead jobs can be retried"))
		default:
			httputil.WriteError(w, dErrors.Wrap(dErrors.CodeInternal, "retry job", err))
		}
		return
	}

	h.logger.InfoContext(ctx, "dead job requeued", "job_id", job.ID, "job_type", job.Type)
	httputil.WriteJSON(w, http.StatusOK, map[string]string{
		"job_id": job.ID,
		"status": string(job.Status),
	})
}

type deadJobResponse struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	EntityID  string `json:"entity_id"`
	Attempts  int    `json:"attempts"`
	LastError string `json:"last_error"`
	UpdatedAt string `json:"updated_at"`
}

// handleDeadJobs lists the dead letter queue.
func (h *Handler) handleDeadJobs(w http.ResponseWriter, r *http.Request) {
	dead, err := h.queue.ListDead(r.Context(), 100)
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(dErrors.CodeInternal, "list dead jobs", err))
		return
	}
	out := make([]deadJobResponse, 0, len(dead))
	for _, job := range dead {
		out = append(out, deadJobResponse{
			ID:        job.ID,
			Type:      string(job.Type),
			EntityID:  job.EntityID,
			Attempts:  job.Attempts,
			LastError: job.LastError,
			UpdatedAt: job.UpdatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"jobs": out})
}

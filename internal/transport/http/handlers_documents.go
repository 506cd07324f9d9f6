package httptransport

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"custodia/internal/document"
	dErrors "custodia/pkg/domain-errors"
	"custodia/pkg/platform/httputil"
	"custodia/pkg/requestcontext"
)

type protectRequest struct {
	WitnessHash      string   `json:"witness_hash"`
	RequiredEvidence []string `json:"required_evidence"`
}

type protectResponse struct {
	EntityID        string   `json:"entity_id"`
	ProtectionLevel string   `json:"protection_level"`
	Reason          string   `json:"reason"`
	EnqueuedJobs    []string `json:"enqueued_jobs"`
}

// handleProtect registers a protection request for a document and kicks the
// pipeline. Idempotent: re-protecting an already requested document only
// re-reconciles.
func (h *Handler) handleProtect(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	entityID := chi.URLParam(r, "id")

	req, ok := httputil.Decode[protectRequest](w, r, h.logger)
	if !ok {
		return
	}
	if req.WitnessHash == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "witness_hash is required"))
		return
	}

	if err := h.documents.CreateEntity(ctx, document.Entity{
		ID:          entityID,
		WitnessHash: req.WitnessHash,
	}); err != nil && !dErrors.HasCode(err, dErrors.CodeConflict) {
		httputil.WriteError(w, err)
		return
	}

	entity, err := h.documents.GetEntity(ctx, entityID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if entity.WitnessHash != req.WitnessHash {
		httputil.WriteError(w, dErrors.New(dErrors.CodeConflict, "witness_hash does not match existing document"))
		return
	}

	if !document.HasKind(entity.Events, document.KindProtectedRequested) {
		if err := h.documents.Append(ctx, entityID, document.Event{
			Kind:       document.KindProtectedRequested,
			At:         time.Now().UTC(),
			Protection: &document.ProtectionRequested{RequiredEvidence: req.RequiredEvidence},
		}); err != nil {
			httputil.WriteError(w, err)
			return
		}
	}

	ctx = requestcontext.WithCorrelationID(ctx, entityID)
	result, err := h.reconciler.Reconcile(ctx, entityID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	events, err := h.documents.GetEntity(ctx, entityID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	jobNames := make([]string, 0, len(result.Jobs))
	for _, jobType := range result.Jobs {
		jobNames = append(jobNames, string(jobType))
	}
	h.logger.InfoContext(ctx, "protection requested",
		"entity_id", entityID,
		"reason", result.Reason,
		"enqueued", jobNames)
	httputil.WriteJSON(w, http.StatusAccepted, protectResponse{
		EntityID:        entityID,
		ProtectionLevel: document.DeriveProtectionLevel(events.Events).String(),
		Reason:          string(result.Reason),
		EnqueuedJobs:    jobNames,
	})
}

type documentResponse struct {
	EntityID        string           `json:"entity_id"`
	WitnessHash     string           `json:"witness_hash"`
	ProtectionLevel string           `json:"protection_level"`
	Events          []document.Event `json:"events"`
}

func (h *Handler) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	entityID := chi.URLParam(r, "id")

	entity, err := h.documents.GetEntity(r.Context(), entityID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, documentResponse{
		EntityID:        entity.ID,
		WitnessHash:     entity.WitnessHash,
		ProtectionLevel: document.DeriveProtectionLevel(entity.Events).String(),
		Events:          entity.Events,
	})
}

type appendAnchorRequest struct {
	Network     string     `json:"network"`
	WitnessHash string     `json:"witness_hash"`
	TxID        string     `json:"txid"`
	BlockHeight *int64     `json:"block_height,omitempty"`
	ConfirmedAt *time.Time `json:"confirmed_at,omitempty"`
}

// handleAppendAnchor records an externally confirmed anchor. Validation is
// synchronous: invalid network, witness mismatch, and txid conflicts are
// rejected before anything is stored.
func (h *Handler) handleAppendAnchor(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	entityID := chi.URLParam(r, "id")

	req, ok := httputil.Decode[appendAnchorRequest](w, r, h.logger)
	if !ok {
		return
	}
	network, err := document.ParseNetwork(req.Network)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	confirmedAt := time.Now().UTC()
	if req.ConfirmedAt != nil {
		confirmedAt = req.ConfirmedAt.UTC()
	}

	if err := h.documents.AppendAnchor(ctx, entityID, document.AnchorConfirmation{
		Network:     network,
		WitnessHash: req.WitnessHash,
		TxID:        req.TxID,
		BlockHeight: req.BlockHeight,
		ConfirmedAt: confirmedAt,
	}); err != nil {
		httputil.WriteError(w, err)
		return
	}

	ctx = requestcontext.WithCorrelationID(ctx, entityID)
	if _, err := h.reconciler.Reconcile(ctx, entityID); err != nil {
		// The anchor is recorded; reconciliation catches up on the next poll.
		h.logger.WarnContext(ctx, "post-anchor reconcile failed",
			"entity_id", entityID, "error", err)
	}
	w.WriteHeader(http.StatusNoContent)
}

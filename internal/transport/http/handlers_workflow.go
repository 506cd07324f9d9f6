package httptransport

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"custodia/internal/workflow"
	dErrors "custodia/pkg/domain-errors"
	"custodia/pkg/platform/httputil"
	"custodia/pkg/requestcontext"
)

type startWorkflowRequest struct {
	DocumentHash     string                   `json:"document_hash"`
	DocumentURL      string                   `json:"document_url"`
	OriginalFilename string                   `json:"original_filename"`
	Signers          []startSignerRequest     `json:"signers"`
	ForensicConfig   *workflow.ForensicConfig `json:"forensic_config"`
	DeliveryMode     string                   `json:"delivery_mode"`
}

type startSignerRequest struct {
	Email        string `json:"email"`
	SigningOrder int    `json:"signing_order"`
}

type startWorkflowResponse struct {
	WorkflowID string `json:"workflow_id"`
	EntityID   string `json:"entity_id"`
	Status     string `json:"status"`
}

func (h *Handler) handleStartWorkflow(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor := requestcontext.ActorID(ctx)
	if actor == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return
	}

	req, ok := httputil.Decode[startWorkflowRequest](w, r, h.logger)
	if !ok {
		return
	}
	signers := make([]workflow.StartSigner, 0, len(req.Signers))
	for _, s := range req.Signers {
		signers = append(signers, workflow.StartSigner{Email: s.Email, SigningOrder: s.SigningOrder})
	}

	wf, err := h.workflows.Start(ctx, actor, workflow.StartRequest{
		DocumentHash:     req.DocumentHash,
		DocumentURL:      req.DocumentURL,
		OriginalFilename: req.OriginalFilename,
		Signers:          signers,
		ForensicConfig:   req.ForensicConfig,
		DeliveryMode:     workflow.DeliveryMode(req.DeliveryMode),
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	ctx = requestcontext.WithCorrelationID(ctx, wf.EntityID)
	if _, err := h.reconciler.Reconcile(ctx, wf.EntityID); err != nil {
		h.logger.WarnContext(ctx, "post-start reconcile failed",
			"workflow_id", wf.ID, "entity_id", wf.EntityID, "error", err)
	}

	httputil.WriteJSON(w, http.StatusCreated, startWorkflowResponse{
		WorkflowID: wf.ID,
		EntityID:   wf.EntityID,
		Status:     string(wf.Status),
	})
}

func (h *Handler) handleCancelWorkflow(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.workflows.Cancel(ctx, requestcontext.ActorID(ctx), chi.URLParam(r, "id")); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type rejectSignerRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) handleRejectSigner(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.Decode[rejectSignerRequest](w, r, h.logger)
	if !ok {
		return
	}
	err := h.workflows.RejectSigner(ctx, requestcontext.ActorID(ctx),
		chi.URLParam(r, "id"), chi.URLParam(r, "signerID"), req.Reason)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type confirmIdentityRequest struct {
	FirstName          string `json:"first_name"`
	LastName           string `json:"last_name"`
	ConfirmedRecipient bool   `json:"confirmed_recipient"`
	AcceptedLogging    bool   `json:"accepted_logging"`
}

func (h *Handler) handleConfirmIdentity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.Decode[confirmIdentityRequest](w, r, h.logger)
	if !ok {
		return
	}
	err := h.workflows.ConfirmIdentity(ctx, chi.URLParam(r, "id"), chi.URLParam(r, "signerID"),
		workflow.IdentityConfirmation{
			FirstName:          req.FirstName,
			LastName:           req.LastName,
			ConfirmedRecipient: req.ConfirmedRecipient,
			AcceptedLogging:    req.AcceptedLogging,
		})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleMarkSigned(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.workflows.MarkSigned(ctx, chi.URLParam(r, "id"), chi.URLParam(r, "signerID")); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

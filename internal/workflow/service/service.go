// Package service applies the workflow transition guards and records each
// successful mutation as a canonical document event.
package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"custodia/internal/decision"
	"custodia/internal/document"
	"custodia/internal/workflow"
	dErrors "custodia/pkg/domain-errors"
	"custodia/pkg/platform/sentinel"
)

// EventAppender is the slice of the document service the workflow layer uses.
type EventAppender interface {
	CreateEntity(ctx context.Context, entity document.Entity) error
	Append(ctx context.Context, entityID string, event document.Event) error
}

// Notifier receives the completed-workflow fact. Delivery is out of scope;
// implementations enqueue or log, never block.
type Notifier interface {
	WorkflowCompleted(ctx context.Context, wf *workflow.Workflow)
}

// Service owns workflow mutations. Every public method checks its guard
// before touching the store; guard refusal maps to forbidden or bad request.
type Service struct {
	store     workflow.Store
	documents EventAppender
	notifier  Notifier
	logger    *slog.Logger
}

func New(store workflow.Store, documents EventAppender, notifier Notifier, logger *slog.Logger) *Service {
	if notifier == nil {
		notifier = logNotifier{logger: logger}
	}
	return &Service{store: store, documents: documents, notifier: notifier, logger: logger}
}

// Start validates the payload, creates the workflow with its signers and the
// document aggregate, and records the protection request.
func (s *Service) Start(ctx context.Context, ownerID string, req workflow.StartRequest) (*workflow.Workflow, error) {
	if ownerID == "" {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	if !decision.CanStartWorkflow(req) {
		return nil, dErrors.New(dErrors.CodeBadRequest, "invalid workflow start payload")
	}

	entityID := uuid.NewString()
	wf := &workflow.Workflow{
		ID:             uuid.NewString(),
		OwnerID:        ownerID,
		EntityID:       entityID,
		Status:         workflow.StatusReady,
		ForensicConfig: *req.ForensicConfig,
		CreatedAt:      time.Now().UTC(),
	}
	signers := make([]*workflow.Signer, 0, len(req.Signers))
	for _, sr := range req.Signers {
		signers = append(signers, &workflow.Signer{
			ID:           uuid.NewString(),
			WorkflowID:   wf.ID,
			Email:        strings.ToLower(strings.TrimSpace(sr.Email)),
			SigningOrder: sr.SigningOrder,
			Status:       workflow.SignerStatusPending,
		})
	}

	if err := s.documents.CreateEntity(ctx, document.Entity{
		ID:          entityID,
		WitnessHash: req.DocumentHash,
	}); err != nil {
		return nil, err
	}
	if err := s.store.CreateWorkflow(ctx, wf, signers); err != nil {
		return nil, dErrors.Wrap(dErrors.CodeInternal, "create workflow", err)
	}

	if err := s.documents.Append(ctx, entityID, document.Event{
		Kind: document.KindProtectedRequested,
		At:   time.Now().UTC(),
		Protection: &document.ProtectionRequested{
			RequiredEvidence: requiredEvidence(*req.ForensicConfig),
		},
	}); err != nil {
		return nil, err
	}

	s.logger.Info("workflow started",
		"workflow_id", wf.ID,
		"entity_id", entityID,
		"owner_id", ownerID,
		"signers", len(signers))
	return wf, nil
}

// Cancel moves a workflow to cancelled when the owner asks while it is still
// live, and records the fact.
func (s *Service) Cancel(ctx context.Context, actorID, workflowID string) error {
	wf, err := s.getWorkflow(ctx, workflowID)
	if err != nil {
		return err
	}
	if !decision.CanCancelWorkflow(actorID, wf) {
		return dErrors.New(dErrors.CodeForbidden, "forbidden")
	}

	previous, err := s.store.UpdateWorkflowStatus(ctx, workflowID, workflow.StatusCancelled)
	if err != nil {
		return dErrors.Wrap(dErrors.CodeInternal, "cancel workflow", err)
	}

	return s.documents.Append(ctx, wf.EntityID, document.Event{
		Kind: document.KindWorkflowCancelled,
		At:   time.Now().UTC(),
		Workflow: &document.WorkflowFact{
			WorkflowID:     wf.ID,
			ActorID:        actorID,
			PreviousStatus: string(previous),
		},
	})
}

// RejectSigner records a signer's refusal.
func (s *Service) RejectSigner(ctx context.Context, actor, workflowID, signerID, reason string) error {
	wf, err := s.getWorkflow(ctx, workflowID)
	if err != nil {
		return err
	}
	signer, err := s.getSigner(ctx, workflowID, signerID)
	if err != nil {
		return err
	}
	if !decision.CanRejectSigner(actor, signer, wf) {
		return dErrors.New(dErrors.CodeForbidden, "forbidden")
	}

	previous := signer.Status
	signer.Status = workflow.SignerStatusRejected
	if err := s.store.UpdateSigner(ctx, signer); err != nil {
		return dErrors.Wrap(dErrors.CodeInternal, "update signer", err)
	}

	return s.documents.Append(ctx, wf.EntityID, document.Event{
		Kind: document.KindSignerRejected,
		At:   time.Now().UTC(),
		Workflow: &document.WorkflowFact{
			WorkflowID:     wf.ID,
			SignerID:       signer.ID,
			ActorID:        actor,
			PreviousStatus: string(previous),
			Reason:         reason,
		},
	})
}

// ConfirmIdentity sets the signer's confirmed name. Idempotent through the
// guard: a name already set refuses the second confirmation.
func (s *Service) ConfirmIdentity(ctx context.Context, workflowID, signerID string, input workflow.IdentityConfirmation) error {
	wf, err := s.getWorkflow(ctx, workflowID)
	if err != nil {
		return err
	}
	signer, err := s.getSigner(ctx, workflowID, signerID)
	if err != nil {
		return err
	}
	if !decision.CanConfirmIdentity(input, signer) {
		return dErrors.New(dErrors.CodeBadRequest, "identity confirmation rejected")
	}

	signer.Name = strings.TrimSpace(input.FirstName) + " " + strings.TrimSpace(input.LastName)
	if err := s.store.UpdateSigner(ctx, signer); err != nil {
		return dErrors.Wrap(dErrors.CodeInternal, "update signer", err)
	}

	return s.documents.Append(ctx, wf.EntityID, document.Event{
		Kind: document.KindSignerIdentityConfirmed,
		At:   time.Now().UTC(),
		Workflow: &document.WorkflowFact{
			WorkflowID: wf.ID,
			SignerID:   signer.ID,
		},
	})
}

// MarkSigned records a signature. When the last pending signer signs, the
// workflow completes and the completion notification fires exactly once.
func (s *Service) MarkSigned(ctx context.Context, workflowID, signerID string) error {
	wf, err := s.getWorkflow(ctx, workflowID)
	if err != nil {
		return err
	}
	if workflow.TerminalStatuses[wf.Status] {
		return dErrors.New(dErrors.CodeConflict, "workflow is no longer active")
	}
	signer, err := s.getSigner(ctx, workflowID, signerID)
	if err != nil {
		return err
	}
	if workflow.TerminalSignerStatuses[signer.Status] {
		return dErrors.New(dErrors.CodeConflict, "signer already finalized")
	}

	signer.Status = workflow.SignerStatusSigned
	if err := s.store.UpdateSigner(ctx, signer); err != nil {
		return dErrors.Wrap(dErrors.CodeInternal, "update signer", err)
	}

	signers, err := s.store.ListSigners(ctx, workflowID)
	if err != nil {
		return dErrors.Wrap(dErrors.CodeInternal, "list signers", err)
	}
	for _, sg := range signers {
		if sg.Status != workflow.SignerStatusSigned {
			return nil
		}
	}

	previous, err := s.store.UpdateWorkflowStatus(ctx, workflowID, workflow.StatusCompleted)
	if err != nil {
		return dErrors.Wrap(dErrors.CodeInternal, "complete workflow", err)
	}
	if decision.ShouldNotifyWorkflowCompleted(decision.OperationUpdate, previous, workflow.StatusCompleted) {
		wf.Status = workflow.StatusCompleted
		s.notifier.WorkflowCompleted(ctx, wf)
	}
	return nil
}

func (s *Service) getWorkflow(ctx context.Context, workflowID string) (*workflow.Workflow, error) {
	wf, err := s.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "workflow not found")
		}
		return nil, dErrors.Wrap(dErrors.CodeInternal, "get workflow", err)
	}
	return wf, nil
}

func (s *Service) getSigner(ctx context.Context, workflowID, signerID string) (*workflow.Signer, error) {
	signer, err := s.store.GetSigner(ctx, workflowID, signerID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "signer not found")
		}
		return nil, dErrors.Wrap(dErrors.CodeInternal, "get signer", err)
	}
	return signer, nil
}

// requiredEvidence derives the evidence list from the forensic toggles. TSA
// participation is implied by protection itself; the list names the chains.
func requiredEvidence(cfg workflow.ForensicConfig) []string {
	var evidence []string
	if cfg.RFC3161 {
		evidence = append(evidence, "tsa")
	}
	if cfg.Polygon {
		evidence = append(evidence, string(document.NetworkPolygon))
	}
	if cfg.Bitcoin {
		evidence = append(evidence, string(document.NetworkBitcoin))
	}
	return evidence
}

type logNotifier struct {
	logger *slog.Logger
}

func (n logNotifier) WorkflowCompleted(_ context.Context, wf *workflow.Workflow) {
	n.logger.Info("workflow completed notification",
		"workflow_id", wf.ID,
		"entity_id", wf.EntityID,
		"owner_id", wf.OwnerID)
}

package decision

import (
	"strings"

	"custodia/internal/workflow"
)

// Transition guards. Each guard is a conjunction of independent predicates
// and returns a boolean only; the caller performs the mutation.

// CanCancelWorkflow allows cancellation when the actor is the authenticated
// owner and the workflow has not reached a terminal state.
func CanCancelWorkflow(actorID string, wf *workflow.Workflow) bool {
	if actorID == "" || wf == nil {
		return false
	}
	if wf.OwnerID != actorID {
		return false
	}
	return wf.Status == workflow.StatusReady || wf.Status == workflow.StatusActive
}

// CanRejectSigner allows a rejection when both records exist, neither is in a
// terminal state, and the actor is either the signer or the workflow owner.
func CanRejectSigner(actor string, signer *workflow.Signer, wf *workflow.Workflow) bool {
	if actor == "" || signer == nil || wf == nil {
		return false
	}
	if workflow.TerminalSignerStatuses[signer.Status] {
		return false
	}
	if workflow.TerminalStatuses[wf.Status] {
		return false
	}
	return actor == signer.Email || actor == wf.OwnerID
}

// CanConfirmIdentity allows an identity confirmation when the names are
// non-empty after trimming, both consent flags are set, and the signer is
// neither terminal nor already confirmed (name-already-set makes the
// operation idempotent).
func CanConfirmIdentity(input workflow.IdentityConfirmation, signer *workflow.Signer) bool {
	if signer == nil {
		return false
	}
	if strings.TrimSpace(input.FirstName) == "" || strings.TrimSpace(input.LastName) == "" {
		return false
	}
	if !input.ConfirmedRecipient || !input.AcceptedLogging {
		return false
	}
	if workflow.TerminalSignerStatuses[signer.Status] {
		return false
	}
	return signer.Name == ""
}

// CanStartWorkflow validates a fully-populated start payload: document
// references, at least one signer, a complete forensic config, an optional
// delivery mode within the enum, and a signing order that is exactly 1..N.
func CanStartWorkflow(req workflow.StartRequest) bool {
	if req.DocumentHash == "" || req.DocumentURL == "" || req.OriginalFilename == "" {
		return false
	}
	if len(req.Signers) == 0 {
		return false
	}
	if req.ForensicConfig == nil {
		return false
	}
	switch req.DeliveryMode {
	case "", workflow.DeliveryModeEmail, workflow.DeliveryModeLink:
	default:
		return false
	}
	return signingOrderIsSequential(req.Signers)
}

// signingOrderIsSequential checks that orders form exactly 1..N with no gaps
// or duplicates.
func signingOrderIsSequential(signers []workflow.StartSigner) bool {
	seen := make(map[int]bool, len(signers))
	for _, s := range signers {
		if s.SigningOrder < 1 || s.SigningOrder > len(signers) {
			return false
		}
		if seen[s.SigningOrder] {
			return false
		}
		seen[s.SigningOrder] = true
	}
	return len(seen) == len(signers)
}

// Operation distinguishes inserts from updates for transition notifications.
type Operation string

const (
	OperationInsert Operation = "INSERT"
	OperationUpdate Operation = "UPDATE"
)

// ShouldNotifyWorkflowCompleted returns true exactly once per workflow: on
// the UPDATE that transitions into completed. Re-evaluating a
// completed->completed update returns false, which keeps downstream
// notification enqueues idempotent.
func ShouldNotifyWorkflowCompleted(op Operation, oldStatus, newStatus workflow.Status) bool {
	if op != OperationUpdate {
		return false
	}
	if newStatus != workflow.StatusCompleted {
		return false
	}
	return oldStatus != workflow.StatusCompleted
}

package workflow

import "context"

// Store persists workflows and their signers.
type Store interface {
	// CreateWorkflow inserts a workflow with its signers atomically.
	CreateWorkflow(ctx context.Context, wf *Workflow, signers []*Signer) error

	// GetWorkflow returns a workflow by id, or sentinel.ErrNotFound.
	GetWorkflow(ctx context.Context, workflowID string) (*Workflow, error)

	// UpdateWorkflowStatus transitions a workflow and returns the previous
	// status for notification guards.
	UpdateWorkflowStatus(ctx context.Context, workflowID string, status Status) (Status, error)

	// GetSigner returns one signer of a workflow.
	GetSigner(ctx context.Context, workflowID, signerID string) (*Signer, error)

	// ListSigners returns a workflow's signers ordered by signing order.
	ListSigners(ctx context.Context, workflowID string) ([]*Signer, error)

	// UpdateSigner persists a signer's mutable fields.
	UpdateSigner(ctx context.Context, signer *Signer) error
}

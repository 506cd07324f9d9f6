package decision

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"custodia/internal/workflow"
)

func TestCanCancelWorkflow(t *testing.T) {
	wf := &workflow.Workflow{ID: "wf-1", OwnerID: "owner@example.com", Status: workflow.StatusActive}

	assert.True(t, CanCancelWorkflow("owner@example.com", wf))

	assert.False(t, CanCancelWorkflow("", wf))
	assert.False(t, CanCancelWorkflow("owner@example.com", nil))
	assert.False(t, CanCancelWorkflow("intruder@example.com", wf))

	for _, status := range []workflow.Status{
		workflow.StatusCompleted, workflow.StatusCancelled, workflow.StatusArchived,
	} {
		terminal := *wf
		terminal.Status = status
		assert.False(t, CanCancelWorkflow("owner@example.com", &terminal), "status %s", status)
	}

	ready := *wf
	ready.Status = workflow.StatusReady
	assert.True(t, CanCancelWorkflow("owner@example.com", &ready))
}

func TestCanRejectSigner(t *testing.T) {
	wf := &workflow.Workflow{ID: "wf-1", OwnerID: "owner@example.com", Status: workflow.StatusActive}
	signer := &workflow.Signer{ID: "s-1", Email: "signer@example.com", Status: workflow.SignerStatusPending}

	assert.True(t, CanRejectSigner("signer@example.com", signer, wf))
	assert.True(t, CanRejectSigner("owner@example.com", signer, wf))

	assert.False(t, CanRejectSigner("", signer, wf))
	assert.False(t, CanRejectSigner("third@example.com", signer, wf))
	assert.False(t, CanRejectSigner("signer@example.com", nil, wf))
	assert.False(t, CanRejectSigner("signer@example.com", signer, nil))

	signed := *signer
	signed.Status = workflow.SignerStatusSigned
	assert.False(t, CanRejectSigner("signer@example.com", &signed, wf))

	cancelled := *wf
	cancelled.Status = workflow.StatusCancelled
	assert.False(t, CanRejectSigner("signer@example.com", signer, &cancelled))
}

func TestCanConfirmIdentity(t *testing.T) {
	valid := workflow.IdentityConfirmation{
		FirstName:          "Ada",
		LastName:           "Lovelace",
		ConfirmedRecipient: true,
		AcceptedLogging:    true,
	}
	signer := &workflow.Signer{ID: "s-1", Status: workflow.SignerStatusPending}

	assert.True(t, CanConfirmIdentity(valid, signer))

	assert.False(t, CanConfirmIdentity(valid, nil))

	blankFirst := valid
	blankFirst.FirstName = "   "
	assert.False(t, CanConfirmIdentity(blankFirst, signer))

	blankLast := valid
	blankLast.LastName = ""
	assert.False(t, CanConfirmIdentity(blankLast, signer))

	noConsent := valid
	noConsent.ConfirmedRecipient = false
	assert.False(t, CanConfirmIdentity(noConsent, signer))

	noLogging := valid
	noLogging.AcceptedLogging = false
	assert.False(t, CanConfirmIdentity(noLogging, signer))

	rejected := *signer
	rejected.Status = workflow.SignerStatusRejected
	assert.False(t, CanConfirmIdentity(valid, &rejected))

	confirmed := *signer
	confirmed.Name = "Ada Lovelace"
	assert.False(t, CanConfirmIdentity(valid, &confirmed))
}

func TestCanStartWorkflow(t *testing.T) {
	valid := workflow.StartRequest{
		DocumentHash:     "abc123",
		DocumentURL:      "https://files.example.com/doc.pdf",
		OriginalFilename: "doc.pdf",
		Signers: []workflow.StartSigner{
			{Email: "a@example.com", SigningOrder: 1},
			{Email: "b@example.com", SigningOrder: 2},
		},
		ForensicConfig: &workflow.ForensicConfig{RFC3161: true},
	}

	assert.True(t, CanStartWorkflow(valid))

	missingHash := valid
	missingHash.DocumentHash = ""
	assert.False(t, CanStartWorkflow(missingHash))

	missingURL := valid
	missingURL.DocumentURL = ""
	assert.False(t, CanStartWorkflow(missingURL))

	noSigners := valid
	noSigners.Signers = nil
	assert.False(t, CanStartWorkflow(noSigners))

	noConfig := valid
	noConfig.ForensicConfig = nil
	assert.False(t, CanStartWorkflow(noConfig))

	badMode := valid
	badMode.DeliveryMode = "carrier-pigeon"
	assert.False(t, CanStartWorkflow(badMode))

	emailMode := valid
	emailMode.DeliveryMode = workflow.DeliveryModeEmail
	assert.True(t, CanStartWorkflow(emailMode))
}

func TestSigningOrderMustBeSequential(t *testing.T) {
	base := workflow.StartRequest{
		DocumentHash:     "abc123",
		DocumentURL:      "https://files.example.com/doc.pdf",
		OriginalFilename: "doc.pdf",
		ForensicConfig:   &workflow.ForensicConfig{},
	}

	tests := []struct {
		name   string
		orders []int
		want   bool
	}{
		{"single signer", []int{1}, true},
		{"sequential", []int{1, 2, 3}, true},
		{"any permutation", []int{3, 1, 2}, true},
		{"duplicate order", []int{1, 1}, false},
		{"gap", []int{1, 3}, false},
		{"zero based", []int{0, 1}, false},
		{"above count", []int{1, 5}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := base
			for i, order := range tt.orders {
				req.Signers = append(req.Signers, workflow.StartSigner{
					Email:        string(rune('a'+i)) + "@example.com",
					SigningOrder: order,
				})
			}
			assert.Equal(t, tt.want, CanStartWorkflow(req))
		})
	}
}

func TestShouldNotifyWorkflowCompleted(t *testing.T) {
	assert.True(t, ShouldNotifyWorkflowCompleted(
		OperationUpdate, workflow.StatusActive, workflow.StatusCompleted))

	// Inserts never notify, even when created completed.
	assert.False(t, ShouldNotifyWorkflowCompleted(
		OperationInsert, "", workflow.StatusCompleted))

	// Redundant completed->completed updates stay quiet.
	assert.False(t, ShouldNotifyWorkflowCompleted(
		OperationUpdate, workflow.StatusCompleted, workflow.StatusCompleted))

	assert.False(t, ShouldNotifyWorkflowCompleted(
		OperationUpdate, workflow.StatusActive, workflow.StatusCancelled))
}

package service

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"custodia/internal/document"
	"custodia/internal/workflow"
	dErrors "custodia/pkg/domain-errors"
)

type recordingDocuments struct {
	entities []document.Entity
	appends  []document.Event
}

func (r *recordingDocuments) CreateEntity(_ context.Context, entity document.Entity) error {
	r.entities = append(r.entities, entity)
	return nil
}

func (r *recordingDocuments) Append(_ context.Context, _ string, event document.Event) error {
	r.appends = append(r.appends, event)
	return nil
}

type countingNotifier struct {
	completed []*workflow.Workflow
}

func (n *countingNotifier) WorkflowCompleted(_ context.Context, wf *workflow.Workflow) {
	n.completed = append(n.completed, wf)
}

type ServiceSuite struct {
	suite.Suite

	store     *workflow.InMemoryStore
	documents *recordingDocuments
	notifier  *countingNotifier
	svc       *Service
}

func (s *ServiceSuite) SetupTest() {
	s.store = workflow.NewInMemoryStore()
	s.documents = &recordingDocuments{}
	s.notifier = &countingNotifier{}
	s.svc = New(s.store, s.documents, s.notifier, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func validStartRequest() workflow.StartRequest {
	return workflow.StartRequest{
		DocumentHash:     "hash-a",
		DocumentURL:      "https://files.example.com/doc.pdf",
		OriginalFilename: "doc.pdf",
		Signers: []workflow.StartSigner{
			{Email: "A@Example.com", SigningOrder: 1},
			{Email: "b@example.com", SigningOrder: 2},
		},
		ForensicConfig: &workflow.ForensicConfig{RFC3161: true, Polygon: true, Bitcoin: true},
	}
}

func (s *ServiceSuite) start() *workflow.Workflow {
	wf, err := s.svc.Start(context.Background(), "owner@example.com", validStartRequest())
	s.Require().NoError(err)
	return wf
}

func (s *ServiceSuite) TestStart() {
	wf := s.start()

	s.Equal(workflow.StatusReady, wf.Status)
	s.Equal("owner@example.com", wf.OwnerID)
	s.NotEmpty(wf.EntityID)

	s.Require().Len(s.documents.entities, 1)
	s.Equal(wf.EntityID, s.documents.entities[0].ID)
	s.Equal("hash-a", s.documents.entities[0].WitnessHash)

	s.Require().Len(s.documents.appends, 1)
	event := s.documents.appends[0]
	s.Equal(document.KindProtectedRequested, event.Kind)
	s.Require().NotNil(event.Protection)
	s.Equal([]string{"tsa", "polygon", "bitcoin"}, event.Protection.RequiredEvidence)

	signers, err := s.store.ListSigners(context.Background(), wf.ID)
	s.Require().NoError(err)
	s.Require().Len(signers, 2)
	s.Equal("a@example.com", signers[0].Email, "emails are normalized")
	s.Equal(workflow.SignerStatusPending, signers[0].Status)
}

func (s *ServiceSuite) TestStartRequiresAuthentication() {
	_, err := s.svc.Start(context.Background(), "", validStartRequest())
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func (s *ServiceSuite) TestStartRejectsInvalidPayload() {
	req := validStartRequest()
	req.Signers[1].SigningOrder = 5

	_, err := s.svc.Start(context.Background(), "owner@example.com", req)
	s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	s.Empty(s.documents.entities, "guard refusal must precede any write")
}

func (s *ServiceSuite) TestCancel() {
	wf := s.start()

	err := s.svc.Cancel(context.Background(), "owner@example.com", wf.ID)
	s.Require().NoError(err)

	stored, err := s.store.GetWorkflow(context.Background(), wf.ID)
	s.Require().NoError(err)
	s.Equal(workflow.StatusCancelled, stored.Status)

	last := s.documents.appends[len(s.documents.appends)-1]
	s.Equal(document.KindWorkflowCancelled, last.Kind)
	s.Require().NotNil(last.Workflow)
	s.Equal(string(workflow.StatusReady), last.Workflow.PreviousStatus)
}

func (s *ServiceSuite) TestCancelForbiddenForNonOwner() {
	wf := s.start()

	err := s.svc.Cancel(context.Background(), "intruder@example.com", wf.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
}

func (s *ServiceSuite) TestCancelTerminalWorkflow() {
	wf := s.start()
	s.Require().NoError(s.svc.Cancel(context.Background(), "owner@example.com", wf.ID))

	err := s.svc.Cancel(context.Background(), "owner@example.com", wf.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
}

func (s *ServiceSuite) TestCancelUnknownWorkflow() {
	err := s.svc.Cancel(context.Background(), "owner@example.com", "ghost")
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *ServiceSuite) TestRejectSigner() {
	wf := s.start()
	signers, err := s.store.ListSigners(context.Background(), wf.ID)
	s.Require().NoError(err)

	err = s.svc.RejectSigner(context.Background(), signers[0].Email, wf.ID, signers[0].ID, "wrong document")
	s.Require().NoError(err)

	updated, err := s.store.GetSigner(context.Background(), wf.ID, signers[0].ID)
	s.Require().NoError(err)
	s.Equal(workflow.SignerStatusRejected, updated.Status)

	last := s.documents.appends[len(s.documents.appends)-1]
	s.Equal(document.KindSignerRejected, last.Kind)
	s.Require().NotNil(last.Workflow)
	s.Equal("wrong document", last.Workflow.Reason)
}

func (s *ServiceSuite) TestRejectSignerForbiddenForStranger() {
	wf := s.start()
	signers, err := s.store.ListSigners(context.Background(), wf.ID)
	s.Require().NoError(err)

	err = s.svc.RejectSigner(context.Background(), "stranger@example.com", wf.ID, signers[0].ID, "")
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
}

func (s *ServiceSuite) TestConfirmIdentity() {
	wf := s.start()
	signers, err := s.store.ListSigners(context.Background(), wf.ID)
	s.Require().NoError(err)

	input := workflow.IdentityConfirmation{
		FirstName:          "  Ada ",
		LastName:           " Lovelace ",
		ConfirmedRecipient: true,
		AcceptedLogging:    true,
	}
	s.Require().NoError(s.svc.ConfirmIdentity(context.Background(), wf.ID, signers[0].ID, input))

	updated, err := s.store.GetSigner(context.Background(), wf.ID, signers[0].ID)
	s.Require().NoError(err)
	s.Equal("Ada Lovelace", updated.Name)

	// The guard refuses a second confirmation once the name is set.
	err = s.svc.ConfirmIdentity(context.Background(), wf.ID, signers[0].ID, input)
	s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
}

func (s *ServiceSuite) TestMarkSignedCompletesAndNotifiesOnce() {
	wf := s.start()
	signers, err := s.store.ListSigners(context.Background(), wf.ID)
	s.Require().NoError(err)

	s.Require().NoError(s.svc.MarkSigned(context.Background(), wf.ID, signers[0].ID))
	s.Empty(s.notifier.completed, "no notification while signers remain")

	s.Require().NoError(s.svc.MarkSigned(context.Background(), wf.ID, signers[1].ID))

	stored, err := s.store.GetWorkflow(context.Background(), wf.ID)
	s.Require().NoError(err)
	s.Equal(workflow.StatusCompleted, stored.Status)
	s.Require().Len(s.notifier.completed, 1)
	s.Equal(wf.ID, s.notifier.completed[0].ID)

	// Re-signing a finalized signer conflicts and must not re-notify.
	err = s.svc.MarkSigned(context.Background(), wf.ID, signers[1].ID)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	s.Len(s.notifier.completed, 1)
}

func (s *ServiceSuite) TestMarkSignedOnTerminalWorkflow() {
	wf := s.start()
	signers, err := s.store.ListSigners(context.Background(), wf.ID)
	s.Require().NoError(err)
	s.Require().NoError(s.svc.Cancel(context.Background(), "owner@example.com", wf.ID))

	err = s.svc.MarkSigned(context.Background(), wf.ID, signers[0].ID)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))
}

func TestRequiredEvidence(t *testing.T) {
	assert.Empty(t, requiredEvidence(workflow.ForensicConfig{}))
	assert.Equal(t, []string{"tsa"}, requiredEvidence(workflow.ForensicConfig{RFC3161: true}))
	assert.Equal(t, []string{"polygon", "bitcoin"},
		requiredEvidence(workflow.ForensicConfig{Polygon: true, Bitcoin: true}))
}

func TestDefaultNotifierLogsOnly(t *testing.T) {
	store := workflow.NewInMemoryStore()
	documents := &recordingDocuments{}
	svc := New(store, documents, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	wf, err := svc.Start(context.Background(), "owner@example.com", workflow.StartRequest{
		DocumentHash:     "hash-a",
		DocumentURL:      "https://files.example.com/doc.pdf",
		OriginalFilename: "doc.pdf",
		Signers:          []workflow.StartSigner{{Email: "a@example.com", SigningOrder: 1}},
		ForensicConfig:   &workflow.ForensicConfig{},
	})
	require.NoError(t, err)

	signers, err := store.ListSigners(context.Background(), wf.ID)
	require.NoError(t, err)
	require.NoError(t, svc.MarkSigned(context.Background(), wf.ID, signers[0].ID))

	stored, err := store.GetWorkflow(context.Background(), wf.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusCompleted, stored.Status)
}

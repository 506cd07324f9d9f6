// Package httptransport is the thin HTTP layer. Handlers decode, call a
// service, and translate errors; business rules stay in the domain packages.
package httptransport

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"custodia/internal/anchors"
	"custodia/internal/anchors/bitcoin"
	"custodia/internal/anchors/polygon"
	"custodia/internal/decision"
	"custodia/internal/document"
	"custodia/internal/jobs"
	"custodia/internal/orchestrator"
	"custodia/internal/workflow"
)

// DocumentService is the document surface the handlers use.
type DocumentService interface {
	CreateEntity(ctx context.Context, entity document.Entity) error
	GetEntity(ctx context.Context, entityID string) (*document.Entity, error)
	Append(ctx context.Context, entityID string, event document.Event) error
	AppendAnchor(ctx context.Context, entityID string, anchor document.AnchorConfirmation) error
}

// WorkflowService is the workflow surface the handlers use.
type WorkflowService interface {
	Start(ctx context.Context, ownerID string, req workflow.StartRequest) (*workflow.Workflow, error)
	Cancel(ctx context.Context, actorID, workflowID string) error
	RejectSigner(ctx context.Context, actor, workflowID, signerID, reason string) error
	ConfirmIdentity(ctx context.Context, workflowID, signerID string, input workflow.IdentityConfirmation) error
	MarkSigned(ctx context.Context, workflowID, signerID string) error
}

// Reconciler recomputes and enqueues the required job set for an entity.
type Reconciler interface {
	Reconcile(ctx context.Context, entityID string) (decision.Decision, error)
}

// BatchRunner processes one claimed batch of jobs.
type BatchRunner interface {
	RunOnce(ctx context.Context) (orchestrator.Summary, error)
}

// Handler bundles the transport dependencies.
type Handler struct {
	documents  DocumentService
	workflows  WorkflowService
	reconciler Reconciler
	runner     BatchRunner
	queue      jobs.Store
	polygon    *polygon.Poller
	bitcoin    *bitcoin.Poller
	pollLock   *anchors.PollLock
	logger     *slog.Logger
	auth       AuthConfig
}

func NewHandler(documents DocumentService, workflows WorkflowService, reconciler Reconciler,
	runner BatchRunner, queue jobs.Store, polygonPoller *polygon.Poller, bitcoinPoller *bitcoin.Poller,
	pollLock *anchors.PollLock, auth AuthConfig, logger *slog.Logger) *Handler {
	return &Handler{
		documents:  documents,
		workflows:  workflows,
		reconciler: reconciler,
		runner:     runner,
		queue:      queue,
		polygon:    polygonPoller,
		bitcoin:    bitcoinPoller,
		pollLock:   pollLock,
		logger:     logger,
		auth:       auth,
	}
}

// NewRouter wires all endpoints.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(correlationMiddleware)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(actorMiddleware(h.auth))

		r.Route("/documents/{id}", func(r chi.Router) {
			r.Get("/", h.handleGetDocument)
			r.Post("/protect", h.handleProtect)
			r.Post("/anchors", h.handleAppendAnchor)
		})

		r.Route("/workflows", func(r chi.Router) {
			r.Post("/", h.handleStartWorkflow)
			r.Post("/{id}/cancel", h.handleCancelWorkflow)
			r.Post("/{id}/signers/{signerID}/reject", h.handleRejectSigner)
			r.Post("/{id}/signers/{signerID}/confirm-identity", h.handleConfirmIdentity)
			r.Post("/{id}/signers/{signerID}/sign", h.handleMarkSigned)
		})
	})

	r.Route("/internal", func(r chi.Router) {
		r.Use(internalAuthMiddleware(h.auth))

		r.Post("/orchestrator/poll", h.handleOrchestratorPoll)
		r.Post("/anchors/{network}/poll", h.handleAnchorPoll)
		r.Post("/jobs/{id}/retry", h.handleRetryJob)
		r.Get("/jobs/dead", h.handleDeadJobs)
	})

	return r
}

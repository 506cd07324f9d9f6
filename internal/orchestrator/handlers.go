package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"custodia/internal/anchors"
	"custodia/internal/document"
	"custodia/internal/jobs"
)

// DocumentService is the slice of the document service the handlers use.
type DocumentService interface {
	GetEntity(ctx context.Context, entityID string) (*document.Entity, error)
	Append(ctx context.Context, entityID string, event document.Event) error
}

// AnchorSubmitter starts an anchor state machine on one network.
type AnchorSubmitter interface {
	Submit(ctx context.Context, entityID string, network document.Network) (*anchors.Anchor, error)
}

// TSAClient obtains an RFC 3161 timestamp over a witness hash.
type TSAClient interface {
	Timestamp(ctx context.Context, witnessHash string) (*document.TSAConfirmation, error)
}

// ArtifactBuilder assembles the downloadable evidence bundle.
type ArtifactBuilder interface {
	Build(ctx context.Context, entity *document.Entity) (string, error)
}

// Pipeline implements the job handlers. Every handler is idempotent against
// the event log so retried attempts converge instead of duplicating facts.
type Pipeline struct {
	documents  DocumentService
	anchors    AnchorSubmitter
	tsa        TSAClient
	artifacts  ArtifactBuilder
	reconciler *Reconciler
	logger     *slog.Logger
}

func NewPipeline(documents DocumentService, anchorSvc AnchorSubmitter, tsa TSAClient,
	artifacts ArtifactBuilder, reconciler *Reconciler, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		documents:  documents,
		anchors:    anchorSvc,
		tsa:        tsa,
		artifacts:  artifacts,
		reconciler: reconciler,
		logger:     logger,
	}
}

// Handlers returns the job type registry.
func (p *Pipeline) Handlers() map[jobs.Type]Handler {
	return map[jobs.Type]Handler{
		jobs.TypeRunTSA:              p.runTSA,
		jobs.TypeSubmitAnchorPolygon: p.submitAnchor(document.NetworkPolygon),
		jobs.TypeSubmitAnchorBitcoin: p.submitAnchor(document.NetworkBitcoin),
		jobs.TypeBuildArtifact:       p.buildArtifact,
	}
}

func (p *Pipeline) runTSA(ctx context.Context, job *jobs.Job) error {
	entity, err := p.documents.GetEntity(ctx, job.EntityID)
	if err != nil {
		return err
	}
	if document.HasKind(entity.Events, document.KindTSAConfirmed) {
		return nil
	}

	confirmation, err := p.tsa.Timestamp(ctx, entity.WitnessHash)
	if err != nil {
		return err
	}
	if err := p.documents.Append(ctx, job.EntityID, document.Event{
		Kind: document.KindTSAConfirmed,
		At:   time.Now().UTC(),
		TSA:  confirmation,
	}); err != nil {
		return err
	}
	p.reconcile(ctx, job.EntityID)
	return nil
}

func (p *Pipeline) submitAnchor(network document.Network) Handler {
	return func(ctx context.Context, job *jobs.Job) error {
		_, err := p.anchors.Submit(ctx, job.EntityID, network)
		return err
	}
}

func (p *Pipeline) buildArtifact(ctx context.Context, job *jobs.Job) error {
	entity, err := p.documents.GetEntity(ctx, job.EntityID)
	if err != nil {
		return err
	}
	if document.HasKind(entity.Events, document.KindArtifactFinalized) {
		return nil
	}

	url, err := p.artifacts.Build(ctx, entity)
	if err != nil {
		return err
	}
	return p.documents.Append(ctx, job.EntityID, document.Event{
		Kind:     document.KindArtifactFinalized,
		At:       time.Now().UTC(),
		Artifact: &document.ArtifactFinalized{ArtifactURL: url},
	})
}

// reconcile keeps the pipeline moving after an append; failures here are
// recovered by the next external reconcile, so they only log.
func (p *Pipeline) reconcile(ctx context.Context, entityID string) {
	if p.reconciler == nil {
		return
	}
	if _, err := p.reconciler.Reconcile(ctx, entityID); err != nil {
		p.logger.Warn("post-handler reconcile failed",
			"entity_id", entityID, "error", err)
	}
}

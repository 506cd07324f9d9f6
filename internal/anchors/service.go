package anchors

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"custodia/internal/document"
	dErrors "custodia/pkg/domain-errors"
	"custodia/pkg/platform/sentinel"
)

// Submission is what a network submitter returns. Polygon yields a txid
// immediately; OpenTimestamps yields a pending proof and the calendar that
// accepted it.
type Submission struct {
	TxID        string
	Proof       []byte
	CalendarURL string
}

// Submitter publishes a witness hash to one network.
type Submitter interface {
	Submit(ctx context.Context, witnessHash string) (*Submission, error)
}

// DocumentReader is the slice of the document service the anchor layer needs.
type DocumentReader interface {
	GetEntity(ctx context.Context, entityID string) (*document.Entity, error)
}

// Service creates anchor rows and hands them to the per-network submitters.
// Confirmation is the pollers' job.
type Service struct {
	store       Store
	documents   DocumentReader
	submitters  map[document.Network]Submitter
	maxAttempts map[document.Network]int
	logger      *slog.Logger
}

func NewService(store Store, documents DocumentReader, submitters map[document.Network]Submitter,
	maxAttempts map[document.Network]int, logger *slog.Logger) *Service {
	return &Service{
		store:       store,
		documents:   documents,
		submitters:  submitters,
		maxAttempts: maxAttempts,
		logger:      logger,
	}
}

// Submit creates and submits an anchor for the entity on the given network.
// Idempotent: an existing row for (entity, network) is returned unchanged so
// job retries do not double-submit.
func (s *Service) Submit(ctx context.Context, entityID string, network document.Network) (*Anchor, error) {
	entity, err := s.documents.GetEntity(ctx, entityID)
	if err != nil {
		return nil, err
	}
	if !document.HasKind(entity.Events, document.KindTSAConfirmed) {
		return nil, dErrors.New(dErrors.CodeBadRequest, "tsa confirmation required before anchoring")
	}

	submitter, ok := s.submitters[network]
	if !ok {
		return nil, dErrors.New(dErrors.CodeUnavailable, "no submitter configured for network "+string(network))
	}

	if existing, err := s.store.Get(ctx, entityID, network); err == nil {
		if existing.Status == StatusPending && existing.TxID == "" && len(existing.Proof) == 0 {
			// Row created but the earlier submission never went out; retry it.
			return s.performSubmit(ctx, existing, submitter)
		}
		return existing, nil
	} else if !errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(dErrors.CodeInternal, "get anchor", err)
	}

	anchor := &Anchor{
		ID:          uuid.NewString(),
		EntityID:    entityID,
		Network:     network,
		WitnessHash: entity.WitnessHash,
		Status:      StatusPending,
		MaxAttempts: s.maxAttempts[network],
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store.Create(ctx, anchor); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			// Lost a race with a concurrent submit; the winner's row stands.
			return s.getExisting(ctx, entityID, network)
		}
		return nil, dErrors.Wrap(dErrors.CodeInternal, "create anchor", err)
	}

	return s.performSubmit(ctx, anchor, submitter)
}

func (s *Service) performSubmit(ctx context.Context, anchor *Anchor, submitter Submitter) (*Anchor, error) {
	submission, err := submitter.Submit(ctx, anchor.WitnessHash)
	if err != nil {
		anchor.LastError = err.Error()
		next := time.Now().UTC().Add(time.Minute)
		anchor.NextCheckAt = &next
		if updateErr := s.store.Update(ctx, anchor); updateErr != nil {
			s.logger.Error("anchor update after failed submit",
				"entity_id", anchor.EntityID, "network", anchor.Network, "error", updateErr)
		}
		return nil, dErrors.Wrap(dErrors.CodeUnavailable, "submit anchor", err)
	}

	anchor.Status = StatusProcessing
	anchor.TxID = submission.TxID
	anchor.Proof = submission.Proof
	anchor.CalendarURL = submission.CalendarURL
	anchor.LastError = ""
	next := time.Now().UTC().Add(time.Minute)
	anchor.NextCheckAt = &next
	if err := s.store.Update(ctx, anchor); err != nil {
		return nil, dErrors.Wrap(dErrors.CodeInternal, "update anchor", err)
	}

	s.logger.Info("anchor submitted",
		"entity_id", anchor.EntityID,
		"network", anchor.Network,
		"txid", anchor.TxID,
		"calendar", anchor.CalendarURL)
	return anchor, nil
}

func (s *Service) getExisting(ctx context.Context, entityID string, network document.Network) (*Anchor, error) {
	anchor, err := s.store.Get(ctx, entityID, network)
	if err != nil {
		return nil, dErrors.Wrap(dErrors.CodeInternal, "get anchor", err)
	}
	return anchor, nil
}

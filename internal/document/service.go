package document

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	dErrors "custodia/pkg/domain-errors"
	"custodia/pkg/platform/circuit"
	"custodia/pkg/platform/sentinel"
	"custodia/pkg/requestcontext"
)

// MirrorPublisher streams appended events to an external sink. Best-effort:
// publish failures never block the append.
type MirrorPublisher interface {
	Publish(ctx context.Context, entityID string, payload []byte) error
}

// Service owns the append-side invariants of the event log: payload
// validation, witness-hash consistency, and per-network anchor uniqueness.
// Reads are thin passthroughs.
type Service struct {
	store   Store
	mirror  MirrorPublisher
	breaker *circuit.Breaker
	logger  *slog.Logger
}

func NewService(store Store, mirror MirrorPublisher, logger *slog.Logger) *Service {
	return &Service{
		store:   store,
		mirror:  mirror,
		breaker: circuit.New(5, time.Minute),
		logger:  logger,
	}
}

// CreateEntity registers a document aggregate with its witness hash.
func (s *Service) CreateEntity(ctx context.Context, entity Entity) error {
	if entity.ID == "" || entity.WitnessHash == "" {
		return dErrors.New(dErrors.CodeBadRequest, "entity id and witness_hash are required")
	}
	if err := s.store.CreateEntity(ctx, entity); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return dErrors.New(dErrors.CodeConflict, "document entity already exists")
		}
		return dErrors.Wrap(dErrors.CodeInternal, "create entity", err)
	}
	return nil
}

// GetEntity fetches an aggregate with its full event log.
func (s *Service) GetEntity(ctx context.Context, entityID string) (*Entity, error) {
	entity, err := s.store.GetEntity(ctx, entityID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "document entity not found")
		}
		return nil, dErrors.Wrap(dErrors.CodeInternal, "get entity", err)
	}
	return entity, nil
}

// Read returns the ordered event log for an entity.
func (s *Service) Read(ctx context.Context, entityID string) ([]Event, error) {
	events, err := s.store.Read(ctx, entityID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "document entity not found")
		}
		return nil, dErrors.Wrap(dErrors.CodeInternal, "read events", err)
	}
	return events, nil
}

// Append validates and records a canonical event, then mirrors it.
func (s *Service) Append(ctx context.Context, entityID string, event Event) error {
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}
	if err := event.Validate(); err != nil {
		return err
	}
	if err := s.store.Append(ctx, entityID, event); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotFound, "document entity not found")
		}
		return dErrors.Wrap(dErrors.CodeInternal, "append event", err)
	}
	s.mirrorEvent(ctx, entityID, event)
	return nil
}

// AppendAnchor records a confirmed anchor under the contract rules:
// witness hash must match the entity, at most one anchor per network, and a
// replay with the same txid is a silent no-op.
func (s *Service) AppendAnchor(ctx context.Context, entityID string, anchor AnchorConfirmation) error {
	if _, err := ParseNetwork(string(anchor.Network)); err != nil {
		return err
	}

	entity, err := s.GetEntity(ctx, entityID)
	if err != nil {
		return err
	}

	if anchor.WitnessHash != entity.WitnessHash {
		return dErrors.New(dErrors.CodeBadRequest, "anchor witness_hash does not match document")
	}

	if existing := FindAnchor(entity.Events, anchor.Network); existing != nil {
		if existing.TxID == anchor.TxID {
			// Retry safety: already registered.
			return nil
		}
		return dErrors.New(dErrors.CodeConflict,
			"anchor already exists for network "+string(anchor.Network))
	}

	if anchor.ConfirmedAt.IsZero() {
		anchor.ConfirmedAt = time.Now().UTC()
	}

	return s.Append(ctx, entityID, Event{
		Kind:   KindAnchor,
		At:     time.Now().UTC(),
		Anchor: &anchor,
	})
}

func (s *Service) mirrorEvent(ctx context.Context, entityID string, event Event) {
	if s.mirror == nil || !s.breaker.Allow() {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	if err := s.mirror.Publish(ctx, entityID, payload); err != nil {
		s.breaker.RecordFailure()
		s.logger.Warn("event mirror publish failed",
			"entity_id", entityID,
			"kind", event.Kind,
			"correlation_id", requestcontext.CorrelationID(ctx),
			"error", err)
		return
	}
	s.breaker.RecordSuccess()
}

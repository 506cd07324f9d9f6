package anchors

import (
	"context"
	"sort"
	"sync"
	"time"

	"custodia/internal/document"
	"custodia/pkg/platform/sentinel"
)

// InMemoryStore backs unit tests and local runs.
type InMemoryStore struct {
	mu      sync.RWMutex
	anchors map[string]*Anchor // keyed by entityID + ":" + network
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{anchors: make(map[string]*Anchor)}
}

func memKey(entityID string, network document.Network) string {
	return entityID + ":" + string(network)
}

func (s *InMemoryStore) Create(_ context.Context, anchor *Anchor) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := memKey(anchor.EntityID, anchor.Network)
	if _, exists := s.anchors[key]; exists {
		return sentinel.ErrConflict
	}
	now := time.Now().UTC()
	stored := copyAnchor(anchor)
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	s.anchors[key] = stored
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, entityID string, network document.Network) (*Anchor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	anchor, ok := s.anchors[memKey(entityID, network)]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return copyAnchor(anchor), nil
}

func (s *InMemoryStore) ListDue(_ context.Context, network document.Network, now time.Time, limit int) ([]*Anchor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var due []*Anchor
	for _, anchor := range s.anchors {
		if anchor.Network == network && anchor.Due(now) {
			due = append(due, copyAnchor(anchor))
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].CreatedAt.Before(due[j].CreatedAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (s *InMemoryStore) Update(_ context.Context, anchor *Anchor) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := memKey(anchor.EntityID, anchor.Network)
	if _, ok := s.anchors[key]; !ok {
		return sentinel.ErrNotFound
	}
	stored := copyAnchor(anchor)
	stored.UpdatedAt = time.Now().UTC()
	s.anchors[key] = stored
	return nil
}

func copyAnchor(anchor *Anchor) *Anchor {
	out := *anchor
	if anchor.Proof != nil {
		out.Proof = append([]byte(nil), anchor.Proof...)
	}
	if anchor.NextCheckAt != nil {
		t := *anchor.NextCheckAt
		out.NextCheckAt = &t
	}
	if anchor.BlockNumber != nil {
		n := *anchor.BlockNumber
		out.BlockNumber = &n
	}
	if anchor.BlockTime != nil {
		t := *anchor.BlockTime
		out.BlockTime = &t
	}
	if anchor.ConfirmedAt != nil {
		t := *anchor.ConfirmedAt
		out.ConfirmedAt = &t
	}
	return &out
}

package document

import (
	"context"
	"sync"
	"time"

	"custodia/pkg/platform/sentinel"
)

// InMemoryStore keeps entities in a map. Used by unit tests and local dev.
type InMemoryStore struct {
	mu       sync.RWMutex
	entities map[string]*Entity
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{entities: make(map[string]*Entity)}
}

func (s *InMemoryStore) CreateEntity(_ context.Context, entity Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entities[entity.ID]; ok {
		return sentinel.ErrConflict
	}
	if entity.CreatedAt.IsZero() {
		entity.CreatedAt = time.Now().UTC()
	}
	stored := entity
	stored.Events = append([]Event(nil), entity.Events...)
	s.entities[entity.ID] = &stored
	return nil
}

func (s *InMemoryStore) GetEntity(_ context.Context, entityID string) (*Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entity, ok := s.entities[entityID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	copied := *entity
	copied.Events = append([]Event(nil), entity.Events...)
	return &copied, nil
}

func (s *InMemoryStore) Append(_ context.Context, entityID string, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entity, ok := s.entities[entityID]
	if !ok {
		return sentinel.ErrNotFound
	}
	entity.Events = append(entity.Events, event)
	return nil
}

func (s *InMemoryStore) Read(_ context.Context, entityID string) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entity, ok := s.entities[entityID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return append([]Event(nil), entity.Events...), nil
}

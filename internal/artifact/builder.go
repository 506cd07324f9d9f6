// Package artifact assembles the downloadable evidence bundle for a fully
// protected document.
package artifact

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"custodia/internal/document"
)

// BlobStore persists a built bundle and returns its public URL.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte) (string, error)
}

// Bundle is the serialized evidence set embedded in the artifact.
type Bundle struct {
	EntityID        string           `json:"entity_id"`
	WitnessHash     string           `json:"witness_hash"`
	ProtectionLevel string           `json:"protection_level"`
	Events          []document.Event `json:"events"`
	BuiltAt         time.Time        `json:"built_at"`
}

// Builder marshals the event log into a bundle and stores it.
type Builder struct {
	blobs BlobStore
}

func NewBuilder(blobs BlobStore) *Builder {
	return &Builder{blobs: blobs}
}

// Build produces the artifact for an entity and returns its URL.
func (b *Builder) Build(ctx context.Context, entity *document.Entity) (string, error) {
	bundle := Bundle{
		EntityID:        entity.ID,
		WitnessHash:     entity.WitnessHash,
		ProtectionLevel: document.DeriveProtectionLevel(entity.Events).String(),
		Events:          entity.Events,
		BuiltAt:         time.Now().UTC(),
	}
	data, err := json.MarshalIndent(bundle, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal bundle: %w", err)
	}
	url, err := b.blobs.Put(ctx, entity.ID+".json", data)
	if err != nil {
		return "", fmt.Errorf("store bundle: %w", err)
	}
	return url, nil
}

// MemoryBlobStore keeps bundles in memory for tests and local runs.
type MemoryBlobStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

func NewMemoryBlobStore() *MemoryBlobStore {
	return &MemoryBlobStore{blobs: make(map[string][]byte)}
}

func (s *MemoryBlobStore) Put(_ context.Context, key string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[key] = append([]byte(nil), data...)
	return "memory://artifacts/" + key, nil
}

// Get returns a stored bundle, for tests.
func (s *MemoryBlobStore) Get(key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.blobs[key]
	return data, ok
}

package workflow

import (
	"context"
	"sort"
	"sync"
	"time"

	"custodia/pkg/platform/sentinel"
)

// InMemoryStore backs unit tests and local runs.
type InMemoryStore struct {
	mu        sync.RWMutex
	workflows map[string]*Workflow
	signers   map[string]map[string]*Signer // workflowID -> signerID -> signer
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		workflows: make(map[string]*Workflow),
		signers:   make(map[string]map[string]*Signer),
	}
}

func (s *InMemoryStore) CreateWorkflow(_ context.Context, wf *Workflow, signers []*Signer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.workflows[wf.ID]; exists {
		return sentinel.ErrConflict
	}
	now := time.Now().UTC()
	stored := *wf
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	s.workflows[wf.ID] = &stored

	byID := make(map[string]*Signer, len(signers))
	for _, signer := range signers {
		copied := *signer
		copied.WorkflowID = wf.ID
		copied.UpdatedAt = now
		byID[copied.ID] = &copied
	}
	s.signers[wf.ID] = byID
	return nil
}

func (s *InMemoryStore) GetWorkflow(_ context.Context, workflowID string) (*Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wf, ok := s.workflows[workflowID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	copied := *wf
	return &copied, nil
}

func (s *InMemoryStore) UpdateWorkflowStatus(_ context.Context, workflowID string, status Status) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wf, ok := s.workflows[workflowID]
	if !ok {
		return "", sentinel.ErrNotFound
	}
	previous := wf.Status
	wf.Status = status
	wf.UpdatedAt = time.Now().UTC()
	return previous, nil
}

func (s *InMemoryStore) GetSigner(_ context.Context, workflowID, signerID string) (*Signer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	signer, ok := s.signers[workflowID][signerID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	copied := *signer
	return &copied, nil
}

func (s *InMemoryStore) ListSigners(_ context.Context, workflowID string) ([]*Signer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byID, ok := s.signers[workflowID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	out := make([]*Signer, 0, len(byID))
	for _, signer := range byID {
		copied := *signer
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SigningOrder < out[j].SigningOrder })
	return out, nil
}

func (s *InMemoryStore) UpdateSigner(_ context.Context, signer *Signer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byID, ok := s.signers[signer.WorkflowID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if _, ok := byID[signer.ID]; !ok {
		return sentinel.ErrNotFound
	}
	copied := *signer
	copied.UpdatedAt = time.Now().UTC()
	byID[signer.ID] = &copied
	return nil
}

package jobs

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"custodia/pkg/platform/sentinel"
)

// InMemoryStore is a mutex-guarded queue used by unit tests and local runs.
// It mirrors the transactional semantics of the Postgres store: claims are
// exclusive and every post-claim transition checks lease ownership.
type InMemoryStore struct {
	mu       sync.Mutex
	jobs     map[string]*Job
	runs     map[string][]Run
	leaseTTL time.Duration
	now      func() time.Time
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		jobs:     make(map[string]*Job),
		runs:     make(map[string][]Run),
		leaseTTL: 2 * time.Minute,
		now:      time.Now,
	}
}

func (s *InMemoryStore) Enqueue(_ context.Context, req EnqueueRequest) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dedupeKey := req.EntityID + ":" + string(req.Type)
	for _, existing := range s.jobs {
		if existing.DedupeKey == dedupeKey && isLive(existing.Status) {
			return copyJob(existing), nil
		}
	}

	maxAttempts := req.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	correlationID := req.CorrelationID
	if correlationID == "" {
		correlationID = req.EntityID
	}

	now := s.now()
	job := &Job{
		ID:            uuid.NewString(),
		Type:          req.Type,
		EntityID:      req.EntityID,
		Payload:       copyPayload(req.Payload),
		Status:        StatusQueued,
		MaxAttempts:   maxAttempts,
		DedupeKey:     dedupeKey,
		CorrelationID: correlationID,
		RunAt:         req.RunAt,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	s.jobs[job.ID] = job
	return copyJob(job), nil
}

func (s *InMemoryStore) Claim(_ context.Context, workerID string, limit int, leaseTTL time.Duration) ([]*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if leaseTTL > 0 {
		s.leaseTTL = leaseTTL
	}
	now := s.now()
	due := make([]*Job, 0, limit)
	for _, job := range s.jobs {
		if s.claimable(job, now) {
			due = append(due, job)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].CreatedAt.Before(due[j].CreatedAt) })
	if len(due) > limit {
		due = due[:limit]
	}

	claimed := make([]*Job, 0, len(due))
	for _, job := range due {
		lockedAt := now
		job.Status = StatusProcessing
		job.Attempts++
		job.LockedBy = workerID
		job.LockedAt = &lockedAt
		job.UpdatedAt = now
		claimed = append(claimed, copyJob(job))
	}
	return claimed, nil
}

func (s *InMemoryStore) Heartbeat(_ context.Context, jobID, workerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.owned(jobID, workerID)
	if err != nil {
		return err
	}
	now := s.now()
	job.LockedAt = &now
	job.UpdatedAt = now
	return nil
}

func (s *InMemoryStore) StampTrace(_ context.Context, jobID, workerID, traceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.owned(jobID, workerID)
	if err != nil {
		return err
	}
	job.TraceID = traceID
	job.UpdatedAt = s.now()
	return nil
}

func (s *InMemoryStore) Complete(_ context.Context, jobID, workerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.owned(jobID, workerID)
	if err != nil {
		return err
	}
	job.Status = StatusSucceeded
	job.LockedBy = ""
	job.LockedAt = nil
	job.UpdatedAt = s.now()
	return nil
}

func (s *InMemoryStore) Fail(_ context.Context, jobID, workerID, errMsg string, dead bool, retryAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.owned(jobID, workerID)
	if err != nil {
		return err
	}
	job.LastError = errMsg
	job.LockedBy = ""
	job.LockedAt = nil
	if dead {
		job.Status = StatusDead
		job.RunAt = nil
	} else {
		job.Status = StatusRetryScheduled
		runAt := retryAt
		job.RunAt = &runAt
	}
	job.UpdatedAt = s.now()
	return nil
}

func (s *InMemoryStore) Retry(_ context.Context, jobID string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if job.Status != StatusDead {
		return nil, sentinel.ErrInvalidState
	}
	job.Status = StatusQueued
	job.Attempts = 0
	job.LastError = ""
	job.RunAt = nil
	job.UpdatedAt = s.now()
	return copyJob(job), nil
}

func (s *InMemoryStore) ListDead(_ context.Context, limit int) ([]*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dead := make([]*Job, 0)
	for _, job := range s.jobs {
		if job.Status == StatusDead {
			dead = append(dead, copyJob(job))
		}
	}
	sort.Slice(dead, func(i, j int) bool { return dead[i].UpdatedAt.After(dead[j].UpdatedAt) })
	if limit > 0 && len(dead) > limit {
		dead = dead[:limit]
	}
	return dead, nil
}

func (s *InMemoryStore) Get(_ context.Context, jobID string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return copyJob(job), nil
}

func (s *InMemoryStore) RecordRun(_ context.Context, run Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.runs[run.JobID] = append(s.runs[run.JobID], run)
	return nil
}

func (s *InMemoryStore) ListRuns(_ context.Context, jobID string) ([]Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	runs := s.runs[jobID]
	out := make([]Run, len(runs))
	copy(out, runs)
	return out, nil
}

// owned returns the job when workerID still holds its lease.
func (s *InMemoryStore) owned(jobID, workerID string) (*Job, error) {
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if job.Status != StatusProcessing || job.LockedBy != workerID {
		return nil, sentinel.ErrOwnershipLost
	}
	return job, nil
}

func (s *InMemoryStore) claimable(job *Job, now time.Time) bool {
	switch job.Status {
	case StatusQueued:
		return job.RunAt == nil || !job.RunAt.After(now)
	case StatusRetryScheduled:
		return job.RunAt != nil && !job.RunAt.After(now)
	case StatusProcessing:
		// Reclaim only after the previous worker's lease expired.
		return job.LockedAt != nil && now.Sub(*job.LockedAt) > s.leaseTTL
	default:
		return false
	}
}

func isLive(status Status) bool {
	return status == StatusQueued || status == StatusProcessing || status == StatusRetryScheduled
}

func copyJob(job *Job) *Job {
	out := *job
	out.Payload = copyPayload(job.Payload)
	if job.LockedAt != nil {
		lockedAt := *job.LockedAt
		out.LockedAt = &lockedAt
	}
	if job.RunAt != nil {
		runAt := *job.RunAt
		out.RunAt = &runAt
	}
	return &out
}

func copyPayload(payload map[string]string) map[string]string {
	if payload == nil {
		return nil
	}
	out := make(map[string]string, len(payload))
	for k, v := range payload {
		out[k] = v
	}
	return out
}

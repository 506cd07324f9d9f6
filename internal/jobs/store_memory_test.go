package jobs

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"custodia/pkg/platform/sentinel"
)

func TestEnqueue_DedupesLiveJobs(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	first, err := store.Enqueue(ctx, EnqueueRequest{Type: TypeRunTSA, EntityID: "doc-1"})
	require.NoError(t, err)
	second, err := store.Enqueue(ctx, EnqueueRequest{Type: TypeRunTSA, EntityID: "doc-1"})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "doc-1:run_tsa", first.DedupeKey)
	assert.Equal(t, "doc-1", first.CorrelationID)
}

func TestEnqueue_SucceededJobDoesNotBlockNewEnqueue(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	first, err := store.Enqueue(ctx, EnqueueRequest{Type: TypeRunTSA, EntityID: "doc-1"})
	require.NoError(t, err)

	claimed, err := store.Claim(ctx, "worker-a", 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.NoError(t, store.Complete(ctx, first.ID, "worker-a"))

	second, err := store.Enqueue(ctx, EnqueueRequest{Type: TypeRunTSA, EntityID: "doc-1"})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestClaim_ExclusiveAcrossWorkers(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	for i := 0; i < 20; i++ {
		_, err := store.Enqueue(ctx, EnqueueRequest{
			Type:     TypeSubmitAnchorPolygon,
			EntityID: "doc-" + string(rune('a'+i)),
		})
		require.NoError(t, err)
	}

	var mu sync.Mutex
	seen := make(map[string]string)
	var wg sync.WaitGroup
	for w := 0; w < 5; w++ {
		wg.Add(1)
		workerID := "worker-" + string(rune('0'+w))
		go func() {
			defer wg.Done()
			claimed, err := store.Claim(ctx, workerID, 10, time.Minute)
			assert.NoError(t, err)
			mu.Lock()
			defer mu.Unlock()
			for _, job := range claimed {
				prev, dup := seen[job.ID]
				assert.False(t, dup, "job %s claimed by %s and %s", job.ID, prev, workerID)
				seen[job.ID] = workerID
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 20)
}

func TestClaim_RespectsRunAt(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	future := time.Now().Add(time.Hour)

	_, err := store.Enqueue(ctx, EnqueueRequest{Type: TypeRunTSA, EntityID: "doc-1", RunAt: &future})
	require.NoError(t, err)

	claimed, err := store.Claim(ctx, "worker-a", 10, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, claimed)
}

func TestClaim_ReclaimsExpiredLease(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	now := time.Now()
	store.now = func() time.Time { return now }

	job, err := store.Enqueue(ctx, EnqueueRequest{Type: TypeBuildArtifact, EntityID: "doc-1"})
	require.NoError(t, err)

	claimed, err := store.Claim(ctx, "worker-a", 1, time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	// Within the lease the job is invisible to other workers.
	claimed, err = store.Claim(ctx, "worker-b", 1, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, claimed)

	// After the lease expires worker-b takes over and worker-a has lost
	// ownership of every subsequent transition.
	now = now.Add(2 * time.Minute)
	claimed, err = store.Claim(ctx, "worker-b", 1, time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, 2, claimed[0].Attempts)

	assert.ErrorIs(t, store.Complete(ctx, job.ID, "worker-a"), sentinel.ErrOwnershipLost)
	assert.ErrorIs(t, store.Heartbeat(ctx, job.ID, "worker-a"), sentinel.ErrOwnershipLost)
	assert.NoError(t, store.Complete(ctx, job.ID, "worker-b"))
}

func TestHeartbeat_ExtendsLease(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	now := time.Now()
	store.now = func() time.Time { return now }

	_, err := store.Enqueue(ctx, EnqueueRequest{Type: TypeBuildArtifact, EntityID: "doc-1"})
	require.NoError(t, err)
	claimed, err := store.Claim(ctx, "worker-a", 1, time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	// Heartbeats every 45s keep the 1m lease alive past its original expiry.
	for i := 0; i < 4; i++ {
		now = now.Add(45 * time.Second)
		require.NoError(t, store.Heartbeat(ctx, claimed[0].ID, "worker-a"))
	}

	stolen, err := store.Claim(ctx, "worker-b", 1, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, stolen)
}

func TestFail_SchedulesRetryThenDead(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	job, err := store.Enqueue(ctx, EnqueueRequest{Type: TypeRunTSA, EntityID: "doc-1"})
	require.NoError(t, err)
	claimed, err := store.Claim(ctx, "worker-a", 1, time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	retryAt := time.Now().Add(30 * time.Second)
	require.NoError(t, store.Fail(ctx, job.ID, "worker-a", "tsa unavailable", false, retryAt))

	got, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRetryScheduled, got.Status)
	assert.Equal(t, "tsa unavailable", got.LastError)
	require.NotNil(t, got.RunAt)
	assert.WithinDuration(t, retryAt, *got.RunAt, time.Second)

	// Not due yet.
	claimed, err = store.Claim(ctx, "worker-a", 1, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, claimed)

	// Force due, claim again, then dead-letter.
	past := time.Now().Add(-time.Second)
	store.mu.Lock()
	store.jobs[job.ID].RunAt = &past
	store.mu.Unlock()

	claimed, err = store.Claim(ctx, "worker-a", 1, time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, 2, claimed[0].Attempts)

	require.NoError(t, store.Fail(ctx, job.ID, "worker-a", "witness_hash does not match", true, time.Time{}))
	got, err = store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusDead, got.Status)
	assert.Nil(t, got.RunAt)
}

func TestRetry_RequeuesDeadJobOnly(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	job, err := store.Enqueue(ctx, EnqueueRequest{Type: TypeRunTSA, EntityID: "doc-1"})
	require.NoError(t, err)

	_, err = store.Retry(ctx, job.ID)
	assert.ErrorIs(t, err, sentinel.ErrInvalidState)

	claimed, err := store.Claim(ctx, "worker-a", 1, time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.NoError(t, store.Fail(ctx, job.ID, "worker-a", "boom", true, time.Time{}))

	requeued, err := store.Retry(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, requeued.Status)
	assert.Equal(t, 0, requeued.Attempts)
	assert.Empty(t, requeued.LastError)

	_, err = store.Retry(ctx, "missing")
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestRecordRun_AppendsHistory(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	started := time.Now()
	finished := started.Add(time.Second)

	require.NoError(t, store.RecordRun(ctx, Run{JobID: "job-1", Attempt: 1, WorkerID: "worker-a", StartedAt: started, Status: RunStarted}))
	require.NoError(t, store.RecordRun(ctx, Run{JobID: "job-1", Attempt: 1, WorkerID: "worker-a", StartedAt: started, FinishedAt: &finished, Status: RunFailed, Error: "boom"}))

	runs, err := store.ListRuns(ctx, "job-1")
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, RunStarted, runs[0].Status)
	assert.Equal(t, RunFailed, runs[1].Status)
	assert.Equal(t, "boom", runs[1].Error)
}

func TestListDead_NewestFirst(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	for _, entity := range []string{"doc-1", "doc-2"} {
		job, err := store.Enqueue(ctx, EnqueueRequest{Type: TypeRunTSA, EntityID: entity})
		require.NoError(t, err)
		claimed, err := store.Claim(ctx, "worker-a", 1, time.Minute)
		require.NoError(t, err)
		require.Len(t, claimed, 1)
		require.NoError(t, store.Fail(ctx, job.ID, "worker-a", "boom", true, time.Time{}))
		time.Sleep(2 * time.Millisecond)
	}

	dead, err := store.ListDead(ctx, 10)
	require.NoError(t, err)
	require.Len(t, dead, 2)
	assert.Equal(t, "doc-2", dead[0].EntityID)
	assert.Equal(t, "doc-1", dead[1].EntityID)
}

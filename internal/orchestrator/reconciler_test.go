package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"custodia/internal/decision"
	"custodia/internal/document"
	"custodia/internal/jobs"
	"custodia/pkg/requestcontext"
)

type staticEvents struct {
	events []document.Event
}

func (s *staticEvents) Read(context.Context, string) ([]document.Event, error) {
	return s.events, nil
}

func protectionRequest(evidence ...string) document.Event {
	return document.Event{
		Kind:       document.KindProtectedRequested,
		At:         time.Now().UTC(),
		Protection: &document.ProtectionRequested{RequiredEvidence: evidence},
	}
}

func TestReconcileEnqueuesMissingJobs(t *testing.T) {
	store := jobs.NewInMemoryStore()
	documents := &staticEvents{events: []document.Event{protectionRequest("polygon", "bitcoin")}}
	reconciler := NewReconciler(documents, store, discardLogger())

	result, err := reconciler.Reconcile(context.Background(), "e1")
	require.NoError(t, err)
	assert.Equal(t, decision.ReasonNeedsTSA, result.Reason)
	assert.Equal(t, []jobs.Type{jobs.TypeRunTSA}, result.Jobs)

	claimed, err := store.Claim(context.Background(), "w1", 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, jobs.TypeRunTSA, claimed[0].Type)
	assert.Equal(t, "e1", claimed[0].EntityID)
}

// Re-reconciling the same state must not pile up duplicate jobs; the dedupe
// key absorbs the repeat.
func TestReconcileIsIdempotent(t *testing.T) {
	store := jobs.NewInMemoryStore()
	documents := &staticEvents{events: []document.Event{protectionRequest("polygon")}}
	reconciler := NewReconciler(documents, store, discardLogger())

	for i := 0; i < 3; i++ {
		_, err := reconciler.Reconcile(context.Background(), "e1")
		require.NoError(t, err)
	}

	claimed, err := store.Claim(context.Background(), "w1", 10, time.Minute)
	require.NoError(t, err)
	assert.Len(t, claimed, 1)
}

func TestReconcileNoRequestIsNoop(t *testing.T) {
	store := jobs.NewInMemoryStore()
	reconciler := NewReconciler(&staticEvents{}, store, discardLogger())

	result, err := reconciler.Reconcile(context.Background(), "e1")
	require.NoError(t, err)
	assert.Equal(t, decision.ReasonMissingRequest, result.Reason)
	assert.Empty(t, result.Jobs)

	claimed, err := store.Claim(context.Background(), "w1", 10, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, claimed)
}

func TestReconcilePropagatesCorrelationID(t *testing.T) {
	store := jobs.NewInMemoryStore()
	documents := &staticEvents{events: []document.Event{protectionRequest()}}
	reconciler := NewReconciler(documents, store, discardLogger())

	ctx := requestcontext.WithCorrelationID(context.Background(), "corr-123")
	_, err := reconciler.Reconcile(ctx, "e1")
	require.NoError(t, err)

	claimed, err := store.Claim(context.Background(), "w1", 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, "corr-123", claimed[0].CorrelationID)
}

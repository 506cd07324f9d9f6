package httptransport

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"custodia/internal/anchors"
	"custodia/internal/artifact"
	"custodia/internal/document"
	"custodia/internal/jobs"
	"custodia/internal/orchestrator"
	"custodia/internal/workflow"
	workflowservice "custodia/internal/workflow/service"
	"custodia/pkg/testutil"
)

type stubTSA struct{}

func (stubTSA) Timestamp(_ context.Context, witnessHash string) (*document.TSAConfirmation, error) {
	return &document.TSAConfirmation{
		WitnessHash: witnessHash,
		Authority:   "tsa.example.com",
		ConfirmedAt: time.Now().UTC(),
	}, nil
}

type stubSubmitter struct{}

func (stubSubmitter) Submit(context.Context, string) (*anchors.Submission, error) {
	return &anchors.Submission{TxID: "0xabc"}, nil
}

// newPipelineServer wires the router with a working protection pipeline so
// orchestrator polls advance documents end to end.
func newPipelineServer(t *testing.T) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	documents := document.NewService(document.NewInMemoryStore(), nil, logger)
	queue := jobs.NewInMemoryStore()
	reconciler := orchestrator.NewReconciler(documents, queue, logger)

	anchorStore := anchors.NewInMemoryStore()
	anchorService := anchors.NewService(anchorStore, documents,
		map[document.Network]anchors.Submitter{document.NetworkPolygon: stubSubmitter{}},
		map[document.Network]int{document.NetworkPolygon: 20}, logger)

	builder := artifact.NewBuilder(artifact.NewMemoryBlobStore())
	pipeline := orchestrator.NewPipeline(documents, anchorService, stubTSA{}, builder, reconciler, logger)
	runner := orchestrator.New(queue, pipeline.Handlers(), orchestrator.Options{}, logger)
	workflows := workflowservice.New(workflow.NewInMemoryStore(), documents, nil, logger)

	handler := NewHandler(documents, workflows, reconciler, runner, queue,
		nil, nil, nil,
		AuthConfig{JWTSigningKey: testSigningKey, CronSecret: testCronSecret}, logger)

	return &testServer{
		router:    NewRouter(handler),
		documents: documents,
		queue:     queue,
	}
}

// Drives a TSA-only document from protection request to finalized artifact
// through the public API and the internal poll endpoint alone.
func TestProtectionPipelineFlow(t *testing.T) {
	ts := newPipelineServer(t)
	cron := map[string]string{"X-Cron-Secret": testCronSecret}

	testutil.Given(t, "a document with a protection request", func(t *testing.T) {
		rec := ts.do(t, http.MethodPost, "/documents/e1/protect",
			map[string]any{"witness_hash": "hash-a"}, nil)
		require.Equal(t, http.StatusAccepted, rec.Code)

		testutil.When(t, "the orchestrator polls until the queue drains", func(t *testing.T) {
			for i := 0; i < 5; i++ {
				rec := ts.do(t, http.MethodPost, "/internal/orchestrator/poll", nil, cron)
				require.Equal(t, http.StatusOK, rec.Code)
				var summary orchestrator.Summary
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
				if summary.Claimed == 0 {
					break
				}
			}

			testutil.Then(t, "the document reaches TSA_CONFIRMED with an artifact", func(t *testing.T) {
				rec := ts.do(t, http.MethodGet, "/documents/e1", nil, nil)
				require.Equal(t, http.StatusOK, rec.Code)

				var resp struct {
					ProtectionLevel string           `json:"protection_level"`
					Events          []document.Event `json:"events"`
				}
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
				assert.Equal(t, "TSA_CONFIRMED", resp.ProtectionLevel)
				assert.True(t, document.HasKind(resp.Events, document.KindTSAConfirmed))
				assert.True(t, document.HasKind(resp.Events, document.KindArtifactFinalized))
			})
		})
	})
}

// A document requesting a polygon anchor stops at the submit stage until the
// poller confirms the transaction; the external anchor append unblocks it.
func TestProtectionPipelineWithAnchorFlow(t *testing.T) {
	ts := newPipelineServer(t)
	cron := map[string]string{"X-Cron-Secret": testCronSecret}

	rec := ts.do(t, http.MethodPost, "/documents/e2/protect", map[string]any{
		"witness_hash":      "hash-b",
		"required_evidence": []string{"polygon"},
	}, nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	for i := 0; i < 5; i++ {
		rec = ts.do(t, http.MethodPost, "/internal/orchestrator/poll", nil, cron)
		require.Equal(t, http.StatusOK, rec.Code)
		var summary orchestrator.Summary
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
		if summary.Claimed == 0 {
			break
		}
	}

	// TSA done, anchor submitted, artifact still pending.
	entity, err := ts.documents.GetEntity(context.Background(), "e2")
	require.NoError(t, err)
	assert.True(t, document.HasKind(entity.Events, document.KindTSAConfirmed))
	assert.False(t, document.HasKind(entity.Events, document.KindArtifactFinalized))

	// The confirmation normally lands via the polygon poller; simulate it
	// through the external anchor endpoint.
	rec = ts.do(t, http.MethodPost, "/documents/e2/anchors", map[string]any{
		"network": "polygon", "witness_hash": "hash-b", "txid": "0xabc",
	}, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	for i := 0; i < 5; i++ {
		rec = ts.do(t, http.MethodPost, "/internal/orchestrator/poll", nil, cron)
		require.Equal(t, http.StatusOK, rec.Code)
		var summary orchestrator.Summary
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
		if summary.Claimed == 0 {
			break
		}
	}

	rec = ts.do(t, http.MethodGet, "/documents/e2", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		ProtectionLevel string `json:"protection_level"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ONE_CHAIN_CONFIRMED", resp.ProtectionLevel)
}

package polygon

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"custodia/internal/anchors"
	"custodia/internal/document"
)

type fakeRPC struct {
	receipts map[string]*types.Receipt
	headers  map[int64]*types.Header
	err      error
}

func (f *fakeRPC) ChainID(context.Context) (*big.Int, error) { return big.NewInt(137), nil }
func (f *fakeRPC) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return 0, nil
}
func (f *fakeRPC) SuggestGasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(1), nil
}
func (f *fakeRPC) SendTransaction(context.Context, *types.Transaction) error { return nil }

func (f *fakeRPC) TransactionReceipt(_ context.Context, txHash common.Hash) (*types.Receipt, error) {
	if f.err != nil {
		return nil, f.err
	}
	receipt, ok := f.receipts[txHash.Hex()]
	if !ok {
		return nil, ethereum.NotFound
	}
	return receipt, nil
}

func (f *fakeRPC) HeaderByNumber(_ context.Context, number *big.Int) (*types.Header, error) {
	header, ok := f.headers[number.Int64()]
	if !ok {
		return nil, errors.New("header not found")
	}
	return header, nil
}

type recordingAppender struct {
	anchors []document.AnchorConfirmation
	events  []document.Event
}

func (r *recordingAppender) AppendAnchor(_ context.Context, _ string, anchor document.AnchorConfirmation) error {
	r.anchors = append(r.anchors, anchor)
	return nil
}

func (r *recordingAppender) Append(_ context.Context, _ string, event document.Event) error {
	r.events = append(r.events, event)
	return nil
}

func seedAnchor(t *testing.T, store anchors.Store, txid string) *anchors.Anchor {
	t.Helper()
	anchor := &anchors.Anchor{
		ID:          "a1",
		EntityID:    "e1",
		Network:     document.NetworkPolygon,
		WitnessHash: "hash-a",
		TxID:        txid,
		Status:      anchors.StatusProcessing,
		MaxAttempts: 20,
	}
	require.NoError(t, store.Create(context.Background(), anchor))
	return anchor
}

func newTestPoller(store anchors.Store, events EventAppender, rpc RPC, maxAttempts int) *Poller {
	return NewPoller(store, events, rpc, maxAttempts, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

const testTxID = "0x00000000000000000000000000000000000000000000000000000000000000aa"

func TestPollConfirmsMinedTransaction(t *testing.T) {
	store := anchors.NewInMemoryStore()
	seedAnchor(t, store, testTxID)

	blockTime := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	header := &types.Header{
		Number:     big.NewInt(42),
		Time:       uint64(blockTime.Unix()),
		Difficulty: big.NewInt(0),
	}
	rpc := &fakeRPC{
		receipts: map[string]*types.Receipt{
			common.HexToHash(testTxID).Hex(): {
				Status:      types.ReceiptStatusSuccessful,
				BlockNumber: big.NewInt(42),
			},
		},
		headers: map[int64]*types.Header{42: header},
	}
	appender := &recordingAppender{}
	poller := newTestPoller(store, appender, rpc, 20)

	summary, err := poller.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{Checked: 1, Confirmed: 1}, summary)

	stored, err := store.Get(context.Background(), "e1", document.NetworkPolygon)
	require.NoError(t, err)
	assert.Equal(t, anchors.StatusConfirmed, stored.Status)
	require.NotNil(t, stored.BlockNumber)
	assert.Equal(t, int64(42), *stored.BlockNumber)
	require.NotNil(t, stored.ConfirmedAt)
	assert.Equal(t, blockTime, *stored.ConfirmedAt)
	assert.Nil(t, stored.NextCheckAt)

	require.Len(t, appender.anchors, 1)
	assert.Equal(t, document.NetworkPolygon, appender.anchors[0].Network)
	assert.Equal(t, common.HexToHash(testTxID).Hex(), appender.anchors[0].TxID)
	assert.Equal(t, blockTime, appender.anchors[0].ConfirmedAt)
}

func TestPollReschedulesUnminedTransaction(t *testing.T) {
	store := anchors.NewInMemoryStore()
	seedAnchor(t, store, testTxID)

	rpc := &fakeRPC{receipts: map[string]*types.Receipt{}}
	appender := &recordingAppender{}
	poller := newTestPoller(store, appender, rpc, 20)

	summary, err := poller.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{Checked: 1, Rescheduled: 1}, summary)

	stored, err := store.Get(context.Background(), "e1", document.NetworkPolygon)
	require.NoError(t, err)
	assert.Equal(t, anchors.StatusProcessing, stored.Status)
	assert.Equal(t, 1, stored.Attempts)
	require.NotNil(t, stored.NextCheckAt)
	assert.Empty(t, appender.anchors)
}

func TestPollFailsRevertedTransaction(t *testing.T) {
	store := anchors.NewInMemoryStore()
	seedAnchor(t, store, testTxID)

	rpc := &fakeRPC{
		receipts: map[string]*types.Receipt{
			common.HexToHash(testTxID).Hex(): {
				Status:      types.ReceiptStatusFailed,
				BlockNumber: big.NewInt(42),
			},
		},
	}
	appender := &recordingAppender{}
	poller := newTestPoller(store, appender, rpc, 20)

	summary, err := poller.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{Checked: 1, Failed: 1}, summary)

	stored, err := store.Get(context.Background(), "e1", document.NetworkPolygon)
	require.NoError(t, err)
	assert.Equal(t, anchors.StatusFailed, stored.Status)

	require.Len(t, appender.events, 1)
	assert.Equal(t, document.KindAnchorFailed, appender.events[0].Kind)
	require.NotNil(t, appender.events[0].AnchorFail)
	assert.False(t, appender.events[0].AnchorFail.Retryable, "a reverted tx is not retryable")
}

func TestPollExhaustsConfirmationWindow(t *testing.T) {
	store := anchors.NewInMemoryStore()
	anchor := seedAnchor(t, store, testTxID)
	anchor.Attempts = 19
	require.NoError(t, store.Update(context.Background(), anchor))

	rpc := &fakeRPC{receipts: map[string]*types.Receipt{}}
	appender := &recordingAppender{}
	poller := newTestPoller(store, appender, rpc, 20)

	summary, err := poller.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{Checked: 1, Failed: 1}, summary)

	stored, err := store.Get(context.Background(), "e1", document.NetworkPolygon)
	require.NoError(t, err)
	assert.Equal(t, anchors.StatusFailed, stored.Status)
	assert.Contains(t, stored.LastError, "confirmation window exhausted")

	require.Len(t, appender.events, 1)
	require.NotNil(t, appender.events[0].AnchorFail)
	assert.True(t, appender.events[0].AnchorFail.Retryable)
}

func TestPollFailsAnchorWithoutTransaction(t *testing.T) {
	store := anchors.NewInMemoryStore()
	seedAnchor(t, store, "")

	appender := &recordingAppender{}
	poller := newTestPoller(store, appender, &fakeRPC{}, 20)

	summary, err := poller.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{Checked: 1, Failed: 1}, summary)
}

func TestPollSkipsNotYetDueAnchors(t *testing.T) {
	store := anchors.NewInMemoryStore()
	anchor := seedAnchor(t, store, testTxID)
	future := time.Now().UTC().Add(time.Hour)
	anchor.NextCheckAt = &future
	require.NoError(t, store.Update(context.Background(), anchor))

	poller := newTestPoller(store, &recordingAppender{}, &fakeRPC{}, 20)

	summary, err := poller.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{}, summary)
}

func TestBackoffDoublesToCap(t *testing.T) {
	assert.Equal(t, time.Minute, backoff(1))
	assert.Equal(t, 2*time.Minute, backoff(2))
	assert.Equal(t, 4*time.Minute, backoff(3))
	assert.Equal(t, 8*time.Minute, backoff(4))
	assert.Equal(t, 10*time.Minute, backoff(5))
	assert.Equal(t, 10*time.Minute, backoff(19))
}

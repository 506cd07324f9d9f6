package polygon

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"custodia/internal/anchors"
	"custodia/internal/document"
	"custodia/internal/jobs/metrics"
)

// EventAppender is the slice of the document service that records
// confirmation outcomes as canonical events.
type EventAppender interface {
	AppendAnchor(ctx context.Context, entityID string, anchor document.AnchorConfirmation) error
	Append(ctx context.Context, entityID string, event document.Event) error
}

// Poller advances processing anchors by checking transaction receipts.
// Backoff doubles from 1 minute to a 10 minute cap per row; rows not yet due
// are skipped without an RPC call.
type Poller struct {
	store  anchors.Store
	events EventAppender
	rpc    RPC
	logger *slog.Logger

	maxAttempts int
	batchSize   int
	now         func() time.Time
}

func NewPoller(store anchors.Store, events EventAppender, rpc RPC, maxAttempts int, logger *slog.Logger) *Poller {
	return &Poller{
		store:       store,
		events:      events,
		rpc:         rpc,
		logger:      logger,
		maxAttempts: maxAttempts,
		batchSize:   50,
		now:         time.Now,
	}
}

// Summary reports one poll pass.
type Summary struct {
	Checked     int `json:"checked"`
	Confirmed   int `json:"confirmed"`
	Failed      int `json:"failed"`
	Rescheduled int `json:"rescheduled"`
}

// Poll runs one pass over due Polygon anchors.
func (p *Poller) Poll(ctx context.Context) (Summary, error) {
	var summary Summary

	due, err := p.store.ListDue(ctx, document.NetworkPolygon, p.now().UTC(), p.batchSize)
	if err != nil {
		return summary, err
	}

	for _, anchor := range due {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		summary.Checked++
		switch p.check(ctx, anchor) {
		case outcomeConfirmed:
			summary.Confirmed++
			metrics.AnchorPolls.WithLabelValues("polygon", "confirmed").Inc()
		case outcomeFailed:
			summary.Failed++
			metrics.AnchorPolls.WithLabelValues("polygon", "failed").Inc()
		case outcomeRescheduled:
			summary.Rescheduled++
			metrics.AnchorPolls.WithLabelValues("polygon", "rescheduled").Inc()
		}
	}
	return summary, nil
}

type outcome int

const (
	outcomeRescheduled outcome = iota
	outcomeConfirmed
	outcomeFailed
)

func (p *Poller) check(ctx context.Context, anchor *anchors.Anchor) outcome {
	anchor.Attempts++

	if anchor.TxID == "" {
		// Submission never produced a transaction; nothing to poll.
		return p.fail(ctx, anchor, "no transaction submitted", true)
	}

	receipt, err := p.rpc.TransactionReceipt(ctx, common.HexToHash(anchor.TxID))
	if errors.Is(err, ethereum.NotFound) {
		return p.reschedule(ctx, anchor, "transaction not yet mined")
	}
	if err != nil {
		return p.reschedule(ctx, anchor, "receipt lookup: "+err.Error())
	}

	if receipt.Status == types.ReceiptStatusFailed {
		return p.fail(ctx, anchor, "transaction reverted", false)
	}

	confirmedAt := p.now().UTC()
	header, err := p.rpc.HeaderByNumber(ctx, receipt.BlockNumber)
	if err != nil {
		p.logger.Warn("polygon header lookup failed, using wall clock",
			"entity_id", anchor.EntityID, "txid", anchor.TxID, "error", err)
	} else {
		confirmedAt = time.Unix(int64(header.Time), 0).UTC()
		anchor.BlockHash = header.Hash().Hex()
	}

	blockNumber := receipt.BlockNumber.Int64()
	anchor.Status = anchors.StatusConfirmed
	anchor.BlockNumber = &blockNumber
	anchor.ConfirmedAt = &confirmedAt
	anchor.NextCheckAt = nil
	anchor.LastError = ""
	if err := p.store.Update(ctx, anchor); err != nil {
		p.logger.Error("polygon anchor update failed",
			"entity_id", anchor.EntityID, "txid", anchor.TxID, "error", err)
		return outcomeRescheduled
	}

	if err := p.events.AppendAnchor(ctx, anchor.EntityID, document.AnchorConfirmation{
		Network:     document.NetworkPolygon,
		WitnessHash: anchor.WitnessHash,
		TxID:        anchor.TxID,
		BlockHeight: &blockNumber,
		ConfirmedAt: confirmedAt,
	}); err != nil {
		// The row is confirmed; the canonical event append retries on the
		// next reconcile.
		p.logger.Error("polygon anchor event append failed",
			"entity_id", anchor.EntityID, "txid", anchor.TxID, "error", err)
	}

	p.logger.Info("polygon anchor confirmed",
		"entity_id", anchor.EntityID,
		"txid", anchor.TxID,
		"block_number", blockNumber,
		"attempts", anchor.Attempts)
	return outcomeConfirmed
}

func (p *Poller) reschedule(ctx context.Context, anchor *anchors.Anchor, reason string) outcome {
	if anchor.Attempts >= p.maxAttempts {
		return p.fail(ctx, anchor, "confirmation window exhausted: "+reason, true)
	}
	next := p.now().UTC().Add(backoff(anchor.Attempts))
	anchor.NextCheckAt = &next
	anchor.LastError = reason
	if err := p.store.Update(ctx, anchor); err != nil {
		p.logger.Error("polygon anchor reschedule failed",
			"entity_id", anchor.EntityID, "error", err)
	}
	return outcomeRescheduled
}

func (p *Poller) fail(ctx context.Context, anchor *anchors.Anchor, reason string, retryable bool) outcome {
	anchor.Status = anchors.StatusFailed
	anchor.NextCheckAt = nil
	anchor.LastError = reason
	if err := p.store.Update(ctx, anchor); err != nil {
		p.logger.Error("polygon anchor fail update",
			"entity_id", anchor.EntityID, "error", err)
		return outcomeRescheduled
	}
	if err := p.events.Append(ctx, anchor.EntityID, document.Event{
		Kind: document.KindAnchorFailed,
		At:   p.now().UTC(),
		AnchorFail: &document.AnchorFailure{
			Network:   document.NetworkPolygon,
			Reason:    reason,
			Retryable: retryable,
		},
	}); err != nil {
		p.logger.Error("polygon anchor failure event append",
			"entity_id", anchor.EntityID, "error", err)
	}
	p.logger.Warn("polygon anchor failed",
		"entity_id", anchor.EntityID,
		"txid", anchor.TxID,
		"attempts", anchor.Attempts,
		"reason", reason)
	return outcomeFailed
}

// backoff doubles from 1 minute to a 10 minute cap.
func backoff(attempt int) time.Duration {
	delay := time.Minute
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= 10*time.Minute {
			return 10 * time.Minute
		}
	}
	return delay
}

package bitcoin

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"custodia/internal/anchors"
	"custodia/internal/document"
	"custodia/internal/jobs/metrics"
)

// Calendar is the slice of CalendarClient the poller uses.
type Calendar interface {
	Upgrade(ctx context.Context, calendarURL string, proof []byte) ([]byte, error)
}

// Explorer resolves an attested block height to its hash and timestamp.
type Explorer interface {
	BlockAtHeight(ctx context.Context, height int64) (string, time.Time, error)
}

// EventAppender records confirmation outcomes as canonical events.
type EventAppender interface {
	AppendAnchor(ctx context.Context, entityID string, anchor document.AnchorConfirmation) error
	Append(ctx context.Context, entityID string, event document.Event) error
}

// pollCadence is the fixed check interval; the ~24h confirmation window is
// maxAttempts * pollCadence.
const pollCadence = 5 * time.Minute

// Poller advances OpenTimestamps anchors. A proof that comes back changed
// from the upgrade endpoint signals Bitcoin inclusion; the claim is
// cross-checked by parsing the embedded block attestation before the anchor
// is confirmed.
type Poller struct {
	store    anchors.Store
	events   EventAppender
	calendar Calendar
	explorer Explorer
	logger   *slog.Logger

	maxAttempts   int
	warnThreshold int
	batchSize     int
	now           func() time.Time
}

func NewPoller(store anchors.Store, events EventAppender, calendar Calendar, explorer Explorer,
	maxAttempts, warnThreshold int, logger *slog.Logger) *Poller {
	return &Poller{
		store:         store,
		events:        events,
		calendar:      calendar,
		explorer:      explorer,
		logger:        logger,
		maxAttempts:   maxAttempts,
		warnThreshold: warnThreshold,
		batchSize:     50,
		now:           time.Now,
	}
}

// Summary reports one poll pass.
type Summary struct {
	Checked     int `json:"checked"`
	Confirmed   int `json:"confirmed"`
	TimedOut    int `json:"timed_out"`
	Rescheduled int `json:"rescheduled"`
}

// Poll runs one pass over due Bitcoin anchors.
func (p *Poller) Poll(ctx context.Context) (Summary, error) {
	var summary Summary

	due, err := p.store.ListDue(ctx, document.NetworkBitcoin, p.now().UTC(), p.batchSize)
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
			metrics.AnchorPolls.WithLabelValues("bitcoin", "confirmed").Inc()
		case outcomeTimedOut:
			summary.TimedOut++
			metrics.AnchorPolls.WithLabelValues("bitcoin", "timeout").Inc()
		case outcomeRescheduled:
			summary.Rescheduled++
			metrics.AnchorPolls.WithLabelValues("bitcoin", "rescheduled").Inc()
		}
	}
	return summary, nil
}

type outcome int

const (
	outcomeRescheduled outcome = iota
	outcomeConfirmed
	outcomeTimedOut
)

func (p *Poller) check(ctx context.Context, anchor *anchors.Anchor) outcome {
	anchor.Attempts++

	if anchor.Attempts > p.maxAttempts {
		return p.timeout(ctx, anchor)
	}
	if anchor.Attempts >= p.warnThreshold {
		p.logger.Warn("bitcoin anchor approaching confirmation timeout",
			"entity_id", anchor.EntityID,
			"attempts", anchor.Attempts,
			"max_attempts", p.maxAttempts)
	}

	if len(anchor.Proof) == 0 {
		// Submission has not produced a proof yet; the submit job owns that.
		return p.reschedule(ctx, anchor, "awaiting calendar submission")
	}

	upgraded, err := p.calendar.Upgrade(ctx, anchor.CalendarURL, anchor.Proof)
	if errors.Is(err, ErrNotReady) {
		return p.reschedule(ctx, anchor, "calendar aggregation pending")
	}
	if err != nil {
		return p.reschedule(ctx, anchor, "calendar upgrade: "+err.Error())
	}
	if bytes.Equal(upgraded, anchor.Proof) {
		return p.reschedule(ctx, anchor, "proof unchanged")
	}

	// The proof changed, which the calendar protocol only does after its
	// aggregation transaction confirmed. Cross-check by extracting the block
	// attestation before trusting it.
	height, ok := ParseBitcoinAttestation(upgraded)
	if !ok {
		anchor.Proof = upgraded
		return p.reschedule(ctx, anchor, "upgraded proof lacks block attestation")
	}
	return p.confirm(ctx, anchor, upgraded, height)
}

func (p *Poller) confirm(ctx context.Context, anchor *anchors.Anchor, proof []byte, height int64) outcome {
	confirmedAt := p.now().UTC()
	txid := fmt.Sprintf("ots:block:%d", height)
	if p.explorer != nil {
		hash, blockTime, err := p.explorer.BlockAtHeight(ctx, height)
		if err != nil {
			p.logger.Warn("bitcoin explorer lookup failed",
				"entity_id", anchor.EntityID, "height", height, "error", err)
		} else {
			anchor.BlockHash = hash
			anchor.BlockTime = &blockTime
			confirmedAt = blockTime
			txid = hash
		}
	}

	anchor.Status = anchors.StatusConfirmed
	anchor.Proof = proof
	anchor.TxID = txid
	anchor.BlockNumber = &height
	anchor.ConfirmedAt = &confirmedAt
	anchor.NextCheckAt = nil
	anchor.LastError = ""
	if err := p.store.Update(ctx, anchor); err != nil {
		p.logger.Error("bitcoin anchor update failed",
			"entity_id", anchor.EntityID, "error", err)
		return outcomeRescheduled
	}

	if err := p.events.AppendAnchor(ctx, anchor.EntityID, document.AnchorConfirmation{
		Network:     document.NetworkBitcoin,
		WitnessHash: anchor.WitnessHash,
		TxID:        txid,
		BlockHeight: &height,
		ConfirmedAt: confirmedAt,
	}); err != nil {
		p.logger.Error("bitcoin anchor event append failed",
			"entity_id", anchor.EntityID, "error", err)
	}

	p.logger.Info("bitcoin anchor confirmed",
		"entity_id", anchor.EntityID,
		"block_height", height,
		"attempts", anchor.Attempts)
	return outcomeConfirmed
}

// timeout retires the anchor after the confirmation window. Emits exactly one
// anchor.timeout and one retryable anchor.failed event; the failed row is
// never polled again, so the pair cannot repeat.
func (p *Poller) timeout(ctx context.Context, anchor *anchors.Anchor) outcome {
	anchor.Status = anchors.StatusFailed
	anchor.NextCheckAt = nil
	anchor.LastError = "confirmation window exhausted"
	if err := p.store.Update(ctx, anchor); err != nil {
		p.logger.Error("bitcoin anchor timeout update failed",
			"entity_id", anchor.EntityID, "error", err)
		return outcomeRescheduled
	}

	now := p.now().UTC()
	failure := &document.AnchorFailure{
		Network:   document.NetworkBitcoin,
		Reason:    "confirmation window exhausted",
		Retryable: true,
	}
	if err := p.events.Append(ctx, anchor.EntityID, document.Event{
		Kind:       document.KindAnchorTimeout,
		At:         now,
		AnchorFail: failure,
	}); err != nil {
		p.logger.Error("bitcoin anchor timeout event append",
			"entity_id", anchor.EntityID, "error", err)
	}
	if err := p.events.Append(ctx, anchor.EntityID, document.Event{
		Kind:       document.KindAnchorFailed,
		At:         now,
		AnchorFail: failure,
	}); err != nil {
		p.logger.Error("bitcoin anchor failure event append",
			"entity_id", anchor.EntityID, "error", err)
	}

	p.logger.Warn("bitcoin anchor timed out",
		"entity_id", anchor.EntityID,
		"attempts", anchor.Attempts)
	return outcomeTimedOut
}

func (p *Poller) reschedule(ctx context.Context, anchor *anchors.Anchor, reason string) outcome {
	next := p.now().UTC().Add(pollCadence)
	anchor.NextCheckAt = &next
	anchor.LastError = reason
	if err := p.store.Update(ctx, anchor); err != nil {
		p.logger.Error("bitcoin anchor reschedule failed",
			"entity_id", anchor.EntityID, "error", err)
	}
	return outcomeRescheduled
}

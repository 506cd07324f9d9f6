// Package anchors tracks blockchain anchor submissions through their
// confirmation state machines. Confirmed anchors are handed to the document
// event log; this package owns only the in-flight state.
package anchors

import (
	"time"

	"custodia/internal/document"
)

// Status is the anchor confirmation lifecycle.
type Status string

const (
	// StatusPending means the anchor row exists but nothing was submitted yet.
	StatusPending Status = "pending"
	// StatusProcessing means the submission is out and awaiting confirmation.
	StatusProcessing Status = "processing"
	StatusConfirmed  Status = "confirmed"
	StatusFailed     Status = "failed"
)

// Anchor is one submission on one network for one document.
type Anchor struct {
	ID          string
	EntityID    string
	Network     document.Network
	WitnessHash string
	TxID        string
	Status      Status
	Attempts    int
	MaxAttempts int
	NextCheckAt *time.Time
	Proof       []byte
	CalendarURL string
	BlockNumber *int64
	BlockHash   string
	BlockTime   *time.Time
	ConfirmedAt *time.Time
	LastError   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Due reports whether the anchor should be polled at now. Rows with a future
// next check are skipped without touching the network.
func (a *Anchor) Due(now time.Time) bool {
	if a.Status != StatusPending && a.Status != StatusProcessing {
		return false
	}
	return a.NextCheckAt == nil || !a.NextCheckAt.After(now)
}

package anchors

import (
	"context"
	"time"

	"custodia/internal/document"
)

// Store persists anchor state machine rows.
type Store interface {
	// Create inserts a new anchor row. At most one row per (entity, network);
	// a second insert returns sentinel.ErrConflict.
	Create(ctx context.Context, anchor *Anchor) error

	// Get returns the anchor for (entityID, network), or sentinel.ErrNotFound.
	Get(ctx context.Context, entityID string, network document.Network) (*Anchor, error)

	// ListDue returns pending or processing anchors on network whose next
	// check is due, oldest first.
	ListDue(ctx context.Context, network document.Network, now time.Time, limit int) ([]*Anchor, error)

	// Update persists the mutable fields of an anchor row.
	Update(ctx context.Context, anchor *Anchor) error
}

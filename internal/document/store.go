package document

import "context"

// Store is the event log port. Append must be atomic with respect to
// concurrent appenders on the same entity; implementations own that
// primitive, callers own idempotency checks.
type Store interface {
	CreateEntity(ctx context.Context, entity Entity) error
	GetEntity(ctx context.Context, entityID string) (*Entity, error)
	Append(ctx context.Context, entityID string, event Event) error
	Read(ctx context.Context, entityID string) ([]Event, error)
}

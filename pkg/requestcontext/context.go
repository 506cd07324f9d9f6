// Package requestcontext provides HTTP-independent context accessors for
// request-scoped values.
//
// Middleware and the orchestrator set these values; services and clients read
// them. Keeping the package free of net/http lets workers thread correlation
// data through downstream calls without pulling in transport code.
//
// Usage in services (read values):
//
//	correlationID := requestcontext.CorrelationID(ctx)
//	traceID := requestcontext.TraceID(ctx)
//
// Usage in workers (set values):
//
//	ctx = requestcontext.WithCorrelationID(ctx, entityID)
//	ctx = requestcontext.WithTraceID(ctx, traceID)
package requestcontext

import "context"

type (
	actorIDKey       struct{}
	correlationIDKey struct{}
	traceIDKey       struct{}
	workerIDKey      struct{}
)

// ActorID retrieves the authenticated actor ID from the context.
// Returns the empty string if not set.
func ActorID(ctx context.Context) string {
	if v, ok := ctx.Value(actorIDKey{}).(string); ok {
		return v
	}
	return ""
}

// WithActorID injects an authenticated actor ID into the context.
func WithActorID(ctx context.Context, actorID string) context.Context {
	return context.WithValue(ctx, actorIDKey{}, actorID)
}

// CorrelationID retrieves the pipeline correlation ID. By convention it equals
// the owning document entity ID so a single document's protection pipeline can
// be reconstructed from logs across workers.
func CorrelationID(ctx context.Context) string {
	if v, ok := ctx.Value(correlationIDKey{}).(string); ok {
		return v
	}
	return ""
}

// WithCorrelationID injects a correlation ID into the context.
func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return context.WithValue(ctx, correlationIDKey{}, correlationID)
}

// TraceID retrieves the per-attempt execution trace ID.
func TraceID(ctx context.Context) string {
	if v, ok := ctx.Value(traceIDKey{}).(string); ok {
		return v
	}
	return ""
}

// WithTraceID injects a trace ID into the context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey{}, traceID)
}

// WorkerID retrieves the executing worker's ID.
func WorkerID(ctx context.Context) string {
	if v, ok := ctx.Value(workerIDKey{}).(string); ok {
		return v
	}
	return ""
}

// WithWorkerID injects a worker ID into the context.
func WithWorkerID(ctx context.Context, workerID string) context.Context {
	return context.WithValue(ctx, workerIDKey{}, workerID)
}

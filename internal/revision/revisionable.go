package revision

import "context"

// Revisionable is implemented by every entity type that keeps a revision
// history. The engine reads state only through these hooks.
type Revisionable interface {
	// RevisionRef returns the stable identity of the entity.
	RevisionRef() EntityRef
	// SnapshotData returns the full exportable state.
	SnapshotData() map[string]any
	// ExcludedFields lists top-level fields that are never tracked.
	ExcludedFields() []string
	// TrackedFields optionally restricts tracking to an allow-list; nil
	// tracks everything not excluded.
	TrackedFields() []string
}

type suppressKey struct{}

// SuppressCapture marks every save performed with the returned context as
// exempt from automatic capture. It is scoped to the call, never to the entity.
func SuppressCapture(ctx context.Context) context.Context {
	return context.WithValue(ctx, suppressKey{}, true)
}

// CaptureSuppressed reports whether ctx was derived from SuppressCapture.
func CaptureSuppressed(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	suppressed, _ := ctx.Value(suppressKey{}).(bool)
	return suppressed
}

type actorKey struct{}

// WithActor records who is performing the current operation.
func WithActor(ctx context.Context, actorID string) context.Context {
	if actorID == "" {
		return ctx
	}
	return context.WithValue(ctx, actorKey{}, actorID)
}

// ActorFromContext returns the acting user, or nil for system actions.
func ActorFromContext(ctx context.Context) *string {
	if ctx == nil {
		return nil
	}
	actor, ok := ctx.Value(actorKey{}).(string)
	if !ok || actor == "" {
		return nil
	}
	return &actor
}

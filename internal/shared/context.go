package shared

import "context"

// Actor identifies the caller of a mutating operation. It is used solely for
// audit stamping (created_by); authorization happens outside the engine.
type Actor struct {
	UserID int64
	SiteID int64
}

type actorContextKey struct{}

// ContextWithActor stores the actor in context.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the actor from context. The zero Actor is
// returned when none was attached.
func ActorFromContext(ctx context.Context) Actor {
	actor, _ := ctx.Value(actorContextKey{}).(Actor)
	return actor
}

package shared

import "context"

type actorContextKey struct{}

// ContextWithActor stores the acting principal in context. The presentation
// layer that authenticates users is out of scope; it is expected to set this
// before calling into the services.
func ContextWithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the acting principal, defaulting to "system".
func ActorFromContext(ctx context.Context) string {
	actor, _ := ctx.Value(actorContextKey{}).(string)
	if actor == "" {
		return "system"
	}
	return actor
}

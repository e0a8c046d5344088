package shared

import (
	"context"
	"net/http"
	"strings"
)

// ActorHeader names the operator performing a request. Authentication is out
// of scope, so the value is recorded as given.
const ActorHeader = "X-Actor"

// SystemActor is used when no actor is known.
const SystemActor = "system"

type actorContextKey struct{}

// ContextWithActor stores the acting operator in context.
func ContextWithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the actor from context.
func ActorFromContext(ctx context.Context) string {
	actor, _ := ctx.Value(actorContextKey{}).(string)
	if actor == "" {
		return SystemActor
	}
	return actor
}

// ActorMiddleware copies ActorHeader into the request context.
func ActorMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := strings.TrimSpace(r.Header.Get(ActorHeader))
		if len(actor) > 64 {
			actor = actor[:64]
		}
		if actor != "" {
			r = r.WithContext(ContextWithActor(r.Context(), actor))
		}
		next.ServeHTTP(w, r)
	})
}

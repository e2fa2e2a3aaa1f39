package shared

import (
	"context"
	"strings"
)

// ActorContext identifies who performs a workflow action. It is resolved once
// per request and passed explicitly into every service call.
type ActorContext struct {
	UserID      int64    `json:"userId"`
	Role        string   `json:"role"`
	Permissions []string `json:"permissions"`
}

// IsZero reports whether no actor was resolved.
func (a ActorContext) IsZero() bool {
	return a.UserID == 0
}

// Has reports whether the actor holds the permission.
func (a ActorContext) Has(permission string) bool {
	permission = strings.ToLower(strings.TrimSpace(permission))
	for _, p := range a.Permissions {
		if strings.ToLower(p) == permission {
			return true
		}
	}
	return false
}

type actorContextKey struct{}

// ContextWithActor stores the actor in context.
func ContextWithActor(ctx context.Context, actor ActorContext) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the actor from context.
func ActorFromContext(ctx context.Context) (ActorContext, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(ActorContext)
	return actor, ok && !actor.IsZero()
}

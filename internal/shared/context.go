package shared

import (
	"context"
	"fmt"
)

// Role is the access role assigned to a user.
type Role string

const (
	RoleAdmin      Role = "admin"
	RoleAccountant Role = "accountant"
	RoleStaff      Role = "staff"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleAccountant, RoleStaff:
		return true
	}
	return false
}

// Actor identifies the user invoking a command.
type Actor struct {
	UserID int64
	Name   string
	Role   Role
}

type actorContextKey struct{}

// ContextWithActor stores the acting user in context.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the acting user from context.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	return actor, ok && actor.UserID != 0
}

// RequireActor returns the acting user or PermissionDenied when the context carries none.
func RequireActor(ctx context.Context) (Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return Actor{}, fmt.Errorf("%w: no authenticated user", ErrPermissionDenied)
	}
	return actor, nil
}

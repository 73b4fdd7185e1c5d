// Package actor identifies the user or process performing an action.
//
// The gateway authenticates the caller and forwards identity headers; the
// service turns them into an Actor stored in the request context so every
// movement and delivery can record who performed it.
package actor

import (
	"context"
	"fmt"
)

// Roles known to the pharmacy.
const (
	RoleAdmin = "ADMIN"
	RoleTENS  = "TENS"
)

// SystemID is the actor ID used for work not triggered by a person.
const SystemID = "00000000-0000-0000-0000-000000000000"

// Actor represents the entity performing an action in the system.
type Actor struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// IsAdmin reports whether the actor may manage inventory and requests.
func (a *Actor) IsAdmin() bool {
	return a != nil && a.Role == RoleAdmin
}

// IsSystem returns true if the actor represents the system.
func (a *Actor) IsSystem() bool {
	return a == nil || a.ID == SystemID
}

// String returns a string representation of the actor for logging
func (a *Actor) String() string {
	if a == nil {
		return "system"
	}
	return fmt.Sprintf("%s <%s> [%s]", a.Name, a.Email, a.Role)
}

type contextKey string

const actorContextKey contextKey = "actor"

// FromContext returns the Actor in ctx, or nil when there is none.
func FromContext(ctx context.Context) *Actor {
	if ctx == nil {
		return nil
	}
	a, _ := ctx.Value(actorContextKey).(*Actor)
	return a
}

// WithActor returns a new context with the Actor attached.
func WithActor(ctx context.Context, a *Actor) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, actorContextKey, a)
}

// SystemActor returns the Actor used for background work.
func SystemActor() *Actor {
	return &Actor{
		ID:    SystemID,
		Name:  "System",
		Email: "system@farmacia.local",
		Role:  RoleAdmin,
	}
}

// UserCache is the locally cached copy of a user, synced from user events
// and used to show who recorded a movement.
type UserCache struct {
	UserID string `json:"user_id" db:"user_id"`
	Name   string `json:"name" db:"name"`
	Email  string `json:"email" db:"email"`
	Role   string `json:"role" db:"role"`
}

// ToActor converts a UserCache entry to an Actor.
func (uc *UserCache) ToActor() *Actor {
	if uc == nil {
		return nil
	}
	return &Actor{ID: uc.UserID, Name: uc.Name, Email: uc.Email, Role: uc.Role}
}

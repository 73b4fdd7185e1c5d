package actor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextRoundTrip(t *testing.T) {
	a := &Actor{ID: "u-1", Name: "Ana", Email: "ana@farmacia.local", Role: RoleTENS}
	ctx := WithActor(context.Background(), a)

	assert.Same(t, a, FromContext(ctx))
	assert.Nil(t, FromContext(context.Background()))
}

func TestActor_Roles(t *testing.T) {
	assert.True(t, (&Actor{Role: RoleAdmin}).IsAdmin())
	assert.False(t, (&Actor{Role: RoleTENS}).IsAdmin())

	var nilActor *Actor
	assert.False(t, nilActor.IsAdmin())
	assert.True(t, nilActor.IsSystem())
	assert.True(t, SystemActor().IsSystem())
	assert.Equal(t, "system", nilActor.String())
}

func TestUserCache_ToActor(t *testing.T) {
	uc := &UserCache{UserID: "u-2", Name: "Luis", Email: "luis@farmacia.local", Role: RoleAdmin}
	assert.Equal(t, &Actor{ID: "u-2", Name: "Luis", Email: "luis@farmacia.local", Role: RoleAdmin}, uc.ToActor())
}

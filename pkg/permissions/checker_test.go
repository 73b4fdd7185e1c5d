package permissions

import (
	"testing"

	"github.com/farmacia/farmacia-backend/pkg/actor"
	"github.com/stretchr/testify/assert"
)

func TestHasPermission(t *testing.T) {
	tests := []struct {
		name     string
		perms    []string
		required string
		want     bool
	}{
		{"empty requirement", nil, "", true},
		{"wildcard", []string{"*"}, RequestsDeliver, true},
		{"exact", []string{InventoryRead}, InventoryRead, true},
		{"resource wildcard", []string{"requests.*"}, RequestsDecide, true},
		{"resource wildcard does not leak", []string{"requests.*"}, InventoryWrite, false},
		{"missing", []string{InventoryRead}, InventoryWrite, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HasPermission(tt.perms, tt.required))
		})
	}
}

func TestAllowed(t *testing.T) {
	admin := &actor.Actor{ID: "a", Role: actor.RoleAdmin}
	tens := &actor.Actor{ID: "t", Role: "tens"}

	assert.True(t, Allowed(admin, MovementsExport))
	assert.True(t, Allowed(tens, RequestsCreate))
	assert.True(t, Allowed(tens, InventoryRead))
	assert.False(t, Allowed(tens, InventoryWrite))
	assert.False(t, Allowed(tens, RequestsDeliver))
	assert.False(t, Allowed(nil, InventoryRead))
	assert.False(t, Allowed(&actor.Actor{Role: "GUEST"}, InventoryRead))
}

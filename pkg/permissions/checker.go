// Package permissions maps roles to permission strings and checks them.
//
// Permission format:
//   - "*" grants everything
//   - "inventory.*" grants every action on a resource
//   - "inventory.read" grants one action
package permissions

import (
	"strings"

	"github.com/farmacia/farmacia-backend/pkg/actor"
)

// Permissions used by the HTTP surface.
const (
	InventoryRead   = "inventory.read"
	InventoryWrite  = "inventory.write"
	RequestsCreate  = "requests.create"
	RequestsRead    = "requests.read"
	RequestsDecide  = "requests.decide"
	RequestsDeliver = "requests.deliver"
	MovementsRead   = "movements.read"
	MovementsExport = "movements.export"
)

var rolePermissions = map[string][]string{
	actor.RoleAdmin: {"*"},
	actor.RoleTENS: {
		InventoryRead,
		RequestsCreate,
		RequestsRead,
		MovementsRead,
	},
}

// ForRole returns the permissions granted to role.
func ForRole(role string) []string {
	return rolePermissions[strings.ToUpper(role)]
}

// Allowed reports whether the actor's role grants the permission.
func Allowed(a *actor.Actor, required string) bool {
	if a == nil {
		return false
	}
	return HasPermission(ForRole(a.Role), required)
}

// HasPermission checks if the user's permissions include the required permission.
func HasPermission(userPerms []string, required string) bool {
	if required == "" {
		return true
	}

	for _, p := range userPerms {
		if p == "*" || p == required {
			return true
		}
		if strings.HasSuffix(p, ".*") {
			prefix := strings.TrimSuffix(p, ".*")
			if strings.HasPrefix(required, prefix+".") {
				return true
			}
		}
	}
	return false
}

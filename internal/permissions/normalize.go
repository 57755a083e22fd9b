package permissions

import "github.com/victorivanov/rolesync/internal/models"

// Normalize resolves a stored permission map into a Set. For each registry
// key the value is read from its canonical, camel, then plural spelling;
// the first spelling present wins and a missing key is false. Keys that do
// not belong to the registry are ignored.
func Normalize(m map[string]bool) Set {
	var s Set
	for i, sp := range spellings {
		v, ok := m[sp.canonical]
		if !ok {
			v, ok = m[sp.camel]
		}
		if !ok {
			v = m[sp.plural]
		}
		if v {
			s |= Set(1) << uint(i)
		}
	}
	return s
}

// NormalizeRole returns the permissions a role confers. The owner role
// confers everything regardless of its stored map.
func NormalizeRole(role *models.Role) Set {
	if role == nil {
		return 0
	}
	if role.IsOwnerRole {
		return All
	}
	return Normalize(role.Permissions)
}

// RoleBitsStale reports whether a role's cached permissionBits disagree with
// its permission map.
func RoleBitsStale(role *models.Role) bool {
	return role.PermissionBits != NormalizeRole(role).Bits()
}

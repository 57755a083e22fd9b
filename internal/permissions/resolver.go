package permissions

import "github.com/victorivanov/rolesync/internal/models"

// Resolution is a member's effective permission set together with its
// persisted encoding.
type Resolution struct {
	Set  Set
	Bits int64
}

// Map returns the complete boolean form of the resolution.
func (r Resolution) Map() map[string]bool { return r.Set.Map() }

func resolution(s Set) Resolution { return Resolution{Set: s, Bits: s.Bits()} }

// Resolve computes a member's effective permissions.
//  1. A member whose base role is owner gets everything.
//  2. Start with the normalized default role (nothing if there is none).
//  3. OR in every assigned role that still exists. Ids of deleted roles
//     are skipped.
//  4. Admins additionally get AdminOverride.
func Resolve(member *models.Member, roles []models.Role, defaultRole *models.Role) Resolution {
	if member == nil {
		return resolution(NormalizeRole(defaultRole))
	}
	if member.BaseRole == models.BaseRoleOwner {
		return resolution(All)
	}

	byID := make(map[string]*models.Role, len(roles))
	for i := range roles {
		byID[roles[i].ID] = &roles[i]
	}
	return ResolveIndexed(member, byID, defaultRole)
}

// ResolveIndexed is Resolve over a pre-built role index, for callers that
// resolve many members against one snapshot of a server's roles.
func ResolveIndexed(member *models.Member, roles map[string]*models.Role, defaultRole *models.Role) Resolution {
	if member.BaseRole == models.BaseRoleOwner {
		return resolution(All)
	}

	perms := NormalizeRole(defaultRole)
	for _, id := range member.RoleIDs {
		role, ok := roles[id]
		if !ok {
			continue
		}
		perms = perms.Union(NormalizeRole(role))
	}

	if member.BaseRole == models.BaseRoleAdmin {
		perms = perms.Add(AdminOverride)
	}
	return resolution(perms)
}

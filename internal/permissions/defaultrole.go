package permissions

import (
	"sort"
	"strings"

	"github.com/victorivanov/rolesync/internal/models"
)

// SelectDefaultRole picks the server's baseline role:
//  1. the role named by server.DefaultRoleID, if it still exists;
//  2. the first role flagged IsEveryoneRole;
//  3. the first role named "everyone" (case-insensitive, optional "@");
//  4. nil.
//
// Flag and name matches scan roles by position then id, so duplicates
// resolve the same way on every call. A nil result means no baseline
// capabilities, not an error.
func SelectDefaultRole(server *models.Server, roles []models.Role) *models.Role {
	if server != nil && server.DefaultRoleID != "" {
		for i := range roles {
			if roles[i].ID == server.DefaultRoleID {
				return &roles[i]
			}
		}
	}

	ordered := make([]*models.Role, len(roles))
	for i := range roles {
		ordered[i] = &roles[i]
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Position != ordered[j].Position {
			return ordered[i].Position < ordered[j].Position
		}
		return ordered[i].ID < ordered[j].ID
	})

	for _, r := range ordered {
		if r.IsEveryoneRole {
			return r
		}
	}
	for _, r := range ordered {
		if isEveryoneName(r.Name) {
			return r
		}
	}
	return nil
}

func isEveryoneName(name string) bool {
	name = strings.TrimPrefix(strings.TrimSpace(name), "@")
	return strings.EqualFold(name, "everyone")
}

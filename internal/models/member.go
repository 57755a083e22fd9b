package models

import "time"

// BaseRole is the legacy flat role of a member. It stays authoritative for
// owner and admin.
type BaseRole string

const (
	BaseRoleNone   BaseRole = ""
	BaseRoleOwner  BaseRole = "owner"
	BaseRoleAdmin  BaseRole = "admin"
	BaseRoleMember BaseRole = "member"
)

// Valid reports whether b is one of the known base roles or unset.
func (b BaseRole) Valid() bool {
	switch b {
	case BaseRoleNone, BaseRoleOwner, BaseRoleAdmin, BaseRoleMember:
		return true
	}
	return false
}

// Member is a server membership. Permissions and PermissionBits hold the
// last computed effective set; they are rewritten by recomputation and never
// inferred on read.
type Member struct {
	UID                   string          `json:"uid"`
	ServerID              string          `json:"serverId"`
	BaseRole              BaseRole        `json:"baseRole,omitempty"`
	RoleIDs               []string        `json:"roleIds"`
	Nickname              *string         `json:"nickname,omitempty"`
	JoinedAt              time.Time       `json:"joinedAt"`
	Permissions           map[string]bool `json:"permissions,omitempty"`
	PermissionBits        int64           `json:"permissionBits,string"`
	PermissionsComputedAt *time.Time      `json:"permissionsComputedAt,omitempty"`
}

// HasRole reports whether roleID is among the member's assigned roles.
func (m *Member) HasRole(roleID string) bool {
	for _, id := range m.RoleIDs {
		if id == roleID {
			return true
		}
	}
	return false
}

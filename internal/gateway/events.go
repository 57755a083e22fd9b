package gateway

import "time"

// Event names carried in the envelope's t field.
const (
	EventMemberPermissionsUpdate = "MEMBER_PERMISSIONS_UPDATE"
	EventGuildRoleCreate         = "GUILD_ROLE_CREATE"
	EventGuildRoleUpdate         = "GUILD_ROLE_UPDATE"
	EventGuildRoleDelete         = "GUILD_ROLE_DELETE"
	EventGuildMemberUpdate       = "GUILD_MEMBER_UPDATE"
	EventGuildMemberRemove       = "GUILD_MEMBER_REMOVE"
	EventPresenceUpdate          = "PRESENCE_UPDATE"
)

// Envelope is the wire format of every published event.
type Envelope struct {
	Event string `json:"t"`
	Data  any    `json:"d"`
}

// MemberPermissionsUpdateData is the payload for MEMBER_PERMISSIONS_UPDATE.
type MemberPermissionsUpdateData struct {
	ServerID       string          `json:"serverId"`
	UID            string          `json:"uid"`
	Permissions    map[string]bool `json:"permissions"`
	PermissionBits int64           `json:"permissionBits,string"`
	ComputedAt     time.Time       `json:"computedAt"`
}

// RoleDeleteData is the payload for GUILD_ROLE_DELETE.
type RoleDeleteData struct {
	ServerID string `json:"serverId"`
	RoleID   string `json:"roleId"`
}

// MemberRemoveData is the payload for GUILD_MEMBER_REMOVE.
type MemberRemoveData struct {
	ServerID string `json:"serverId"`
	UID      string `json:"uid"`
}

// PresenceUpdateData is the payload for PRESENCE_UPDATE.
type PresenceUpdateData struct {
	UID    string `json:"uid"`
	Status string `json:"status"`
}

package models

import "time"

// Role is a server role document. Permissions is the map as stored, which
// may be sparse or use legacy key spellings; PermissionBits is a cache of
// its normalized encoding.
type Role struct {
	ID               string          `json:"id"`
	ServerID         string          `json:"serverId"`
	Name             string          `json:"name"`
	Color            *int            `json:"color,omitempty"`
	Position         int             `json:"position"`
	Permissions      map[string]bool `json:"permissions"`
	PermissionBits   int64           `json:"permissionBits,string"`
	IsOwnerRole      bool            `json:"isOwnerRole"`
	IsEveryoneRole   bool            `json:"isEveryoneRole"`
	Mentionable      bool            `json:"mentionable"`
	ShowInMemberList bool            `json:"showInMemberList"`
	CreatedAt        time.Time       `json:"createdAt"`
}

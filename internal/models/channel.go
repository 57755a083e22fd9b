package models

// Channel carries the role allow-list that role deletion must prune.
type Channel struct {
	ID             string   `json:"id"`
	ServerID       string   `json:"serverId"`
	Name           string   `json:"name"`
	AllowedRoleIDs []string `json:"allowedRoleIds"`
}

package models

import "time"

// Server is a community server. DefaultRoleID is the explicit pointer to the
// baseline role; it may be empty or point at a deleted role.
type Server struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	OwnerID       string    `json:"ownerId"`
	DefaultRoleID string    `json:"defaultRoleId,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

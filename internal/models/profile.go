package models

import "time"

// Profile is the user document at users/{uid}. Every presence field is
// optional; a nil pointer means the field was never written.
type Profile struct {
	UID         string     `json:"uid"`
	DisplayName string     `json:"displayName"`
	Online      *bool      `json:"online,omitempty"`
	Away        *bool      `json:"away,omitempty"`
	Status      *string    `json:"status,omitempty"`
	LastActive  *time.Time `json:"lastActive,omitempty"`
	LastSeen    *time.Time `json:"lastSeen,omitempty"`
	UpdatedAt   *time.Time `json:"updatedAt,omitempty"`
}

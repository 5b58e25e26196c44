package domain

import "time"

// Identity is the authenticated user or a peer profile.
type Identity struct {
	ID             string     `json:"id" yaml:"id"`
	DisplayName    string     `json:"display_name" yaml:"display_name"`
	AvatarRef      string     `json:"avatar,omitempty" yaml:"avatar,omitempty"`
	PresenceStatus string     `json:"status,omitempty" yaml:"status,omitempty"`
	Online         bool       `json:"is_online" yaml:"is_online"`
	LastSeenAt     *time.Time `json:"last_seen,omitempty" yaml:"last_seen,omitempty"`
}

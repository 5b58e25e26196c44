package domain

import "time"

type Kind string

const (
	KindDirect Kind = "DIRECT"
	KindRoom   Kind = "ROOM"
)

// Conversation is either a direct thread keyed by the peer's identity id or
// a room keyed by a server-issued id with a join code.
type Conversation struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"name"`
	Kind        Kind      `json:"kind"`
	InviteCode  string    `json:"code,omitempty"`
	IsPrivate   bool      `json:"is_private,omitempty"`
	MemberCount int       `json:"member_count,omitempty"`
	CreatedBy   string    `json:"created_by,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

func (c Conversation) IsRoom() bool { return c.Kind == KindRoom }

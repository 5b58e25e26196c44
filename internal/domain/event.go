package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
)

type Table string

const (
	TableMessages    Table = "messages"
	TableMemberships Table = "room_members"
	TableRooms       Table = "chat_rooms"
)

// Event is a row change pushed by the realtime layer.
type Event struct {
	Type  EventType       `json:"eventType"`
	Table Table           `json:"table"`
	New   json.RawMessage `json:"new,omitempty"`
	Old   json.RawMessage `json:"old,omitempty"`
}

type Membership struct {
	ConversationID string    `json:"room_id"`
	UserID         string    `json:"user_id"`
	JoinedAt       time.Time `json:"joined_at"`
}

func NewMessageEvent(t EventType, m Message) Event {
	b, _ := json.Marshal(m)
	return Event{Type: t, Table: TableMessages, New: b}
}

func NewMembershipEvent(t EventType, m Membership) Event {
	b, _ := json.Marshal(m)
	ev := Event{Type: t, Table: TableMemberships}
	if t == EventDelete {
		ev.Old = b
	} else {
		ev.New = b
	}
	return ev
}

func (e Event) Message() (Message, error) {
	var m Message
	if e.Table != TableMessages || len(e.New) == 0 {
		return m, fmt.Errorf("%w: not a message row", ErrFatal)
	}
	if err := json.Unmarshal(e.New, &m); err != nil {
		return m, fmt.Errorf("%w: decode message: %v", ErrFatal, err)
	}
	return m, nil
}

func (e Event) Membership() (Membership, error) {
	var m Membership
	raw := e.New
	if e.Type == EventDelete {
		raw = e.Old
	}
	if e.Table != TableMemberships || len(raw) == 0 {
		return m, fmt.Errorf("%w: not a membership row", ErrFatal)
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		return m, fmt.Errorf("%w: decode membership: %v", ErrFatal, err)
	}
	return m, nil
}

// ConversationTopic names the feed scoped to one conversation's rows.
func ConversationTopic(conversationID string) string { return "conv:" + conversationID }

// MembershipTopic names the feed scoped to one identity's memberships.
func MembershipTopic(userID string) string { return "member:" + userID }

// DirectKey is the order-independent key of a direct thread between a and b.
func DirectKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + ":" + b
}

// TopicFor names the feed for conversation c as seen by userID. Direct
// threads are keyed by the pair so both peers share one topic.
func TopicFor(userID string, c Conversation) string {
	if c.Kind == KindDirect {
		return "dm:" + DirectKey(userID, c.ID)
	}
	return ConversationTopic(c.ID)
}

package domain

import (
	"fmt"
	"strings"
	"time"
)

// Status of a message. The numeric order is the rank used for monotonic
// advancement: PENDING < FAILED < SENT < DELIVERED < READ.
type Status int

const (
	StatusPending Status = iota
	StatusFailed
	StatusSent
	StatusDelivered
	StatusRead
)

var statusNames = map[Status]string{
	StatusPending:   "pending",
	StatusFailed:    "failed",
	StatusSent:      "sent",
	StatusDelivered: "delivered",
	StatusRead:      "read",
}

func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return fmt.Sprintf("status(%d)", int(s))
}

func ParseStatus(v string) (Status, error) {
	v = strings.ToLower(strings.TrimSpace(v))
	if v == "" {
		return StatusSent, nil
	}
	for s, n := range statusNames {
		if n == v {
			return s, nil
		}
	}
	return StatusPending, fmt.Errorf("%w: unknown status %q", ErrFatal, v)
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Status) UnmarshalText(b []byte) error {
	parsed, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Advance returns the higher ranked of s and next. A status never regresses.
func (s Status) Advance(next Status) Status {
	if next > s {
		return next
	}
	return s
}

type Message struct {
	ID             string    `json:"id"`
	ClientID       string    `json:"client_id,omitempty"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	Body           string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
	Status         Status    `json:"status"`
	// Provisional is set on entries created locally before the durable
	// store confirmed them.
	Provisional bool `json:"provisional,omitempty"`
}

// Less orders messages by (CreatedAt, ID).
func (m Message) Less(o Message) bool {
	if !m.CreatedAt.Equal(o.CreatedAt) {
		return m.CreatedAt.Before(o.CreatedAt)
	}
	return m.ID < o.ID
}

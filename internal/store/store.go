// Package store defines the backing-store contract the client consumes.
package store

import (
	"context"

	"github.com/fathima-sithara/chat-client/internal/domain"
)

type RoomInput struct {
	Name      string
	Code      string
	CreatedBy string
	IsPrivate bool
}

type Store interface {
	// ListConversations returns the identity's conversations in membership
	// insertion order.
	ListConversations(ctx context.Context, userID string) ([]domain.Conversation, error)
	GetConversation(ctx context.Context, userID, id string) (domain.Conversation, error)
	CreateRoom(ctx context.Context, in RoomInput) (domain.Conversation, error)
	FindRoomsByCode(ctx context.Context, code string) ([]domain.Conversation, error)
	IsMember(ctx context.Context, roomID, userID string) (bool, error)
	AddMember(ctx context.Context, roomID, userID string) error
	ListMembers(ctx context.Context, roomID string) ([]domain.Identity, error)
	// ListMessages returns the conversation history ascending by created_at.
	ListMessages(ctx context.Context, userID, conversationID string) ([]domain.Message, error)
	// InsertMessage persists m and returns the confirmed row.
	InsertMessage(ctx context.Context, m domain.Message) (domain.Message, error)
	MarkRead(ctx context.Context, conversationID string, ids []string) error
	GetProfile(ctx context.Context, id string) (domain.Identity, error)
}

// Publisher pushes row changes to a realtime topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, ev domain.Event) error
}

// Publishers fans a change out to every publisher and returns the first error.
type Publishers []Publisher

func (ps Publishers) Publish(ctx context.Context, topic string, ev domain.Event) error {
	var first error
	for _, p := range ps {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, topic, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}

package mongo

import (
	"time"

	"github.com/fathima-sithara/chat-client/internal/domain"
)

type roomDoc struct {
	ID        string    `bson:"_id"`
	Name      string    `bson:"name"`
	Code      string    `bson:"code"`
	IsPrivate bool      `bson:"is_private"`
	CreatedBy string    `bson:"created_by"`
	CreatedAt time.Time `bson:"created_at"`
}

func (d roomDoc) conversation(members int) domain.Conversation {
	return domain.Conversation{
		ID:          d.ID,
		DisplayName: d.Name,
		Kind:        domain.KindRoom,
		InviteCode:  d.Code,
		IsPrivate:   d.IsPrivate,
		MemberCount: members,
		CreatedBy:   d.CreatedBy,
		CreatedAt:   d.CreatedAt,
	}
}

type memberDoc struct {
	RoomID   string    `bson:"room_id"`
	UserID   string    `bson:"user_id"`
	JoinedAt time.Time `bson:"joined_at"`
}

func (d memberDoc) membership() domain.Membership {
	return domain.Membership{ConversationID: d.RoomID, UserID: d.UserID, JoinedAt: d.JoinedAt}
}

// messageDoc.Thread is the room id, or the direct key for direct threads.
type messageDoc struct {
	ID        string    `bson:"_id"`
	ClientID  string    `bson:"client_id,omitempty"`
	Thread    string    `bson:"thread"`
	Direct    bool      `bson:"direct"`
	SenderID  string    `bson:"sender_id"`
	Content   string    `bson:"content"`
	Status    string    `bson:"status"`
	CreatedAt time.Time `bson:"created_at"`
}

func (d messageDoc) topic() string {
	if d.Direct {
		return "dm:" + d.Thread
	}
	return domain.ConversationTopic(d.Thread)
}

// message renders the row as seen from conversationID.
func (d messageDoc) message(conversationID string) (domain.Message, error) {
	st, err := domain.ParseStatus(d.Status)
	if err != nil {
		return domain.Message{}, err
	}
	return domain.Message{
		ID:             d.ID,
		ClientID:       d.ClientID,
		ConversationID: conversationID,
		SenderID:       d.SenderID,
		Body:           d.Content,
		CreatedAt:      d.CreatedAt,
		Status:         st,
	}, nil
}

type profileDoc struct {
	ID       string     `bson:"_id"`
	Name     string     `bson:"name"`
	Avatar   string     `bson:"avatar,omitempty"`
	Status   string     `bson:"status,omitempty"`
	Online   bool       `bson:"online"`
	LastSeen *time.Time `bson:"last_seen,omitempty"`
}

func (d profileDoc) identity() domain.Identity {
	return domain.Identity{
		ID:             d.ID,
		DisplayName:    d.Name,
		AvatarRef:      d.Avatar,
		PresenceStatus: d.Status,
		Online:         d.Online,
		LastSeenAt:     d.LastSeen,
	}
}

type contactDoc struct {
	OwnerID string    `bson:"owner_id"`
	PeerID  string    `bson:"peer_id"`
	AddedAt time.Time `bson:"added_at"`
}

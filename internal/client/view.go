package client

import (
	"github.com/fathima-sithara/chat-client/internal/domain"
)

type State string

const (
	StateNoSelection State = "no_selection"
	StateLoading     State = "loading"
	StateEmpty       State = "empty"
	StateReady       State = "ready"
)

// View is what the message pane renders.
type View struct {
	State        State                `json:"state"`
	Conversation *domain.Conversation `json:"conversation,omitempty"`
	Messages     []domain.Message     `json:"messages"`
	Error        string               `json:"error,omitempty"`
}

func (c *Client) View() View {
	conv, ok := c.reg.Active()
	if !ok {
		return View{State: StateNoSelection, Messages: []domain.Message{}}
	}
	c.mu.Lock()
	loading, loadErr := c.loading, c.loadErr
	c.mu.Unlock()

	v := View{Conversation: &conv, Messages: c.ledger.Messages(conv.ID)}
	if loadErr != nil {
		v.Error = "Failed to load messages"
	}
	if v.Messages == nil {
		v.Messages = []domain.Message{}
	}
	switch {
	case loading:
		v.State = StateLoading
	case len(v.Messages) == 0:
		v.State = StateEmpty
	default:
		v.State = StateReady
	}
	return v
}

// Summary is a conversation list row.
type Summary struct {
	domain.Conversation
	Unread int             `json:"unread"`
	Last   *domain.Message `json:"last,omitempty"`
	Active bool            `json:"active"`
}

func (c *Client) Conversations() []Summary {
	uid := c.session.UserID()
	active, _ := c.reg.Active()
	list := c.reg.Visible()
	out := make([]Summary, 0, len(list))
	for _, conv := range list {
		s := Summary{Conversation: conv, Unread: c.ledger.Unread(conv.ID, uid), Active: conv.ID == active.ID}
		if last, ok := c.ledger.Last(conv.ID); ok {
			s.Last = &last
		}
		out = append(out, s)
	}
	return out
}

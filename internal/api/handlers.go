package api

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/fathima-sithara/chat-client/internal/client"
	"github.com/fathima-sithara/chat-client/internal/domain"
	"github.com/fathima-sithara/chat-client/internal/session"
	"github.com/fathima-sithara/chat-client/internal/timefmt"
)

const requestTimeout = 10 * time.Second

func fail(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrAuthRequired):
		code = fiber.StatusUnauthorized
	case errors.Is(err, domain.ErrNotFound):
		code = fiber.StatusNotFound
	case errors.Is(err, domain.ErrConflict):
		code = fiber.StatusConflict
	case errors.Is(err, domain.ErrInvalidInput):
		code = fiber.StatusBadRequest
	case errors.Is(err, domain.ErrTransient):
		code = fiber.StatusServiceUnavailable
	}
	return c.Status(code).JSON(fiber.Map{"error": domain.UserMessage(err), "detail": err.Error()})
}

func ok(c *fiber.Ctx, data any) error {
	return c.JSON(fiber.Map{"status": "ok", "data": data})
}

func withTimeout(c *fiber.Ctx) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Context(), requestTimeout)
}

func (s *Server) getSession(c *fiber.Ctx) error {
	id, signedIn := s.client.Identity()
	if !signedIn {
		return fail(c, domain.ErrAuthRequired)
	}
	return ok(c, id)
}

func (s *Server) signIn(c *fiber.Ctx) error {
	var id domain.Identity
	if hdr := c.Get(fiber.HeaderAuthorization); hdr != "" && s.tokens != nil {
		raw, err := session.ParseBearerToken(hdr)
		if err != nil {
			return fail(c, errors.Join(domain.ErrAuthRequired, err))
		}
		if id, err = s.tokens.Identity(raw); err != nil {
			return fail(c, err)
		}
	} else {
		var req struct {
			ID     string `json:"id"`
			Name   string `json:"name"`
			Avatar string `json:"avatar"`
		}
		if err := c.BodyParser(&req); err != nil {
			return fail(c, domain.ErrInvalidInput)
		}
		id = domain.Identity{ID: req.ID, DisplayName: req.Name, AvatarRef: req.Avatar}
	}
	if err := s.client.SignIn(id); err != nil {
		return fail(c, err)
	}
	current, _ := s.client.Identity()
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"status": "ok", "data": current})
}

func (s *Server) signOut(c *fiber.Ctx) error {
	if err := s.client.SignOut(); err != nil {
		return fail(c, err)
	}
	return ok(c, nil)
}

type conversationView struct {
	client.Summary
	LastTime string `json:"last_time,omitempty"`
}

func (s *Server) listConversations(c *fiber.Ctx) error {
	now := time.Now()
	rows := s.client.Conversations()
	out := make([]conversationView, 0, len(rows))
	for _, r := range rows {
		v := conversationView{Summary: r}
		if r.Last != nil {
			v.LastTime = timefmt.MessageTime(r.Last.CreatedAt, now)
		}
		out = append(out, v)
	}
	return ok(c, out)
}

func (s *Server) refresh(c *fiber.Ctx) error {
	ctx, cancel := withTimeout(c)
	defer cancel()
	if _, err := s.client.Refresh(ctx); err != nil {
		return fail(c, err)
	}
	return s.listConversations(c)
}

func (s *Server) createRoom(c *fiber.Ctx) error {
	var req struct {
		Name      string `json:"name"`
		IsPrivate bool   `json:"is_private"`
	}
	if err := c.BodyParser(&req); err != nil {
		return fail(c, domain.ErrInvalidInput)
	}
	ctx, cancel := withTimeout(c)
	defer cancel()
	room, err := s.client.CreateRoom(ctx, req.Name, req.IsPrivate)
	if err != nil {
		return fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"status": "ok", "data": room})
}

func (s *Server) joinRoom(c *fiber.Ctx) error {
	var req struct {
		Code string `json:"code"`
	}
	if err := c.BodyParser(&req); err != nil {
		return fail(c, domain.ErrInvalidInput)
	}
	ctx, cancel := withTimeout(c)
	defer cancel()
	joined, err := s.client.JoinByCode(ctx, req.Code)
	if err != nil {
		return fail(c, err)
	}
	active, _ := s.client.Active()
	return ok(c, fiber.Map{"joined": joined, "conversation": active})
}

func (s *Server) selectConversation(c *fiber.Ctx) error {
	if err := s.client.Select(c.Params("id")); err != nil {
		return fail(c, err)
	}
	return s.view(c)
}

func (s *Server) deselect(c *fiber.Ctx) error {
	s.client.Deselect()
	return s.view(c)
}

type messageView struct {
	domain.Message
	Time     string `json:"time"`
	Detailed string `json:"detailed_time"`
}

type paneView struct {
	State        client.State         `json:"state"`
	Conversation *domain.Conversation `json:"conversation,omitempty"`
	Messages     []messageView        `json:"messages"`
	Error        string               `json:"error,omitempty"`
}

func render(v client.View, now time.Time) paneView {
	out := paneView{State: v.State, Conversation: v.Conversation, Error: v.Error, Messages: make([]messageView, 0, len(v.Messages))}
	for _, m := range v.Messages {
		out.Messages = append(out.Messages, messageView{Message: m, Time: timefmt.MessageTime(m.CreatedAt, now), Detailed: timefmt.DetailedTime(m.CreatedAt)})
	}
	return out
}

func (s *Server) view(c *fiber.Ctx) error {
	return ok(c, render(s.client.View(), time.Now()))
}

func (s *Server) notices(c *fiber.Ctx) error {
	return ok(c, s.client.Notices())
}

func (s *Server) sendMessage(c *fiber.Ctx) error {
	var req struct {
		Content string `json:"content"`
	}
	if err := c.BodyParser(&req); err != nil {
		return fail(c, domain.ErrInvalidInput)
	}
	if strings.TrimSpace(req.Content) == "" {
		return fail(c, domain.ErrInvalidInput)
	}
	if _, signedIn := s.client.Identity(); !signedIn {
		return fail(c, domain.ErrAuthRequired)
	}
	m, sent := s.client.Send(req.Content)
	if !sent {
		return fail(c, fmt.Errorf("no conversation selected: %w", domain.ErrNotFound))
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "ok", "data": m})
}

func (s *Server) retryMessage(c *fiber.Ctx) error {
	if err := s.client.Retry(c.Params("id")); err != nil {
		return fail(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "ok"})
}

type memberView struct {
	domain.Identity
	Presence string `json:"presence"`
}

func (s *Server) members(c *fiber.Ctx) error {
	ctx, cancel := withTimeout(c)
	defer cancel()
	members, err := s.client.Members(ctx)
	if err != nil {
		return fail(c, err)
	}
	now := time.Now()
	out := make([]memberView, 0, len(members))
	for _, m := range members {
		out = append(out, memberView{Identity: m, Presence: timefmt.LastSeen(m, now)})
	}
	return ok(c, out)
}

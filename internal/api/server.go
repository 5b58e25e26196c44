package api

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/fathima-sithara/chat-client/internal/client"
	"github.com/fathima-sithara/chat-client/internal/logger"
	"github.com/fathima-sithara/chat-client/internal/metrics"
	"github.com/fathima-sithara/chat-client/internal/session"
)

type Server struct {
	client *client.Client
	tokens *session.TokenParser
	log    *zap.Logger
}

// NewServer exposes the client state to a local UI. tokens may be nil, in
// which case sign-in only accepts a plain identity.
func NewServer(c *client.Client, tokens *session.TokenParser, log *zap.Logger) *fiber.App {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Use(recover.New())
	s := &Server{client: c, tokens: tokens, log: logger.OrNop(log).Named("api")}
	app.Use(s.requestLog)

	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	api := app.Group("/v1")
	api.Get("/health", func(c *fiber.Ctx) error { return c.JSON(fiber.Map{"status": "ok"}) })

	api.Get("/session", s.getSession)
	api.Post("/session", s.signIn)
	api.Delete("/session", s.signOut)

	api.Get("/conversations", s.listConversations)
	api.Post("/conversations", s.createRoom)
	api.Post("/conversations/refresh", s.refresh)
	api.Post("/conversations/join", s.joinRoom)
	api.Post("/conversations/:id/select", s.selectConversation)
	api.Delete("/selection", s.deselect)

	api.Get("/view", s.view)
	api.Get("/notices", s.notices)
	api.Post("/messages", s.sendMessage)
	api.Post("/messages/:id/retry", s.retryMessage)
	api.Get("/members", s.members)

	api.Get("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	api.Get("/ws", websocket.New(s.viewStream))

	return app
}

func (s *Server) requestLog(c *fiber.Ctx) error {
	err := c.Next()
	s.log.Debug("request",
		zap.String("method", c.Method()),
		zap.String("path", c.Path()),
		zap.Int("status", c.Response().StatusCode()),
	)
	return err
}

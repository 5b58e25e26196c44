package api

import (
	"time"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/fathima-sithara/chat-client/internal/metrics"
)

const (
	pingEvery = 30 * time.Second
	writeWait = 10 * time.Second
	readWait  = 60 * time.Second
)

// viewStream pushes the rendered pane on connect and after every change.
func (s *Server) viewStream(conn *websocket.Conn) {
	metrics.ViewClients.Inc()
	defer metrics.ViewClients.Dec()

	wake := make(chan struct{}, 1)
	stop := s.client.Observe(func() {
		select {
		case wake <- struct{}{}:
		default:
		}
	})
	defer stop()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(1024)
		_ = conn.SetReadDeadline(time.Now().Add(readWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(readWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingEvery)
	defer ticker.Stop()

	push := func() bool {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(render(s.client.View(), time.Now())); err != nil {
			s.log.Debug("view push failed", zap.Error(err))
			return false
		}
		return true
	}
	if !push() {
		return
	}
	for {
		select {
		case <-closed:
			return
		case <-wake:
			if !push() {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/fathima-sithara/chat-client/internal/client"
	"github.com/fathima-sithara/chat-client/internal/realtime"
	"github.com/fathima-sithara/chat-client/internal/session"
	"github.com/fathima-sithara/chat-client/internal/store/memory"
)

const secret = "test-secret"

func newApp(t *testing.T) (*fiber.App, *memory.Store) {
	t.Helper()
	feed := realtime.NewMemoryFeed()
	st := memory.New(memory.WithPublisher(feed))
	c := client.New(session.New(nil, nil), st, feed, client.Config{}, nil)
	t.Cleanup(c.Stop)
	return NewServer(c, session.NewTokenParser(secret), nil), st
}

type envelope struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
	Error  string          `json:"error"`
}

func call(t *testing.T, app *fiber.App, method, path string, body any, headers ...string) (int, envelope) {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env envelope
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &env))
	}
	return resp.StatusCode, env
}

func TestHealth(t *testing.T) {
	app, _ := newApp(t)
	code, env := call(t, app, http.MethodGet, "/v1/health", nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "ok", env.Status)
}

func TestRoomFlow(t *testing.T) {
	app, _ := newApp(t)

	code, _ := call(t, app, http.MethodPost, "/v1/conversations", map[string]any{"name": "General"})
	require.Equal(t, http.StatusUnauthorized, code)

	code, _ = call(t, app, http.MethodPost, "/v1/session", map[string]string{"id": "alice", "name": "Alice"})
	require.Equal(t, http.StatusCreated, code)

	code, env := call(t, app, http.MethodGet, "/v1/view", nil)
	require.Equal(t, http.StatusOK, code)
	var pane paneView
	require.NoError(t, json.Unmarshal(env.Data, &pane))
	require.Equal(t, client.StateNoSelection, pane.State)

	code, env = call(t, app, http.MethodPost, "/v1/conversations", map[string]any{"name": "General"})
	require.Equal(t, http.StatusCreated, code)
	var room struct {
		ID   string `json:"id"`
		Code string `json:"code"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &room))
	require.Len(t, room.Code, 6)

	code, _ = call(t, app, http.MethodPost, "/v1/messages", map[string]string{"content": "   "})
	require.Equal(t, http.StatusBadRequest, code)
	code, _ = call(t, app, http.MethodPost, "/v1/messages", map[string]string{"content": "hello"})
	require.Equal(t, http.StatusAccepted, code)

	require.Eventually(t, func() bool {
		_, env := call(t, app, http.MethodGet, "/v1/view", nil)
		var pane paneView
		if json.Unmarshal(env.Data, &pane) != nil {
			return false
		}
		return pane.State == client.StateReady && len(pane.Messages) == 1 && pane.Messages[0].Status.String() == "sent"
	}, 2*time.Second, 10*time.Millisecond)

	code, env = call(t, app, http.MethodGet, "/v1/members", nil)
	require.Equal(t, http.StatusOK, code)
	var members []memberView
	require.NoError(t, json.Unmarshal(env.Data, &members))
	require.Len(t, members, 1)

	code, _ = call(t, app, http.MethodPost, "/v1/conversations/join", map[string]string{"code": "NOPE00"})
	require.Equal(t, http.StatusNotFound, code)

	code, _ = call(t, app, http.MethodPost, "/v1/conversations/missing/select", nil)
	require.Equal(t, http.StatusNotFound, code)

	code, _ = call(t, app, http.MethodDelete, "/v1/session", nil)
	require.Equal(t, http.StatusOK, code)
	code, _ = call(t, app, http.MethodGet, "/v1/session", nil)
	require.Equal(t, http.StatusUnauthorized, code)
}

func TestSendNeedsSelection(t *testing.T) {
	app, _ := newApp(t)

	code, _ := call(t, app, http.MethodPost, "/v1/messages", map[string]string{"content": "hello"})
	require.Equal(t, http.StatusUnauthorized, code)

	code, _ = call(t, app, http.MethodPost, "/v1/session", map[string]string{"id": "alice"})
	require.Equal(t, http.StatusCreated, code)
	code, _ = call(t, app, http.MethodPost, "/v1/messages", map[string]string{"content": "hello"})
	require.Equal(t, http.StatusNotFound, code)
}

func TestSignInWithToken(t *testing.T) {
	app, _ := newApp(t)
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, session.Claims{
		Username:         "Bob",
		RegisteredClaims: jwt.RegisteredClaims{Subject: "bob", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	}).SignedString([]byte(secret))
	require.NoError(t, err)

	code, env := call(t, app, http.MethodPost, "/v1/session", nil, "Authorization", "Bearer "+tok)
	require.Equal(t, http.StatusCreated, code)
	require.Contains(t, string(env.Data), `"bob"`)

	code, _ = call(t, app, http.MethodPost, "/v1/session", nil, "Authorization", "Bearer garbage")
	require.Equal(t, http.StatusUnauthorized, code)
}

func TestDirectConversationsListed(t *testing.T) {
	app, st := newApp(t)
	st.SeedDemo("carol")
	code, _ := call(t, app, http.MethodPost, "/v1/session", map[string]string{"id": "carol"})
	require.Equal(t, http.StatusCreated, code)

	code, env := call(t, app, http.MethodGet, "/v1/conversations", nil)
	require.Equal(t, http.StatusOK, code)
	var rows []conversationView
	require.NoError(t, json.Unmarshal(env.Data, &rows))
	require.Len(t, rows, 5)

	code, _ = call(t, app, http.MethodPost, "/v1/conversations/user3/select", nil)
	require.Equal(t, http.StatusOK, code)
	code, env = call(t, app, http.MethodGet, "/v1/members", nil)
	require.Equal(t, http.StatusOK, code)
	var members []memberView
	require.NoError(t, json.Unmarshal(env.Data, &members))
	require.Len(t, members, 1)
	require.Contains(t, members[0].Presence, "Last seen")
}

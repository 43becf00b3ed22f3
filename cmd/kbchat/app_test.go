package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"kbchat/internal/api"
	"kbchat/internal/config"
)

func TestApp_LoginChatFlow(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	mux := http.NewServeMux()
	mux.HandleFunc("POST /token/", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body["username"] != "alice" || body["password"] != "secret123" {
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{"detail": "No active account found"})
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"access": "A1", "refresh": "R1"})
	})
	mux.HandleFunc("GET /auth/me/", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer A1", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(api.User{ID: 1, Username: "alice", Email: "a@x.com"})
	})
	mux.HandleFunc("POST /chat/", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(api.ChatResponse{Response: "Hello Alice.", SessionID: 42})
	})
	mux.HandleFunc("GET /sessions/", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]api.ChatSession{{ID: 42, Title: "hello", MessageCount: 2}})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	cfg := config.Default()
	cfg.Server.BaseURL = srv.URL

	a, err := newApp(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(a.docs.Close)

	ctx := context.Background()
	require.NoError(t, a.session.Login(ctx, "alice", "secret123"))

	user, ok := a.session.Current()
	require.True(t, ok)
	assert.Equal(t, "alice", user.Username)

	creds, ok := a.store.Get()
	require.True(t, ok)
	assert.Equal(t, "A1", creds.AccessToken)
	assert.Equal(t, "R1", creds.RefreshToken)

	require.NoError(t, a.chat.Send(ctx, "hello"))

	id, ok := a.chat.CurrentID()
	require.True(t, ok)
	assert.Equal(t, int64(42), id)

	messages := a.chat.Messages()
	require.Len(t, messages, 2)
	assert.Equal(t, "hello", messages[0].Content)
	assert.Equal(t, "Hello Alice.", messages[1].Content)

	sessions := a.chat.Sessions()
	require.Len(t, sessions, 1)
	assert.Equal(t, int64(42), sessions[0].ID)
}

func TestTruncate_RuneSafe(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 40))
	assert.Equal(t, "0123456...", truncate("0123456789abcdef", 10))

	got := truncate("ααββγγδδεεζζηηθθ", 10)
	assert.True(t, utf8.ValidString(got), "truncation must not split a rune")
	assert.Equal(t, "ααββγγδ...", got)
}

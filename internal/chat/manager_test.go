package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kbchat/internal/api"
	"kbchat/internal/auth"
)

func newManager(t *testing.T, handler http.Handler) *Manager {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	store := auth.NewStoreAt(filepath.Join(t.TempDir(), "credentials.json"))
	require.NoError(t, store.Set(auth.Credentials{AccessToken: "A1", RefreshToken: "R1"}))
	return NewManager(api.NewClient(srv.URL, store), nil)
}

func TestManager_StaleSelectIsRejected(t *testing.T) {
	sessionOne := []api.Message{{ID: "1-1", Role: api.RoleUser, Content: "from session one"}}
	sessionTwo := []api.Message{{ID: "2-1", Role: api.RoleUser, Content: "from session two"}}

	releaseOne := make(chan struct{})
	mux := http.NewServeMux()
	mux.HandleFunc("/sessions/1/messages/", func(w http.ResponseWriter, r *http.Request) {
		<-releaseOne // session 1's fetch resolves only after session 2's
		json.NewEncoder(w).Encode(sessionOne)
	})
	mux.HandleFunc("/sessions/2/messages/", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(sessionTwo)
	})
	m := newManager(t, mux)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, m.Select(context.Background(), 1))
	}()

	// Let Select(1) reach the server before issuing Select(2).
	require.Eventually(t, func() bool {
		id, ok := m.CurrentID()
		return ok && id == 1
	}, time.Second, time.Millisecond)

	require.NoError(t, m.Select(context.Background(), 2))
	close(releaseOne)
	wg.Wait()

	id, ok := m.CurrentID()
	require.True(t, ok)
	assert.Equal(t, int64(2), id)

	messages := m.Messages()
	require.Len(t, messages, 1)
	assert.Equal(t, "from session two", messages[0].Content, "late fetch must not overwrite the newer selection")
	assert.False(t, m.Loading(), "a superseded fetch still settles the loading state")
}

func TestManager_SupersededSendSettlesQuietly(t *testing.T) {
	release := make(chan struct{})
	mux := http.NewServeMux()
	mux.HandleFunc("/chat/", func(w http.ResponseWriter, r *http.Request) {
		<-release // reply lands only after the user has moved on
		json.NewEncoder(w).Encode(api.ChatResponse{Response: "late reply", SessionID: 1})
	})
	mux.HandleFunc("/sessions/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(api.ChatSession{ID: 8, Title: "New chat"})
			return
		}
		json.NewEncoder(w).Encode([]api.ChatSession{{ID: 8, Title: "New chat"}})
	})
	m := newManager(t, mux)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, m.Send(context.Background(), "hello"))
	}()

	require.Eventually(t, m.Loading, time.Second, time.Millisecond)

	_, err := m.CreateNew(context.Background())
	require.NoError(t, err)

	close(release)
	wg.Wait()

	assert.Empty(t, m.Messages(), "the dropped reply must not land in the new session's transcript")
	assert.False(t, m.Loading(), "nothing is in flight once the superseded send settles")

	id, ok := m.CurrentID()
	require.True(t, ok)
	assert.Equal(t, int64(8), id)
}

func TestManager_SendOptimisticDurability(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/chat/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"detail": "model backend down"})
	})
	m := newManager(t, mux)

	err := m.Send(context.Background(), "hello")
	require.Error(t, err)
	assert.Error(t, m.Err())

	messages := m.Messages()
	require.Len(t, messages, 2)
	assert.Equal(t, api.RoleUser, messages[0].Role)
	assert.Equal(t, "hello", messages[0].Content, "the typed message survives the failure")
	assert.Equal(t, api.RoleAssistant, messages[1].Role)
	assert.Contains(t, messages[1].Content, "model backend down")

	m.DismissErr()
	assert.NoError(t, m.Err())
}

func TestManager_SendAdoptsNewSession(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/chat/", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Message   string `json:"message"`
			SessionID *int64 `json:"session_id"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Nil(t, body.SessionID, "first send must omit the session id")

		page := 3
		json.NewEncoder(w).Encode(api.ChatResponse{
			Response:  "Doc 5 covers quarterly results.",
			SessionID: 42,
			Citations: []api.Citation{{Content: "Q3 revenue...", Metadata: api.CitationMetadata{Source: "doc5.pdf", Page: &page}}},
		})
	})
	mux.HandleFunc("/sessions/", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]api.ChatSession{{ID: 42, Title: "What is in doc 5?", MessageCount: 2}})
	})
	m := newManager(t, mux)

	_, ok := m.CurrentID()
	require.False(t, ok)

	require.NoError(t, m.Send(context.Background(), "What is in doc 5?"))

	id, ok := m.CurrentID()
	require.True(t, ok)
	assert.Equal(t, int64(42), id)

	messages := m.Messages()
	require.Len(t, messages, 2)
	assert.Equal(t, api.RoleUser, messages[0].Role)
	assert.Equal(t, api.RoleAssistant, messages[1].Role)
	require.Len(t, messages[1].Citations, 1)
	assert.Equal(t, "doc5.pdf", messages[1].Citations[0].Metadata.Source)

	sessions := m.Sessions()
	require.Len(t, sessions, 1)
	assert.Equal(t, int64(42), sessions[0].ID, "the implicitly created thread shows up in the list")
}

func TestManager_SendReusesCurrentSession(t *testing.T) {
	var gotSessionID atomic.Int64
	mux := http.NewServeMux()
	mux.HandleFunc("/sessions/7/messages/", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]api.Message{})
	})
	mux.HandleFunc("/chat/", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			SessionID *int64 `json:"session_id"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.NotNil(t, body.SessionID)
		gotSessionID.Store(*body.SessionID)
		json.NewEncoder(w).Encode(api.ChatResponse{Response: "ok", SessionID: *body.SessionID})
	})
	m := newManager(t, mux)

	require.NoError(t, m.Select(context.Background(), 7))
	require.NoError(t, m.Send(context.Background(), "follow-up"))
	assert.Equal(t, int64(7), gotSessionID.Load())
}

func TestManager_DeleteCurrentSessionClearsState(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/sessions/9/messages/", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]api.Message{{ID: "m1", Role: api.RoleUser, Content: "hi"}})
	})
	mux.HandleFunc("/sessions/9/", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/sessions/", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]api.ChatSession{})
	})
	m := newManager(t, mux)

	require.NoError(t, m.Select(context.Background(), 9))
	require.NotEmpty(t, m.Messages())

	require.NoError(t, m.Delete(context.Background(), 9))

	_, ok := m.CurrentID()
	assert.False(t, ok)
	assert.Empty(t, m.Messages())
	assert.Empty(t, m.Sessions())
}

func TestManager_DeleteOtherSessionKeepsTranscript(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/sessions/9/messages/", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]api.Message{{ID: "m1", Role: api.RoleUser, Content: "hi"}})
	})
	mux.HandleFunc("/sessions/3/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/sessions/", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]api.ChatSession{{ID: 9}})
	})
	m := newManager(t, mux)

	require.NoError(t, m.Select(context.Background(), 9))
	require.NoError(t, m.Delete(context.Background(), 3))

	id, ok := m.CurrentID()
	require.True(t, ok)
	assert.Equal(t, int64(9), id)
	assert.Len(t, m.Messages(), 1)
}

func TestManager_ClearMessagesWithoutSessionIsNoop(t *testing.T) {
	var hits atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	})
	m := newManager(t, mux)

	require.NoError(t, m.ClearMessages(context.Background()))
	assert.Equal(t, int32(0), hits.Load(), "no server call without an active session")
}

func TestManager_ClearMessagesEmptiesTranscript(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/sessions/4/messages/", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]api.Message{{ID: "m1"}, {ID: "m2"}})
	})
	mux.HandleFunc("/sessions/4/clear/", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(http.StatusNoContent)
	})
	m := newManager(t, mux)

	require.NoError(t, m.Select(context.Background(), 4))
	require.Len(t, m.Messages(), 2)

	require.NoError(t, m.ClearMessages(context.Background()))
	assert.Empty(t, m.Messages())

	id, ok := m.CurrentID()
	require.True(t, ok)
	assert.Equal(t, int64(4), id, "clearing keeps the session active")
}

func TestManager_CreateNewBecomesCurrent(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/sessions/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(api.ChatSession{ID: 11, Title: "New chat"})
			return
		}
		json.NewEncoder(w).Encode([]api.ChatSession{{ID: 11, Title: "New chat"}})
	})
	m := newManager(t, mux)

	session, err := m.CreateNew(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(11), session.ID)

	id, ok := m.CurrentID()
	require.True(t, ok)
	assert.Equal(t, int64(11), id)
	assert.Empty(t, m.Messages())
	assert.Len(t, m.Sessions(), 1)
}

func TestManager_ReselectPaintsCachedTranscript(t *testing.T) {
	transcript := []api.Message{{ID: "m1", Role: api.RoleUser, Content: "cached"}}

	var calls atomic.Int32
	block := make(chan struct{})
	mux := http.NewServeMux()
	mux.HandleFunc("/sessions/5/messages/", func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) > 1 {
			<-block // second fetch is slow; the cache should cover the gap
		}
		json.NewEncoder(w).Encode(transcript)
	})
	mux.HandleFunc("/sessions/6/messages/", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]api.Message{})
	})
	m := newManager(t, mux)

	require.NoError(t, m.Select(context.Background(), 5))
	require.NoError(t, m.Select(context.Background(), 6))
	require.Empty(t, m.Messages())

	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.NoError(t, m.Select(context.Background(), 5))
	}()

	require.Eventually(t, func() bool {
		msgs := m.Messages()
		return len(msgs) == 1 && msgs[0].Content == "cached"
	}, time.Second, time.Millisecond, "cached transcript paints before the fetch resolves")

	close(block)
	<-done
}

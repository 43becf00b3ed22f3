package chat

import (
	"context"
	"fmt"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"kbchat/internal/api"
)

const transcriptTTL = 30 * time.Second

// Manager reconciles local conversation state against the server. The
// session list is replaced wholesale from the server; the transcript is an
// event log guarded by a generation counter so stale in-flight fetches can
// never clobber a later selection.
type Manager struct {
	client *api.Client
	logger *zap.Logger

	// Recently fetched transcripts, so re-selecting a session paints
	// instantly while the authoritative fetch is in flight.
	transcripts *gocache.Cache

	mu        sync.Mutex
	sessions  []api.ChatSession
	currentID *int64
	log       MessageLog
	gen       uint64
	inflight  int
	lastErr   error
}

// NewManager creates an empty chat manager.
func NewManager(client *api.Client, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		client: client,
		logger: logger,
		// Cleanup interval 0 runs no janitor goroutine; Get enforces expiry.
		transcripts: gocache.New(transcriptTTL, 0),
	}
}

// FetchSessions replaces the session list from the server.
func (m *Manager) FetchSessions(ctx context.Context) error {
	sessions, err := m.client.ListSessions(ctx)
	if err != nil {
		m.setErr(err)
		return err
	}
	m.mu.Lock()
	m.sessions = sessions
	m.mu.Unlock()
	return nil
}

// Sessions returns a snapshot of the known session list.
func (m *Manager) Sessions() []api.ChatSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]api.ChatSession, len(m.sessions))
	copy(out, m.sessions)
	return out
}

// CurrentID returns the active session id, if any.
func (m *Manager) CurrentID() (int64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.currentID == nil {
		return 0, false
	}
	return *m.currentID, true
}

// Messages returns a snapshot of the active transcript.
func (m *Manager) Messages() []api.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]api.Message, len(m.log))
	copy(out, m.log)
	return out
}

// Select makes id the active session and loads its transcript. The last
// issued Select wins: a response is applied only while its generation still
// matches, so out-of-order arrivals cannot overwrite a later selection.
func (m *Manager) Select(ctx context.Context, id int64) error {
	m.mu.Lock()
	m.gen++
	gen := m.gen
	m.currentID = &id
	m.inflight++
	if cached, ok := m.transcripts.Get(transcriptKey(id)); ok {
		m.log = Apply(m.log, Event{Kind: EventReplaceAll, Messages: cached.([]api.Message)})
	} else {
		m.log = Apply(m.log, Event{Kind: EventClear})
	}
	m.mu.Unlock()

	messages, err := m.client.SessionMessages(ctx, id)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.inflight--
	if gen != m.gen {
		// A later selection (or teardown) superseded this fetch.
		m.logger.Debug("dropping stale session fetch", zap.Int64("session_id", id))
		return nil
	}
	if err != nil {
		m.lastErr = err
		return err
	}
	m.log = Apply(m.log, Event{Kind: EventReplaceAll, Messages: messages})
	m.transcripts.Set(transcriptKey(id), messages, gocache.DefaultExpiration)
	return nil
}

// CreateNew creates a server-side session, makes it active with an empty
// transcript and refreshes the session list.
func (m *Manager) CreateNew(ctx context.Context) (*api.ChatSession, error) {
	session, err := m.client.CreateSession(ctx, "")
	if err != nil {
		m.setErr(err)
		return nil, err
	}

	m.mu.Lock()
	m.gen++
	id := session.ID
	m.currentID = &id
	m.log = Apply(m.log, Event{Kind: EventClear})
	m.mu.Unlock()

	if err := m.FetchSessions(ctx); err != nil {
		return session, err
	}
	return session, nil
}

// Delete removes a session server-side. Deleting the active session clears
// the current id and transcript. The list is refreshed either way.
func (m *Manager) Delete(ctx context.Context, id int64) error {
	if err := m.client.DeleteSession(ctx, id); err != nil {
		m.setErr(err)
		return err
	}

	m.mu.Lock()
	if m.currentID != nil && *m.currentID == id {
		m.gen++
		m.currentID = nil
		m.log = Apply(m.log, Event{Kind: EventClear})
	}
	m.mu.Unlock()
	m.transcripts.Delete(transcriptKey(id))

	return m.FetchSessions(ctx)
}

// ClearMessages clears the active session server-side, then locally. No-op
// without an active session.
func (m *Manager) ClearMessages(ctx context.Context) error {
	m.mu.Lock()
	if m.currentID == nil {
		m.mu.Unlock()
		return nil
	}
	id := *m.currentID
	m.mu.Unlock()

	if err := m.client.ClearSession(ctx, id); err != nil {
		m.setErr(err)
		return err
	}

	m.mu.Lock()
	m.gen++
	if m.currentID != nil && *m.currentID == id {
		m.log = Apply(m.log, Event{Kind: EventClear})
	}
	m.mu.Unlock()
	m.transcripts.Delete(transcriptKey(id))
	return nil
}

// Send appends the user's turn optimistically, submits it, and appends the
// assistant reply. On failure the user's turn stays put and a synthetic
// assistant error entry follows it; typed input is never rolled back.
func (m *Manager) Send(ctx context.Context, content string) error {
	m.mu.Lock()
	gen := m.gen
	userMsg := api.Message{
		ID:        NextLocalID(),
		Role:      api.RoleUser,
		Content:   content,
		CreatedAt: time.Now(),
	}
	m.log = Apply(m.log, Event{Kind: EventAppendUser, Message: userMsg})
	var sessionID *int64
	if m.currentID != nil {
		id := *m.currentID
		sessionID = &id
	}
	m.inflight++
	m.mu.Unlock()

	reply, err := m.client.SendChat(ctx, content, sessionID)

	m.mu.Lock()
	m.inflight--
	if gen != m.gen {
		// The user moved to another session while this send was in flight;
		// its outcome no longer belongs to the visible transcript.
		m.mu.Unlock()
		return err
	}
	if err != nil {
		m.log = Apply(m.log, Event{Kind: EventAppendError, Message: ErrorMessage(err)})
		m.lastErr = err
		m.mu.Unlock()
		return err
	}

	adopted := false
	if m.currentID == nil {
		// The server created a thread for the first message.
		id := reply.SessionID
		m.currentID = &id
		adopted = true
	}
	m.log = Apply(m.log, Event{Kind: EventAppendAssistant, Message: api.Message{
		ID:          NextLocalID(),
		Role:        api.RoleAssistant,
		Content:     reply.Response,
		Citations:   reply.Citations,
		Steps:       reply.Steps,
		Suggestions: reply.Suggestions,
		CreatedAt:   time.Now(),
	}})
	m.mu.Unlock()

	if adopted {
		m.logger.Debug("adopted new session", zap.Int64("session_id", reply.SessionID))
		return m.FetchSessions(ctx)
	}
	return nil
}

// Loading reports whether any transcript operation is in flight. Superseded
// operations count until they settle, so the flag can never stick.
func (m *Manager) Loading() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inflight > 0
}

// Err returns the last settled error, if any.
func (m *Manager) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// DismissErr clears the settled error state.
func (m *Manager) DismissErr() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastErr = nil
}

func (m *Manager) setErr(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}

func transcriptKey(id int64) string {
	return fmt.Sprintf("session:%d", id)
}

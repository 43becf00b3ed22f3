package api

import "time"

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Document index states. Transitions are driven entirely by the server; the
// client only observes them.
const (
	IndexStatusPending    = "pending"
	IndexStatusProcessing = "processing"
	IndexStatusIndexed    = "indexed"
	IndexStatusFailed     = "failed"
)

// User is the immutable identity snapshot from GET /auth/me/.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// ChatSession is a server-tracked conversation thread.
type ChatSession struct {
	ID           int64     `json:"id"`
	Title        string    `json:"title"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
	Messages     []Message `json:"messages,omitempty"`
}

// Citation points an assistant answer back at a source document chunk.
type Citation struct {
	Content  string           `json:"content"`
	Metadata CitationMetadata `json:"metadata"`
}

// CitationMetadata locates the cited content.
type CitationMetadata struct {
	Source string `json:"source"`
	Page   *int   `json:"page,omitempty"`
}

// Message is one turn in a session transcript. Optimistic user messages get
// a client-generated id before the server has seen them; server ids never
// replace a client id.
type Message struct {
	ID          string     `json:"id"`
	Role        string     `json:"role"`
	Content     string     `json:"content"`
	Citations   []Citation `json:"citations,omitempty"`
	Steps       []string   `json:"steps,omitempty"`
	Suggestions []string   `json:"suggestions,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// ChatResponse is the assistant's turn from POST /chat/.
type ChatResponse struct {
	Response        string     `json:"response"`
	SessionID       int64      `json:"session_id"`
	Citations       []Citation `json:"citations,omitempty"`
	Steps           []string   `json:"steps,omitempty"`
	SuggestedAction string     `json:"suggested_action,omitempty"`
	Suggestions     []string   `json:"suggestions,omitempty"`
}

// Document is an uploaded file and its indexing state.
type Document struct {
	ID           int64      `json:"id"`
	Filename     string     `json:"filename"`
	FileType     string     `json:"file_type"`
	Size         int64      `json:"size"`
	IndexStatus  string     `json:"index_status"`
	ChunkCount   int        `json:"chunk_count"`
	ErrorMessage string     `json:"error_message,omitempty"`
	UploadedAt   time.Time  `json:"uploaded_at"`
	IndexedAt    *time.Time `json:"indexed_at,omitempty"`
}

// Indexing reports whether the document is still being processed server-side.
func (d *Document) Indexing() bool {
	return d.IndexStatus == IndexStatusPending || d.IndexStatus == IndexStatusProcessing
}

// DocumentStatus is the polled view from GET /documents/{id}/status/.
type DocumentStatus struct {
	ID           int64  `json:"id"`
	IndexStatus  string `json:"index_status"`
	ChunkCount   int    `json:"chunk_count"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// RegisterRequest is the POST /auth/register/ body.
type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenPairResponse struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

type refreshResponse struct {
	Access string `json:"access"`
	// Populated only when the server rotates refresh tokens.
	Refresh string `json:"refresh,omitempty"`
}

type chatRequest struct {
	Message   string `json:"message"`
	SessionID *int64 `json:"session_id,omitempty"`
}

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"kbchat/internal/auth"
)

// IssueToken exchanges username/password for a credential pair. The caller
// decides whether to persist it.
func (c *Client) IssueToken(ctx context.Context, username, password string) (auth.Credentials, error) {
	body, err := json.Marshal(map[string]string{"username": username, "password": password})
	if err != nil {
		return auth.Credentials{}, err
	}
	var pair tokenPairResponse
	err = c.do(ctx, request{
		method:      http.MethodPost,
		path:        "/token/",
		body:        body,
		contentType: "application/json",
		noAuth:      true,
	}, &pair)
	if err != nil {
		return auth.Credentials{}, err
	}
	return auth.Credentials{AccessToken: pair.Access, RefreshToken: pair.Refresh}, nil
}

// Register creates an account. Field-level rejections come back as a
// *ValidationError with the server's messages verbatim.
func (c *Client) Register(ctx context.Context, req RegisterRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}
	return c.do(ctx, request{
		method:      http.MethodPost,
		path:        "/auth/register/",
		body:        body,
		contentType: "application/json",
		noAuth:      true,
	}, nil)
}

// Me fetches the authenticated user.
func (c *Client) Me(ctx context.Context) (*User, error) {
	var user User
	if err := c.do(ctx, request{method: http.MethodGet, path: "/auth/me/"}, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// ListSessions returns all conversation threads, newest first per server
// ordering. The server list is authoritative; no client-side merging.
func (c *Client) ListSessions(ctx context.Context) ([]ChatSession, error) {
	var sessions []ChatSession
	if err := c.do(ctx, request{method: http.MethodGet, path: "/sessions/"}, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

// CreateSession creates an empty conversation thread.
func (c *Client) CreateSession(ctx context.Context, title string) (*ChatSession, error) {
	var body []byte
	if title != "" {
		var err error
		if body, err = json.Marshal(map[string]string{"title": title}); err != nil {
			return nil, err
		}
	}
	var session ChatSession
	err := c.do(ctx, request{
		method:      http.MethodPost,
		path:        "/sessions/",
		body:        body,
		contentType: "application/json",
	}, &session)
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// DeleteSession removes a thread and its messages.
func (c *Client) DeleteSession(ctx context.Context, id int64) error {
	return c.do(ctx, request{method: http.MethodDelete, path: fmt.Sprintf("/sessions/%d/", id)}, nil)
}

// SessionMessages fetches the full transcript for one thread.
func (c *Client) SessionMessages(ctx context.Context, id int64) ([]Message, error) {
	var messages []Message
	err := c.do(ctx, request{method: http.MethodGet, path: fmt.Sprintf("/sessions/%d/messages/", id)}, &messages)
	if err != nil {
		return nil, err
	}
	return messages, nil
}

// ClearSession deletes all messages in a thread, keeping the thread.
func (c *Client) ClearSession(ctx context.Context, id int64) error {
	return c.do(ctx, request{method: http.MethodDelete, path: fmt.Sprintf("/sessions/%d/clear/", id)}, nil)
}

// SendChat submits a user message. A nil sessionID asks the server to start
// a new thread; the response carries the id either way.
func (c *Client) SendChat(ctx context.Context, message string, sessionID *int64) (*ChatResponse, error) {
	body, err := json.Marshal(chatRequest{Message: message, SessionID: sessionID})
	if err != nil {
		return nil, err
	}
	var reply ChatResponse
	err = c.do(ctx, request{
		method:      http.MethodPost,
		path:        "/chat/",
		body:        body,
		contentType: "application/json",
	}, &reply)
	if err != nil {
		return nil, err
	}
	return &reply, nil
}

// ListDocuments returns the knowledge base contents.
func (c *Client) ListDocuments(ctx context.Context) ([]Document, error) {
	var docs []Document
	if err := c.do(ctx, request{method: http.MethodGet, path: "/documents/"}, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

// UploadDocument sends file contents as multipart form field "file". The
// returned document starts out pending.
func (c *Client) UploadDocument(ctx context.Context, filename string, contents io.Reader) (*Document, error) {
	// Buffer the form up front so a post-refresh retry can resend it.
	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	part, err := form.CreateFormFile("file", filename)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, contents); err != nil {
		return nil, fmt.Errorf("api: buffering upload %s: %w", filename, err)
	}
	if err := form.Close(); err != nil {
		return nil, err
	}

	var doc Document
	err = c.do(ctx, request{
		method:      http.MethodPost,
		path:        "/documents/",
		body:        buf.Bytes(),
		contentType: form.FormDataContentType(),
	}, &doc)
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// DeleteDocument removes a document and its index entries.
func (c *Client) DeleteDocument(ctx context.Context, id int64) error {
	return c.do(ctx, request{method: http.MethodDelete, path: fmt.Sprintf("/documents/%d/", id)}, nil)
}

// DocumentStatus polls one document's indexing state.
func (c *Client) DocumentStatus(ctx context.Context, id int64) (*DocumentStatus, error) {
	var status DocumentStatus
	err := c.do(ctx, request{method: http.MethodGet, path: fmt.Sprintf("/documents/%d/status/", id)}, &status)
	if err != nil {
		return nil, err
	}
	return &status, nil
}

// DocumentPreview fetches the raw preview bytes.
func (c *Client) DocumentPreview(ctx context.Context, id int64) ([]byte, error) {
	var data []byte
	err := c.do(ctx, request{method: http.MethodGet, path: fmt.Sprintf("/documents/%d/preview/", id)}, &data)
	if err != nil {
		return nil, err
	}
	return data, nil
}

// ResetKnowledgeBase deletes every document server-side. Irreversible.
func (c *Client) ResetKnowledgeBase(ctx context.Context) error {
	return c.do(ctx, request{method: http.MethodPost, path: "/documents/reset/"}, nil)
}

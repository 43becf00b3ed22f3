// Package api is the authorized transport for the knowledge service. Every
// request is decorated with the stored bearer token; a 401 triggers the
// single-flight refresh-and-retry protocol, exactly once per request.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"kbchat/internal/auth"
)

const (
	defaultTimeout = 30 * time.Second

	// refreshMargin is how close to expiry an access token may get before a
	// request refreshes it up front instead of waiting for the 401.
	refreshMargin = 60 * time.Second
)

// Client talks to the knowledge service. All methods are safe for
// concurrent use; concurrent 401s collapse into one refresh call.
type Client struct {
	baseURL string
	httpc   *http.Client
	store   *auth.Store
	logger  *zap.Logger
	refresh singleflight.Group
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(httpc *http.Client) Option {
	return func(c *Client) { c.httpc = httpc }
}

// WithLogger sets the transport logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// NewClient creates a transport rooted at baseURL, reading and (on refresh)
// writing credentials through store.
func NewClient(baseURL string, store *auth.Store, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   &http.Client{Timeout: defaultTimeout},
		store:   store,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// request is one wrapped outbound call. The attempt counter replaces the
// usual mutated retry flag: 0 is the first dispatch, 1 the post-refresh
// retry, and there is no attempt 2.
type request struct {
	method      string
	path        string
	body        []byte
	contentType string
	noAuth      bool
	attempt     int
}

// do dispatches req and decodes the response into out. Pass a *[]byte to
// receive a binary body verbatim; pass nil to discard the body.
func (c *Client) do(ctx context.Context, req request, out any) error {
	if !req.noAuth && req.attempt == 0 {
		c.refreshIfExpiring(ctx)
	}

	httpReq, err := c.build(ctx, req)
	if err != nil {
		return err
	}

	resp, err := c.httpc.Do(httpReq)
	if err != nil {
		return fmt.Errorf("api: %s %s: %w", req.method, req.path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized && !req.noAuth {
		io.Copy(io.Discard, resp.Body)
		if req.attempt > 0 {
			// Already retried with a fresh token; nothing left to try.
			_ = c.store.Clear()
			return ErrUnauthenticated
		}
		if _, err := c.refreshAccess(ctx); err != nil {
			_ = c.store.Clear()
			return ErrUnauthenticated
		}
		req.attempt = 1
		return c.do(ctx, req, out)
	}

	return c.decode(resp, req, out)
}

func (c *Client) build(ctx context.Context, req request) (*http.Request, error) {
	var body io.Reader
	if req.body != nil {
		body = bytes.NewReader(req.body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.method, c.baseURL+req.path, body)
	if err != nil {
		return nil, err
	}
	if req.contentType != "" {
		httpReq.Header.Set("Content-Type", req.contentType)
	}
	httpReq.Header.Set("Accept", "application/json")
	requestID := uuid.NewString()
	httpReq.Header.Set("X-Request-ID", requestID)

	if !req.noAuth {
		if creds, ok := c.store.Get(); ok {
			httpReq.Header.Set("Authorization", "Bearer "+creds.AccessToken)
		}
	}

	c.logger.Debug("dispatching request",
		zap.String("method", req.method),
		zap.String("path", req.path),
		zap.String("request_id", requestID),
		zap.Int("attempt", req.attempt))

	return httpReq, nil
}

func (c *Client) decode(resp *http.Response, req request, out any) error {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("api: reading response for %s: %w", req.path, err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if out == nil || len(data) == 0 {
			return nil
		}
		if raw, ok := out.(*[]byte); ok {
			*raw = data
			return nil
		}
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("api: decoding response for %s: %w", req.path, err)
		}
		return nil

	case resp.StatusCode == http.StatusBadRequest:
		if fields := parseFieldErrors(data); fields != nil {
			return &ValidationError{Fields: fields}
		}
		return &APIError{Status: resp.StatusCode, Detail: errorDetail(data)}

	default:
		return &APIError{Status: resp.StatusCode, Detail: errorDetail(data)}
	}
}

// refreshIfExpiring refreshes up front when the access token is a JWT whose
// expiry falls inside the margin. Opaque tokens (and any refresh failure)
// fall through to the 401 path, which remains the source of truth.
func (c *Client) refreshIfExpiring(ctx context.Context) {
	creds, ok := c.store.Get()
	if !ok {
		return
	}
	expiry, ok := tokenExpiry(creds.AccessToken)
	if !ok || time.Until(expiry) > refreshMargin {
		return
	}
	if _, err := c.refreshAccess(ctx); err != nil {
		c.logger.Debug("preemptive refresh failed", zap.Error(err))
	}
}

// refreshAccess exchanges the refresh token for a new access token. All
// concurrent callers share one in-flight exchange and its outcome.
func (c *Client) refreshAccess(ctx context.Context) (string, error) {
	v, err, _ := c.refresh.Do("refresh", func() (any, error) {
		creds, ok := c.store.Get()
		if !ok || creds.RefreshToken == "" {
			return nil, ErrUnauthenticated
		}

		body, err := json.Marshal(map[string]string{"refresh": creds.RefreshToken})
		if err != nil {
			return nil, err
		}
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
			c.baseURL+"/token/refresh/", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := c.httpc.Do(httpReq)
		if err != nil {
			return nil, fmt.Errorf("api: token refresh: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			data, _ := io.ReadAll(resp.Body)
			return nil, &APIError{Status: resp.StatusCode, Detail: errorDetail(data)}
		}

		var rr refreshResponse
		if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
			return nil, fmt.Errorf("api: decoding refresh response: %w", err)
		}
		if rr.Access == "" {
			return nil, fmt.Errorf("api: refresh response missing access token")
		}

		next := auth.Credentials{AccessToken: rr.Access, RefreshToken: creds.RefreshToken}
		if rr.Refresh != "" {
			next.RefreshToken = rr.Refresh
		}
		if err := c.store.Set(next); err != nil {
			return nil, err
		}

		c.logger.Debug("access token refreshed")
		return rr.Access, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// tokenExpiry peeks at a JWT's exp claim without verifying the signature.
// The client never validates tokens; this only schedules refreshes.
func tokenExpiry(token string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

// parseFieldErrors extracts a {field: [messages]} payload, tolerating
// single-string values. Returns nil when the body has another shape.
func parseFieldErrors(data []byte) map[string][]string {
	var lists map[string][]string
	if err := json.Unmarshal(data, &lists); err == nil && len(lists) > 0 {
		return lists
	}
	var mixed map[string]json.RawMessage
	if err := json.Unmarshal(data, &mixed); err != nil || len(mixed) == 0 {
		return nil
	}
	if len(mixed) == 1 {
		// {"detail": "..."} style bodies are plain errors, not field maps.
		if _, ok := mixed["detail"]; ok {
			return nil
		}
		if _, ok := mixed["error"]; ok {
			return nil
		}
	}
	fields := make(map[string][]string, len(mixed))
	for k, raw := range mixed {
		var single string
		if err := json.Unmarshal(raw, &single); err == nil {
			fields[k] = []string{single}
			continue
		}
		var many []string
		if err := json.Unmarshal(raw, &many); err == nil {
			fields[k] = many
			continue
		}
		return nil
	}
	return fields
}

func errorDetail(data []byte) string {
	var payload struct {
		Detail string `json:"detail"`
		Error  string `json:"error"`
	}
	if err := json.Unmarshal(data, &payload); err == nil {
		if payload.Detail != "" {
			return payload.Detail
		}
		if payload.Error != "" {
			return payload.Error
		}
	}
	detail := strings.TrimSpace(string(data))
	if len(detail) > 200 {
		detail = detail[:200]
	}
	return detail
}

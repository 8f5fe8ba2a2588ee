// Package api provides a Go client for the KCET counselor backend REST API.
// It covers session-store operations (create/list/get/update/delete sessions,
// fetch and save messages) and the auth boundary (current user, health).
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"kounsel/internal/logging"
)

var (
	// ErrNotFound indicates the requested session or message does not exist.
	ErrNotFound = errors.New("not found")
	// ErrUnauthorized indicates the backend rejected the bearer token.
	ErrUnauthorized = errors.New("unauthorized")
)

// Client provides HTTP methods for the counselor backend REST API.
// It is safe for concurrent use.
type Client struct {
	baseURL    string
	apiPrefix  string
	httpClient *http.Client
	tokens     TokenSource
}

// Option configures the client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(client *Client) {
		client.httpClient = c
	}
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(client *Client) {
		client.httpClient.Timeout = d
	}
}

// WithAPIPrefix sets a path prefix for all API routes (default none).
func WithAPIPrefix(prefix string) Option {
	return func(client *Client) {
		client.apiPrefix = prefix
	}
}

// WithTokenSource sets the bearer token source for authenticated requests.
func WithTokenSource(ts TokenSource) Option {
	return func(client *Client) {
		client.tokens = ts
	}
}

// New creates a new backend API client.
// baseURL should be the backend address (e.g. "http://localhost:8000").
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		tokens: StaticToken(""),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the base URL of the client.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// apiURL builds a full API URL with the prefix.
func (c *Client) apiURL(path string) string {
	return c.baseURL + c.apiPrefix + path
}

// do builds and executes a request, attaching the bearer token when present.
func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.apiURL(path), reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve token: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	return c.httpClient.Do(req)
}

// checkStatus converts non-success status codes into errors.
func checkStatus(resp *http.Response, op string, accept ...int) error {
	for _, code := range accept {
		if resp.StatusCode == code {
			return nil
		}
	}
	switch resp.StatusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%s: %w", op, ErrUnauthorized)
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return fmt.Errorf("%s: status %d: %s", op, resp.StatusCode, string(body))
}

// CreateSession creates a new chat session owned by the authenticated user.
// The backend binds title as a query parameter, not a body field.
func (c *Client) CreateSession(ctx context.Context, title string) (*Session, error) {
	path := "/chat/sessions"
	if title != "" {
		path += "?title=" + url.QueryEscape(title)
	}
	resp, err := c.do(ctx, http.MethodPost, path, nil)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp, "create session", http.StatusCreated, http.StatusOK); err != nil {
		return nil, err
	}

	var session Session
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return nil, fmt.Errorf("create session: decode: %w", err)
	}
	if session.Title == "" {
		session.Title = title
	}
	logging.API().Debug("session created", "session_id", session.ID, "title", session.Title)
	return &session, nil
}

// sessionListResponse is the envelope for session listing.
type sessionListResponse struct {
	Count    int       `json:"count"`
	Sessions []Session `json:"sessions"`
}

// ListSessions returns all sessions of the authenticated user,
// ordered by most recently updated first.
func (c *Client) ListSessions(ctx context.Context) ([]Session, error) {
	resp, err := c.do(ctx, http.MethodGet, "/chat/sessions", nil)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp, "list sessions", http.StatusOK); err != nil {
		return nil, err
	}

	var result sessionListResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("list sessions: decode: %w", err)
	}
	return result.Sessions, nil
}

// GetSession returns a single session's metadata.
func (c *Client) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	resp, err := c.do(ctx, http.MethodGet, "/chat/sessions/"+url.PathEscape(sessionID), nil)
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp, "get session", http.StatusOK); err != nil {
		return nil, err
	}

	var session Session
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return nil, fmt.Errorf("get session: decode: %w", err)
	}
	return &session, nil
}

// UpdateSession applies a partial metadata update (title and/or preview).
// The backend binds the fields as query parameters and touches updated_at
// on every update.
func (c *Client) UpdateSession(ctx context.Context, sessionID string, upd SessionUpdate) error {
	q := url.Values{}
	if upd.Title != nil {
		q.Set("title", *upd.Title)
	}
	if upd.Preview != nil {
		q.Set("preview", *upd.Preview)
	}
	path := "/chat/sessions/" + url.PathEscape(sessionID)
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	resp, err := c.do(ctx, http.MethodPatch, path, nil)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	defer resp.Body.Close()

	return checkStatus(resp, "update session", http.StatusOK, http.StatusNoContent)
}

// DeleteSession deletes a session; the backend cascades to its messages.
func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	resp, err := c.do(ctx, http.MethodDelete, "/chat/sessions/"+url.PathEscape(sessionID), nil)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp, "delete session", http.StatusOK, http.StatusNoContent); err != nil {
		return err
	}
	logging.API().Debug("session deleted", "session_id", sessionID)
	return nil
}

// messageListResponse is the envelope for message listing.
type messageListResponse struct {
	SessionID    string    `json:"session_id"`
	MessageCount int       `json:"message_count"`
	Messages     []Message `json:"messages"`
}

// GetMessages returns a session's messages ordered oldest first.
func (c *Client) GetMessages(ctx context.Context, sessionID string) ([]Message, error) {
	resp, err := c.do(ctx, http.MethodGet, "/chat/sessions/"+url.PathEscape(sessionID)+"/messages", nil)
	if err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp, "get messages", http.StatusOK); err != nil {
		return nil, err
	}

	var result messageListResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("get messages: decode: %w", err)
	}
	return result.Messages, nil
}

// saveMessageRequest is the body for message persistence.
type saveMessageRequest struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// SaveMessage appends a message to a session. For user messages the backend
// also updates the session preview.
func (c *Client) SaveMessage(ctx context.Context, sessionID string, role Role, content string) (*Message, error) {
	resp, err := c.do(ctx, http.MethodPost, "/chat/sessions/"+url.PathEscape(sessionID)+"/messages",
		saveMessageRequest{Role: role, Content: content})
	if err != nil {
		return nil, fmt.Errorf("save message: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp, "save message", http.StatusCreated, http.StatusOK); err != nil {
		return nil, err
	}

	var msg Message
	if err := json.NewDecoder(resp.Body).Decode(&msg); err != nil {
		return nil, fmt.Errorf("save message: decode: %w", err)
	}
	return &msg, nil
}

// titleResponse is the envelope for generated titles.
type titleResponse struct {
	SessionID string `json:"session_id"`
	Title     string `json:"title"`
}

// GenerateTitle asks the backend to derive a session title from its first
// user message. Callers treat failures as best-effort.
func (c *Client) GenerateTitle(ctx context.Context, sessionID string) (string, error) {
	resp, err := c.do(ctx, http.MethodPost, "/chat/sessions/"+url.PathEscape(sessionID)+"/title", nil)
	if err != nil {
		return "", fmt.Errorf("generate title: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp, "generate title", http.StatusOK); err != nil {
		return "", err
	}

	var result titleResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("generate title: decode: %w", err)
	}
	return result.Title, nil
}

// CurrentUser returns the authenticated user for the configured token.
func (c *Client) CurrentUser(ctx context.Context) (*User, error) {
	resp, err := c.do(ctx, http.MethodGet, "/auth/me", nil)
	if err != nil {
		return nil, fmt.Errorf("current user: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp, "current user", http.StatusOK); err != nil {
		return nil, err
	}

	var user User
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, fmt.Errorf("current user: decode: %w", err)
	}
	return &user, nil
}

// Health reports the backend health status.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	resp, err := c.do(ctx, http.MethodGet, "/chat/health", nil)
	if err != nil {
		return nil, fmt.Errorf("health: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp, "health", http.StatusOK); err != nil {
		return nil, err
	}

	var health Health
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return nil, fmt.Errorf("health: decode: %w", err)
	}
	return &health, nil
}

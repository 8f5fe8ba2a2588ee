package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"kounsel/internal/api"
	"kounsel/internal/logging"
)

// WSTransport opens streaming conversations over the backend's legacy
// WebSocket endpoint (/chat/ws/{session_id}). Older backend deployments
// only expose this endpoint; it emits the same events as the SSE route
// under slightly different type names, which Decode normalizes.
type WSTransport struct {
	baseURL   string
	apiPrefix string
	dialer    *websocket.Dialer
	tokens    api.TokenSource
}

// WSOption configures a WSTransport.
type WSOption func(*WSTransport)

// WithDialer sets a custom websocket dialer.
func WithDialer(d *websocket.Dialer) WSOption {
	return func(t *WSTransport) {
		t.dialer = d
	}
}

// WithWSAPIPrefix sets a path prefix for the WebSocket route.
func WithWSAPIPrefix(prefix string) WSOption {
	return func(t *WSTransport) {
		t.apiPrefix = prefix
	}
}

// WithWSTokenSource sets the bearer token source. The WebSocket endpoint
// takes the token as a query parameter rather than a header.
func WithWSTokenSource(ts api.TokenSource) WSOption {
	return func(t *WSTransport) {
		t.tokens = ts
	}
}

// NewWSTransport creates a WebSocket transport for the given backend URL.
func NewWSTransport(baseURL string, opts ...WSOption) *WSTransport {
	t := &WSTransport{
		baseURL: baseURL,
		dialer:  websocket.DefaultDialer,
		tokens:  api.StaticToken(""),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// wsPrompt is the client→server frame carrying the user message.
type wsPrompt struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Open dials the WebSocket endpoint, sends the message, and yields decoded
// events with the same Stream semantics as the SSE transport.
func (t *WSTransport) Open(ctx context.Context, sessionID, message string) (*Stream, error) {
	if strings.TrimSpace(message) == "" {
		return nil, ErrEmptyMessage
	}

	u, err := url.Parse(t.baseURL)
	if err != nil {
		return nil, fmt.Errorf("open ws stream: parse base URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = t.apiPrefix + "/chat/ws/" + url.PathEscape(sessionID)

	token, err := t.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("open ws stream: resolve token: %w", err)
	}
	if token != "" {
		q := u.Query()
		q.Set("token", token)
		u.RawQuery = q.Encode()
	}

	conn, resp, err := t.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		return nil, fmt.Errorf("open ws stream: %w", err)
	}

	if err := conn.WriteJSON(wsPrompt{Type: "chat_message", Message: message}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("open ws stream: send message: %w", err)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	s := &Stream{
		events: make(chan Event, 16),
		cancel: cancel,
	}

	// Unblock the read loop when the stream is cancelled.
	go func() {
		<-streamCtx.Done()
		conn.Close()
	}()

	go s.readWS(streamCtx, conn, sessionID)
	return s, nil
}

// readWS reads frames until a terminal event, cancellation, or disconnect.
func (s *Stream) readWS(ctx context.Context, conn *websocket.Conn, sessionID string) {
	log := logging.WithSession(logging.Stream(), sessionID)
	start := time.Now()
	defer close(s.events)
	defer conn.Close()

	count := 0
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			switch {
			case ctx.Err() != nil:
				s.setErr(ctx.Err())
			default:
				s.setErr(fmt.Errorf("read ws stream: %w", err))
			}
			log.Debug("ws stream ended early", "events", count, "error", s.Err())
			return
		}

		if !json.Valid(payload) {
			log.Warn("skipping malformed ws frame")
			continue
		}
		ev, err := Decode(payload)
		if err != nil {
			log.Warn("skipping malformed event", "error", err)
			continue
		}
		count++

		select {
		case s.events <- ev:
		case <-ctx.Done():
			s.setErr(ctx.Err())
			return
		}

		if IsTerminal(ev) {
			log.Debug("ws stream completed", "events", count, "elapsed", time.Since(start))
			return
		}
	}
}

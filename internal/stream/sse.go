package stream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"kounsel/internal/api"
	"kounsel/internal/logging"
)

var (
	// ErrTruncated indicates the connection dropped before a terminal event.
	// Callers must treat this as an implicit stream error.
	ErrTruncated = errors.New("stream ended without a terminal event")

	// ErrEmptyMessage indicates an attempt to stream an empty message.
	ErrEmptyMessage = errors.New("message cannot be empty")
)

// dataPrefix marks an event line in the SSE wire format.
var dataPrefix = []byte("data:")

// Stream is one live streaming invocation. It yields events on Events()
// until a terminal event arrives or the connection ends; the channel is
// then closed and Err() reports how the stream ended:
//
//   - nil: a terminal event (Complete or ErrorEvent) was delivered
//   - context.Canceled: the stream was cancelled via Close or its context
//   - ErrTruncated (or a transport error): the connection dropped early
//
// A Stream is not restartable.
type Stream struct {
	events chan Event
	cancel context.CancelFunc

	mu  sync.Mutex
	err error
}

// Events returns the event channel. It is closed when the stream ends.
func (s *Stream) Events() <-chan Event {
	return s.events
}

// Err reports how the stream ended. Only meaningful after Events() closes.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close cancels the stream and releases the underlying connection.
// It is safe to call multiple times and never blocks on in-flight events.
func (s *Stream) Close() error {
	s.cancel()
	return nil
}

func (s *Stream) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

// Transport opens SSE streaming requests against the counselor backend.
// It is a pure producer: it never mutates shared state.
type Transport struct {
	baseURL    string
	apiPrefix  string
	httpClient *http.Client
	tokens     api.TokenSource
}

// TransportOption configures a Transport.
type TransportOption func(*Transport)

// WithHTTPClient sets a custom HTTP client. The client must not enforce an
// overall timeout: streams are long-lived by design.
func WithHTTPClient(c *http.Client) TransportOption {
	return func(t *Transport) {
		t.httpClient = c
	}
}

// WithAPIPrefix sets a path prefix for the streaming route.
func WithAPIPrefix(prefix string) TransportOption {
	return func(t *Transport) {
		t.apiPrefix = prefix
	}
}

// WithTokenSource sets the bearer token source.
func WithTokenSource(ts api.TokenSource) TransportOption {
	return func(t *Transport) {
		t.tokens = ts
	}
}

// NewTransport creates an SSE transport for the given backend base URL.
func NewTransport(baseURL string, opts ...TransportOption) *Transport {
	t := &Transport{
		baseURL: baseURL,
		// No Timeout here: the response body stays open for the whole
		// conversation turn. Dial/TLS limits come from the default
		// transport.
		httpClient: &http.Client{},
		tokens:     api.StaticToken(""),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// streamRequest is the body of the streaming POST.
type streamRequest struct {
	Message string `json:"message"`
}

// Open starts one streaming request for the given session and message.
// The returned Stream delivers decoded events in arrival order and ends
// with exactly one terminal event unless the connection drops first.
// Cancel via the context or Stream.Close.
func (t *Transport) Open(ctx context.Context, sessionID, message string) (*Stream, error) {
	if strings.TrimSpace(message) == "" {
		return nil, ErrEmptyMessage
	}

	body, err := json.Marshal(streamRequest{Message: message})
	if err != nil {
		return nil, fmt.Errorf("open stream: marshal: %w", err)
	}

	streamCtx, cancel := context.WithCancel(ctx)

	u := t.baseURL + t.apiPrefix + "/chat/stream/" + url.PathEscape(sessionID)
	req, err := http.NewRequestWithContext(streamCtx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("open stream: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	token, err := t.tokens.Token(ctx)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("open stream: resolve token: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("open stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("open stream: status %d: %s", resp.StatusCode, string(respBody))
	}

	s := &Stream{
		events: make(chan Event, 16),
		cancel: cancel,
	}
	go s.readSSE(streamCtx, resp.Body, sessionID)
	return s, nil
}

// readSSE decodes the event stream line by line. bufio buffers across read
// boundaries, so an event split over several network reads is reassembled
// before decoding. Malformed lines are logged and skipped.
func (s *Stream) readSSE(ctx context.Context, body io.ReadCloser, sessionID string) {
	log := logging.WithSession(logging.Stream(), sessionID)
	start := time.Now()
	defer close(s.events)
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	terminal := false
	count := 0
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 || !bytes.HasPrefix(line, dataPrefix) {
			continue
		}
		payload := bytes.TrimSpace(bytes.TrimPrefix(line, dataPrefix))

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
			terminal = true
			break
		}
	}

	if terminal {
		log.Debug("stream completed", "events", count, "elapsed", time.Since(start))
		return
	}

	// Connection ended before a terminal event.
	switch {
	case ctx.Err() != nil:
		s.setErr(ctx.Err())
	case scanner.Err() != nil:
		s.setErr(fmt.Errorf("read stream: %w", scanner.Err()))
	default:
		s.setErr(ErrTruncated)
	}
	log.Debug("stream ended early", "events", count, "error", s.Err())
}

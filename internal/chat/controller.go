// Package chat implements the conversation state machine for the counselor
// client: it owns one active conversation's transcript and thinking steps,
// drives the send/stream/persist lifecycle, and reconciles placeholder
// sessions with server-assigned ids.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"kounsel/internal/api"
	"kounsel/internal/logging"
	"kounsel/internal/stream"
)

// State is the controller's send lifecycle state.
type State int

const (
	// StateIdle means no send is in flight; new sends are accepted.
	StateIdle State = iota
	// StateSending means the user message is being persisted and the
	// stream is opening.
	StateSending
	// StateStreaming means stream events are arriving.
	StateStreaming
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSending:
		return "sending"
	case StateStreaming:
		return "streaming"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var (
	// ErrBusy indicates a send was attempted while one is in flight.
	ErrBusy = errors.New("a message is already in flight")

	// ErrEmptyMessage indicates an empty or whitespace-only message.
	ErrEmptyMessage = errors.New("message cannot be empty")

	// ErrEmptyTitle indicates an empty or whitespace-only rename title.
	ErrEmptyTitle = errors.New("title cannot be empty")
)

const (
	titleMaxRunes   = 40
	previewMaxRunes = 100

	// placeholderPrefix marks locally generated, not-yet-persisted
	// session ids. The backend special-cases this prefix.
	placeholderPrefix = "temp-"

	disconnectMessage = "The connection to the counselor was interrupted. Please try sending your message again."
)

// NewPlaceholderID returns a fresh local session id for a conversation that
// has not been persisted yet.
func NewPlaceholderID() string {
	return placeholderPrefix + uuid.NewString()
}

// IsPlaceholderID reports whether id is a local placeholder.
func IsPlaceholderID(id string) bool {
	return strings.HasPrefix(id, placeholderPrefix)
}

// DeriveTitle builds a session title from the first user message:
// the first 40 runes, with an ellipsis when truncated.
func DeriveTitle(text string) string {
	return truncateRunes(strings.TrimSpace(text), titleMaxRunes)
}

// DerivePreview builds a session list preview from a user message.
func DerivePreview(text string) string {
	return truncateRunes(strings.TrimSpace(text), previewMaxRunes)
}

func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}

// Store is the session persistence surface the controller depends on.
// *api.Client satisfies it.
type Store interface {
	CreateSession(ctx context.Context, title string) (*api.Session, error)
	GetMessages(ctx context.Context, sessionID string) ([]api.Message, error)
	SaveMessage(ctx context.Context, sessionID string, role api.Role, content string) (*api.Message, error)
	UpdateSession(ctx context.Context, sessionID string, upd api.SessionUpdate) error
	DeleteSession(ctx context.Context, sessionID string) error
	GenerateTitle(ctx context.Context, sessionID string) (string, error)
}

// EventStream is one live streaming invocation, as the controller sees it.
// *stream.Stream satisfies it.
type EventStream interface {
	Events() <-chan stream.Event
	Err() error
	Close() error
}

// Transport opens one streaming invocation per outgoing message.
type Transport interface {
	Open(ctx context.Context, sessionID, message string) (EventStream, error)
}

// TransportFunc adapts a function to the Transport interface.
type TransportFunc func(ctx context.Context, sessionID, message string) (EventStream, error)

func (f TransportFunc) Open(ctx context.Context, sessionID, message string) (EventStream, error) {
	return f(ctx, sessionID, message)
}

// NewSSETransport adapts the SSE transport to the controller's interface.
func NewSSETransport(t *stream.Transport) Transport {
	return TransportFunc(func(ctx context.Context, sessionID, message string) (EventStream, error) {
		return t.Open(ctx, sessionID, message)
	})
}

// NewWSTransport adapts the WebSocket transport to the controller's interface.
func NewWSTransport(t *stream.WSTransport) Transport {
	return TransportFunc(func(ctx context.Context, sessionID, message string) (EventStream, error) {
		return t.Open(ctx, sessionID, message)
	})
}

// Controller owns exactly one active conversation. It is safe for
// concurrent use; callbacks are invoked sequentially under the controller's
// lock and must not call back into it.
//
// Every streaming invocation carries a generation token. Operations that
// abandon the current stream (new conversation, session switch, cancel)
// bump the generation, so late events from an abandoned stream can never
// mutate the transcript.
type Controller struct {
	store     Store
	transport Transport
	callbacks Callbacks
	log       *slog.Logger

	mu          sync.Mutex
	state       State
	sessionID   string
	placeholder bool
	generation  uint64
	cancel      context.CancelFunc
	transcript  transcript
	thinking    thinkingList
	buffer      strings.Builder
}

// NewController creates a controller starting on a fresh placeholder
// session with an empty transcript.
func NewController(store Store, transport Transport, callbacks Callbacks) *Controller {
	return &Controller{
		store:       store,
		transport:   transport,
		callbacks:   callbacks,
		log:         logging.Chat(),
		state:       StateIdle,
		sessionID:   NewPlaceholderID(),
		placeholder: true,
	}
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SessionID returns the active session id, which may be a placeholder.
func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Messages returns a snapshot of the transcript.
func (c *Controller) Messages() []api.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transcript.snapshot()
}

// ThinkingSteps returns a snapshot of the in-flight turn's thinking steps.
func (c *Controller) ThinkingSteps() []ThinkingStep {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.thinking.snapshot()
}

// setState transitions and notifies only on change. Caller holds mu.
func (c *Controller) setState(s State) {
	if c.state == s {
		return
	}
	c.state = s
	c.callbacks.state(s)
}

// releaseStream cancels the active stream, if any. Caller holds mu.
func (c *Controller) releaseStream() {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

// SendMessage runs the full send pipeline: persist the session (if still a
// placeholder) and the user message, append it to the transcript, then open
// a stream and apply its events until a terminal event. It returns once the
// stream is open; events are processed in the background and surfaced
// through callbacks. Rejected with ErrBusy while a send is in flight.
func (c *Controller) SendMessage(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}

	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return ErrBusy
	}
	c.generation++
	gen := c.generation
	c.setState(StateSending)
	sessionID := c.sessionID
	placeholder := c.placeholder
	firstMessage := !c.transcript.hasUserMessage()
	c.mu.Unlock()

	// Step 1: make the session durable. On failure the placeholder is
	// kept so the user can retry.
	if placeholder {
		sess, err := c.store.CreateSession(ctx, DeriveTitle(text))
		if err != nil {
			c.failSend(gen, "Could not start the conversation. Please try again.")
			return fmt.Errorf("create session: %w", err)
		}
		c.mu.Lock()
		if gen != c.generation {
			c.mu.Unlock()
			return nil
		}
		c.sessionID = sess.ID
		c.placeholder = false
		c.callbacks.sessionID(sess.ID)
		c.callbacks.refresh()
		c.mu.Unlock()
		sessionID = sess.ID
	}

	// Step 2: persist the user message. The session id adopted above is
	// kept on failure so a retry reuses it.
	if _, err := c.store.SaveMessage(ctx, sessionID, api.RoleUser, text); err != nil {
		c.failSend(gen, "Could not send your message. Please try again.")
		return fmt.Errorf("save user message: %w", err)
	}

	// Step 3: optimistic transcript append.
	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return nil
	}
	c.transcript.appendUser(sessionID, text)
	c.callbacks.transcript(c.transcript.snapshot())
	c.thinking.clear()
	c.callbacks.thinking(nil)
	c.buffer.Reset()
	c.mu.Unlock()

	// Step 4: best-effort title generation for the first message.
	if firstMessage {
		go c.generateTitle(sessionID)
	}

	// Step 5: open the stream.
	streamCtx, cancel := context.WithCancel(context.Background())
	es, err := c.transport.Open(streamCtx, sessionID, text)
	if err != nil {
		cancel()
		c.failSend(gen, "Could not reach the counselor. Please try again.")
		return fmt.Errorf("open stream: %w", err)
	}

	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		cancel()
		es.Close()
		return nil
	}
	c.cancel = cancel
	c.setState(StateStreaming)
	c.mu.Unlock()

	go c.consume(gen, es)
	return nil
}

// failSend aborts a send before streaming started. No-op if the send was
// already superseded.
func (c *Controller) failSend(gen uint64, message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		return
	}
	c.thinking.clear()
	c.callbacks.thinking(nil)
	c.setState(StateIdle)
	c.callbacks.error(message)
}

// generateTitle asks the backend to produce a session title. Best-effort:
// failures are logged and never affect the send.
func (c *Controller) generateTitle(sessionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if _, err := c.store.GenerateTitle(ctx, sessionID); err != nil {
		c.log.Debug("title generation failed", "session_id", sessionID, "error", err)
		return
	}
	c.mu.Lock()
	c.callbacks.refresh()
	c.mu.Unlock()
}

// persistAssistant saves the completed assistant message. Fire-and-forget:
// the response is already on screen, so failures are only logged.
func (c *Controller) persistAssistant(sessionID, content string) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if _, err := c.store.SaveMessage(ctx, sessionID, api.RoleAssistant, content); err != nil {
		c.log.Warn("assistant message save failed", "session_id", sessionID, "error", err)
	}
}

// consume drains one stream invocation. An end without a terminal event is
// treated as an error unless the invocation was deliberately abandoned.
func (c *Controller) consume(gen uint64, es EventStream) {
	for ev := range es.Events() {
		c.apply(gen, ev)
	}
	err := es.Err()

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		return
	}
	if err == nil {
		// A terminal event already finalized the turn.
		return
	}
	if errors.Is(err, context.Canceled) {
		return
	}
	c.log.Warn("stream ended without terminal event", "session_id", c.sessionID, "error", err)
	c.finishError(disconnectMessage)
}

// apply processes one stream event, discarding it if its invocation has
// been superseded.
func (c *Controller) apply(gen uint64, ev stream.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		c.log.Debug("discarding event from abandoned stream", "type", fmt.Sprintf("%T", ev))
		return
	}

	switch ev := ev.(type) {
	case stream.SessionCreated:
		if ev.SessionID != "" && ev.SessionID != c.sessionID {
			c.sessionID = ev.SessionID
			c.placeholder = false
			c.callbacks.sessionID(ev.SessionID)
		}

	case stream.Thinking:
		c.thinking.append(ev.Step, ev.Timestamp)
		c.callbacks.thinking(c.thinking.snapshot())

	case stream.ToolCall:
		if ev.Status == stream.ToolCompleted || ev.Status == stream.ToolFailed {
			c.thinking.markLastCompleted()
			c.callbacks.thinking(c.thinking.snapshot())
		}

	case stream.Chunk:
		c.buffer.WriteString(ev.Content)
		c.transcript.setStreaming(c.sessionID, c.buffer.String())
		c.callbacks.transcript(c.transcript.snapshot())

	case stream.Complete:
		c.finishComplete(ev)

	case stream.ErrorEvent:
		msg := ev.Message
		if msg == "" {
			msg = disconnectMessage
		}
		c.finishError(msg)

	default:
		// Welcome, Connected, History: informational only.
		c.log.Debug("informational stream event", "type", fmt.Sprintf("%T", ev))
	}
}

// finishComplete finalizes a successful turn. The server's full content is
// authoritative and replaces the locally concatenated buffer. Caller holds mu.
func (c *Controller) finishComplete(ev stream.Complete) {
	messageID := ev.MessageID
	if messageID == "" {
		messageID = uuid.NewString()
	}
	c.transcript.finalizeStreaming(c.sessionID, messageID, ev.FullContent)
	c.callbacks.transcript(c.transcript.snapshot())
	c.thinking.clear()
	c.callbacks.thinking(nil)
	c.buffer.Reset()
	c.releaseStream()
	c.setState(StateIdle)

	go c.persistAssistant(c.sessionID, ev.FullContent)
	c.callbacks.refresh()
}

// finishError ends a failed turn: the half-built assistant message is
// removed, the user message is retained for retry. Caller holds mu.
func (c *Controller) finishError(message string) {
	c.transcript.dropStreaming()
	c.callbacks.transcript(c.transcript.snapshot())
	c.thinking.clear()
	c.callbacks.thinking(nil)
	c.buffer.Reset()
	c.releaseStream()
	c.setState(StateIdle)
	c.callbacks.error(message)
}

// NewConversation abandons any in-flight stream and resets to a fresh
// placeholder session. The store is not contacted until the next send.
func (c *Controller) NewConversation() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	c.releaseStream()
	c.transcript.clear()
	c.thinking.clear()
	c.buffer.Reset()
	c.sessionID = NewPlaceholderID()
	c.placeholder = true
	c.setState(StateIdle)
	c.callbacks.sessionID(c.sessionID)
	c.callbacks.transcript(nil)
	c.callbacks.thinking(nil)
}

// SelectSession abandons any in-flight stream and switches to the given
// session, loading its message history. On a load failure the transcript is
// left empty rather than showing another session's messages.
func (c *Controller) SelectSession(ctx context.Context, sessionID string) error {
	c.mu.Lock()
	c.generation++
	gen := c.generation
	c.releaseStream()
	c.transcript.clear()
	c.thinking.clear()
	c.buffer.Reset()
	c.sessionID = sessionID
	c.placeholder = IsPlaceholderID(sessionID)
	c.setState(StateIdle)
	c.callbacks.sessionID(sessionID)
	c.callbacks.thinking(nil)
	c.mu.Unlock()

	messages, err := c.store.GetMessages(ctx, sessionID)

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		return nil
	}
	if err != nil {
		c.transcript.clear()
		c.callbacks.transcript(nil)
		c.callbacks.error("Could not load the conversation history. Please try again.")
		return fmt.Errorf("load messages: %w", err)
	}
	c.transcript.replace(messages)
	c.callbacks.transcript(c.transcript.snapshot())
	return nil
}

// DeleteSession removes a session and its messages. Deleting the active
// session resets the controller to a fresh conversation.
func (c *Controller) DeleteSession(ctx context.Context, sessionID string) error {
	if err := c.store.DeleteSession(ctx, sessionID); err != nil {
		c.mu.Lock()
		c.callbacks.error("Could not delete the conversation. Please try again.")
		c.mu.Unlock()
		return fmt.Errorf("delete session: %w", err)
	}

	c.mu.Lock()
	active := c.sessionID == sessionID
	c.callbacks.refresh()
	c.mu.Unlock()

	if active {
		c.NewConversation()
	}
	return nil
}

// RenameSession sets a session's title. An empty title is rejected locally
// without a network call.
func (c *Controller) RenameSession(ctx context.Context, sessionID, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return ErrEmptyTitle
	}
	if err := c.store.UpdateSession(ctx, sessionID, api.SessionUpdate{Title: &title}); err != nil {
		c.mu.Lock()
		c.callbacks.error("Could not rename the conversation. Please try again.")
		c.mu.Unlock()
		return fmt.Errorf("rename session: %w", err)
	}
	c.mu.Lock()
	c.callbacks.refresh()
	c.mu.Unlock()
	return nil
}

// CancelStream abandons the in-flight turn, if any. Cancellation is not an
// error: no error callback fires. The half-built assistant message is
// removed; the user message stays.
func (c *Controller) CancelStream() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateIdle {
		return
	}
	c.generation++
	c.releaseStream()
	c.transcript.dropStreaming()
	c.callbacks.transcript(c.transcript.snapshot())
	c.thinking.clear()
	c.callbacks.thinking(nil)
	c.buffer.Reset()
	c.setState(StateIdle)
}

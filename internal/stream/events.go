// Package stream implements the client side of the counselor streaming
// protocol: it opens one streaming request per outgoing message and yields
// typed events until a terminal event or disconnect.
package stream

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ToolStatus is the lifecycle status reported for a tool call.
type ToolStatus string

const (
	ToolStarted   ToolStatus = "started"
	ToolCompleted ToolStatus = "completed"
	ToolFailed    ToolStatus = "failed"
)

// Event is one decoded message from the streaming protocol.
// It is a sealed sum type: exactly the types in this package implement it.
type Event interface {
	isEvent()
}

// SessionCreated announces the durable session id assigned by the server
// when the request was made with a placeholder id.
type SessionCreated struct {
	SessionID string
}

// Thinking reports one in-progress reasoning step.
type Thinking struct {
	Step      string
	Timestamp string
}

// ToolCall reports a tool invocation status change.
type ToolCall struct {
	ToolName   string
	Status     ToolStatus
	Parameters map[string]any
}

// Chunk carries one increment of assistant response text.
// Chunks must be concatenated in arrival order.
type Chunk struct {
	Content string
}

// Complete terminates a successful stream. FullContent is the server's
// authoritative response text and wins over locally concatenated chunks.
type Complete struct {
	MessageID   string
	FullContent string
}

// ErrorEvent terminates a failed stream with a user-presentable message.
type ErrorEvent struct {
	Message string
}

// Welcome is sent by the WebSocket endpoint for brand-new sessions.
type Welcome struct {
	Message   string
	SessionID string
}

// Connected is sent by the WebSocket endpoint when rejoining a session.
type Connected struct {
	SessionID    string
	MessageCount int
}

// HistoryMessage is one stored message in a History frame.
type HistoryMessage struct {
	MessageID string `json:"message_id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

// History is the WebSocket endpoint's reply to a get_history request.
type History struct {
	Messages []HistoryMessage
}

func (SessionCreated) isEvent() {}
func (Thinking) isEvent()       {}
func (ToolCall) isEvent()       {}
func (Chunk) isEvent()          {}
func (Complete) isEvent()       {}
func (ErrorEvent) isEvent()     {}
func (Welcome) isEvent()        {}
func (Connected) isEvent()      {}
func (History) isEvent()        {}

// IsTerminal reports whether ev ends its stream.
func IsTerminal(ev Event) bool {
	switch ev.(type) {
	case Complete, ErrorEvent:
		return true
	}
	return false
}

// ErrUnknownEventType is returned by Decode for unrecognized event types.
var ErrUnknownEventType = errors.New("unknown event type")

// Decode parses one wire-level event payload into its typed form.
// The SSE endpoint and the legacy WebSocket endpoint use slightly different
// type names (chunk vs response_chunk, complete vs response_complete);
// both are normalized here so higher layers see a single protocol.
func Decode(data []byte) (Event, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}

	switch probe.Type {
	case "session_created":
		var p struct {
			SessionID    string `json:"session_id"`
			NewSessionID string `json:"new_session_id"`
		}
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("decode session_created: %w", err)
		}
		id := p.SessionID
		if p.NewSessionID != "" {
			id = p.NewSessionID
		}
		return SessionCreated{SessionID: id}, nil

	case "thinking":
		var p struct {
			Step      string `json:"step"`
			Timestamp string `json:"timestamp"`
		}
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("decode thinking: %w", err)
		}
		return Thinking{Step: p.Step, Timestamp: p.Timestamp}, nil

	case "tool_call":
		var p struct {
			ToolName   string         `json:"tool_name"`
			Status     string         `json:"status"`
			Parameters map[string]any `json:"parameters"`
		}
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("decode tool_call: %w", err)
		}
		return ToolCall{ToolName: p.ToolName, Status: ToolStatus(p.Status), Parameters: p.Parameters}, nil

	case "chunk", "response_chunk":
		var p struct {
			Content string `json:"content"`
		}
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("decode chunk: %w", err)
		}
		return Chunk{Content: p.Content}, nil

	case "complete", "response_complete":
		var p struct {
			MessageID   string `json:"message_id"`
			FullContent string `json:"full_content"`
		}
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("decode complete: %w", err)
		}
		return Complete{MessageID: p.MessageID, FullContent: p.FullContent}, nil

	case "error":
		var p struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("decode error event: %w", err)
		}
		return ErrorEvent{Message: p.Message}, nil

	case "welcome":
		var p struct {
			Message   string `json:"message"`
			SessionID string `json:"session_id"`
		}
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("decode welcome: %w", err)
		}
		return Welcome{Message: p.Message, SessionID: p.SessionID}, nil

	case "connected":
		var p struct {
			SessionID    string `json:"session_id"`
			MessageCount int    `json:"message_count"`
		}
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("decode connected: %w", err)
		}
		return Connected{SessionID: p.SessionID, MessageCount: p.MessageCount}, nil

	case "history":
		var p struct {
			Messages []HistoryMessage `json:"messages"`
		}
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("decode history: %w", err)
		}
		return History{Messages: p.Messages}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, probe.Type)
	}
}

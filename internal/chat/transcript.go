package chat

import (
	"fmt"
	"time"

	"kounsel/internal/api"
)

// StreamingMessageID is the reserved id of the assistant message currently
// being built from chunks. At most one message in a transcript carries it,
// and it is always the last message. It is replaced by a durable id when
// the stream completes.
const StreamingMessageID = "streaming"

// newUserMessageID returns a synthetic id for an optimistically appended
// user message. The server assigns the durable id when it persists the copy
// sent through the store client.
func newUserMessageID() string {
	return fmt.Sprintf("user-%d", time.Now().UnixMilli())
}

// transcript is the in-memory message list for the active session.
// Not safe for concurrent use; the controller guards it.
type transcript struct {
	messages []api.Message
}

func (t *transcript) appendUser(sessionID, content string) {
	t.messages = append(t.messages, api.Message{
		ID:        newUserMessageID(),
		SessionID: sessionID,
		Role:      api.RoleUser,
		Content:   content,
		CreatedAt: api.Timestamp{Time: time.Now()},
	})
}

// setStreaming updates the streaming-sentinel message to hold content,
// appending the sentinel first if it does not exist yet.
func (t *transcript) setStreaming(sessionID, content string) {
	if n := len(t.messages); n > 0 && t.messages[n-1].ID == StreamingMessageID {
		t.messages[n-1].Content = content
		return
	}
	t.messages = append(t.messages, api.Message{
		ID:        StreamingMessageID,
		SessionID: sessionID,
		Role:      api.RoleAssistant,
		Content:   content,
		CreatedAt: api.Timestamp{Time: time.Now()},
	})
}

// finalizeStreaming replaces the sentinel's id and content with the server's
// authoritative values. If no sentinel exists (a response with zero chunks)
// the final message is appended directly. Exactly one assistant message
// remains for the turn either way.
func (t *transcript) finalizeStreaming(sessionID, messageID, content string) {
	if n := len(t.messages); n > 0 && t.messages[n-1].ID == StreamingMessageID {
		t.messages[n-1].ID = messageID
		t.messages[n-1].Content = content
		return
	}
	t.messages = append(t.messages, api.Message{
		ID:        messageID,
		SessionID: sessionID,
		Role:      api.RoleAssistant,
		Content:   content,
		CreatedAt: api.Timestamp{Time: time.Now()},
	})
}

// dropStreaming removes the sentinel message, if present. Used when a
// stream fails so no half-built assistant message lingers.
func (t *transcript) dropStreaming() {
	if n := len(t.messages); n > 0 && t.messages[n-1].ID == StreamingMessageID {
		t.messages = t.messages[:n-1]
	}
}

func (t *transcript) hasUserMessage() bool {
	for _, m := range t.messages {
		if m.Role == api.RoleUser {
			return true
		}
	}
	return false
}

func (t *transcript) replace(messages []api.Message) {
	t.messages = messages
}

func (t *transcript) clear() {
	t.messages = nil
}

func (t *transcript) snapshot() []api.Message {
	if len(t.messages) == 0 {
		return nil
	}
	out := make([]api.Message, len(t.messages))
	copy(out, t.messages)
	return out
}

package api

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Role identifies the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Timestamp wraps time.Time to tolerate the backend's timestamp formats.
// The backend emits ISO-8601 with or without a timezone offset.
type Timestamp struct {
	time.Time
}

// timestampLayouts lists accepted formats, most specific first.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

// UnmarshalJSON parses a timestamp from any accepted layout.
// Empty strings and null decode to the zero time.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		t.Time = time.Time{}
		return nil
	}
	// Some emitters use a "Z"-less UTC suffix variant.
	s = strings.Replace(s, "Z+00:00", "Z", 1)
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("unrecognized timestamp %q", s)
}

// MarshalJSON renders the timestamp as RFC 3339.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte(`""`), nil
	}
	return json.Marshal(t.Format(time.RFC3339Nano))
}

// Session represents a chat session as stored by the backend.
type Session struct {
	ID           string    `json:"session_id"`
	Title        string    `json:"title"`
	Preview      string    `json:"preview"`
	MessageCount int       `json:"message_count"`
	CreatedAt    Timestamp `json:"created_at"`
	UpdatedAt    Timestamp `json:"updated_at"`
}

// Message represents a single message in a conversation.
type Message struct {
	ID        string    `json:"message_id"`
	SessionID string    `json:"session_id,omitempty"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt Timestamp `json:"timestamp"`
}

// SessionUpdate describes a partial update to session metadata.
// Nil fields are left unchanged; set fields are sent as query parameters.
type SessionUpdate struct {
	Title   *string
	Preview *string
}

// User is the authenticated user as reported by the backend.
type User struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Name      string `json:"name,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// Health is the backend health report.
type Health struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

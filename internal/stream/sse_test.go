package stream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"kounsel/internal/api"
)

// sseServer returns a test server whose handler writes the given SSE lines
// and optionally leaves the connection open until the client goes away.
func sseServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func writeSSE(t *testing.T, w http.ResponseWriter, lines ...string) {
	t.Helper()
	fl, ok := w.(http.Flusher)
	if !ok {
		t.Fatal("response writer is not a flusher")
	}
	for _, line := range lines {
		fmt.Fprintf(w, "%s\n\n", line)
		fl.Flush()
	}
}

// collect drains the stream and returns all events in arrival order.
func collect(s *Stream) []Event {
	var events []Event
	for ev := range s.Events() {
		events = append(events, ev)
	}
	return events
}

func TestStreamHappyPath(t *testing.T) {
	srv := sseServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if r.URL.Path != "/chat/stream/sess-1" {
			t.Errorf("path = %s, want /chat/stream/sess-1", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization = %q, want Bearer tok", got)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		writeSSE(t, w,
			`data: {"type":"thinking","step":"Analyzing query"}`,
			`data: {"type":"chunk","content":"Hel"}`,
			`data: {"type":"chunk","content":"lo"}`,
			`data: {"type":"complete","message_id":"m1","full_content":"Hello"}`,
		)
	})

	tr := NewTransport(srv.URL, WithTokenSource(api.StaticToken("tok")))
	s, err := tr.Open(context.Background(), "sess-1", "hi")
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}

	events := collect(s)
	if err := s.Err(); err != nil {
		t.Fatalf("stream error: %v", err)
	}
	if len(events) != 4 {
		t.Fatalf("got %d events, want 4: %#v", len(events), events)
	}

	var content strings.Builder
	for _, ev := range events {
		if c, ok := ev.(Chunk); ok {
			content.WriteString(c.Content)
		}
	}
	if content.String() != "Hello" {
		t.Errorf("concatenated chunks = %q, want %q", content.String(), "Hello")
	}

	last, ok := events[len(events)-1].(Complete)
	if !ok {
		t.Fatalf("last event = %T, want Complete", events[len(events)-1])
	}
	if last.FullContent != "Hello" {
		t.Errorf("FullContent = %q, want %q", last.FullContent, "Hello")
	}
}

func TestStreamReassemblesEventSplitAcrossReads(t *testing.T) {
	srv := sseServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fl, ok := w.(http.Flusher)
		if !ok {
			t.Fatal("response writer is not a flusher")
		}
		// One event line delivered in three reads; the decoder must
		// buffer on the event boundary, not the read boundary.
		for _, frag := range []string{
			`data: {"type":"chu`,
			`nk","content":"Hel`,
			"lo\"}\n\n",
			"data: {\"type\":\"complete\",\"message_id\":\"m1\",\"full_content\":\"Hello\"}\n\n",
		} {
			fmt.Fprint(w, frag)
			fl.Flush()
		}
	})

	tr := NewTransport(srv.URL)
	s, err := tr.Open(context.Background(), "sess-1", "hi")
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}

	events := collect(s)
	if err := s.Err(); err != nil {
		t.Fatalf("stream error: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2: %#v", len(events), events)
	}
	chunk, ok := events[0].(Chunk)
	if !ok {
		t.Fatalf("first event = %T, want Chunk", events[0])
	}
	if chunk.Content != "Hello" {
		t.Errorf("Content = %q, want %q", chunk.Content, "Hello")
	}
	if _, ok := events[1].(Complete); !ok {
		t.Fatalf("last event = %T, want Complete", events[1])
	}
}

func TestStreamSkipsMalformedLines(t *testing.T) {
	srv := sseServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeSSE(t, w,
			`data: not json at all`,
			`data: {"type":"mystery_event"}`,
			`: comment line`,
			`data: {"type":"chunk","content":"ok"}`,
			`data: {"type":"complete","message_id":"m1","full_content":"ok"}`,
		)
	})

	tr := NewTransport(srv.URL)
	s, err := tr.Open(context.Background(), "s", "hi")
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}

	events := collect(s)
	if err := s.Err(); err != nil {
		t.Fatalf("stream error: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2 (malformed lines must be skipped): %#v", len(events), events)
	}
	if _, ok := events[0].(Chunk); !ok {
		t.Errorf("events[0] = %T, want Chunk", events[0])
	}
	if _, ok := events[1].(Complete); !ok {
		t.Errorf("events[1] = %T, want Complete", events[1])
	}
}

func TestStreamErrorEventIsTerminal(t *testing.T) {
	srv := sseServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeSSE(t, w,
			`data: {"type":"chunk","content":"par"}`,
			`data: {"type":"error","message":"model unavailable"}`,
		)
	})

	tr := NewTransport(srv.URL)
	s, err := tr.Open(context.Background(), "s", "hi")
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}

	events := collect(s)
	// An error event ends the stream normally at the transport level;
	// interpreting it is the controller's job.
	if err := s.Err(); err != nil {
		t.Fatalf("stream error: %v", err)
	}
	last, ok := events[len(events)-1].(ErrorEvent)
	if !ok {
		t.Fatalf("last event = %T, want ErrorEvent", events[len(events)-1])
	}
	if last.Message != "model unavailable" {
		t.Errorf("Message = %q, want %q", last.Message, "model unavailable")
	}
}

func TestStreamTruncation(t *testing.T) {
	srv := sseServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeSSE(t, w, `data: {"type":"chunk","content":"par"}`)
		// Connection closes without a terminal event.
	})

	tr := NewTransport(srv.URL)
	s, err := tr.Open(context.Background(), "s", "hi")
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}

	events := collect(s)
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if !errors.Is(s.Err(), ErrTruncated) {
		t.Errorf("Err() = %v, want ErrTruncated", s.Err())
	}
}

func TestStreamCancellation(t *testing.T) {
	release := make(chan struct{})
	srv := sseServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeSSE(t, w, `data: {"type":"chunk","content":"par"}`)
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	tr := NewTransport(srv.URL)
	s, err := tr.Open(ctx, "s", "hi")
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}

	// Read the first event, then cancel mid-stream.
	select {
	case <-s.Events():
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for first event")
	}
	cancel()

	collect(s)
	if !errors.Is(s.Err(), context.Canceled) {
		t.Errorf("Err() = %v, want context.Canceled", s.Err())
	}
}

func TestStreamClose(t *testing.T) {
	release := make(chan struct{})
	srv := sseServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeSSE(t, w, `data: {"type":"chunk","content":"par"}`)
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	tr := NewTransport(srv.URL)
	s, err := tr.Open(context.Background(), "s", "hi")
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}

	select {
	case <-s.Events():
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for first event")
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close() error: %v", err)
	}

	collect(s)
	if !errors.Is(s.Err(), context.Canceled) {
		t.Errorf("Err() = %v, want context.Canceled", s.Err())
	}
}

func TestStreamEmptyMessage(t *testing.T) {
	tr := NewTransport("http://unused")
	if _, err := tr.Open(context.Background(), "s", "   "); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("Open() error = %v, want ErrEmptyMessage", err)
	}
}

func TestStreamNonOKStatus(t *testing.T) {
	srv := sseServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail":"session not found"}`, http.StatusNotFound)
	})

	tr := NewTransport(srv.URL)
	_, err := tr.Open(context.Background(), "missing", "hi")
	if err == nil {
		t.Fatal("Open() expected error for 404")
	}
	if !strings.Contains(err.Error(), "404") {
		t.Errorf("error %q should mention status 404", err)
	}
}

func TestStreamSessionCreatedFirst(t *testing.T) {
	srv := sseServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeSSE(t, w,
			`data: {"type":"session_created","session_id":"real-id"}`,
			`data: {"type":"chunk","content":"hi"}`,
			`data: {"type":"complete","message_id":"m1","full_content":"hi"}`,
		)
	})

	tr := NewTransport(srv.URL)
	s, err := tr.Open(context.Background(), "temp-xyz", "hi")
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}

	events := collect(s)
	if len(events) == 0 {
		t.Fatal("no events")
	}
	sc, ok := events[0].(SessionCreated)
	if !ok {
		t.Fatalf("events[0] = %T, want SessionCreated", events[0])
	}
	if sc.SessionID != "real-id" {
		t.Errorf("SessionID = %q, want %q", sc.SessionID, "real-id")
	}
}

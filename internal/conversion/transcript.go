package conversion

import (
	"fmt"
	"strings"
	"time"

	"kounsel/internal/api"
)

// Transcript bundles a session with its ordered messages for export.
type Transcript struct {
	Session  api.Session
	Messages []api.Message
}

// roleLabel maps a message role to its display heading.
func roleLabel(role api.Role) string {
	switch role {
	case api.RoleUser:
		return "You"
	case api.RoleAssistant:
		return "Counselor"
	default:
		return string(role)
	}
}

func displayTitle(s api.Session) string {
	if strings.TrimSpace(s.Title) != "" {
		return s.Title
	}
	return "Conversation " + s.ID
}

// RenderMarkdown formats the transcript as a markdown document.
func RenderMarkdown(t Transcript) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", displayTitle(t.Session))
	if !t.Session.CreatedAt.IsZero() {
		fmt.Fprintf(&b, "_Started %s_\n\n", t.Session.CreatedAt.Format("January 2, 2006 15:04 MST"))
	}
	for _, m := range t.Messages {
		fmt.Fprintf(&b, "## %s\n\n", roleLabel(m.Role))
		if !m.CreatedAt.IsZero() {
			fmt.Fprintf(&b, "_%s_\n\n", m.CreatedAt.Format(time.RFC1123))
		}
		b.WriteString(strings.TrimRight(m.Content, "\n"))
		b.WriteString("\n\n")
	}
	return b.String()
}

const htmlShell = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8"/>
<title>%s</title>
<style>
body { max-width: 48rem; margin: 2rem auto; padding: 0 1rem; font-family: system-ui, sans-serif; line-height: 1.6; color: #1a1a1a; }
.message { margin: 1.5rem 0; padding: 1rem; border-radius: 8px; }
.message.user { background: #eef2ff; }
.message.assistant { background: #f6f6f6; }
.message .meta { font-size: 0.8rem; color: #666; margin-bottom: 0.5rem; }
pre { overflow-x: auto; padding: 0.75rem; border-radius: 6px; }
code { font-family: ui-monospace, monospace; }
</style>
</head>
<body>
<h1>%s</h1>
%s</body>
</html>
`

// RenderHTML formats the transcript as a standalone HTML page. Message
// bodies are rendered from markdown and sanitized.
func RenderHTML(t Transcript, conv *Converter) string {
	if conv == nil {
		conv = DefaultConverter()
	}
	var body strings.Builder
	for _, m := range t.Messages {
		class := "assistant"
		if m.Role == api.RoleUser {
			class = "user"
		}
		meta := roleLabel(m.Role)
		if !m.CreatedAt.IsZero() {
			meta += " · " + m.CreatedAt.Format(time.RFC1123)
		}
		fmt.Fprintf(&body, "<div class=\"message %s\">\n<div class=\"meta\">%s</div>\n%s</div>\n",
			class, EscapeHTML(meta), conv.ConvertToSafeHTML(m.Content))
	}
	title := EscapeHTML(displayTitle(t.Session))
	return fmt.Sprintf(htmlShell, title, title, body.String())
}

// Package conversion renders counselor responses and session transcripts
// from markdown into sanitized HTML for export.
package conversion

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting/v2"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer/html"
)

// Converter turns markdown into HTML, optionally sanitized.
type Converter struct {
	md        goldmark.Markdown
	sanitizer *bluemonday.Policy
}

// Option configures the Converter.
type Option func(*Converter)

// WithHighlighting enables syntax highlighting of fenced code blocks with
// the given chroma style.
func WithHighlighting(style string) Option {
	return func(c *Converter) {
		c.md = goldmark.New(
			goldmark.WithExtensions(
				extension.GFM,
				highlighting.NewHighlighting(
					highlighting.WithStyle(style),
				),
			),
			goldmark.WithParserOptions(
				parser.WithAutoHeadingID(),
			),
			goldmark.WithRendererOptions(
				html.WithHardWraps(),
				html.WithXHTML(),
			),
		)
	}
}

// WithSanitization sets the HTML sanitization policy applied after
// rendering. Counselor output is model-generated, so exports are always
// expected to sanitize.
func WithSanitization(policy *bluemonday.Policy) Option {
	return func(c *Converter) {
		c.sanitizer = policy
	}
}

// NewConverter creates a Converter. Without options it renders GFM with
// hard wraps and no sanitization.
func NewConverter(opts ...Option) *Converter {
	c := &Converter{
		md: goldmark.New(
			goldmark.WithExtensions(
				extension.GFM,
			),
			goldmark.WithParserOptions(
				parser.WithAutoHeadingID(),
			),
			goldmark.WithRendererOptions(
				html.WithHardWraps(),
				html.WithXHTML(),
			),
		),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// DefaultConverter returns the converter used for transcript exports.
func DefaultConverter() *Converter {
	return NewConverter(
		WithHighlighting("github"),
		WithSanitization(TranscriptSanitizer()),
	)
}

// TranscriptSanitizer builds the bluemonday policy for exported
// transcripts: user-generated-content defaults plus the class and id
// attributes the highlighter and heading anchors emit.
func TranscriptSanitizer() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AllowAttrs("class").Matching(bluemonday.SpaceSeparatedTokens).OnElements("code", "pre", "span", "div")
	p.AllowAttrs("id").Matching(bluemonday.Paragraph).OnElements("h1", "h2", "h3", "h4", "h5", "h6")
	return p
}

// Convert renders markdown to HTML, applying sanitization if configured.
func (c *Converter) Convert(markdown string) (string, error) {
	var buf bytes.Buffer
	if err := c.md.Convert([]byte(markdown), &buf); err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	out := buf.String()
	if c.sanitizer != nil {
		out = c.sanitizer.Sanitize(out)
	}
	return out, nil
}

// ConvertToSafeHTML renders markdown, falling back to an escaped <pre>
// block if rendering fails, so a malformed response never breaks an export.
func (c *Converter) ConvertToSafeHTML(markdown string) string {
	out, err := c.Convert(markdown)
	if err != nil {
		return "<pre>" + EscapeHTML(markdown) + "</pre>"
	}
	return out
}

// EscapeHTML escapes special HTML characters.
func EscapeHTML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	s = strings.ReplaceAll(s, "\"", "&quot;")
	s = strings.ReplaceAll(s, "'", "&#39;")
	return s
}

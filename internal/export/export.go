// ABOUTME: Renders a conversation as json, markdown, plain text or html
// ABOUTME: HTML is produced from the markdown rendering with goldmark

package export

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/2389/coven-chorus/internal/conversation"
)

// ErrUnsupportedFormat is returned for unknown format names
var ErrUnsupportedFormat = errors.New("unsupported export format")

// Format is an export format name.
type Format string

// Formats
const (
	JSON     Format = "json"
	Markdown Format = "markdown"
	Text     Format = "text"
	HTML     Format = "html"
)

// Formats lists every supported format.
var Formats = []Format{JSON, Markdown, Text, HTML}

// ParseFormat validates a format name. "md" and "txt" are accepted as aliases.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "json":
		return JSON, nil
	case "markdown", "md":
		return Markdown, nil
	case "text", "txt":
		return Text, nil
	case "html":
		return HTML, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, s)
}

// Extension returns the file extension for f, without the dot.
func (f Format) Extension() string {
	switch f {
	case Markdown:
		return "md"
	case Text:
		return "txt"
	}
	return string(f)
}

// Names maps persona ids to display names. Unknown ids render as-is.
type Names map[string]string

// Name returns the display name for id, or id itself when unknown.
func (n Names) Name(id string) string {
	if name, ok := n[id]; ok && name != "" {
		return name
	}
	return id
}

var md = goldmark.New(goldmark.WithExtensions(extension.GFM))

var page = template.Must(template.New("export").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
</head>
<body>
{{.Body}}
</body>
</html>
`))

// Write renders conv to w in format f.
func Write(w io.Writer, conv *conversation.Conversation, f Format, names Names) error {
	switch f {
	case JSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(conv)
	case Markdown:
		_, err := io.WriteString(w, renderMarkdown(conv, names))
		return err
	case Text:
		_, err := io.WriteString(w, renderText(conv, names))
		return err
	case HTML:
		var body bytes.Buffer
		if err := md.Convert([]byte(renderMarkdown(conv, names)), &body); err != nil {
			return fmt.Errorf("rendering markdown: %w", err)
		}
		return page.Execute(w, struct {
			Title string
			Body  template.HTML
		}{
			Title: conv.Title,
			Body:  template.HTML(body.String()),
		})
	}
	return fmt.Errorf("%w: %s", ErrUnsupportedFormat, f)
}

func speaker(m conversation.Message, names Names) string {
	switch m.SenderKind {
	case conversation.SenderUser:
		return "User"
	case conversation.SenderSystem:
		return "System"
	}
	return names.Name(m.SenderID)
}

func renderMarkdown(conv *conversation.Conversation, names Names) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", conv.Title)
	for _, m := range conv.Messages {
		if m.Content == conversation.Placeholder {
			continue
		}
		fmt.Fprintf(&b, "**%s:**\n\n%s\n\n", speaker(m, names), m.Content)
		if m.Metadata != nil && m.Metadata.Error != "" {
			fmt.Fprintf(&b, "> Error: %s\n\n", m.Metadata.Error)
		}
	}
	return b.String()
}

func renderText(conv *conversation.Conversation, names Names) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\n", conv.Title)
	for _, m := range conv.Messages {
		if m.Content == conversation.Placeholder {
			continue
		}
		fmt.Fprintf(&b, "%s: %s\n\n", speaker(m, names), m.Content)
	}
	return b.String()
}

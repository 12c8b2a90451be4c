package history

import (
	"bytes"
	"fmt"
	"html"
	"strings"

	"github.com/samsaffron/codereview-chat/internal/llm"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// ExportOptions configures history export.
type ExportOptions struct {
	IncludeSystem bool
}

// escapeTableCell escapes characters that break markdown table cells.
func escapeTableCell(s string) string {
	s = strings.ReplaceAll(s, "|", "\\|")
	s = strings.ReplaceAll(s, "\n", " ")
	return s
}

// ExportToMarkdown renders a history as a markdown transcript.
func ExportToMarkdown(h *History, opts ExportOptions) string {
	var b strings.Builder

	title := h.Title
	if title == "" {
		title = ShortID(h.ID)
	}
	fmt.Fprintf(&b, "# %s\n\n", escapeTableCell(title))

	b.WriteString("| | |\n")
	b.WriteString("|---|---|\n")
	fmt.Fprintf(&b, "| **Chat** | `%s` |\n", h.ID)
	if h.Provider != "" {
		fmt.Fprintf(&b, "| **Provider** | %s |\n", escapeTableCell(h.Provider))
	}
	if !h.CreatedAt.IsZero() {
		fmt.Fprintf(&b, "| **Created** | %s |\n", h.CreatedAt.UTC().Format("2006-01-02 15:04 UTC"))
	}
	fmt.Fprintf(&b, "| **Messages** | %d |\n\n", len(h.Messages))
	b.WriteString("---\n\n")

	for _, msg := range h.Messages {
		switch msg.Role {
		case llm.RoleSystem:
			if !opts.IncludeSystem {
				continue
			}
			b.WriteString("### System\n\n")
		case llm.RoleUser:
			b.WriteString("### User\n\n")
		case llm.RoleAssistant:
			b.WriteString("### Assistant\n\n")
		default:
			continue
		}
		b.WriteString(msg.Content)
		b.WriteString("\n\n---\n\n")
	}
	return b.String()
}

var markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

// ExportToHTML renders the markdown transcript as a standalone HTML page.
func ExportToHTML(h *History, opts ExportOptions) (string, error) {
	var body bytes.Buffer
	if err := markdown.Convert([]byte(ExportToMarkdown(h, opts)), &body); err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}

	title := h.Title
	if title == "" {
		title = ShortID(h.ID)
	}

	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n")
	fmt.Fprintf(&b, "<title>%s</title>\n", html.EscapeString(title))
	b.WriteString("<style>body{font-family:sans-serif;max-width:50em;margin:2em auto;padding:0 1em}" +
		"pre{background:#f5f5f5;padding:1em;overflow-x:auto}table{border-collapse:collapse}" +
		"td,th{border:1px solid #ddd;padding:.3em .6em}</style>\n")
	b.WriteString("</head>\n<body>\n")
	b.Write(body.Bytes())
	b.WriteString("</body>\n</html>\n")
	return b.String(), nil
}

package history

import (
	"strings"
	"testing"
	"time"

	"github.com/samsaffron/codereview-chat/internal/llm"
)

func sampleHistory() *History {
	return &History{
		ID:        "20240115-103000-abcdef",
		Title:     "Review | handler",
		Provider:  "anthropic",
		CreatedAt: time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC),
		Messages: llm.Conversation{
			llm.SystemText("You are a code reviewer."),
			llm.UserText("```go\nfunc f() {}\n```"),
			llm.AssistantText("**Looks good.** <script>alert(1)</script>"),
		},
	}
}

func TestExportToMarkdown(t *testing.T) {
	out := ExportToMarkdown(sampleHistory(), ExportOptions{})

	for _, want := range []string{
		"# Review \\| handler",
		"| **Provider** | anthropic |",
		"| **Created** | 2024-01-15 10:30 UTC |",
		"### User\n\n```go\nfunc f() {}\n```",
		"### Assistant\n\n**Looks good.**",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
	if strings.Contains(out, "### System") {
		t.Error("system message exported without IncludeSystem")
	}

	out = ExportToMarkdown(sampleHistory(), ExportOptions{IncludeSystem: true})
	if !strings.Contains(out, "### System\n\nYou are a code reviewer.") {
		t.Error("system message missing with IncludeSystem")
	}
}

func TestExportToMarkdownUntitled(t *testing.T) {
	h := &History{ID: "20240115-103000-abcdef"}
	if out := ExportToMarkdown(h, ExportOptions{}); !strings.HasPrefix(out, "# 240115-1030\n") {
		t.Errorf("untitled export starts with %q", strings.SplitN(out, "\n", 2)[0])
	}
}

func TestExportToHTML(t *testing.T) {
	out, err := ExportToHTML(sampleHistory(), ExportOptions{})
	if err != nil {
		t.Fatalf("ExportToHTML: %v", err)
	}
	for _, want := range []string{
		"<title>Review | handler</title>",
		"<strong>Looks good.</strong>",
		`<code class="language-go">`,
		"<table>",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
	if strings.Contains(out, "<script>") {
		t.Error("raw HTML from messages must not be passed through")
	}
}

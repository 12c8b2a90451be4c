package review

import (
	"strings"
	"testing"

	"github.com/samsaffron/codereview-chat/internal/llm"
)

func TestExtractCodeBlocks(t *testing.T) {
	src := "Here is the fix:\n\n```Go\nfunc add(a, b int) int {\n\treturn a + b\n}\n```\n\nAnd a shell line:\n\n    go test ./...\n\n```\nplain\n```\n"
	blocks := ExtractCodeBlocks(src)
	if len(blocks) != 3 {
		t.Fatalf("got %d blocks, want 3: %+v", len(blocks), blocks)
	}
	if blocks[0].Language != "go" || blocks[0].Code != "func add(a, b int) int {\n\treturn a + b\n}\n" {
		t.Errorf("block 0 = %+v", blocks[0])
	}
	if blocks[1].Language != "" || blocks[1].Code != "go test ./...\n" {
		t.Errorf("block 1 = %+v", blocks[1])
	}
	if blocks[2].Code != "plain\n" {
		t.Errorf("block 2 = %+v", blocks[2])
	}

	if got := ExtractCodeBlocks("no code here"); len(got) != 0 {
		t.Errorf("expected no blocks, got %+v", got)
	}
}

func TestDetectLanguage(t *testing.T) {
	tests := []struct {
		filename, content, want string
	}{
		{"main.go", "", "go"},
		{"/tmp/x/handler.py", "", "python"},
		{"", "", ""},
		{"", "   ", ""},
	}
	for _, tt := range tests {
		if got := DetectLanguage(tt.filename, tt.content); got != tt.want {
			t.Errorf("DetectLanguage(%q, %q) = %q, want %q", tt.filename, tt.content, got, tt.want)
		}
	}
}

func TestFenceCode(t *testing.T) {
	got := FenceCode("/src/app/main.go", "package main")
	want := "File: main.go\n\n```go\npackage main\n```"
	if got != want {
		t.Errorf("FenceCode = %q, want %q", got, want)
	}

	nested := "Example:\n```go\nx := 1\n```\n"
	got = FenceCode("README.md", nested)
	if !strings.HasPrefix(got, "File: README.md\n\n````") || !strings.HasSuffix(got, "\n````") {
		t.Errorf("nested fence not lengthened: %q", got)
	}
	blocks := ExtractCodeBlocks(got)
	if len(blocks) != 1 || blocks[0].Code != nested {
		t.Errorf("fenced content does not round trip: %+v", blocks)
	}
}

func TestSuggestedDiff(t *testing.T) {
	user := "Review this:\n\n```go\nfunc div(a, b int) int {\n\treturn a / b\n}\n```\n"
	reply := "Guard against zero:\n\n```python\nprint('unrelated')\n```\n\n```golang\nfunc div(a, b int) int {\n\tif b == 0 {\n\t\treturn 0\n\t}\n\treturn a / b\n}\n```\n"

	diff, ok, err := SuggestedDiff(user, reply)
	if err != nil || !ok {
		t.Fatalf("SuggestedDiff ok=%v err=%v", ok, err)
	}
	for _, want := range []string{"--- original", "+++ suggested", "+\tif b == 0 {", " \treturn a / b"} {
		if !strings.Contains(diff, want) {
			t.Errorf("diff missing %q:\n%s", want, diff)
		}
	}
	if strings.Contains(diff, "unrelated") {
		t.Error("diff used a block in another language")
	}
}

func TestSuggestedDiffNoCode(t *testing.T) {
	if _, ok, _ := SuggestedDiff("just a question", "```go\nx\n```"); ok {
		t.Error("expected no suggestion without user code")
	}
	if _, ok, _ := SuggestedDiff("```go\nx\n```", "looks fine"); ok {
		t.Error("expected no suggestion without reply code")
	}
	diff, ok, err := SuggestedDiff("```go\nx\n```", "```go\nx\n```")
	if !ok || err != nil || diff != "" {
		t.Errorf("identical code: diff=%q ok=%v err=%v", diff, ok, err)
	}
}

func TestLatestSuggestion(t *testing.T) {
	conv := llm.Conversation{
		llm.UserText("```go\na := 1\n```"),
		llm.AssistantText("```go\na := 2\n```"),
		llm.UserText("thanks, what about naming?"),
		llm.AssistantText("Names are fine."),
	}
	s, ok := LatestSuggestion(conv)
	if !ok {
		t.Fatal("expected suggestion from the first exchange")
	}
	if s.Original != "a := 1\n" || s.Modified != "a := 2\n" || s.Language != "go" {
		t.Errorf("suggestion=%+v", s)
	}

	if _, ok := LatestSuggestion(llm.Conversation{llm.UserText("hi")}); ok {
		t.Error("expected no suggestion")
	}
}

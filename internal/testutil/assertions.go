package testutil

import (
	"regexp"
	"strings"
	"testing"

	"github.com/samsaffron/codereview-chat/internal/llm"
)

// AssertContains fails the test if output does not contain expected.
func AssertContains(t *testing.T, output, expected string) {
	t.Helper()
	if !strings.Contains(output, expected) {
		t.Errorf("output does not contain expected string\nExpected to find: %q\nIn output:\n%s", expected, truncateForError(output))
	}
}

// AssertContainsPlain fails if output (after stripping ANSI) does not contain expected.
func AssertContainsPlain(t *testing.T, output, expected string) {
	t.Helper()
	plain := StripANSI(output)
	if !strings.Contains(plain, expected) {
		t.Errorf("output does not contain expected string\nExpected to find: %q\nIn output (plain):\n%s", expected, truncateForError(plain))
	}
}

// AssertNotContains fails the test if output contains unexpected.
func AssertNotContains(t *testing.T, output, unexpected string) {
	t.Helper()
	if strings.Contains(output, unexpected) {
		t.Errorf("output contains unexpected string\nDid not expect to find: %q\nIn output:\n%s", unexpected, truncateForError(output))
	}
}

// AssertMatchesString fails the test if output does not match the regex pattern string.
func AssertMatchesString(t *testing.T, output, pattern string) {
	t.Helper()
	re, err := regexp.Compile(pattern)
	if err != nil {
		t.Fatalf("invalid regex pattern %q: %v", pattern, err)
	}
	if !re.MatchString(output) {
		t.Errorf("output does not match pattern\nPattern: %s\nOutput:\n%s", pattern, truncateForError(output))
	}
}

// AssertRoles fails if the conversation's roles differ from want.
func AssertRoles(t *testing.T, conv llm.Conversation, want ...llm.Role) {
	t.Helper()
	got := make([]string, len(conv))
	for i, m := range conv {
		got[i] = string(m.Role)
	}
	exp := make([]string, len(want))
	for i, r := range want {
		exp[i] = string(r)
	}
	if strings.Join(got, ",") != strings.Join(exp, ",") {
		t.Errorf("roles = [%s], want [%s]", strings.Join(got, ","), strings.Join(exp, ","))
	}
}

// AssertLastMessage fails unless the final message has the given role and content.
func AssertLastMessage(t *testing.T, conv llm.Conversation, role llm.Role, content string) {
	t.Helper()
	last, ok := conv.Last()
	if !ok {
		t.Fatalf("conversation is empty, want last message %s %q", role, content)
	}
	if last.Role != role || last.Content != content {
		t.Errorf("last message = %s %q, want %s %q", last.Role, truncateForError(last.Content), role, content)
	}
}

// truncateForError truncates output for error messages to avoid huge logs.
func truncateForError(s string) string {
	const maxLen = 2000
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "\n... [truncated]"
}

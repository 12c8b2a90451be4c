package review

import (
	"fmt"
	"path/filepath"
	"strings"
)

// FenceCode wraps a file's content in a markdown fence labelled with its
// name and detected language. The fence is longer than any backtick run in
// the content so embedded fences survive.
func FenceCode(filename, content string) string {
	fence := strings.Repeat("`", max(3, longestRun(content, '`')+1))
	lang := DetectLanguage(filename, content)

	var b strings.Builder
	if filename != "" {
		fmt.Fprintf(&b, "File: %s\n\n", filepath.Base(filename))
	}
	b.WriteString(fence)
	b.WriteString(lang)
	b.WriteString("\n")
	b.WriteString(content)
	if !strings.HasSuffix(content, "\n") {
		b.WriteString("\n")
	}
	b.WriteString(fence)
	return b.String()
}

func longestRun(s string, c rune) int {
	best, cur := 0, 0
	for _, r := range s {
		if r == c {
			cur++
			best = max(best, cur)
		} else {
			cur = 0
		}
	}
	return best
}

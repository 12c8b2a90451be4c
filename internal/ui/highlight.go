package ui

import (
	"fmt"
	"io"
	"regexp"
	"strings"
	"sync"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
)

var (
	highlighterCache   = make(map[string]*Highlighter)
	highlighterCacheMu sync.RWMutex
)

// Highlighter colours source code of one language for terminal display.
type Highlighter struct {
	lexer chroma.Lexer
	style *chroma.Style
}

// NewHighlighter returns a highlighter for a language name or alias
// ("go", "python", "ts"). It returns nil for unknown languages.
func NewHighlighter(language string) *Highlighter {
	language = strings.ToLower(strings.TrimSpace(language))
	if language == "" {
		return nil
	}

	highlighterCacheMu.RLock()
	h, ok := highlighterCache[language]
	highlighterCacheMu.RUnlock()
	if ok {
		return h
	}

	if lexer := lexers.Get(language); lexer != nil {
		style := styles.Get("monokai")
		if style == nil {
			style = styles.Fallback
		}
		h = &Highlighter{lexer: chroma.Coalesce(lexer), style: style}
	}

	highlighterCacheMu.Lock()
	highlighterCache[language] = h
	highlighterCacheMu.Unlock()
	return h
}

// HighlightLine colours a single line. A nil highlighter returns it as is.
func (h *Highlighter) HighlightLine(line string) string {
	return h.format(line, nil)
}

// HighlightLineWithBg colours a line over a fixed true-colour background.
func (h *Highlighter) HighlightLineWithBg(line string, bg [3]int) string {
	if h == nil {
		return fmt.Sprintf("\x1b[48;2;%d;%d;%dm%s\x1b[0m", bg[0], bg[1], bg[2], line)
	}
	return h.format(line, &bg)
}

func (h *Highlighter) format(line string, bg *[3]int) string {
	if h == nil {
		return line
	}
	iterator, err := h.lexer.Tokenise(nil, line)
	if err != nil {
		return line
	}
	var buf strings.Builder
	if err := (&ansiFormatter{style: h.style, bg: bg}).Format(&buf, iterator); err != nil {
		return line
	}
	return buf.String()
}

// ansiFormatter writes true-colour foregrounds and an optional background.
type ansiFormatter struct {
	style *chroma.Style
	bg    *[3]int
}

func (f *ansiFormatter) Format(w io.Writer, iterator chroma.Iterator) error {
	for token := iterator(); token != chroma.EOF; token = iterator() {
		// Trailing newline tokens would add phantom lines.
		value := strings.TrimRight(token.Value, "\n")
		if value == "" {
			continue
		}

		entry := f.style.Get(token.Type)
		var codes []string
		if f.bg != nil {
			codes = append(codes, fmt.Sprintf("48;2;%d;%d;%d", f.bg[0], f.bg[1], f.bg[2]))
		}
		if entry.Colour.IsSet() {
			codes = append(codes, fmt.Sprintf("38;2;%d;%d;%d", entry.Colour.Red(), entry.Colour.Green(), entry.Colour.Blue()))
		}
		if entry.Bold == chroma.Yes {
			codes = append(codes, "1")
		}
		if entry.Italic == chroma.Yes {
			codes = append(codes, "3")
		}

		if len(codes) == 0 {
			fmt.Fprint(w, value)
			continue
		}
		if f.bg != nil {
			fmt.Fprintf(w, "\x1b[%sm%s", strings.Join(codes, ";"), value)
		} else {
			fmt.Fprintf(w, "\x1b[%sm%s\x1b[0m", strings.Join(codes, ";"), value)
		}
	}
	if f.bg != nil {
		fmt.Fprint(w, "\x1b[0m")
	}
	return nil
}

var (
	removedBg = [3]int{72, 20, 20}
	addedBg   = [3]int{20, 60, 20}
)

// ColorizeDiff highlights a unified diff of code in language: file headers
// bold, hunk headers muted, changed lines over red or green backgrounds.
func ColorizeDiff(diff, language string, s *Styles) string {
	h := NewHighlighter(language)
	lines := strings.Split(strings.TrimSuffix(diff, "\n"), "\n")

	var b strings.Builder
	for _, line := range lines {
		switch {
		case strings.HasPrefix(line, "---"), strings.HasPrefix(line, "+++"):
			b.WriteString(s.Bold.Render(line))
		case strings.HasPrefix(line, "@@"):
			b.WriteString(s.Muted.Render(line))
		case strings.HasPrefix(line, "-"):
			b.WriteString(h.HighlightLineWithBg(line, removedBg))
		case strings.HasPrefix(line, "+"):
			b.WriteString(h.HighlightLineWithBg(line, addedBg))
		default:
			b.WriteString(h.HighlightLine(line))
		}
		b.WriteByte('\n')
	}
	return b.String()
}

var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;]*m`)

// StripANSI removes colour escape codes.
func StripANSI(s string) string {
	return ansiPattern.ReplaceAllString(s, "")
}

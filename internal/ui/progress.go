package ui

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/samsaffron/codereview-chat/internal/llm"
)

const progressBarWidth = 20

// FormatLoadProgress renders one line of local model loading status, with a
// bar when the total size is known:
//
//	Loading llama3.2: pulling 8eeb52dfb3bb [#######.............] 35%
func FormatLoadProgress(model string, p llm.LoadProgress) string {
	var b strings.Builder
	b.WriteString("Loading")
	if model != "" {
		b.WriteString(" ")
		b.WriteString(model)
	}
	if p.Status != "" {
		b.WriteString(": ")
		b.WriteString(p.Status)
	}
	if f := p.Fraction(); f >= 0 {
		filled := int(f * progressBarWidth)
		fmt.Fprintf(&b, " [%s%s] %3.0f%%",
			strings.Repeat("#", filled),
			strings.Repeat(".", progressBarWidth-filled),
			f*100)
	}
	return b.String()
}

// StreamingIndicator renders the status line shown while a reply is being
// generated but not echoed.
type StreamingIndicator struct {
	Phase      string
	Elapsed    time.Duration
	Chars      int
	ShowCancel bool
}

func (s StreamingIndicator) Render(styles *Styles) string {
	var b strings.Builder
	b.WriteString(s.Phase)
	b.WriteString("...")
	if s.Chars > 0 {
		fmt.Fprintf(&b, " %d chars |", s.Chars)
	}
	fmt.Fprintf(&b, " %.1fs", s.Elapsed.Seconds())
	if s.ShowCancel {
		b.WriteString(" ")
		b.WriteString(styles.Muted.Render("(ctrl-c to cancel)"))
	}
	return b.String()
}

// StatusLine rewrites a single terminal line in place. On a non-terminal it
// only prints lines that differ from the previous one.
type StatusLine struct {
	w    io.Writer
	tty  bool
	last string
}

func NewStatusLine(w io.Writer, tty bool) *StatusLine {
	return &StatusLine{w: w, tty: tty}
}

func (l *StatusLine) Set(text string) {
	if text == l.last {
		return
	}
	l.last = text
	if l.tty {
		fmt.Fprintf(l.w, "\r\x1b[2K%s", text)
		return
	}
	fmt.Fprintln(l.w, text)
}

// Clear erases the line so normal output can continue.
func (l *StatusLine) Clear() {
	if l.last == "" {
		return
	}
	l.last = ""
	if l.tty {
		fmt.Fprint(l.w, "\r\x1b[2K")
	}
}

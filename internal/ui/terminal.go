package ui

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

const defaultWidth = 100

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// TerminalHeight returns the number of rows of f, or 0 when unknown.
func TerminalHeight(f *os.File) int {
	_, h, err := term.GetSize(int(f.Fd()))
	if err != nil {
		return 0
	}
	return h
}

// TerminalWidth returns the width of f, or a default for pipes. Wide
// terminals are capped to keep reviews readable.
func TerminalWidth(f *os.File) int {
	w, _, err := term.GetSize(int(f.Fd()))
	if err != nil || w <= 0 {
		return defaultWidth
	}
	return min(w, 120)
}

// StreamPrinter echoes an accumulating reply. Each update carries the
// whole text so far; only the unseen suffix is written. When a snapshot
// rewrites earlier text the reply is printed again on a fresh line.
type StreamPrinter struct {
	w       io.Writer
	printed string
	written strings.Builder
}

func NewStreamPrinter(w io.Writer) *StreamPrinter {
	return &StreamPrinter{w: w}
}

func (p *StreamPrinter) Update(text string) {
	out := "\n" + text
	if strings.HasPrefix(text, p.printed) {
		out = text[len(p.printed):]
	}
	fmt.Fprint(p.w, out)
	p.written.WriteString(out)
	p.printed = text
}

// Printed returns the current reply text.
func (p *StreamPrinter) Printed() string {
	return p.printed
}

// Finish ends the reply with a newline and starts over.
func (p *StreamPrinter) Finish() {
	if p.printed != "" && !strings.HasSuffix(p.printed, "\n") {
		fmt.Fprintln(p.w)
	}
	p.printed = ""
	p.written.Reset()
}

// Erase removes everything written since the last Finish from a terminal
// of the given size, so the reply can be redrawn. It returns false and
// leaves the output alone when the text has scrolled off screen.
func (p *StreamPrinter) Erase(width, height int) bool {
	rows := displayRows(p.written.String(), width)
	if rows >= height {
		return false
	}
	if rows > 1 {
		fmt.Fprintf(p.w, "\x1b[%dA", rows-1)
	}
	fmt.Fprint(p.w, "\r\x1b[J")
	p.printed = ""
	p.written.Reset()
	return true
}

// displayRows counts the terminal rows text occupies when wrapped at width,
// including the row holding the cursor.
func displayRows(text string, width int) int {
	if width <= 0 {
		width = defaultWidth
	}
	rows := 0
	for _, line := range strings.Split(text, "\n") {
		w := lipgloss.Width(strings.ReplaceAll(line, "\t", "        "))
		rows += max(1, (w+width-1)/width)
	}
	return rows
}

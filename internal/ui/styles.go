package ui

import (
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"

	"github.com/samsaffron/codereview-chat/internal/llm"
)

// Color palette
var (
	Green  = lipgloss.Color("10")
	Red    = lipgloss.Color("9")
	Grey   = lipgloss.Color("8")
	Blue   = lipgloss.Color("4")
	Yellow = lipgloss.Color("11")
	White  = lipgloss.Color("15")
)

const (
	SuccessIcon = "✓"
	FailIcon    = "✗"
	AbortIcon   = "■"
)

// Styles holds text styles bound to one output's colour profile.
type Styles struct {
	Title     lipgloss.Style
	Success   lipgloss.Style
	Error     lipgloss.Style
	Warning   lipgloss.Style
	Muted     lipgloss.Style
	Bold      lipgloss.Style
	User      lipgloss.Style
	Assistant lipgloss.Style
	System    lipgloss.Style
	Prompt    lipgloss.Style
}

func NewStyles(output io.Writer) *Styles {
	r := lipgloss.NewRenderer(output)
	return &Styles{
		Title:     r.NewStyle().Bold(true).Foreground(White),
		Success:   r.NewStyle().Foreground(Green),
		Error:     r.NewStyle().Foreground(Red),
		Warning:   r.NewStyle().Foreground(Yellow),
		Muted:     r.NewStyle().Foreground(Grey),
		Bold:      r.NewStyle().Bold(true),
		User:      r.NewStyle().Bold(true).Foreground(Blue),
		Assistant: r.NewStyle().Bold(true).Foreground(Green),
		System:    r.NewStyle().Italic(true).Foreground(Grey),
		Prompt:    r.NewStyle().Bold(true).Foreground(Blue),
	}
}

// DefaultStyles returns styles for stderr.
func DefaultStyles() *Styles {
	return NewStyles(os.Stderr)
}

// FormatResult prefixes msg with a coloured tick or cross.
func (s *Styles) FormatResult(success bool, msg string) string {
	if success {
		return s.Success.Render(SuccessIcon+" ") + msg
	}
	return s.Error.Render(FailIcon+" ") + msg
}

// FormatRole renders a message role as a heading label.
func (s *Styles) FormatRole(role llm.Role) string {
	switch role {
	case llm.RoleUser:
		return s.User.Render("You")
	case llm.RoleAssistant:
		return s.Assistant.Render("Reviewer")
	default:
		return s.System.Render("System")
	}
}

// Truncate shortens s to maxLen runes, ending with "...".
func Truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}

package testutil

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// Frame is what a client would have shown at one callback: the reply so
// far, a load status, or the final text tagged with the turn outcome.
type Frame struct {
	Raw   string
	Plain string
	Phase string
}

// ScreenCapture records frames in callback order.
type ScreenCapture struct {
	mu      sync.Mutex
	frames  []Frame
	enabled bool
}

func NewScreenCapture() *ScreenCapture {
	return &ScreenCapture{}
}

func (s *ScreenCapture) Enable() {
	s.mu.Lock()
	s.enabled = true
	s.mu.Unlock()
}

func (s *ScreenCapture) Capture(raw, phase string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.enabled {
		return
	}
	s.frames = append(s.frames, Frame{Raw: raw, Plain: StripANSI(raw), Phase: phase})
}

func (s *ScreenCapture) Frames() []Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Frame(nil), s.frames...)
}

// Phases lists the phase of every frame.
func (s *ScreenCapture) Phases() []string {
	frames := s.Frames()
	out := make([]string, len(frames))
	for i, f := range frames {
		out[i] = f.Phase
	}
	return out
}

func (s *ScreenCapture) LastFrame() Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.frames) == 0 {
		return Frame{}
	}
	return s.frames[len(s.frames)-1]
}

// Dump renders all frames for failure messages.
func (s *ScreenCapture) Dump() string {
	var sb strings.Builder
	frames := s.Frames()
	fmt.Fprintf(&sb, "%d frames\n", len(frames))
	for i, f := range frames {
		fmt.Fprintf(&sb, "--- frame %d [%s] ---\n%s\n", i, f.Phase, f.Plain)
	}
	return sb.String()
}

var ansiRegex = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]|\x1b\][^\x07]*\x07`)

// StripANSI removes ANSI escape sequences from a string.
func StripANSI(s string) string {
	return ansiRegex.ReplaceAllString(s, "")
}

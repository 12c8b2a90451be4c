package llm

import (
	"context"
	"strings"
)

// Role identifies the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// Message is a single conversation entry. Messages are treated as values and
// never mutated once appended to a Conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

func SystemText(text string) Message    { return Message{Role: RoleSystem, Content: text} }
func UserText(text string) Message      { return Message{Role: RoleUser, Content: text} }
func AssistantText(text string) Message { return Message{Role: RoleAssistant, Content: text} }

// Conversation is an ordered list of messages in chat order.
type Conversation []Message

// Clone returns a copy that can be appended to without aliasing c.
func (c Conversation) Clone() Conversation {
	if c == nil {
		return nil
	}
	out := make(Conversation, len(c), len(c)+2)
	copy(out, c)
	return out
}

// Append returns a new conversation with msg added at the end.
func (c Conversation) Append(msg Message) Conversation {
	out := c.Clone()
	return append(out, msg)
}

// Last returns the final message and whether one exists.
func (c Conversation) Last() (Message, bool) {
	if len(c) == 0 {
		return Message{}, false
	}
	return c[len(c)-1], true
}

// FirstUserText returns the content of the first user message, or "".
func (c Conversation) FirstUserText() string {
	for _, m := range c {
		if m.Role == RoleUser {
			return m.Content
		}
	}
	return ""
}

// WithSystemPrompt returns the provider-facing message list: the system
// prompt (if any) followed by the conversation. Any system messages already
// in the conversation are kept in place.
func (c Conversation) WithSystemPrompt(prompt string) []Message {
	msgs := make([]Message, 0, len(c)+1)
	if strings.TrimSpace(prompt) != "" {
		msgs = append(msgs, SystemText(prompt))
	}
	return append(msgs, c...)
}

// FragmentMode describes how a backend natively delivers generated text.
// Providers normalise snapshot output before emitting events, so consumers
// only need this for display purposes.
type FragmentMode int

const (
	FragmentDelta FragmentMode = iota
	FragmentSnapshot
)

func (m FragmentMode) String() string {
	if m == FragmentSnapshot {
		return "snapshot"
	}
	return "delta"
}

// Capabilities describes what a provider supports.
type Capabilities struct {
	FragmentMode FragmentMode
	// Local is true for providers that run the model on this machine and may
	// need a one-time initialisation before the first turn.
	Local bool
}

// Request is a single generation request.
type Request struct {
	Model       string
	Messages    []Message
	Temperature float32
	TopP        float32
	MaxTokens   int
	RequestID   string
}

// Usage reports token counts when the backend provides them.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// LoadProgress reports local model initialisation progress.
type LoadProgress struct {
	Status    string
	Completed int64
	Total     int64
}

// Fraction returns progress in [0,1], or -1 when the total is unknown.
func (p LoadProgress) Fraction() float64 {
	if p.Total <= 0 {
		return -1
	}
	f := float64(p.Completed) / float64(p.Total)
	if f > 1 {
		return 1
	}
	return f
}

type EventType string

const (
	EventTextDelta    EventType = "text_delta"
	EventTextReplace  EventType = "text_replace"
	EventLoadProgress EventType = "load_progress"
	EventUsage        EventType = "usage"
	EventDone         EventType = "done"
	EventError        EventType = "error"
)

// Event is one item of a provider stream.
type Event struct {
	Type EventType
	Text string
	Load *LoadProgress
	Use  *Usage
	Err  error
}

// Stream yields events until io.EOF.
type Stream interface {
	Recv() (Event, error)
	Close() error
}

// Provider generates assistant text for a conversation.
type Provider interface {
	Name() string
	Capabilities() Capabilities
	Stream(ctx context.Context, req Request) (Stream, error)
}

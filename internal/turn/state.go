package turn

import (
	"time"

	"github.com/samsaffron/codereview-chat/internal/llm"
)

// State is the transient streaming state of the controller's current turn.
type State struct {
	Loading   bool
	Streaming bool
	Text      string
	Err       llm.ErrorKind
}

// Idle reports whether no turn is in flight.
func (s State) Idle() bool {
	return !s.Loading && !s.Streaming
}

// Outcome is how a turn ended.
type Outcome int

const (
	OutcomeCompleted Outcome = iota
	OutcomeFailed
	OutcomeCancelled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeFailed:
		return "failed"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return "completed"
	}
}

// Result summarises a finished turn.
type Result struct {
	Outcome      Outcome
	Kind         llm.ErrorKind
	Err          error
	Provider     string
	Conversation llm.Conversation
	// Partial is the text accumulated when the turn ended, committed or not.
	Partial  string
	Usage    llm.Usage
	Duration time.Duration
}

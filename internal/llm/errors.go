package llm

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies failures of a chat turn.
type ErrorKind int

const (
	KindNone ErrorKind = iota
	KindInvalidInput
	KindProviderUnavailable
	KindModelInitFailed
	KindGenerationFailed
	KindCancelled
)

func (k ErrorKind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid_input"
	case KindProviderUnavailable:
		return "provider_unavailable"
	case KindModelInitFailed:
		return "model_init_failed"
	case KindGenerationFailed:
		return "generation_failed"
	case KindCancelled:
		return "cancelled"
	default:
		return "none"
	}
}

// Error is a classified provider failure.
type Error struct {
	Kind     ErrorKind
	Provider string
	Err      error
}

func (e *Error) Error() string {
	prefix := e.Kind.String()
	if e.Provider != "" {
		prefix = e.Provider + ": " + prefix
	}
	if e.Err == nil {
		return prefix
	}
	return fmt.Sprintf("%s: %v", prefix, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError wraps err with a kind. A nil err still yields a non-nil *Error.
func NewError(kind ErrorKind, provider string, err error) *Error {
	return &Error{Kind: kind, Provider: provider, Err: err}
}

// ErrEmptyInput is returned when a prompt is blank.
var ErrEmptyInput = NewError(KindInvalidInput, "", errors.New("message is empty"))

// KindOf classifies err. Unclassified errors count as ProviderUnavailable.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	return KindProviderUnavailable
}

// classifyStreamErr maps a transport or API error from a hosted backend. A
// failure before any text arrived means the backend could not be reached;
// after that the stream broke mid-way.
func classifyStreamErr(provider string, err error, emitted bool) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return NewError(KindCancelled, provider, err)
	}
	if emitted {
		return NewError(KindGenerationFailed, provider, err)
	}
	return NewError(KindProviderUnavailable, provider, err)
}

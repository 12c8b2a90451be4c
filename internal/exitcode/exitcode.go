package exitcode

import (
	"errors"

	"github.com/samsaffron/codereview-chat/internal/llm"
)

// Exit codes for codereview commands
const (
	Success   = 0
	Error     = 1
	Usage     = 2
	Provider  = 3
	Cancelled = 130 // 128 + SIGINT
)

// ExitError is an error that carries a specific exit code
type ExitError struct {
	Code    int
	Message string
}

func (e ExitError) Error() string {
	return e.Message
}

func Cancel() ExitError { return ExitError{Code: Cancelled, Message: "cancelled"} }

// FromKind maps a failed turn to an exit error.
func FromKind(kind llm.ErrorKind, msg string) ExitError {
	switch kind {
	case llm.KindCancelled:
		return Cancel()
	case llm.KindInvalidInput:
		return ExitError{Code: Usage, Message: msg}
	case llm.KindProviderUnavailable, llm.KindModelInitFailed, llm.KindGenerationFailed:
		return ExitError{Code: Provider, Message: msg}
	}
	return ExitError{Code: Error, Message: msg}
}

// Code returns the exit code for err: ExitError codes as is, 1 otherwise.
func Code(err error) int {
	if err == nil {
		return Success
	}
	var ee ExitError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return Error
}

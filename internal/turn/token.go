package turn

import (
	"context"
	"sync"
)

// Token is a single-shot cancellation signal scoped to one turn. Cancel is
// idempotent and once cancelled the token stays cancelled.
type Token struct {
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
	done   chan struct{}
}

// NewToken derives a token from parent. Cancelling parent also cancels the
// token's context, but IsCancelled only reports explicit Cancel calls.
func NewToken(parent context.Context) *Token {
	ctx, cancel := context.WithCancel(parent)
	return &Token{ctx: ctx, cancel: cancel, done: make(chan struct{})}
}

// Cancel aborts the token. Calls after the first are no-ops.
func (t *Token) Cancel() {
	t.once.Do(func() {
		close(t.done)
		t.cancel()
	})
}

// IsCancelled reports whether Cancel has been called.
func (t *Token) IsCancelled() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Done is closed when Cancel is called.
func (t *Token) Done() <-chan struct{} {
	return t.done
}

// Context is handed to providers; it ends on Cancel or when the parent ends.
func (t *Token) Context() context.Context {
	return t.ctx
}

// release frees the context resources without marking the token cancelled.
func (t *Token) release() {
	t.cancel()
}

package turn

import (
	"context"
	"testing"
)

func TestTokenCancelIsIdempotent(t *testing.T) {
	tok := NewToken(context.Background())
	if tok.IsCancelled() {
		t.Fatal("fresh token reports cancelled")
	}
	tok.Cancel()
	tok.Cancel()
	if !tok.IsCancelled() {
		t.Fatal("expected cancelled")
	}
	select {
	case <-tok.Done():
	default:
		t.Fatal("Done not closed")
	}
	if tok.Context().Err() == nil {
		t.Fatal("context should be cancelled")
	}
}

func TestTokenParentCancelIsNotExplicit(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	tok := NewToken(parent)
	cancel()
	<-tok.Context().Done()
	if tok.IsCancelled() {
		t.Error("parent cancellation must not count as an explicit cancel")
	}
}

func TestTokenReleaseIsNotCancel(t *testing.T) {
	tok := NewToken(context.Background())
	tok.release()
	if tok.IsCancelled() {
		t.Error("release must not mark the token cancelled")
	}
	if tok.Context().Err() == nil {
		t.Error("release should free the context")
	}
}

package exitcode

import (
	"errors"
	"fmt"
	"testing"

	"github.com/samsaffron/codereview-chat/internal/llm"
)

func TestCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, Success},
		{"plain", errors.New("boom"), Error},
		{"cancel", Cancel(), Cancelled},
		{"wrapped", fmt.Errorf("review: %w", FromKind(llm.KindProviderUnavailable, "down")), Provider},
		{"invalid input", FromKind(llm.KindInvalidInput, "empty"), Usage},
		{"cancelled kind", FromKind(llm.KindCancelled, "ignored"), Cancelled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Code(tt.err); got != tt.want {
				t.Errorf("Code() = %d, want %d", got, tt.want)
			}
		})
	}
}

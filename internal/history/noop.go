package history

import (
	"context"

	"github.com/samsaffron/codereview-chat/internal/llm"
)

// NoopStore is used when history is disabled. Writes are discarded and
// reads come back empty.
type NoopStore struct{}

func (s *NoopStore) Create(ctx context.Context, h *History) error {
	if h.ID == "" {
		h.ID = NewID()
	}
	return nil
}

func (s *NoopStore) Get(ctx context.Context, id string) (*History, error) {
	return nil, nil
}

func (s *NoopStore) GetByPrefix(ctx context.Context, prefix string) (*History, error) {
	return nil, nil
}

func (s *NoopStore) Update(ctx context.Context, h *History) error {
	return nil
}

func (s *NoopStore) Delete(ctx context.Context, id string) error {
	return nil
}

func (s *NoopStore) List(ctx context.Context, opts ListOptions) ([]Summary, error) {
	return nil, nil
}

func (s *NoopStore) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	return nil, nil
}

func (s *NoopStore) SaveMessages(ctx context.Context, id string, conv llm.Conversation) error {
	return nil
}

func (s *NoopStore) GetMessages(ctx context.Context, id string) (llm.Conversation, error) {
	return nil, nil
}

func (s *NoopStore) Close() error {
	return nil
}

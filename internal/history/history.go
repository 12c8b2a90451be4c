// Package history persists chat conversations keyed by chat id.
package history

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"time"

	"github.com/samsaffron/codereview-chat/internal/config"
	"github.com/samsaffron/codereview-chat/internal/llm"
)

// DefaultTitle names a chat whose first message has no text.
const DefaultTitle = "New Chat"

const titleMaxRunes = 30

// ErrNotFound is returned when a history id does not exist.
var ErrNotFound = errors.New("history not found")

// History is one saved chat.
type History struct {
	ID        string           `json:"id"`
	Title     string           `json:"title"`
	Provider  string           `json:"provider,omitempty"`
	CreatedAt time.Time        `json:"createdAt"`
	UpdatedAt time.Time        `json:"updatedAt"`
	Messages  llm.Conversation `json:"messages"`
}

// Summary is a History without its messages, as returned by List.
type Summary struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Provider     string    `json:"provider,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
	MessageCount int       `json:"messageCount"`
}

// ListOptions filters List results.
type ListOptions struct {
	Provider string
	Limit    int
	Offset   int
}

// SearchResult is one message matching a full-text query.
type SearchResult struct {
	HistoryID string    `json:"historyId"`
	MessageID int64     `json:"messageId"`
	Title     string    `json:"title"`
	Role      llm.Role  `json:"role"`
	Snippet   string    `json:"snippet"`
	CreatedAt time.Time `json:"createdAt"`
}

// Store persists histories.
type Store interface {
	Create(ctx context.Context, h *History) error
	// Get returns the history with its messages, or nil when id is unknown.
	Get(ctx context.Context, id string) (*History, error)
	// GetByPrefix resolves a unique id prefix, as printed by ShortID listings.
	GetByPrefix(ctx context.Context, prefix string) (*History, error)
	Update(ctx context.Context, h *History) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, opts ListOptions) ([]Summary, error)
	Search(ctx context.Context, query string, limit int) ([]SearchResult, error)
	// SaveMessages replaces the stored conversation of id.
	SaveMessages(ctx context.Context, id string, conv llm.Conversation) error
	GetMessages(ctx context.Context, id string) (llm.Conversation, error)
	Close() error
}

// DeriveTitle builds a chat title from its first user message: the text
// itself when it fits in 30 characters, otherwise the first 30 followed by "...".
func DeriveTitle(firstMessage string) string {
	s := strings.TrimSpace(firstMessage)
	if s == "" {
		return DefaultTitle
	}
	r := []rune(s)
	if len(r) > titleMaxRunes {
		return string(r[:titleMaxRunes]) + "..."
	}
	return s
}

// Open returns the store selected by cfg: SQLite when enabled, otherwise a
// store that discards everything.
func Open(cfg config.HistoryConfig) (Store, error) {
	if !cfg.Enabled {
		return &NoopStore{}, nil
	}
	return NewSQLiteStore(cfg)
}

// GetDBPath returns the default database location in the data directory.
func GetDBPath() (string, error) {
	dir, err := config.GetDataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "history.db"), nil
}

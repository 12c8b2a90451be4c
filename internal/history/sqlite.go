package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/samsaffron/codereview-chat/internal/config"
	"github.com/samsaffron/codereview-chat/internal/llm"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db  *sql.DB
	cfg config.HistoryConfig
}

const schema = `
CREATE TABLE IF NOT EXISTS histories (
    id TEXT PRIMARY KEY,
    title TEXT NOT NULL,
    provider TEXT,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS messages (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    history_id TEXT NOT NULL REFERENCES histories(id) ON DELETE CASCADE,
    role TEXT NOT NULL CHECK (role IN ('user', 'assistant', 'system')),
    content TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    sequence INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_histories_created_at ON histories(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_messages_history_id ON messages(history_id, sequence);

CREATE VIRTUAL TABLE IF NOT EXISTS messages_fts USING fts5(
    content,
    content='messages',
    content_rowid='id'
);

CREATE TRIGGER IF NOT EXISTS messages_ai AFTER INSERT ON messages BEGIN
    INSERT INTO messages_fts(rowid, content) VALUES (new.id, new.content);
END;

CREATE TRIGGER IF NOT EXISTS messages_ad AFTER DELETE ON messages BEGIN
    INSERT INTO messages_fts(messages_fts, rowid, content) VALUES ('delete', old.id, old.content);
END;

CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER NOT NULL
);
`

// schemaVersion is bumped together with a migration whenever schema changes.
const schemaVersion = 1

// NewSQLiteStore opens (creating if needed) the history database and applies
// the retention limits from cfg.
func NewSQLiteStore(cfg config.HistoryConfig) (*SQLiteStore, error) {
	dbPath := cfg.Path
	if dbPath == "" {
		var err error
		if dbPath, err = GetDBPath(); err != nil {
			return nil, fmt.Errorf("get db path: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	store := &SQLiteStore{db: db, cfg: cfg}
	if err := store.cleanup(context.Background()); err != nil {
		slog.Warn("history cleanup failed", "error", err)
	}
	return store, nil
}

func initSchema(db *sql.DB) error {
	var current int
	if err := db.QueryRow("SELECT version FROM schema_version").Scan(&current); err == nil && current >= schemaVersion {
		return nil
	}

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := db.Exec("DELETE FROM schema_version"); err != nil {
		return fmt.Errorf("reset schema version: %w", err)
	}
	if _, err := db.Exec("INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	return nil
}

// cleanup removes histories beyond the configured age and count limits.
func (s *SQLiteStore) cleanup(ctx context.Context) error {
	if s.cfg.MaxAgeDays > 0 {
		cutoff := time.Now().AddDate(0, 0, -s.cfg.MaxAgeDays)
		if _, err := s.db.ExecContext(ctx, "DELETE FROM histories WHERE updated_at < ?", cutoff); err != nil {
			return fmt.Errorf("delete old histories: %w", err)
		}
	}

	if s.cfg.MaxCount > 0 {
		_, err := s.db.ExecContext(ctx, `
			DELETE FROM histories WHERE id IN (
				SELECT id FROM histories
				ORDER BY created_at DESC, id DESC
				LIMIT -1 OFFSET ?
			)`, s.cfg.MaxCount)
		if err != nil {
			return fmt.Errorf("enforce max count: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Create(ctx context.Context, h *History) error {
	if h.ID == "" {
		h.ID = NewID()
	}
	if h.Title == "" {
		h.Title = DeriveTitle(h.Messages.FirstUserText())
	}
	if h.CreatedAt.IsZero() {
		h.CreatedAt = time.Now()
	}
	if h.UpdatedAt.IsZero() {
		h.UpdatedAt = h.CreatedAt
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO histories (id, title, provider, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		h.ID, h.Title, nullString(h.Provider), h.CreatedAt, h.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert history: %w", err)
	}

	if len(h.Messages) > 0 {
		return s.SaveMessages(ctx, h.ID, h.Messages)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*History, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, provider, created_at, updated_at
		FROM histories WHERE id = ?`, id)

	var h History
	var provider sql.NullString
	err := row.Scan(&h.ID, &h.Title, &provider, &h.CreatedAt, &h.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan history: %w", err)
	}
	h.Provider = provider.String

	if h.Messages, err = s.GetMessages(ctx, id); err != nil {
		return nil, err
	}
	return &h, nil
}

func (s *SQLiteStore) GetByPrefix(ctx context.Context, prefix string) (*History, error) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return nil, nil
	}

	candidates := []string{prefix}
	// Short ids drop the century and the seconds.
	if len(prefix) == len("240115-1430") && prefix[6] == '-' {
		candidates = append(candidates, "20"+prefix)
	}

	for _, p := range candidates {
		rows, err := s.db.QueryContext(ctx,
			"SELECT id FROM histories WHERE id LIKE ? ESCAPE '\\' ORDER BY id LIMIT 2",
			escapeLike(p)+"%")
		if err != nil {
			return nil, fmt.Errorf("query history prefix: %w", err)
		}
		var ids []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan history id: %w", err)
			}
			ids = append(ids, id)
		}
		rows.Close()

		switch len(ids) {
		case 0:
			continue
		case 1:
			return s.Get(ctx, ids[0])
		default:
			return nil, fmt.Errorf("ambiguous history id %q", prefix)
		}
	}
	return nil, nil
}

func (s *SQLiteStore) Update(ctx context.Context, h *History) error {
	h.UpdatedAt = time.Now()
	result, err := s.db.ExecContext(ctx,
		"UPDATE histories SET title = ?, provider = ?, updated_at = ? WHERE id = ?",
		h.Title, nullString(h.Provider), h.UpdatedAt, h.ID)
	if err != nil {
		return fmt.Errorf("update history: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, h.ID)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM histories WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete history: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// List returns summaries, newest chat first.
func (s *SQLiteStore) List(ctx context.Context, opts ListOptions) ([]Summary, error) {
	query := `
		SELECT h.id, h.title, h.provider, h.created_at, h.updated_at,
		       (SELECT COUNT(*) FROM messages WHERE history_id = h.id) AS message_count
		FROM histories h`
	var args []any
	if opts.Provider != "" {
		query += " WHERE h.provider = ?"
		args = append(args, opts.Provider)
	}
	query += " ORDER BY h.created_at DESC, h.id DESC"

	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	query += fmt.Sprintf(" LIMIT %d", limit)
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query histories: %w", err)
	}
	defer rows.Close()

	var results []Summary
	for rows.Next() {
		var sum Summary
		var provider sql.NullString
		if err := rows.Scan(&sum.ID, &sum.Title, &provider, &sum.CreatedAt, &sum.UpdatedAt, &sum.MessageCount); err != nil {
			return nil, fmt.Errorf("scan history summary: %w", err)
		}
		sum.Provider = provider.String
		results = append(results, sum)
	}
	return results, rows.Err()
}

// Search finds messages matching an FTS5 query.
func (s *SQLiteStore) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT m.history_id, m.id, h.title, m.role,
		       snippet(messages_fts, 0, '**', '**', '...', 32), m.created_at
		FROM messages_fts f
		JOIN messages m ON m.id = f.rowid
		JOIN histories h ON h.id = m.history_id
		WHERE messages_fts MATCH ?
		ORDER BY rank
		LIMIT ?`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("search messages: %w", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(&r.HistoryID, &r.MessageID, &r.Title, &r.Role, &r.Snippet, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan search result: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

func (s *SQLiteStore) SaveMessages(ctx context.Context, id string, conv llm.Conversation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	result, err := tx.ExecContext(ctx, "UPDATE histories SET updated_at = ? WHERE id = ?", now, id)
	if err != nil {
		return fmt.Errorf("update history timestamp: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM messages WHERE history_id = ?", id); err != nil {
		return fmt.Errorf("clear messages: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO messages (history_id, role, content, created_at, sequence)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, msg := range conv {
		if _, err := stmt.ExecContext(ctx, id, string(msg.Role), msg.Content, now, i); err != nil {
			return fmt.Errorf("insert message %d: %w", i, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) GetMessages(ctx context.Context, id string) (llm.Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT role, content FROM messages
		WHERE history_id = ?
		ORDER BY sequence ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var conv llm.Conversation
	for rows.Next() {
		var msg llm.Message
		if err := rows.Scan(&msg.Role, &msg.Content); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		conv = append(conv, msg)
	}
	return conv, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// ABOUTME: SQLite implementation of ConversationStore using modernc.org/sqlite
// ABOUTME: Append-only message log with per-conversation sequence allocation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements ConversationStore on a single SQLite database.
// The same database backs the job queues (see internal/queue), so one file
// holds all durable state.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// SQLite allows one writer at a time; funnel all connections through a
	// single handle so concurrent appends queue instead of returning busy.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS conversations (
			id            TEXT PRIMARY KEY,
			system_prompt TEXT,
			reset_seq     INTEGER NOT NULL DEFAULT 0,
			created_at    DATETIME NOT NULL,
			updated_at    DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS messages (
			conversation_id TEXT NOT NULL,
			seq             INTEGER NOT NULL,
			role            TEXT NOT NULL,
			content         TEXT NOT NULL,
			origin          TEXT NOT NULL DEFAULT '',
			created_at      DATETIME NOT NULL,
			PRIMARY KEY (conversation_id, seq),
			FOREIGN KEY (conversation_id) REFERENCES conversations(id),
			CHECK (role IN ('user', 'assistant', 'system'))
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_origin
			ON messages(conversation_id, origin) WHERE origin != '';
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}
	return nil
}

// DB exposes the underlying handle so the queue broker can share the file.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// EnsureConversation returns the conversation, creating it on first use.
func (s *SQLiteStore) EnsureConversation(ctx context.Context, id string) (*Conversation, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, created_at, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		id, now, now)
	if err != nil {
		return nil, fmt.Errorf("ensuring conversation: %w", err)
	}
	return s.GetConversation(ctx, id)
}

// GetConversation retrieves a conversation by id
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, system_prompt, reset_seq, created_at, updated_at
		 FROM conversations WHERE id = ?`, id)

	conv := &Conversation{}
	var createdAt, updatedAt string
	err := row.Scan(&conv.ID, &conv.SystemPrompt, &conv.ResetSeq, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}
	conv.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	conv.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return conv, nil
}

// SetSystemPrompt replaces the prompt override; empty clears it.
func (s *SQLiteStore) SetSystemPrompt(ctx context.Context, id, prompt string) error {
	var value any
	if prompt != "" {
		value = prompt
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET system_prompt = ?, updated_at = ? WHERE id = ?`,
		value, now, id)
	if err != nil {
		return fmt.Errorf("setting system prompt: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	s.logger.Debug("system prompt updated", "conversation_id", id, "cleared", prompt == "")
	return nil
}

// ResetContext moves the reset watermark past the current log tail so older
// messages stop contributing to context assembly. The log itself is untouched.
func (s *SQLiteStore) ResetContext(ctx context.Context, id string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations
		 SET reset_seq = (SELECT COALESCE(MAX(seq) + 1, 0) FROM messages WHERE conversation_id = ?),
		     updated_at = ?
		 WHERE id = ?`,
		id, now, id)
	if err != nil {
		return fmt.Errorf("resetting context: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	s.logger.Debug("context reset", "conversation_id", id)
	return nil
}

// AppendMessage allocates the next sequence number and appends atomically.
// A duplicate origin returns the existing sequence without writing, which is
// what absorbs repeated job completions under at-least-once delivery.
func (s *SQLiteStore) AppendMessage(ctx context.Context, convID, role, content, origin string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning append: %w", err)
	}
	defer tx.Rollback()

	if origin != "" {
		var existing int64
		err := tx.QueryRowContext(ctx,
			`SELECT seq FROM messages WHERE conversation_id = ? AND origin = ?`,
			convID, origin).Scan(&existing)
		if err == nil {
			s.logger.Debug("duplicate append absorbed",
				"conversation_id", convID, "origin", origin, "seq", existing)
			return existing, nil
		}
		if err != sql.ErrNoRows {
			return 0, fmt.Errorf("checking origin: %w", err)
		}
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO conversations (id, created_at, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET updated_at = excluded.updated_at`,
		convID, now, now); err != nil {
		return 0, fmt.Errorf("touching conversation: %w", err)
	}

	var seq int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq) + 1, 0) FROM messages WHERE conversation_id = ?`,
		convID).Scan(&seq); err != nil {
		return 0, fmt.Errorf("allocating sequence: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO messages (conversation_id, seq, role, content, origin, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		convID, seq, role, content, origin, now); err != nil {
		return 0, fmt.Errorf("inserting message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing append: %w", err)
	}

	s.logger.Debug("message appended",
		"conversation_id", convID, "seq", seq, "role", role)
	return seq, nil
}

// MessagesBefore returns up to limit messages below beforeSeq and at or above
// the reset watermark, ascending by sequence, keeping the newest rows when
// the limit bites.
func (s *SQLiteStore) MessagesBefore(ctx context.Context, convID string, beforeSeq int64, limit int) ([]*Message, error) {
	if limit <= 0 {
		limit = -1 // SQLite treats negative LIMIT as unlimited
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT conversation_id, seq, role, content, origin, created_at FROM (
			SELECT m.conversation_id, m.seq, m.role, m.content, m.origin, m.created_at
			FROM messages m
			JOIN conversations c ON c.id = m.conversation_id
			WHERE m.conversation_id = ?
			  AND m.seq >= c.reset_seq
			  AND (? < 0 OR m.seq < ?)
			ORDER BY m.seq DESC
			LIMIT ?
		) ORDER BY seq ASC`,
		convID, beforeSeq, beforeSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		msg := &Message{}
		var createdAt string
		if err := rows.Scan(&msg.ConversationID, &msg.Seq, &msg.Role, &msg.Content, &msg.Origin, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		msg.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// AllMessages returns up to limit messages regardless of the reset watermark,
// ascending by sequence, keeping the newest rows when the limit bites. Used
// by admin tooling; the pipeline itself always respects the watermark.
func (s *SQLiteStore) AllMessages(ctx context.Context, convID string, limit int) ([]*Message, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT conversation_id, seq, role, content, origin, created_at FROM (
			SELECT conversation_id, seq, role, content, origin, created_at
			FROM messages
			WHERE conversation_id = ?
			ORDER BY seq DESC
			LIMIT ?
		) ORDER BY seq ASC`,
		convID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		msg := &Message{}
		var createdAt string
		if err := rows.Scan(&msg.ConversationID, &msg.Seq, &msg.Role, &msg.Content, &msg.Origin, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		msg.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// ListConversations returns conversations ordered by most recent activity.
func (s *SQLiteStore) ListConversations(ctx context.Context, limit int) ([]*Conversation, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, system_prompt, reset_seq, created_at, updated_at
		 FROM conversations ORDER BY updated_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	var convs []*Conversation
	for rows.Next() {
		conv := &Conversation{}
		var createdAt, updatedAt string
		if err := rows.Scan(&conv.ID, &conv.SystemPrompt, &conv.ResetSeq, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning conversation: %w", err)
		}
		conv.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		conv.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
		convs = append(convs, conv)
	}
	return convs, rows.Err()
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

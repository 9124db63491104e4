// Package sqlite provides a SQLite-backed conversation store.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/switchboardhq/switchboard/pkg/conversation"
	"github.com/switchboardhq/switchboard/pkg/llm"
	"github.com/switchboardhq/switchboard/pkg/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
	id         TEXT PRIMARY KEY,
	title      TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
	seq             INTEGER NOT NULL,
	role            TEXT NOT NULL,
	content         TEXT NOT NULL DEFAULT '',
	tool_calls      TEXT,
	tool_result     TEXT,
	created_at      TIMESTAMP NOT NULL,
	PRIMARY KEY (conversation_id, seq)
);
`

// Store implements storage.Store using SQLite via the
// github.com/mattn/go-sqlite3 driver.
type Store struct {
	db *sql.DB
}

// NewStore creates a new SQLite-backed store.
// The dbPath can be a file path or ":memory:" for an in-memory database.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection keeps ":memory:" databases coherent and serializes
	// writers so concurrent appends don't trip SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	// SQLite-specific pragmas
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	// Append-only schema migration (new tables, columns, indexes only)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// CreateConversation persists a new conversation row.
func (s *Store) CreateConversation(ctx context.Context, conv *conversation.Conversation) error {
	if conv == nil {
		return errors.New("cannot store nil conversation")
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, title, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		conv.ID, conv.Title, conv.CreatedAt, conv.UpdatedAt,
	)
	if err != nil {
		return storage.PersistenceError{Op: "create conversation", Err: err}
	}

	return nil
}

// GetConversation loads a conversation and its full ordered message log.
func (s *Store) GetConversation(ctx context.Context, id string) (*conversation.Conversation, error) {
	conv := &conversation.Conversation{}

	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, created_at, updated_at FROM conversations WHERE id = ?`, id,
	).Scan(&conv.ID, &conv.Title, &conv.CreatedAt, &conv.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.NotFoundError{ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("loading conversation %s: %w", id, err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content, tool_calls, tool_result, created_at
		 FROM messages WHERE conversation_id = ? ORDER BY seq ASC`, id,
	)
	if err != nil {
		return nil, fmt.Errorf("loading messages for %s: %w", id, err)
	}
	defer rows.Close()

	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		conv.Messages = append(conv.Messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages for %s: %w", id, err)
	}

	return conv, nil
}

// ListConversations returns summaries ordered most recently updated first.
func (s *Store) ListConversations(ctx context.Context) ([]conversation.Summary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT c.id, c.title, c.created_at, c.updated_at, COUNT(m.seq)
		 FROM conversations c
		 LEFT JOIN messages m ON m.conversation_id = c.id
		 GROUP BY c.id
		 ORDER BY c.updated_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}
	defer rows.Close()

	var summaries []conversation.Summary
	for rows.Next() {
		var sum conversation.Summary
		if err := rows.Scan(&sum.ID, &sum.Title, &sum.CreatedAt, &sum.UpdatedAt, &sum.MessageCount); err != nil {
			return nil, fmt.Errorf("scanning conversation summary: %w", err)
		}
		summaries = append(summaries, sum)
	}

	return summaries, rows.Err()
}

// DeleteConversation removes a conversation; messages cascade.
func (s *Store) DeleteConversation(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return storage.PersistenceError{Op: "delete conversation", Err: err}
	}

	n, err := res.RowsAffected()
	if err != nil {
		return storage.PersistenceError{Op: "delete conversation", Err: err}
	}
	if n == 0 {
		return storage.NotFoundError{ID: id}
	}

	return nil
}

// AppendMessages appends the batch inside a single transaction. The next
// sequence number is computed in the same transaction, so the log stays
// densely ordered even under concurrent writers.
func (s *Store) AppendMessages(ctx context.Context, id string, msgs []llm.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storage.PersistenceError{Op: "append", Err: err}
	}
	defer tx.Rollback()

	var exists bool
	err = tx.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM conversations WHERE id = ?)`, id,
	).Scan(&exists)
	if err != nil {
		return storage.PersistenceError{Op: "append", Err: err}
	}
	if !exists {
		return storage.NotFoundError{ID: id}
	}

	var next int
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE conversation_id = ?`, id,
	).Scan(&next)
	if err != nil {
		return storage.PersistenceError{Op: "append", Err: err}
	}

	for i, msg := range msgs {
		calls, err := storage.EncodeToolCalls(msg.ToolCalls)
		if err != nil {
			return storage.PersistenceError{Op: "append", Err: err}
		}
		result, err := storage.EncodeToolResult(msg.ToolResult)
		if err != nil {
			return storage.PersistenceError{Op: "append", Err: err}
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO messages (conversation_id, seq, role, content, tool_calls, tool_result, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			id, next+i, msg.Role, msg.Content, calls, result, msg.Timestamp,
		)
		if err != nil {
			return storage.PersistenceError{Op: "append", Err: err}
		}
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE conversations SET updated_at = ? WHERE id = ?`, time.Now().UTC(), id,
	)
	if err != nil {
		return storage.PersistenceError{Op: "append", Err: err}
	}

	if err := tx.Commit(); err != nil {
		return storage.PersistenceError{Op: "append", Err: err}
	}

	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func scanMessage(rows *sql.Rows) (llm.Message, error) {
	var (
		msg       llm.Message
		calls     sql.NullString
		result    sql.NullString
		createdAt time.Time
	)

	if err := rows.Scan(&msg.Role, &msg.Content, &calls, &result, &createdAt); err != nil {
		return llm.Message{}, fmt.Errorf("scanning message: %w", err)
	}

	toolCalls, err := storage.DecodeToolCalls(calls)
	if err != nil {
		return llm.Message{}, err
	}
	toolResult, err := storage.DecodeToolResult(result)
	if err != nil {
		return llm.Message{}, err
	}

	msg.ToolCalls = toolCalls
	msg.ToolResult = toolResult
	msg.Timestamp = createdAt

	return msg, nil
}

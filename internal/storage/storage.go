// Package storage persists chat history and artifacts in SQLite.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/oklog/ulid/v2"

	"github.com/joss/sagi/internal/domain"
)

// ErrNotFound is returned for unknown ids. It matches
// domain.ErrArtifactNotFound for artifact lookups.
var ErrNotFound = errors.New("not found")

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

type Store struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// New opens sagi.db inside dataDir, creating the directory if needed.
func New(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return Open(filepath.Join(dataDir, "sagi.db"))
}

// Open opens the database at path and applies migrations.
func Open(path string) (*Store, error) {
	dsn := path
	if path != MemoryPath {
		dsn = path + "?_journal=WAL&_timeout=5000&_fk=1"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if path == MemoryPath {
		// Every connection would get its own empty database.
		db.SetMaxOpenConns(1)
	}

	s := &Store{db: db, path: path, now: time.Now}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		chat_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		tool_calls TEXT,
		tool_call_id TEXT,
		created_at DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_chat ON messages(chat_id, id)`,
	`CREATE TABLE IF NOT EXISTS artifacts (
		id TEXT PRIMARY KEY,
		chat_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		name TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_artifacts_chat ON artifacts(chat_id, created_at)`,
	`ALTER TABLE messages ADD COLUMN is_error INTEGER NOT NULL DEFAULT 0`,
}

// migrate applies pending statements and records the schema version.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return err
	}
	var version int
	err := s.db.QueryRow(`SELECT version FROM schema_version LIMIT 1`).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		if _, err := s.db.Exec(`INSERT INTO schema_version (version) VALUES (0)`); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	for i := version; i < len(migrations); i++ {
		if _, err := s.db.Exec(migrations[i]); err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
		if _, err := s.db.Exec(`UPDATE schema_version SET version = ?`, i+1); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database location.
func (s *Store) Path() string { return s.path }

// Message operations

// AppendMessage stores msg at the end of the chat. ID and CreatedAt are
// filled when empty; ULIDs keep insertion order.
func (s *Store) AppendMessage(ctx context.Context, chatID string, msg *domain.Message) error {
	if msg.ID == "" {
		msg.ID = ulid.Make().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = s.now()
	}
	var toolCalls sql.NullString
	if len(msg.ToolCalls) > 0 {
		data, err := json.Marshal(msg.ToolCalls)
		if err != nil {
			return fmt.Errorf("marshal tool calls: %w", err)
		}
		toolCalls = sql.NullString{String: string(data), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, chat_id, role, content, tool_calls, tool_call_id, is_error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, msg.ID, chatID, msg.Role, msg.Content, toolCalls, nullString(msg.ToolCallID), msg.IsError, msg.CreatedAt)
	return err
}

// Messages returns the chat transcript in insertion order.
func (s *Store) Messages(ctx context.Context, chatID string) ([]domain.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, role, content, tool_calls, tool_call_id, is_error, created_at
		FROM messages WHERE chat_id = ? ORDER BY id ASC
	`, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []domain.Message
	for rows.Next() {
		var msg domain.Message
		var toolCalls, toolCallID sql.NullString
		if err := rows.Scan(&msg.ID, &msg.Role, &msg.Content, &toolCalls, &toolCallID, &msg.IsError, &msg.CreatedAt); err != nil {
			return nil, err
		}
		if toolCalls.Valid {
			if err := json.Unmarshal([]byte(toolCalls.String), &msg.ToolCalls); err != nil {
				return nil, fmt.Errorf("unmarshal tool calls of %s: %w", msg.ID, err)
			}
		}
		msg.ToolCallID = toolCallID.String
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// DeleteChat removes the transcript and artifacts of a chat.
func (s *Store) DeleteChat(ctx context.Context, chatID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE chat_id = ?`, chatID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM artifacts WHERE chat_id = ?`, chatID); err != nil {
		return err
	}
	return tx.Commit()
}

// Artifact operations

// SaveArtifact inserts a new artifact or updates an existing one by id.
func (s *Store) SaveArtifact(ctx context.Context, a *domain.Artifact) error {
	now := s.now()
	if a.ID == "" {
		a.ID = ulid.Make().String()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO artifacts (id, chat_id, kind, name, content, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			content = excluded.content,
			updated_at = excluded.updated_at
	`, a.ID, a.ChatID, a.Kind, a.Name, a.Content, a.CreatedAt, a.UpdatedAt)
	return err
}

func (s *Store) LoadArtifact(ctx context.Context, id string) (*domain.Artifact, error) {
	var a domain.Artifact
	err := s.db.QueryRowContext(ctx, `
		SELECT id, chat_id, kind, name, content, created_at, updated_at
		FROM artifacts WHERE id = ?
	`, id).Scan(&a.ID, &a.ChatID, &a.Kind, &a.Name, &a.Content, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("artifact %s: %w", id, errors.Join(ErrNotFound, domain.ErrArtifactNotFound))
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Store) ListArtifacts(ctx context.Context, chatID string) ([]domain.Artifact, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, chat_id, kind, name, content, created_at, updated_at
		FROM artifacts WHERE chat_id = ? ORDER BY created_at ASC, id ASC
	`, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var artifacts []domain.Artifact
	for rows.Next() {
		var a domain.Artifact
		if err := rows.Scan(&a.ID, &a.ChatID, &a.Kind, &a.Name, &a.Content, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		artifacts = append(artifacts, a)
	}
	return artifacts, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

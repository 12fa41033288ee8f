// Package store provides storage backends for DMPipe conversations.
//
// This file implements a SQLite-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/BTreeMap/DMPipe/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	// Ensure the directory exists
	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) GetOrCreateConversation(senderID, recipientID string) (models.Conversation, error) {
	c, err := scanConversationRow(s.db.QueryRow(
		`SELECT id, sender_id, recipient_id, last_intent, created_at, updated_at
		 FROM conversations WHERE sender_id = ? AND recipient_id = ?`, senderID, recipientID))
	if err == nil {
		return c, nil
	}
	if err != sql.ErrNoRows {
		slog.Error("SQLiteStore GetOrCreateConversation query failed", "error", err, "senderID", senderID)
		return models.Conversation{}, fmt.Errorf("failed to query conversation: %w", err)
	}

	res, err := s.db.Exec(`INSERT INTO conversations (sender_id, recipient_id) VALUES (?, ?)`, senderID, recipientID)
	if err != nil {
		slog.Error("SQLiteStore GetOrCreateConversation insert failed", "error", err, "senderID", senderID)
		return models.Conversation{}, fmt.Errorf("failed to create conversation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return models.Conversation{}, fmt.Errorf("failed to read conversation id: %w", err)
	}

	c, err = scanConversationRow(s.db.QueryRow(
		`SELECT id, sender_id, recipient_id, last_intent, created_at, updated_at
		 FROM conversations WHERE id = ?`, id))
	if err != nil {
		return models.Conversation{}, fmt.Errorf("failed to load created conversation: %w", err)
	}
	slog.Debug("SQLiteStore GetOrCreateConversation created", "conversationID", c.ID, "senderID", senderID)
	return c, nil
}

func (s *SQLiteStore) ListConversations() ([]models.Conversation, error) {
	rows, err := s.db.Query(
		`SELECT id, sender_id, recipient_id, last_intent, created_at, updated_at
		 FROM conversations ORDER BY updated_at DESC`)
	if err != nil {
		slog.Error("SQLiteStore ListConversations query failed", "error", err)
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}
	defer rows.Close()
	return collectConversations(rows)
}

func (s *SQLiteStore) GetConversationMessages(conversationID int64) ([]models.StoredMessage, error) {
	rows, err := s.db.Query(
		`SELECT id, conversation_id, role, content, intent, confidence, created_at
		 FROM messages WHERE conversation_id = ? ORDER BY id`, conversationID)
	if err != nil {
		slog.Error("SQLiteStore GetConversationMessages query failed", "error", err, "conversationID", conversationID)
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()
	return collectMessages(rows)
}

func (s *SQLiteStore) GetRecentMessages(conversationID int64, limit int) ([]models.ConversationMessage, error) {
	rows, err := s.db.Query(
		`SELECT role, content FROM (
			SELECT id, role, content FROM messages
			WHERE conversation_id = ? ORDER BY id DESC LIMIT ?
		 ) ORDER BY id`, conversationID, limit)
	if err != nil {
		slog.Error("SQLiteStore GetRecentMessages query failed", "error", err, "conversationID", conversationID)
		return nil, fmt.Errorf("failed to query recent messages: %w", err)
	}
	defer rows.Close()
	return collectHistory(rows)
}

func (s *SQLiteStore) AddMessage(conversationID int64, role, content string, intent models.MessageIntent, confidence float64) error {
	_, err := s.db.Exec(`INSERT INTO messages (conversation_id, role, content, intent, confidence) VALUES (?, ?, ?, ?, ?)`,
		conversationID, role, content, string(intent), confidence)
	if err != nil {
		slog.Error("SQLiteStore AddMessage failed", "error", err, "conversationID", conversationID)
		return fmt.Errorf("failed to insert message: %w", err)
	}
	if _, err := s.db.Exec(`UPDATE conversations SET updated_at = CURRENT_TIMESTAMP WHERE id = ?`, conversationID); err != nil {
		slog.Warn("SQLiteStore AddMessage failed to touch conversation", "error", err, "conversationID", conversationID)
	}
	slog.Debug("SQLiteStore AddMessage succeeded", "conversationID", conversationID, "role", role)
	return nil
}

func (s *SQLiteStore) UpdateConversationIntent(conversationID int64, intent models.MessageIntent) error {
	_, err := s.db.Exec(`UPDATE conversations SET last_intent = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		string(intent), conversationID)
	if err != nil {
		slog.Error("SQLiteStore UpdateConversationIntent failed", "error", err, "conversationID", conversationID)
		return fmt.Errorf("failed to update conversation intent: %w", err)
	}
	return nil
}

func (s *SQLiteStore) MarkMessageProcessed(messageID string) (bool, error) {
	res, err := s.db.Exec(`INSERT OR IGNORE INTO processed_messages (message_id) VALUES (?)`, messageID)
	if err != nil {
		slog.Error("SQLiteStore MarkMessageProcessed failed", "error", err, "messageID", messageID)
		return false, fmt.Errorf("failed to mark message processed: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return affected > 0, nil
}

func (s *SQLiteStore) UnmarkMessageProcessed(messageID string) error {
	if _, err := s.db.Exec(`DELETE FROM processed_messages WHERE message_id = ?`, messageID); err != nil {
		slog.Error("SQLiteStore UnmarkMessageProcessed failed", "error", err, "messageID", messageID)
		return fmt.Errorf("failed to unmark message processed: %w", err)
	}
	return nil
}

func (s *SQLiteStore) PruneProcessedMessages(olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	res, err := s.db.Exec(`DELETE FROM processed_messages WHERE processed_at < ?`, cutoff)
	if err != nil {
		slog.Error("SQLiteStore PruneProcessedMessages failed", "error", err)
		return 0, fmt.Errorf("failed to prune processed messages: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}
	slog.Debug("SQLiteStore PruneProcessedMessages succeeded", "removed", removed)
	return removed, nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	}
	return err
}

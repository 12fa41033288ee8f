// Package store provides storage backends for DMPipe conversations.
//
// This file implements a PostgreSQL-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/BTreeMap/DMPipe/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	// Configure connection pool for better performance
	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running Postgres migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) GetOrCreateConversation(senderID, recipientID string) (models.Conversation, error) {
	c, err := scanConversationRow(s.db.QueryRow(
		`SELECT id, sender_id, recipient_id, last_intent, created_at, updated_at
		 FROM conversations WHERE sender_id = $1 AND recipient_id = $2`, senderID, recipientID))
	if err == nil {
		return c, nil
	}
	if err != sql.ErrNoRows {
		slog.Error("PostgresStore GetOrCreateConversation query failed", "error", err, "senderID", senderID)
		return models.Conversation{}, fmt.Errorf("failed to query conversation: %w", err)
	}

	// ON CONFLICT covers concurrent creation of the same pair.
	c, err = scanConversationRow(s.db.QueryRow(
		`INSERT INTO conversations (sender_id, recipient_id) VALUES ($1, $2)
		 ON CONFLICT (sender_id, recipient_id) DO UPDATE SET updated_at = NOW()
		 RETURNING id, sender_id, recipient_id, last_intent, created_at, updated_at`, senderID, recipientID))
	if err != nil {
		slog.Error("PostgresStore GetOrCreateConversation insert failed", "error", err, "senderID", senderID)
		return models.Conversation{}, fmt.Errorf("failed to create conversation: %w", err)
	}
	slog.Debug("PostgresStore GetOrCreateConversation created", "conversationID", c.ID, "senderID", senderID)
	return c, nil
}

func (s *PostgresStore) ListConversations() ([]models.Conversation, error) {
	rows, err := s.db.Query(
		`SELECT id, sender_id, recipient_id, last_intent, created_at, updated_at
		 FROM conversations ORDER BY updated_at DESC`)
	if err != nil {
		slog.Error("PostgresStore ListConversations query failed", "error", err)
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}
	defer rows.Close()
	return collectConversations(rows)
}

func (s *PostgresStore) GetConversationMessages(conversationID int64) ([]models.StoredMessage, error) {
	rows, err := s.db.Query(
		`SELECT id, conversation_id, role, content, intent, confidence, created_at
		 FROM messages WHERE conversation_id = $1 ORDER BY id`, conversationID)
	if err != nil {
		slog.Error("PostgresStore GetConversationMessages query failed", "error", err, "conversationID", conversationID)
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()
	return collectMessages(rows)
}

func (s *PostgresStore) GetRecentMessages(conversationID int64, limit int) ([]models.ConversationMessage, error) {
	rows, err := s.db.Query(
		`SELECT role, content FROM (
			SELECT id, role, content FROM messages
			WHERE conversation_id = $1 ORDER BY id DESC LIMIT $2
		 ) recent ORDER BY id`, conversationID, limit)
	if err != nil {
		slog.Error("PostgresStore GetRecentMessages query failed", "error", err, "conversationID", conversationID)
		return nil, fmt.Errorf("failed to query recent messages: %w", err)
	}
	defer rows.Close()
	return collectHistory(rows)
}

func (s *PostgresStore) AddMessage(conversationID int64, role, content string, intent models.MessageIntent, confidence float64) error {
	_, err := s.db.Exec(`INSERT INTO messages (conversation_id, role, content, intent, confidence) VALUES ($1, $2, $3, $4, $5)`,
		conversationID, role, content, string(intent), confidence)
	if err != nil {
		slog.Error("PostgresStore AddMessage failed", "error", err, "conversationID", conversationID)
		return fmt.Errorf("failed to insert message: %w", err)
	}
	if _, err := s.db.Exec(`UPDATE conversations SET updated_at = NOW() WHERE id = $1`, conversationID); err != nil {
		slog.Warn("PostgresStore AddMessage failed to touch conversation", "error", err, "conversationID", conversationID)
	}
	slog.Debug("PostgresStore AddMessage succeeded", "conversationID", conversationID, "role", role)
	return nil
}

func (s *PostgresStore) UpdateConversationIntent(conversationID int64, intent models.MessageIntent) error {
	_, err := s.db.Exec(`UPDATE conversations SET last_intent = $1, updated_at = NOW() WHERE id = $2`,
		string(intent), conversationID)
	if err != nil {
		slog.Error("PostgresStore UpdateConversationIntent failed", "error", err, "conversationID", conversationID)
		return fmt.Errorf("failed to update conversation intent: %w", err)
	}
	return nil
}

func (s *PostgresStore) MarkMessageProcessed(messageID string) (bool, error) {
	res, err := s.db.Exec(`INSERT INTO processed_messages (message_id) VALUES ($1) ON CONFLICT DO NOTHING`, messageID)
	if err != nil {
		slog.Error("PostgresStore MarkMessageProcessed failed", "error", err, "messageID", messageID)
		return false, fmt.Errorf("failed to mark message processed: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) UnmarkMessageProcessed(messageID string) error {
	if _, err := s.db.Exec(`DELETE FROM processed_messages WHERE message_id = $1`, messageID); err != nil {
		slog.Error("PostgresStore UnmarkMessageProcessed failed", "error", err, "messageID", messageID)
		return fmt.Errorf("failed to unmark message processed: %w", err)
	}
	return nil
}

func (s *PostgresStore) PruneProcessedMessages(olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	res, err := s.db.Exec(`DELETE FROM processed_messages WHERE processed_at < $1`, cutoff)
	if err != nil {
		slog.Error("PostgresStore PruneProcessedMessages failed", "error", err)
		return 0, fmt.Errorf("failed to prune processed messages: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}
	slog.Debug("PostgresStore PruneProcessedMessages succeeded", "removed", removed)
	return removed, nil
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close Postgres database", "error", err)
	}
	return err
}

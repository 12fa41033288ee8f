// Package store provides storage backends for DMPipe conversations.
//
// It includes an in-memory store for tests and development, plus SQLite and
// PostgreSQL backed stores for persistent conversation history.
package store

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/DMPipe/internal/models"
)

// Opts holds configuration options for store implementations.
type Opts struct {
	DSN string
}

// Option defines a functional option for store configuration.
type Option func(*Opts)

// WithSQLiteDSN sets a SQLite file path as the store DSN.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN sets a PostgreSQL connection string as the store DSN.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType classifies a DSN as "postgres" or "sqlite".
// PostgreSQL DSNs use URL or key=value forms; anything else is treated as a
// SQLite file path.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite"
}

// Store is the persistence interface for conversations and messages.
type Store interface {
	// GetOrCreateConversation returns the conversation for a sender/recipient
	// pair, creating it if it does not exist.
	GetOrCreateConversation(senderID, recipientID string) (models.Conversation, error)
	// ListConversations returns all conversations, most recently updated first.
	ListConversations() ([]models.Conversation, error)
	// GetConversationMessages returns all messages in a conversation in
	// chronological order.
	GetConversationMessages(conversationID int64) ([]models.StoredMessage, error)
	// GetRecentMessages returns the last limit messages of a conversation in
	// chronological order, as pipeline history turns.
	GetRecentMessages(conversationID int64, limit int) ([]models.ConversationMessage, error)
	// AddMessage appends a message to a conversation. Intent and confidence
	// carry the pipeline's classification for assistant turns; user turns
	// pass the zero values.
	AddMessage(conversationID int64, role, content string, intent models.MessageIntent, confidence float64) error
	// UpdateConversationIntent records the most recent classified intent.
	UpdateConversationIntent(conversationID int64, intent models.MessageIntent) error
	// MarkMessageProcessed records a webhook message ID for deduplication.
	// It returns false if the message was already processed.
	MarkMessageProcessed(messageID string) (bool, error)
	// UnmarkMessageProcessed removes a dedup record so a later redelivery of
	// the same message ID is processed again.
	UnmarkMessageProcessed(messageID string) error
	// PruneProcessedMessages removes dedup records older than the given age
	// and returns how many were removed.
	PruneProcessedMessages(olderThan time.Duration) (int64, error)
	// Close releases any underlying resources.
	Close() error
}

// InMemoryStore is a mutex-guarded in-memory store for tests and development.
type InMemoryStore struct {
	mu            sync.Mutex
	nextConvID    int64
	nextMsgID     int64
	conversations map[int64]models.Conversation
	messages      map[int64][]models.StoredMessage
	processed     map[string]time.Time
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		nextConvID:    1,
		nextMsgID:     1,
		conversations: make(map[int64]models.Conversation),
		messages:      make(map[int64][]models.StoredMessage),
		processed:     make(map[string]time.Time),
	}
}

func (s *InMemoryStore) GetOrCreateConversation(senderID, recipientID string) (models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conversations {
		if c.SenderID == senderID && c.RecipientID == recipientID {
			return c, nil
		}
	}
	now := time.Now().UTC()
	c := models.Conversation{
		ID:          s.nextConvID,
		SenderID:    senderID,
		RecipientID: recipientID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.nextConvID++
	s.conversations[c.ID] = c
	return c, nil
}

func (s *InMemoryStore) ListConversations() ([]models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conversations := make([]models.Conversation, 0, len(s.conversations))
	for _, c := range s.conversations {
		conversations = append(conversations, c)
	}
	sort.Slice(conversations, func(i, j int) bool {
		return conversations[i].UpdatedAt.After(conversations[j].UpdatedAt)
	})
	return conversations, nil
}

func (s *InMemoryStore) GetConversationMessages(conversationID int64) ([]models.StoredMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.messages[conversationID]
	out := make([]models.StoredMessage, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (s *InMemoryStore) GetRecentMessages(conversationID int64, limit int) ([]models.ConversationMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.messages[conversationID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	history := make([]models.ConversationMessage, 0, len(msgs))
	for _, m := range msgs {
		history = append(history, models.ConversationMessage{Role: m.Role, Content: m.Content})
	}
	return history, nil
}

func (s *InMemoryStore) AddMessage(conversationID int64, role, content string, intent models.MessageIntent, confidence float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	m := models.StoredMessage{
		ID:             s.nextMsgID,
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		Intent:         intent,
		Confidence:     confidence,
		CreatedAt:      now,
	}
	s.nextMsgID++
	s.messages[conversationID] = append(s.messages[conversationID], m)
	if c, ok := s.conversations[conversationID]; ok {
		c.UpdatedAt = now
		s.conversations[conversationID] = c
	}
	return nil
}

func (s *InMemoryStore) UpdateConversationIntent(conversationID int64, intent models.MessageIntent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.conversations[conversationID]; ok {
		c.LastIntent = intent
		c.UpdatedAt = time.Now().UTC()
		s.conversations[conversationID] = c
	}
	return nil
}

func (s *InMemoryStore) MarkMessageProcessed(messageID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.processed[messageID]; ok {
		return false, nil
	}
	s.processed[messageID] = time.Now().UTC()
	return true, nil
}

func (s *InMemoryStore) UnmarkMessageProcessed(messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.processed, messageID)
	return nil
}

func (s *InMemoryStore) PruneProcessedMessages(olderThan time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().UTC().Add(-olderThan)
	var removed int64
	for id, at := range s.processed {
		if at.Before(cutoff) {
			delete(s.processed, id)
			removed++
		}
	}
	return removed, nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}

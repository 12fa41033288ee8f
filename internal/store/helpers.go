package store

import (
	"database/sql"
	"fmt"

	"github.com/BTreeMap/DMPipe/internal/models"
)

// scanConversationRow scans a Conversation from a single sql.Row.
func scanConversationRow(row *sql.Row) (models.Conversation, error) {
	var c models.Conversation
	var lastIntent string
	err := row.Scan(&c.ID, &c.SenderID, &c.RecipientID, &lastIntent, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return c, err
	}
	c.LastIntent = models.MessageIntent(lastIntent)
	return c, nil
}

// collectConversations drains rows of conversations.
func collectConversations(rows *sql.Rows) ([]models.Conversation, error) {
	var conversations []models.Conversation
	for rows.Next() {
		var c models.Conversation
		var lastIntent string
		if err := rows.Scan(&c.ID, &c.SenderID, &c.RecipientID, &lastIntent, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan conversation failed: %w", err)
		}
		c.LastIntent = models.MessageIntent(lastIntent)
		conversations = append(conversations, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate conversation rows: %w", err)
	}
	return conversations, nil
}

// collectMessages drains rows of stored messages.
func collectMessages(rows *sql.Rows) ([]models.StoredMessage, error) {
	var messages []models.StoredMessage
	for rows.Next() {
		var m models.StoredMessage
		var intent string
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &intent, &m.Confidence, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message failed: %w", err)
		}
		m.Intent = models.MessageIntent(intent)
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate message rows: %w", err)
	}
	return messages, nil
}

// collectHistory drains rows of (role, content) pairs into history turns.
func collectHistory(rows *sql.Rows) ([]models.ConversationMessage, error) {
	var history []models.ConversationMessage
	for rows.Next() {
		var m models.ConversationMessage
		if err := rows.Scan(&m.Role, &m.Content); err != nil {
			return nil, fmt.Errorf("scan history turn failed: %w", err)
		}
		history = append(history, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate history rows: %w", err)
	}
	return history, nil
}

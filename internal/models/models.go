// Package models defines the core data structures for DMPipe.
//
// It includes the message intent taxonomy, pipeline request/response
// types, conversation records, and shared API response envelopes.
package models

import (
	"errors"
	"time"
)

// MessageIntent is the closed classification of a customer message.
type MessageIntent string

const (
	// IntentProductInquiry covers questions about products, pricing, or availability.
	IntentProductInquiry MessageIntent = "product_inquiry"
	// IntentOrderStatus covers questions about existing orders, shipping, or returns.
	IntentOrderStatus MessageIntent = "order_status"
	// IntentGeneralQuestion covers general business questions (hours, policy, payment).
	IntentGeneralQuestion MessageIntent = "general_question"
	// IntentGreeting covers simple greetings and pleasantries.
	IntentGreeting MessageIntent = "greeting"
	// IntentUnknown is the fallback when classification fails or is ambiguous.
	IntentUnknown MessageIntent = "unknown"
)

// Validation constants for input validation
const (
	// MaxMessageTextLength defines the maximum allowed length for inbound message text
	MaxMessageTextLength = 4096
)

// Error variables for better error handling and testability
var (
	ErrEmptySenderID    = errors.New("sender_id cannot be empty")
	ErrEmptyRecipientID = errors.New("recipient_id cannot be empty")
	ErrEmptyMessageText = errors.New("message_text cannot be empty")
	ErrMessageTooLong   = errors.New("message_text exceeds maximum length")
	ErrInvalidIntent    = errors.New("invalid message intent")
)

// IsValidIntent checks if the given intent is part of the closed taxonomy.
func IsValidIntent(i MessageIntent) bool {
	switch i {
	case IntentProductInquiry, IntentOrderStatus, IntentGeneralQuestion, IntentGreeting, IntentUnknown:
		return true
	default:
		return false
	}
}

// ParseIntent validates a raw intent name against the closed taxonomy.
func ParseIntent(s string) (MessageIntent, error) {
	i := MessageIntent(s)
	if !IsValidIntent(i) {
		return IntentUnknown, ErrInvalidIntent
	}
	return i, nil
}

// RequiresTools reports whether the intent needs an e-commerce data lookup
// before a response can be generated.
func (i MessageIntent) RequiresTools() bool {
	return i == IntentProductInquiry || i == IntentOrderStatus
}

// ConversationMessage represents a single turn in a conversation history.
type ConversationMessage struct {
	Role    string `json:"role"`    // "user" or "assistant"
	Content string `json:"content"` // message text
}

// Conversation roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ProcessRequest is the inbound contract for the message pipeline.
type ProcessRequest struct {
	SenderID    string `json:"sender_id"`
	RecipientID string `json:"recipient_id"`
	MessageText string `json:"message_text"`
	MessageID   string `json:"message_id,omitempty"` // passed through for logging/correlation only
}

// Validate performs validation on a ProcessRequest structure.
func (r *ProcessRequest) Validate() error {
	if r.SenderID == "" {
		return ErrEmptySenderID
	}
	if r.RecipientID == "" {
		return ErrEmptyRecipientID
	}
	if r.MessageText == "" {
		return ErrEmptyMessageText
	}
	if len(r.MessageText) > MaxMessageTextLength {
		return ErrMessageTooLong
	}
	return nil
}

// ProcessResponse is the outbound contract from the message pipeline.
type ProcessResponse struct {
	ResponseText     string        `json:"response_text"`
	Intent           MessageIntent `json:"intent"`
	Confidence       float64       `json:"confidence"`
	ProcessingTimeMs float64       `json:"processing_time_ms"`
}

// Conversation represents a persisted DM thread between a customer and a page.
type Conversation struct {
	ID          int64         `json:"id"`
	SenderID    string        `json:"sender_id"`
	RecipientID string        `json:"recipient_id"`
	LastIntent  MessageIntent `json:"last_intent,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// StoredMessage represents a persisted message within a conversation.
type StoredMessage struct {
	ID             int64         `json:"id"`
	ConversationID int64         `json:"conversation_id"`
	Role           string        `json:"role"`
	Content        string        `json:"content"`
	Intent         MessageIntent `json:"intent,omitempty"`
	Confidence     float64       `json:"confidence,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
)

// API Response types for consistent JSON responses

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`            // status of the API response
	Message string      `json:"message,omitempty"` // optional message for error responses or additional info
	Result  interface{} `json:"result,omitempty"`  // optional result data for successful responses
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// SuccessWithMessage creates a successful API response with a message and optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Message: message, Result: result}
}

// Error creates an error API response with the given message.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}

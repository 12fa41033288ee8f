package instagram

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/DMPipe/internal/flow"
	"github.com/BTreeMap/DMPipe/internal/models"
	"github.com/BTreeMap/DMPipe/internal/store"
	"github.com/BTreeMap/DMPipe/internal/util"
)

// degradedReply is sent when the processing pipeline fails outright and no
// generated response is available.
const degradedReply = "Thanks for your message! A team member will respond shortly."

// historyLimit caps how many stored messages are loaded as conversation context.
const historyLimit = 10

var (
	ErrVerifyTokenMismatch = errors.New("webhook verify token mismatch")
	ErrInvalidSignature    = errors.New("invalid webhook signature")
	ErrNotSubscribeMode    = errors.New("webhook verification mode is not subscribe")
)

// WebhookEvent is the envelope Meta posts to the webhook endpoint.
type WebhookEvent struct {
	Object string         `json:"object"`
	Entry  []WebhookEntry `json:"entry"`
}

// WebhookEntry is a single page entry within a webhook event.
type WebhookEntry struct {
	ID        string             `json:"id"`
	Time      int64              `json:"time"`
	Messaging []MessagingPayload `json:"messaging"`
}

// MessagingPayload is one inbound messaging item.
type MessagingPayload struct {
	Sender    Participant     `json:"sender"`
	Recipient Participant     `json:"recipient"`
	Timestamp int64           `json:"timestamp"`
	Message   *InboundMessage `json:"message,omitempty"`
}

// Participant identifies a sender or recipient by Instagram-scoped ID.
type Participant struct {
	ID string `json:"id"`
}

// InboundMessage is the message body of a messaging payload.
type InboundMessage struct {
	MID       string `json:"mid"`
	Text      string `json:"text"`
	IsEcho    bool   `json:"is_echo,omitempty"`
	IsDeleted bool   `json:"is_deleted,omitempty"`
}

// InboundDM is a normalized inbound direct message extracted from a webhook event.
type InboundDM struct {
	SenderID    string
	RecipientID string
	MessageID   string
	Text        string
	Timestamp   int64
}

// MessageSender sends replies back to Instagram users.
type MessageSender interface {
	SendMessage(ctx context.Context, recipientID, messageText string) (*SendMessageResult, error)
}

// MessageProcessor runs an inbound message through the response pipeline.
type MessageProcessor interface {
	Process(ctx context.Context, req models.ProcessRequest, history []models.ConversationMessage) (models.ProcessResponse, error)
}

// VerifyChallenge validates a webhook subscription handshake and returns the
// challenge string to echo back. Mode must be "subscribe" and the token must
// match the configured verify token.
func VerifyChallenge(mode, token, challenge, verifyToken string) (string, error) {
	if mode != "subscribe" {
		return "", ErrNotSubscribeMode
	}
	if verifyToken == "" || token != verifyToken {
		return "", ErrVerifyTokenMismatch
	}
	return challenge, nil
}

// VerifySignature checks the X-Hub-Signature-256 header against the request
// body using HMAC-SHA256 with the app secret.
func VerifySignature(body []byte, signatureHeader, appSecret string) error {
	if appSecret == "" {
		// No secret configured means signature checking is disabled.
		return nil
	}
	expected, ok := strings.CutPrefix(signatureHeader, "sha256=")
	if !ok {
		return ErrInvalidSignature
	}
	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(body)
	computed := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(computed), []byte(expected)) {
		return ErrInvalidSignature
	}
	return nil
}

// ParseEvent decodes a webhook event body.
func ParseEvent(body []byte) (*WebhookEvent, error) {
	var event WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("failed to decode webhook event: %w", err)
	}
	return &event, nil
}

// ExtractMessages flattens a webhook event into inbound DMs, skipping echoes
// of our own outbound messages, deletions, and non-text payloads.
func ExtractMessages(event *WebhookEvent) []InboundDM {
	var dms []InboundDM
	for _, entry := range event.Entry {
		for _, m := range entry.Messaging {
			if m.Message == nil || m.Message.IsEcho || m.Message.IsDeleted {
				continue
			}
			if m.Message.Text == "" {
				slog.Debug("instagram.ExtractMessages: skipping non-text message", "mid", m.Message.MID)
				continue
			}
			mid := m.Message.MID
			if mid == "" {
				mid = util.GenerateMessageID()
			}
			dms = append(dms, InboundDM{
				SenderID:    m.Sender.ID,
				RecipientID: m.Recipient.ID,
				MessageID:   mid,
				Text:        m.Message.Text,
				Timestamp:   m.Timestamp,
			})
		}
	}
	return dms
}

// WebhookService ties webhook events to the processing pipeline: it loads
// conversation history, runs the pipeline, sends the reply, and persists both
// turns.
type WebhookService struct {
	sender    MessageSender
	processor MessageProcessor
	st        store.Store
}

// NewWebhookService creates a webhook service.
func NewWebhookService(sender MessageSender, processor MessageProcessor, st store.Store) *WebhookService {
	return &WebhookService{sender: sender, processor: processor, st: st}
}

// ProcessEvent handles every inbound DM in a webhook event. Failures on one
// message do not prevent processing of the rest; the first error is returned.
func (s *WebhookService) ProcessEvent(ctx context.Context, event *WebhookEvent) error {
	var firstErr error
	for _, dm := range ExtractMessages(event) {
		if err := s.processMessage(ctx, dm); err != nil {
			slog.Error("WebhookService.ProcessEvent: failed to process message", "error", err, "messageID", dm.MessageID)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (s *WebhookService) processMessage(ctx context.Context, dm InboundDM) error {
	slog.Info("WebhookService.processMessage: handling inbound DM", "senderID", dm.SenderID, "messageID", dm.MessageID)

	if dm.MessageID != "" {
		fresh, err := s.st.MarkMessageProcessed(dm.MessageID)
		if err != nil {
			slog.Warn("WebhookService.processMessage: dedup check failed, continuing", "error", err)
		} else if !fresh {
			slog.Info("WebhookService.processMessage: skipping redelivered message", "messageID", dm.MessageID)
			return nil
		}
	}

	conv, err := s.st.GetOrCreateConversation(dm.SenderID, dm.RecipientID)
	if err != nil {
		return fmt.Errorf("failed to load conversation: %w", err)
	}

	history, err := s.st.GetRecentMessages(conv.ID, historyLimit)
	if err != nil {
		slog.Warn("WebhookService.processMessage: failed to load history, continuing without", "error", err)
		history = nil
	}

	req := models.ProcessRequest{
		SenderID:    dm.SenderID,
		RecipientID: dm.RecipientID,
		MessageText: dm.Text,
		MessageID:   dm.MessageID,
	}

	resp, procErr := s.processor.Process(ctx, req, history)
	replyText := resp.ResponseText
	if procErr != nil {
		var pe *flow.ProcessingError
		if !errors.As(procErr, &pe) {
			return fmt.Errorf("pipeline failed: %w", procErr)
		}
		slog.Warn("WebhookService.processMessage: pipeline error, sending degraded reply", "error", procErr)
		replyText = degradedReply
	}

	if _, err := s.sender.SendMessage(ctx, dm.SenderID, replyText); err != nil {
		// Drop the dedup record so Meta's redelivery gets another attempt
		// at answering the customer.
		if dm.MessageID != "" {
			if unmarkErr := s.st.UnmarkMessageProcessed(dm.MessageID); unmarkErr != nil {
				slog.Warn("WebhookService.processMessage: failed to unmark message for retry", "error", unmarkErr, "messageID", dm.MessageID)
			}
		}
		return fmt.Errorf("failed to send reply: %w", err)
	}

	if err := s.st.AddMessage(conv.ID, models.RoleUser, dm.Text, "", 0); err != nil {
		slog.Error("WebhookService.processMessage: failed to persist user message", "error", err)
	}
	if err := s.st.AddMessage(conv.ID, models.RoleAssistant, replyText, resp.Intent, resp.Confidence); err != nil {
		slog.Error("WebhookService.processMessage: failed to persist assistant message", "error", err)
	}
	if procErr == nil && resp.Intent != "" {
		if err := s.st.UpdateConversationIntent(conv.ID, resp.Intent); err != nil {
			slog.Warn("WebhookService.processMessage: failed to update intent", "error", err)
		}
	}
	return procErr
}

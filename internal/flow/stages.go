package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/DMPipe/internal/models"
)

// classifiedIntent is the structured payload demanded from the classifier.
type classifiedIntent struct {
	Intent     string  `json:"intent"`
	Confidence float64 `json:"confidence"`
}

// classifyIntent determines what the customer wants from the current message.
//
// All failure modes recover locally: the update defaults the intent to
// unknown, zeroes the confidence, and records a diagnostic for routing.
func (p *Pipeline) classifyIntent(ctx context.Context, s State) Update {
	raw, err := p.llm.GeneratePrompt(ctx, intentClassificationPrompt(s.CurrentMessage), "")
	if err != nil {
		slog.Error("flow.classifyIntent: classification call failed", "error", err, "senderID", s.SenderID)
		return Update{
			Intent:     intentPtr(models.IntentUnknown),
			Confidence: floatPtr(0.0),
			Error:      strPtr(fmt.Sprintf("classification error: %v", err)),
		}
	}

	content := stripCodeFence(strings.TrimSpace(raw))

	var parsed classifiedIntent
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		slog.Error("flow.classifyIntent: failed to parse classification payload", "error", err, "senderID", s.SenderID)
		return Update{
			Intent:     intentPtr(models.IntentUnknown),
			Confidence: floatPtr(0.0),
			Error:      strPtr(fmt.Sprintf("classification parse error: %v", err)),
		}
	}

	intent, err := models.ParseIntent(parsed.Intent)
	if err != nil {
		slog.Error("flow.classifyIntent: classifier returned intent outside taxonomy", "intent", parsed.Intent, "senderID", s.SenderID)
		return Update{
			Intent:     intentPtr(models.IntentUnknown),
			Confidence: floatPtr(0.0),
			Error:      strPtr(fmt.Sprintf("invalid intent: %s", parsed.Intent)),
		}
	}

	confidence := clampConfidence(parsed.Confidence)

	slog.Info("flow.classifyIntent: classified intent", "senderID", s.SenderID, "intent", intent, "confidence", confidence)
	return Update{
		Intent:     intentPtr(intent),
		Confidence: floatPtr(confidence),
		Error:      clearedError(),
	}
}

// clampConfidence bounds a classifier confidence to [0.0, 1.0]; models
// occasionally report values outside the requested range.
func clampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// stripCodeFence removes a fenced code-block wrapper (with optional language
// tag) that models sometimes put around structured output.
func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	parts := strings.SplitN(s, "```", 3)
	if len(parts) < 2 {
		return s
	}
	content := strings.TrimSpace(parts[1])
	if strings.HasPrefix(content, "json") {
		content = strings.TrimSpace(content[4:])
	}
	return content
}

// callTools invokes the e-commerce lookup matching the classified intent.
//
// The tool adapters themselves never fail; only the extraction call can, and
// that failure is recovered here by substituting a customer-safe result.
func (p *Pipeline) callTools(ctx context.Context, s State) Update {
	switch s.Intent {
	case models.IntentProductInquiry:
		term, err := p.llm.GeneratePrompt(ctx, extractProductQueryPrompt(s.CurrentMessage), "")
		if err != nil {
			return toolFailure(err, s.SenderID)
		}
		term = strings.TrimSpace(term)

		slog.Info("flow.callTools: catalog lookup", "senderID", s.SenderID, "searchTerm", term)
		result := p.tools.GetProductInfo(ctx, term)
		return Update{ToolResults: []string{result}, Error: clearedError()}

	case models.IntentOrderStatus:
		orderID, err := p.llm.GeneratePrompt(ctx, extractOrderIDPrompt(s.CurrentMessage), "")
		if err != nil {
			return toolFailure(err, s.SenderID)
		}
		orderID = strings.TrimSpace(orderID)

		if strings.EqualFold(orderID, "unknown") {
			// No order number in the message; ask for one instead of guessing.
			slog.Info("flow.callTools: no order number extracted", "senderID", s.SenderID)
			return Update{ToolResults: []string{orderNumberRequest}, Error: clearedError()}
		}

		slog.Info("flow.callTools: order lookup", "senderID", s.SenderID, "orderID", orderID)
		result := p.tools.CheckOrderStatus(ctx, orderID)
		return Update{ToolResults: []string{result}, Error: clearedError()}

	default:
		// Routing should not send non-tool intents here; keep it harmless.
		slog.Warn("flow.callTools: invoked with unexpected intent", "intent", s.Intent, "senderID", s.SenderID)
		return Update{ToolResults: []string{}, Error: clearedError()}
	}
}

func toolFailure(err error, senderID string) Update {
	slog.Error("flow.callTools: tool execution failed", "error", err, "senderID", senderID)
	return Update{
		ToolResults: []string{toolFailureResult},
		Error:       strPtr(fmt.Sprintf("tool error: %v", err)),
	}
}

// generateResponse produces the final reply, grounding it in tool results
// when any are present, and appends the new exchange to the history.
//
// On failure the fixed fallback response is substituted and the history is
// left unmodified; the run still completes normally from the caller's view.
func (p *Pipeline) generateResponse(ctx context.Context, s State) Update {
	history := renderHistory(s.History)

	var prompt string
	if len(s.ToolResults) > 0 {
		prompt = toolResponseGenerationPrompt(s.Intent, s.CurrentMessage, s.ToolResults, history)
		slog.Info("flow.generateResponse: generating with tool results", "senderID", s.SenderID, "toolResultCount", len(s.ToolResults))
	} else {
		prompt = responseGenerationPrompt(s.Intent, s.CurrentMessage, history)
	}

	responseText, err := p.llm.GeneratePrompt(ctx, prompt, "")
	if err != nil {
		slog.Error("flow.generateResponse: generation failed", "error", err, "senderID", s.SenderID)
		return Update{
			Response: strPtr(FallbackResponse),
			Error:    strPtr(fmt.Sprintf("generation error: %v", err)),
		}
	}

	updated := make([]models.ConversationMessage, 0, len(s.History)+2)
	updated = append(updated, s.History...)
	updated = append(updated,
		models.ConversationMessage{Role: models.RoleUser, Content: s.CurrentMessage},
		models.ConversationMessage{Role: models.RoleAssistant, Content: responseText},
	)

	slog.Info("flow.generateResponse: generated response", "senderID", s.SenderID, "intent", intentValue(s.Intent), "responseLength", len(responseText))
	return Update{
		Response: strPtr(responseText),
		History:  updated,
		Error:    clearedError(),
	}
}

// handleError is the terminal stage for runs that failed upstream. It
// substitutes the fixed fallback response and preserves the diagnostic for
// the caller's logging.
func (p *Pipeline) handleError(ctx context.Context, s State) Update {
	slog.Error("flow.handleError: pipeline error", "senderID", s.SenderID, "error", s.Error)
	return Update{Response: strPtr(FallbackResponse)}
}

package flow

import (
	"fmt"
	"strings"

	"github.com/BTreeMap/DMPipe/internal/models"
)

// FallbackResponse is the fixed apology sent whenever normal response
// generation cannot proceed.
const FallbackResponse = "Thanks for reaching out! I'm having a moment processing your request. A team member will assist you shortly."

// orderNumberRequest is sent when no order number could be extracted from
// the customer's message.
const orderNumberRequest = "I couldn't find an order number in your message. Could you please provide your order number? It should be in your confirmation email (e.g., #1001)."

// toolFailureResult is the customer-safe text substituted when tool
// invocation fails outright.
const toolFailureResult = "I encountered an issue while looking up that information. Please try again or a team member will assist you."

// historyWindow is the number of trailing turns rendered into the
// generation prompt.
const historyWindow = 5

const intentClassificationTemplate = `You are an intent classifier for an e-commerce Instagram DM automation system.

Your task is to classify the user's message into ONE of these intents:

- product_inquiry: Questions about products, pricing, availability, features, sizes, colors, or comparisons
- order_status: Questions about existing orders, shipping, delivery tracking, returns, or refunds
- general_question: General business questions like store hours, location, return policy, or payment methods
- greeting: Simple greetings like hello, hi, hey, good morning, thanks, bye, etc.

Analyze the message carefully and respond with ONLY a JSON object in this exact format:
{"intent": "intent_name", "confidence": 0.95}

The confidence should be between 0.0 and 1.0, reflecting how certain you are about the classification.

User message: %s`

const responseGenerationTemplate = `You are a friendly and helpful customer service assistant for an e-commerce business on Instagram.

Your role is to provide helpful, accurate, and friendly responses to customer inquiries.

Guidelines:
- Be warm and personable, but professional
- Keep responses concise (under 200 words)
- If you don't have specific product or order information, offer to help find it or connect them with a team member
- For product inquiries without specific product context, ask clarifying questions
- For order status requests, acknowledge you'll look into it
- Use emojis sparingly and appropriately

Intent: %s
User message: %s
Conversation history:
%s

Generate a helpful response:`

const toolResponseGenerationTemplate = `You are a friendly and helpful customer service assistant for an e-commerce business on Instagram.

You have retrieved the following store data to answer the customer's question. Ground your answer in this data; do not invent products, prices, or order details that are not listed.

Retrieved data:
%s

Guidelines:
- Be warm and personable, but professional
- Keep responses concise (under 200 words)
- Present prices and availability exactly as retrieved
- If the retrieved data does not answer the question, say so and offer to connect them with a team member
- Use emojis sparingly and appropriately

Intent: %s
User message: %s
Conversation history:
%s

Generate a helpful response:`

const extractProductQueryTemplate = `Extract a short product search term from the customer's message below.

Respond with ONLY the search term (a few words naming the product), nothing else. Do not add quotes or punctuation.

Customer message: %s`

const extractOrderIDTemplate = `Extract the order number from the customer's message below. Order numbers are numeric and may have a leading # (e.g., #1001).

Respond with ONLY the order number (without the #), nothing else. If the message contains no order number, respond with exactly: unknown

Customer message: %s`

func intentClassificationPrompt(message string) string {
	return fmt.Sprintf(intentClassificationTemplate, message)
}

func responseGenerationPrompt(intent models.MessageIntent, message, history string) string {
	return fmt.Sprintf(responseGenerationTemplate, intentValue(intent), message, history)
}

func toolResponseGenerationPrompt(intent models.MessageIntent, message string, toolResults []string, history string) string {
	return fmt.Sprintf(toolResponseGenerationTemplate, strings.Join(toolResults, "\n\n"), intentValue(intent), message, history)
}

func extractProductQueryPrompt(message string) string {
	return fmt.Sprintf(extractProductQueryTemplate, message)
}

func extractOrderIDPrompt(message string) string {
	return fmt.Sprintf(extractOrderIDTemplate, message)
}

// intentValue renders the intent for prompt interpolation, defaulting to
// unknown when classification never ran.
func intentValue(i models.MessageIntent) string {
	if i == "" {
		return string(models.IntentUnknown)
	}
	return string(i)
}

// renderHistory flattens the trailing window of conversation history into a
// "role: content" transcript for prompt interpolation.
func renderHistory(history []models.ConversationMessage) string {
	if len(history) == 0 {
		return "No previous messages"
	}
	start := 0
	if len(history) > historyWindow {
		start = len(history) - historyWindow
	}
	lines := make([]string, 0, len(history)-start)
	for _, msg := range history[start:] {
		lines = append(lines, fmt.Sprintf("%s: %s", msg.Role, msg.Content))
	}
	return strings.Join(lines, "\n")
}

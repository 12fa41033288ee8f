package flow

import (
	"context"
	"strings"
)

// mockLLM implements genai.ClientInterface for testing. Responses are keyed
// off the prompt template so one mock can serve a whole pipeline run.
type mockLLM struct {
	classifyResp string
	classifyErr  error
	extractResp  string
	extractErr   error
	generateResp string
	generateErr  error

	prompts []string
}

func (m *mockLLM) GeneratePrompt(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	m.prompts = append(m.prompts, systemPrompt)
	switch {
	case strings.Contains(systemPrompt, "intent classifier"):
		return m.classifyResp, m.classifyErr
	case strings.Contains(systemPrompt, "Extract a short product search term"),
		strings.Contains(systemPrompt, "Extract the order number"):
		return m.extractResp, m.extractErr
	default:
		return m.generateResp, m.generateErr
	}
}

// mockToolAdapter implements ToolAdapter for testing.
type mockToolAdapter struct {
	productResult string
	orderResult   string

	productCalls []string
	orderCalls   []string
}

func (m *mockToolAdapter) GetProductInfo(ctx context.Context, productName string) string {
	m.productCalls = append(m.productCalls, productName)
	if m.productResult != "" {
		return m.productResult
	}
	return "product info"
}

func (m *mockToolAdapter) CheckOrderStatus(ctx context.Context, orderID string) string {
	m.orderCalls = append(m.orderCalls, orderID)
	if m.orderResult != "" {
		return m.orderResult
	}
	return "order status"
}

func newTestPipeline(llm *mockLLM, tools *mockToolAdapter) *Pipeline {
	return NewPipeline(llm, tools)
}

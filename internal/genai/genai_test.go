package genai

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/openai/openai-go"
)

// mockChatService implements chatService for testing.
type mockChatService struct {
	resp   openai.ChatCompletion
	err    error
	params openai.ChatCompletionNewParams
}

func (m *mockChatService) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	m.params = params
	return m.resp, m.err
}

func newTestClient(mock *mockChatService) *Client {
	return &Client{chat: mock, model: DefaultModel, temperature: DefaultTemperature, maxTokens: DefaultMaxTokens}
}

func TestGeneratePrompt_Success(t *testing.T) {
	mockResp := openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: "Hello World"}},
		},
	}
	mock := &mockChatService{resp: mockResp}
	client := newTestClient(mock)
	out, err := client.GeneratePrompt(context.Background(), "system prompt", "user prompt")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if out != "Hello World" {
		t.Errorf("expected 'Hello World', got '%s'", out)
	}
	if len(mock.params.Messages) != 2 {
		t.Errorf("expected 2 messages sent, got %d", len(mock.params.Messages))
	}
}

func TestGeneratePrompt_SystemOnly(t *testing.T) {
	mockResp := openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: "ok"}},
		},
	}
	mock := &mockChatService{resp: mockResp}
	client := newTestClient(mock)
	if _, err := client.GeneratePrompt(context.Background(), "system prompt only", ""); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(mock.params.Messages) != 1 {
		t.Errorf("expected 1 message sent, got %d", len(mock.params.Messages))
	}
}

func TestGeneratePrompt_ServiceError(t *testing.T) {
	client := newTestClient(&mockChatService{err: errors.New("service failure")})
	_, err := client.GeneratePrompt(context.Background(), "sys", "usr")
	if err == nil || !strings.Contains(err.Error(), "service failure") {
		t.Errorf("expected service failure error, got %v", err)
	}
}

func TestGeneratePrompt_NoChoices(t *testing.T) {
	mockResp := openai.ChatCompletion{Choices: []openai.ChatCompletionChoice{}}
	client := newTestClient(&mockChatService{resp: mockResp})
	_, err := client.GeneratePrompt(context.Background(), "sys", "usr")
	if !errors.Is(err, ErrNoChoicesReturned) {
		t.Errorf("expected no choices returned error, got %v", err)
	}
}

func TestNewClient_NoKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	_, err := NewClient()
	if !errors.Is(err, ErrAPIKeyNotSet) {
		t.Errorf("expected ErrAPIKeyNotSet when API key not provided, got %v", err)
	}
}

func TestNewClient_WithKey(t *testing.T) {
	cli, err := NewClient(WithAPIKey("test-key"), WithModel("gpt-4.1-mini"), WithTemperature(0.2), WithMaxTokens(64))
	if err != nil {
		t.Fatalf("expected no error with API key, got %v", err)
	}
	if cli == nil {
		t.Fatal("expected client instance, got nil")
	}
	if cli.model != "gpt-4.1-mini" {
		t.Errorf("expected configured model, got %q", cli.model)
	}
	if cli.temperature != 0.2 {
		t.Errorf("expected configured temperature, got %v", cli.temperature)
	}
	if cli.maxTokens != 64 {
		t.Errorf("expected configured max tokens, got %d", cli.maxTokens)
	}
}

func TestNewClient_ZeroTemperature(t *testing.T) {
	// An explicit zero must not be replaced by the default.
	cli, err := NewClient(WithAPIKey("test-key"), WithTemperature(0))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cli.temperature != 0 {
		t.Errorf("expected temperature 0, got %v", cli.temperature)
	}
}

func TestNewClient_UnsetUsesDefaults(t *testing.T) {
	cli, err := NewClient(WithAPIKey("test-key"))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cli.temperature != DefaultTemperature {
		t.Errorf("expected default temperature, got %v", cli.temperature)
	}
	if cli.maxTokens != DefaultMaxTokens {
		t.Errorf("expected default max tokens, got %d", cli.maxTokens)
	}
}

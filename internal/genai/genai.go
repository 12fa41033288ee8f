// Package genai provides GenAI-enhanced operations using OpenAI API.

package genai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// Default model configuration
const (
	// DefaultModel is the chat model used when none is configured.
	DefaultModel = openai.ChatModelGPT4oMini
	// DefaultTemperature is the sampling temperature used when none is configured.
	DefaultTemperature = 0.7
	// DefaultMaxTokens caps completion length when none is configured.
	DefaultMaxTokens = 500
)

// Error variables for better error handling and testability
var (
	// ErrAPIKeyNotSet indicates no API key was provided or found in the environment.
	ErrAPIKeyNotSet = errors.New("OPENAI_API_KEY not set")
	// ErrNoChoicesReturned indicates the completion response contained no choices.
	ErrNoChoicesReturned = errors.New("no choices returned")
)

// ClientInterface defines the LLM operation the pipeline consumes.
// All failures surface as opaque errors; callers decide recovery.
type ClientInterface interface {
	// GeneratePrompt generates a completion from a system prompt and a user prompt.
	GeneratePrompt(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// chatService defines minimal interface for chat completions.
type chatService interface {
	Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error)
}

// openaiChatService adapts the OpenAI SDK client to the chatService interface.
type openaiChatService struct {
	client openai.Client
}

func (s *openaiChatService) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	resp, err := s.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return openai.ChatCompletion{}, err
	}
	return *resp, nil
}

// Opts holds configuration for the GenAI client. Temperature and MaxTokens
// are pointers so an explicit zero is distinguishable from unset.
type Opts struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature *float64
	MaxTokens   *int64
}

// Option configures the GenAI client.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithBaseURL sets a custom API base URL (e.g., a proxy or mock server).
func WithBaseURL(url string) Option {
	return func(o *Opts) { o.BaseURL = url }
}

// WithModel sets the chat model.
func WithModel(model string) Option {
	return func(o *Opts) { o.Model = model }
}

// WithTemperature sets the sampling temperature. Zero is a valid setting.
func WithTemperature(t float64) Option {
	return func(o *Opts) { o.Temperature = &t }
}

// WithMaxTokens sets the completion token cap.
func WithMaxTokens(n int64) Option {
	return func(o *Opts) { o.MaxTokens = &n }
}

// Client wraps the OpenAI ChatCompletion service for generating replies.
type Client struct {
	chat        chatService
	model       shared.ChatModel
	temperature float64
	maxTokens   int64
}

// NewClient initializes a new GenAI client. The API key is taken from options
// or the OPENAI_API_KEY environment variable.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}

	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		slog.Error("genai.NewClient: API key not provided")
		return nil, ErrAPIKeyNotSet
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.BaseURL))
	}

	model := shared.ChatModel(cfg.Model)
	if model == "" {
		model = DefaultModel
	}
	temperature := float64(DefaultTemperature)
	if cfg.Temperature != nil {
		temperature = *cfg.Temperature
	}
	maxTokens := int64(DefaultMaxTokens)
	if cfg.MaxTokens != nil {
		maxTokens = *cfg.MaxTokens
	}

	cli := openai.NewClient(reqOpts...)
	slog.Debug("genai.NewClient: client initialized", "model", model, "baseURL_set", cfg.BaseURL != "")
	return &Client{
		chat:        &openaiChatService{client: cli},
		model:       model,
		temperature: temperature,
		maxTokens:   maxTokens,
	}, nil
}

// GeneratePrompt generates a completion based on the provided system and user prompts.
func (c *Client) GeneratePrompt(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if systemPrompt != "" {
		messages = append(messages, openai.SystemMessage(systemPrompt))
	}
	if userPrompt != "" {
		messages = append(messages, openai.UserMessage(userPrompt))
	}
	return c.GenerateWithMessages(ctx, messages)
}

// GenerateWithMessages generates a completion from a full message sequence.
func (c *Client) GenerateWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model:       c.model,
		Messages:    messages,
		Temperature: openai.Float(c.temperature),
		MaxTokens:   openai.Int(c.maxTokens),
	}
	resp, err := c.chat.Create(ctx, params)
	if err != nil {
		slog.Error("genai.GenerateWithMessages: completion failed", "error", err, "model", c.model)
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		slog.Error("genai.GenerateWithMessages: completion returned no choices", "model", c.model)
		return "", ErrNoChoicesReturned
	}
	return resp.Choices[0].Message.Content, nil
}

// Package instagram provides a client for the Instagram Graph API and the
// webhook verification and event-processing service for inbound DMs.
package instagram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"time"
)

// GraphAPIBaseURL is the Meta Graph API endpoint this client targets.
const GraphAPIBaseURL = "https://graph.facebook.com/v21.0"

// DefaultTimeout is the per-request timeout for Graph API calls.
const DefaultTimeout = 30 * time.Second

// Error variables for better error handling and testability
var (
	ErrAccessTokenNotSet = errors.New("instagram access token not set")
	ErrPageIDNotSet      = errors.New("instagram page ID not set")
)

// APIError represents an error returned by the Instagram Graph API.
type APIError struct {
	Message    string
	StatusCode int
}

func (e *APIError) Error() string {
	return e.Message
}

// RateLimitError indicates the Graph API rate limit was exceeded (HTTP 429).
type RateLimitError struct {
	APIError
}

// SendMessageResult holds the identifiers returned for a sent message.
type SendMessageResult struct {
	RecipientID string `json:"recipient_id"`
	MessageID   string `json:"message_id"`
}

// UserProfile holds basic profile information for an Instagram user.
type UserProfile struct {
	ID       string `json:"id"`
	Username string `json:"username,omitempty"`
	Name     string `json:"name,omitempty"`
}

// Opts holds configuration for the Instagram client.
type Opts struct {
	AccessToken string
	PageID      string
	BaseURL     string // overrides the Graph API base URL, useful for testing
	Timeout     time.Duration
}

// Option configures the Instagram client.
type Option func(*Opts)

// WithAccessToken sets the page access token.
func WithAccessToken(t string) Option {
	return func(o *Opts) { o.AccessToken = t }
}

// WithPageID sets the Instagram page ID.
func WithPageID(id string) Option {
	return func(o *Opts) { o.PageID = id }
}

// WithBaseURL overrides the Graph API base URL (testing hook).
func WithBaseURL(u string) Option {
	return func(o *Opts) { o.BaseURL = u }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) { o.Timeout = d }
}

// Client is a client for the Instagram Graph API messaging endpoints.
type Client struct {
	baseURL     string
	accessToken string
	pageID      string
	http        *http.Client
}

// NewClient creates a new Instagram client. Access token and page ID default
// to the INSTAGRAM_ACCESS_TOKEN and INSTAGRAM_PAGE_ID environment variables.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}

	accessToken := cfg.AccessToken
	if accessToken == "" {
		accessToken = os.Getenv("INSTAGRAM_ACCESS_TOKEN")
	}
	if accessToken == "" {
		slog.Error("instagram.NewClient: access token not configured")
		return nil, ErrAccessTokenNotSet
	}

	pageID := cfg.PageID
	if pageID == "" {
		pageID = os.Getenv("INSTAGRAM_PAGE_ID")
	}
	if pageID == "" {
		slog.Error("instagram.NewClient: page ID not configured")
		return nil, ErrPageIDNotSet
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = GraphAPIBaseURL
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	slog.Debug("instagram.NewClient: client initialized", "pageID", pageID)
	return &Client{
		baseURL:     baseURL,
		accessToken: accessToken,
		pageID:      pageID,
		http:        &http.Client{Timeout: timeout},
	}, nil
}

// do performs a Graph API request and decodes errors per Meta conventions.
func (c *Client) do(req *http.Request) (map[string]json.RawMessage, error) {
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("instagram request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read instagram response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		slog.Warn("instagram.do: rate limit exceeded")
		return nil, &RateLimitError{APIError{Message: "instagram API rate limit exceeded", StatusCode: http.StatusTooManyRequests}}
	}

	if resp.StatusCode >= 400 {
		message := extractErrorMessage(body)
		slog.Error("instagram.do: API error", "status", resp.StatusCode, "message", message)
		return nil, &APIError{Message: fmt.Sprintf("instagram API error: %s", message), StatusCode: resp.StatusCode}
	}

	var data map[string]json.RawMessage
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("failed to decode instagram response: %w", err)
	}
	return data, nil
}

// extractErrorMessage pulls the error text out of a Graph API error body.
func extractErrorMessage(body []byte) string {
	var parsed struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error.Message != "" {
		return parsed.Error.Message
	}
	if len(body) > 0 {
		return string(body)
	}
	return "unknown error"
}

// SendMessage sends a text message to a user.
func (c *Client) SendMessage(ctx context.Context, recipientID, messageText string) (*SendMessageResult, error) {
	payload := map[string]interface{}{
		"recipient": map[string]string{"id": recipientID},
		"message":   map[string]string{"text": messageText},
	}
	return c.postMessage(ctx, recipientID, payload)
}

// SendMediaMessage sends a media attachment (image, video, audio, file) to a user.
func (c *Client) SendMediaMessage(ctx context.Context, recipientID, mediaURL, mediaType string) (*SendMessageResult, error) {
	payload := map[string]interface{}{
		"recipient": map[string]string{"id": recipientID},
		"message": map[string]interface{}{
			"attachment": map[string]interface{}{
				"type":    mediaType,
				"payload": map[string]string{"url": mediaURL},
			},
		},
	}
	return c.postMessage(ctx, recipientID, payload)
}

func (c *Client) postMessage(ctx context.Context, recipientID string, payload map[string]interface{}) (*SendMessageResult, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message payload: %w", err)
	}

	reqURL := fmt.Sprintf("%s/%s/messages", c.baseURL, c.pageID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	slog.Info("instagram.postMessage: sending message", "recipientID", recipientID)
	data, err := c.do(req)
	if err != nil {
		return nil, err
	}

	result := &SendMessageResult{RecipientID: recipientID}
	if raw, ok := data["recipient_id"]; ok {
		json.Unmarshal(raw, &result.RecipientID)
	}
	if raw, ok := data["message_id"]; ok {
		json.Unmarshal(raw, &result.MessageID)
	}
	return result, nil
}

// GetUserProfile fetches basic profile information for a user.
func (c *Client) GetUserProfile(ctx context.Context, userID string) (*UserProfile, error) {
	params := url.Values{}
	params.Set("fields", "id,username,name")

	reqURL := fmt.Sprintf("%s/%s?%s", c.baseURL, userID, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	slog.Info("instagram.GetUserProfile: fetching profile", "userID", userID)
	data, err := c.do(req)
	if err != nil {
		return nil, err
	}

	profile := &UserProfile{ID: userID}
	if raw, ok := data["id"]; ok {
		json.Unmarshal(raw, &profile.ID)
	}
	if raw, ok := data["username"]; ok {
		json.Unmarshal(raw, &profile.Username)
	}
	if raw, ok := data["name"]; ok {
		json.Unmarshal(raw, &profile.Name)
	}
	return profile, nil
}

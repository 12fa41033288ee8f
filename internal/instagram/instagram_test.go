package instagram

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := NewClient(
		WithAccessToken("test-token"),
		WithPageID("page123"),
		WithBaseURL(srv.URL),
	)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	return client, srv
}

func TestNewClientMissingCredentials(t *testing.T) {
	t.Setenv("INSTAGRAM_ACCESS_TOKEN", "")
	t.Setenv("INSTAGRAM_PAGE_ID", "")

	if _, err := NewClient(); !errors.Is(err, ErrAccessTokenNotSet) {
		t.Errorf("expected ErrAccessTokenNotSet, got %v", err)
	}
	if _, err := NewClient(WithAccessToken("tok")); !errors.Is(err, ErrPageIDNotSet) {
		t.Errorf("expected ErrPageIDNotSet, got %v", err)
	}
}

func TestSendMessage(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]interface{}
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(map[string]string{"recipient_id": "user1", "message_id": "mid.99"})
	})

	result, err := client.SendMessage(context.Background(), "user1", "hello there")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotPath != "/page123/messages" {
		t.Errorf("unexpected request path: %s", gotPath)
	}
	if gotAuth != "Bearer test-token" {
		t.Errorf("unexpected authorization header: %s", gotAuth)
	}
	msg, ok := gotBody["message"].(map[string]interface{})
	if !ok || msg["text"] != "hello there" {
		t.Errorf("unexpected message payload: %v", gotBody)
	}
	if result.MessageID != "mid.99" || result.RecipientID != "user1" {
		t.Errorf("unexpected result: %+v", result)
	}
}

func TestSendMediaMessage(t *testing.T) {
	var gotBody map[string]interface{}
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(map[string]string{"message_id": "mid.100"})
	})

	_, err := client.SendMediaMessage(context.Background(), "user1", "https://cdn.example.com/a.jpg", "image")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	msg := gotBody["message"].(map[string]interface{})
	attachment := msg["attachment"].(map[string]interface{})
	if attachment["type"] != "image" {
		t.Errorf("unexpected attachment type: %v", attachment["type"])
	}
}

func TestSendMessageAPIError(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error": {"message": "Invalid user id"}}`))
	})

	_, err := client.SendMessage(context.Background(), "bogus", "hi")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusBadRequest {
		t.Errorf("unexpected status code: %d", apiErr.StatusCode)
	}
	if apiErr.Message != "instagram API error: Invalid user id" {
		t.Errorf("unexpected message: %q", apiErr.Message)
	}
}

func TestSendMessageRateLimit(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := client.SendMessage(context.Background(), "user1", "hi")
	var rateErr *RateLimitError
	if !errors.As(err, &rateErr) {
		t.Fatalf("expected RateLimitError, got %v", err)
	}
}

func TestGetUserProfile(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("fields") == "" {
			t.Error("expected fields query parameter")
		}
		json.NewEncoder(w).Encode(map[string]string{"id": "user1", "username": "jdoe", "name": "J Doe"})
	})

	profile, err := client.GetUserProfile(context.Background(), "user1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if profile.Username != "jdoe" || profile.Name != "J Doe" {
		t.Errorf("unexpected profile: %+v", profile)
	}
}

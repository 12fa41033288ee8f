package shopify

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestServerClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := NewClient(WithBaseURL(srv.URL), WithAccessToken("test-token"))
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	return client
}

func TestNewClient_MissingConfig(t *testing.T) {
	t.Setenv("SHOPIFY_STORE_URL", "")
	t.Setenv("SHOPIFY_ACCESS_TOKEN", "")

	if _, err := NewClient(); !errors.Is(err, ErrStoreURLNotSet) {
		t.Errorf("expected ErrStoreURLNotSet, got %v", err)
	}
	if _, err := NewClient(WithStoreURL("mystore.myshopify.com")); !errors.Is(err, ErrAccessTokenNotSet) {
		t.Errorf("expected ErrAccessTokenNotSet, got %v", err)
	}
}

func TestSearchProducts_Success(t *testing.T) {
	client := newTestServerClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/products.json" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if got := r.Header.Get("X-Shopify-Access-Token"); got != "test-token" {
			t.Errorf("expected access token header, got %q", got)
		}
		if got := r.URL.Query().Get("title"); got != "t-shirt" {
			t.Errorf("expected title query 't-shirt', got %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"products":[{"id":101,"title":"Classic T-Shirt","body_html":"<p>Soft cotton</p>","handle":"classic-tee","variants":[{"price":"19.99","inventory_quantity":12}],"images":[{"src":"https://cdn/img.png"}]}]}`))
	})

	products, err := client.SearchProducts(context.Background(), "t-shirt", 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(products) != 1 {
		t.Fatalf("expected 1 product, got %d", len(products))
	}
	p := products[0]
	if p.Title != "Classic T-Shirt" {
		t.Errorf("expected title 'Classic T-Shirt', got %q", p.Title)
	}
	if p.Description != "Soft cotton" {
		t.Errorf("expected HTML-stripped description, got %q", p.Description)
	}
	if p.Price != "19.99" || !p.Available || p.InventoryQuantity != 12 {
		t.Errorf("unexpected variant data: %+v", p)
	}
	if p.ImageURL != "https://cdn/img.png" {
		t.Errorf("expected image URL, got %q", p.ImageURL)
	}
}

func TestSearchProducts_RateLimit(t *testing.T) {
	client := newTestServerClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "3.5")
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := client.SearchProducts(context.Background(), "socks", 3)
	var rateErr *RateLimitError
	if !errors.As(err, &rateErr) {
		t.Fatalf("expected RateLimitError, got %v", err)
	}
	if rateErr.RetryAfter != 3.5 {
		t.Errorf("expected retry after 3.5, got %v", rateErr.RetryAfter)
	}
}

func TestSearchProducts_APIError(t *testing.T) {
	client := newTestServerClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"errors":"something broke"}`))
	})

	_, err := client.SearchProducts(context.Background(), "socks", 3)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusInternalServerError {
		t.Errorf("expected status 500, got %d", apiErr.StatusCode)
	}
	if !strings.Contains(apiErr.Message, "something broke") {
		t.Errorf("expected error body in message, got %q", apiErr.Message)
	}
}

func TestGetOrderStatus_ByOrderNumber(t *testing.T) {
	client := newTestServerClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/orders.json" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if got := r.URL.Query().Get("name"); got != "#1001" {
			t.Errorf("expected name query '#1001', got %q", got)
		}
		w.Write([]byte(`{"orders":[{"id":555,"name":"#1001","email":"a@b.c","financial_status":"paid","fulfillment_status":"fulfilled","total_price":"42.00","currency":"USD","line_items":[{"title":"Tee","quantity":2}],"fulfillments":[{"tracking_number":"TRACK123"}],"shipping_address":{"city":"Toronto","country":"Canada"}}]}`))
	})

	order, err := client.GetOrderStatus(context.Background(), "#1001")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if order.OrderID != "555" || order.OrderNumber != "#1001" {
		t.Errorf("unexpected order identity: %+v", order)
	}
	if order.LineItemsCount != 1 {
		t.Errorf("expected 1 line item, got %d", order.LineItemsCount)
	}
	summary := order.StatusSummary()
	if !strings.Contains(summary, "Shipped!") || !strings.Contains(summary, "TRACK123") {
		t.Errorf("unexpected status summary %q", summary)
	}
	if order.ShippingCity != "Toronto" || order.ShippingCountry != "Canada" {
		t.Errorf("unexpected shipping address: %+v", order)
	}
}

func TestGetOrderStatus_FallsBackToOrderID(t *testing.T) {
	client := newTestServerClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/orders.json":
			w.Write([]byte(`{"orders":[]}`))
		case "/orders/555.json":
			w.Write([]byte(`{"order":{"id":555,"name":"#1001","financial_status":"pending","total_price":"10.00","created_at":"2024-01-01","updated_at":"2024-01-02"}}`))
		default:
			t.Errorf("unexpected path %q", r.URL.Path)
		}
	})

	order, err := client.GetOrderStatus(context.Background(), "555")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if order.FulfillmentStatus != "unfulfilled" {
		t.Errorf("expected default fulfillment status, got %q", order.FulfillmentStatus)
	}
	if !strings.Contains(order.StatusSummary(), "being prepared") {
		t.Errorf("unexpected status summary %q", order.StatusSummary())
	}
}

func TestGetOrderStatus_NotFound(t *testing.T) {
	client := newTestServerClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/orders.json":
			w.Write([]byte(`{"orders":[]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	_, err := client.GetOrderStatus(context.Background(), "#9999")
	var notFound *OrderNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected OrderNotFoundError, got %v", err)
	}
}

func TestCleanHTML(t *testing.T) {
	if got := cleanHTML("<p>Hello <b>world</b></p>"); got != "Hello world" {
		t.Errorf("expected 'Hello world', got %q", got)
	}
	if got := cleanHTML(""); got != "" {
		t.Errorf("expected empty string, got %q", got)
	}
}

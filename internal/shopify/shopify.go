// Package shopify provides a client for the Shopify REST Admin API and
// the e-commerce tool adapters consumed by the message pipeline.
package shopify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// APIVersion is the Shopify REST Admin API version this client targets.
const APIVersion = "2024-01"

// DefaultTimeout is the per-request timeout for Shopify API calls.
const DefaultTimeout = 30 * time.Second

// Error variables for better error handling and testability
var (
	ErrStoreURLNotSet    = errors.New("shopify store URL not set")
	ErrAccessTokenNotSet = errors.New("shopify access token not set")
)

// APIError represents an error returned by the Shopify API.
type APIError struct {
	Message    string
	StatusCode int
}

func (e *APIError) Error() string {
	return e.Message
}

// RateLimitError indicates the Shopify API rate limit was exceeded (HTTP 429).
type RateLimitError struct {
	APIError
	RetryAfter float64 // seconds to wait before retrying
}

// ProductNotFoundError indicates a requested product does not exist.
type ProductNotFoundError struct {
	APIError
}

// OrderNotFoundError indicates a requested order does not exist.
type OrderNotFoundError struct {
	APIError
}

// ProductResult holds simplified product information for the pipeline tools.
type ProductResult struct {
	ID                string `json:"id"`
	Title             string `json:"title"`
	Description       string `json:"description"`
	Price             string `json:"price"`
	Currency          string `json:"currency"`
	InventoryQuantity int    `json:"inventory_quantity"`
	Available         bool   `json:"available"`
	ImageURL          string `json:"image_url,omitempty"`
	Handle            string `json:"handle"`
	Vendor            string `json:"vendor,omitempty"`
	ProductType       string `json:"product_type,omitempty"`
}

// OrderResult holds simplified order status information for the pipeline tools.
type OrderResult struct {
	OrderID           string   `json:"order_id"`
	OrderNumber       string   `json:"order_number"`
	Email             string   `json:"email"`
	FinancialStatus   string   `json:"financial_status"`
	FulfillmentStatus string   `json:"fulfillment_status"`
	TotalPrice        string   `json:"total_price"`
	Currency          string   `json:"currency"`
	CreatedAt         string   `json:"created_at"`
	UpdatedAt         string   `json:"updated_at"`
	LineItemsCount    int      `json:"line_items_count"`
	TrackingNumbers   []string `json:"tracking_numbers,omitempty"`
	ShippingCity      string   `json:"shipping_city,omitempty"`
	ShippingCountry   string   `json:"shipping_country,omitempty"`
}

// StatusSummary generates a human-readable status line for the pipeline tools.
func (o *OrderResult) StatusSummary() string {
	payment := o.FinancialStatus

	switch o.FulfillmentStatus {
	case "fulfilled":
		if len(o.TrackingNumbers) > 0 {
			return fmt.Sprintf("Payment: %s. Shipped! Tracking: %s", payment, strings.Join(o.TrackingNumbers, ", "))
		}
		return fmt.Sprintf("Payment: %s. Shipped!", payment)
	case "partial":
		return fmt.Sprintf("Payment: %s. Partially shipped.", payment)
	default:
		return fmt.Sprintf("Payment: %s. Order is being prepared for shipping.", payment)
	}
}

// Opts holds configuration for the Shopify client.
type Opts struct {
	StoreURL    string // e.g. "mystore.myshopify.com"
	AccessToken string
	BaseURL     string // overrides the derived base URL, useful for testing
	Timeout     time.Duration
}

// Option configures the Shopify client.
type Option func(*Opts)

// WithStoreURL sets the Shopify store hostname.
func WithStoreURL(u string) Option {
	return func(o *Opts) { o.StoreURL = u }
}

// WithAccessToken sets the Admin API access token.
func WithAccessToken(t string) Option {
	return func(o *Opts) { o.AccessToken = t }
}

// WithBaseURL overrides the full API base URL (testing hook).
func WithBaseURL(u string) Option {
	return func(o *Opts) { o.BaseURL = u }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) { o.Timeout = d }
}

// Client is a client for the Shopify REST Admin API.
type Client struct {
	baseURL     string
	accessToken string
	http        *http.Client
}

// NewClient creates a new Shopify client. Store URL and access token default
// to the SHOPIFY_STORE_URL and SHOPIFY_ACCESS_TOKEN environment variables.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}

	storeURL := cfg.StoreURL
	if storeURL == "" {
		storeURL = os.Getenv("SHOPIFY_STORE_URL")
	}
	accessToken := cfg.AccessToken
	if accessToken == "" {
		accessToken = os.Getenv("SHOPIFY_ACCESS_TOKEN")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		if storeURL == "" {
			slog.Error("shopify.NewClient: store URL not configured")
			return nil, ErrStoreURLNotSet
		}
		baseURL = fmt.Sprintf("https://%s/admin/api/%s", storeURL, APIVersion)
	}
	if accessToken == "" {
		slog.Error("shopify.NewClient: access token not configured")
		return nil, ErrAccessTokenNotSet
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	slog.Debug("shopify.NewClient: client initialized", "baseURL", baseURL)
	return &Client{
		baseURL:     baseURL,
		accessToken: accessToken,
		http:        &http.Client{Timeout: timeout},
	}, nil
}

// get performs a GET request against the API and decodes errors per Shopify conventions.
func (c *Client) get(ctx context.Context, path string, query url.Values, notFound func(msg string) error) (map[string]json.RawMessage, error) {
	reqURL := c.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("X-Shopify-Access-Token", c.accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("shopify request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read shopify response: %w", err)
	}

	// Shopify uses bucket-based rate limiting; warn when the bucket is nearly drained.
	if limit := resp.Header.Get("X-Shopify-Shop-Api-Call-Limit"); limit != "" {
		if current, max, ok := parseCallLimit(limit); ok && current >= max-5 {
			slog.Warn("shopify.get: approaching rate limit", "callLimit", limit)
		}
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := 2.0
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if parsed, err := strconv.ParseFloat(ra, 64); err == nil {
				retryAfter = parsed
			}
		}
		slog.Warn("shopify.get: rate limit exceeded", "retryAfter", retryAfter)
		return nil, &RateLimitError{
			APIError:   APIError{Message: fmt.Sprintf("shopify rate limit exceeded, retry after %.1fs", retryAfter), StatusCode: http.StatusTooManyRequests},
			RetryAfter: retryAfter,
		}
	}

	if resp.StatusCode == http.StatusNotFound {
		if notFound != nil {
			return nil, notFound("resource not found")
		}
		return nil, &APIError{Message: "resource not found", StatusCode: http.StatusNotFound}
	}

	if resp.StatusCode >= 400 {
		message := extractErrorMessage(body)
		slog.Error("shopify.get: API error", "status", resp.StatusCode, "message", message)
		return nil, &APIError{Message: fmt.Sprintf("shopify API error: %s", message), StatusCode: resp.StatusCode}
	}

	var data map[string]json.RawMessage
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("failed to decode shopify response: %w", err)
	}
	return data, nil
}

// parseCallLimit parses an "n/m" call limit header value.
func parseCallLimit(s string) (current, max int, ok bool) {
	parts := strings.SplitN(s, "/", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	current, err1 := strconv.Atoi(parts[0])
	max, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return current, max, true
}

// extractErrorMessage pulls the error text out of a Shopify error body.
func extractErrorMessage(body []byte) string {
	var parsed struct {
		Errors json.RawMessage `json:"errors"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && len(parsed.Errors) > 0 {
		var s string
		if err := json.Unmarshal(parsed.Errors, &s); err == nil {
			return s
		}
		return string(parsed.Errors)
	}
	if len(body) > 0 {
		return string(body)
	}
	return "unknown error"
}

var htmlTagPattern = regexp.MustCompile("<.*?>")

// cleanHTML removes HTML tags from a string for plain text display.
func cleanHTML(s string) string {
	if s == "" {
		return ""
	}
	return strings.TrimSpace(htmlTagPattern.ReplaceAllString(s, ""))
}

// rawProduct mirrors the subset of the Shopify product payload we consume.
type rawProduct struct {
	ID       int64  `json:"id"`
	Title    string `json:"title"`
	BodyHTML string `json:"body_html"`
	Vendor   string `json:"vendor"`
	Type     string `json:"product_type"`
	Handle   string `json:"handle"`
	Variants []struct {
		Price             string `json:"price"`
		InventoryQuantity int    `json:"inventory_quantity"`
	} `json:"variants"`
	Images []struct {
		Src string `json:"src"`
	} `json:"images"`
}

// rawOrder mirrors the subset of the Shopify order payload we consume.
type rawOrder struct {
	ID                int64  `json:"id"`
	Name              string `json:"name"` // order number like "#1001"
	Email             string `json:"email"`
	FinancialStatus   string `json:"financial_status"`
	FulfillmentStatus string `json:"fulfillment_status"`
	TotalPrice        string `json:"total_price"`
	Currency          string `json:"currency"`
	CreatedAt         string `json:"created_at"`
	UpdatedAt         string `json:"updated_at"`
	LineItems         []struct {
		Title    string `json:"title"`
		Quantity int    `json:"quantity"`
	} `json:"line_items"`
	Fulfillments []struct {
		TrackingNumber string `json:"tracking_number"`
	} `json:"fulfillments"`
	ShippingAddress *struct {
		City    string `json:"city"`
		Country string `json:"country"`
	} `json:"shipping_address"`
}

func (r rawProduct) toResult() ProductResult {
	result := ProductResult{
		ID:          strconv.FormatInt(r.ID, 10),
		Title:       r.Title,
		Description: cleanHTML(r.BodyHTML),
		Price:       "0.00",
		Currency:    "USD",
		Handle:      r.Handle,
		Vendor:      r.Vendor,
		ProductType: r.Type,
	}
	if len(r.Variants) > 0 {
		result.Price = r.Variants[0].Price
		result.InventoryQuantity = r.Variants[0].InventoryQuantity
		result.Available = r.Variants[0].InventoryQuantity > 0
	}
	if len(r.Images) > 0 {
		result.ImageURL = r.Images[0].Src
	}
	return result
}

func (r rawOrder) toResult() OrderResult {
	result := OrderResult{
		OrderID:           strconv.FormatInt(r.ID, 10),
		OrderNumber:       r.Name,
		Email:             r.Email,
		FinancialStatus:   r.FinancialStatus,
		FulfillmentStatus: r.FulfillmentStatus,
		TotalPrice:        r.TotalPrice,
		Currency:          r.Currency,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
		LineItemsCount:    len(r.LineItems),
	}
	if result.FulfillmentStatus == "" {
		result.FulfillmentStatus = "unfulfilled"
	}
	if result.Currency == "" {
		result.Currency = "USD"
	}
	for _, f := range r.Fulfillments {
		if f.TrackingNumber != "" {
			result.TrackingNumbers = append(result.TrackingNumbers, f.TrackingNumber)
		}
	}
	if r.ShippingAddress != nil {
		result.ShippingCity = r.ShippingAddress.City
		result.ShippingCountry = r.ShippingAddress.Country
	}
	return result
}

// SearchProducts searches active products by title.
func (c *Client) SearchProducts(ctx context.Context, query string, limit int) ([]ProductResult, error) {
	params := url.Values{}
	params.Set("title", query)
	params.Set("limit", strconv.Itoa(limit))
	params.Set("status", "active")
	params.Set("fields", "id,title,body_html,vendor,product_type,handle,variants,images")

	slog.Info("shopify.SearchProducts: searching products", "query", query, "limit", limit)
	data, err := c.get(ctx, "/products.json", params, nil)
	if err != nil {
		return nil, err
	}

	var products []rawProduct
	if raw, ok := data["products"]; ok {
		if err := json.Unmarshal(raw, &products); err != nil {
			return nil, fmt.Errorf("failed to decode products: %w", err)
		}
	}

	results := make([]ProductResult, 0, len(products))
	for _, p := range products {
		results = append(results, p.toResult())
	}
	slog.Info("shopify.SearchProducts: search complete", "query", query, "count", len(results))
	return results, nil
}

// GetOrderStatus looks up an order by order number or order ID.
//
// Shopify order IDs are numeric, but customers usually quote order numbers
// (e.g. "#1001"), so the order-number lookup runs first with a fallback to
// a direct ID fetch.
func (c *Client) GetOrderStatus(ctx context.Context, orderID string) (*OrderResult, error) {
	cleanID := strings.TrimPrefix(orderID, "#")

	params := url.Values{}
	params.Set("name", "#"+cleanID)
	params.Set("status", "any")
	params.Set("limit", "1")

	slog.Info("shopify.GetOrderStatus: looking up order", "orderID", orderID)
	data, err := c.get(ctx, "/orders.json", params, nil)
	if err != nil {
		return nil, err
	}

	var orders []rawOrder
	if raw, ok := data["orders"]; ok {
		if err := json.Unmarshal(raw, &orders); err != nil {
			return nil, fmt.Errorf("failed to decode orders: %w", err)
		}
	}

	var order rawOrder
	if len(orders) > 0 {
		order = orders[0]
	} else {
		// Not found by order number; try the numeric ID directly.
		data, err = c.get(ctx, "/orders/"+cleanID+".json", nil, func(msg string) error {
			return &OrderNotFoundError{APIError{Message: fmt.Sprintf("order %s not found", orderID), StatusCode: http.StatusNotFound}}
		})
		if err != nil {
			return nil, err
		}
		if raw, ok := data["order"]; ok {
			if err := json.Unmarshal(raw, &order); err != nil {
				return nil, fmt.Errorf("failed to decode order: %w", err)
			}
		}
	}

	if order.ID == 0 {
		return nil, &OrderNotFoundError{APIError{Message: fmt.Sprintf("order %s not found", orderID), StatusCode: http.StatusNotFound}}
	}

	result := order.toResult()
	return &result, nil
}

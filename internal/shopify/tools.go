package shopify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Maximum number of products returned per catalog lookup.
const productSearchLimit = 3

// Maximum description length included in a product result.
const maxDescriptionLength = 200

// CommerceClient defines the Shopify operations the tool adapters consume.
type CommerceClient interface {
	SearchProducts(ctx context.Context, query string, limit int) ([]ProductResult, error)
	GetOrderStatus(ctx context.Context, orderID string) (*OrderResult, error)
}

// Tools exposes the e-commerce lookups as pipeline tool adapters.
//
// Every method returns customer-safe text and never an error: all failure
// modes (not found, rate limited, backend error) are pre-formatted here so
// the pipeline can ground a reply in whatever comes back.
type Tools struct {
	client CommerceClient
}

// NewTools creates tool adapters backed by the given commerce client.
func NewTools(client CommerceClient) *Tools {
	return &Tools{client: client}
}

// GetProductInfo searches the catalog by product name and formats the
// matches for the response generator.
func (t *Tools) GetProductInfo(ctx context.Context, productName string) string {
	slog.Info("Tools.GetProductInfo: called", "productName", productName)

	products, err := t.client.SearchProducts(ctx, productName, productSearchLimit)
	if err != nil {
		var rateErr *RateLimitError
		if errors.As(err, &rateErr) {
			slog.Warn("Tools.GetProductInfo: rate limit hit", "productName", productName)
			return "I'm having trouble accessing product information right now. Please try again in a moment."
		}
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			slog.Error("Tools.GetProductInfo: API error", "error", err, "productName", productName)
			return "I couldn't retrieve product information at this time. A team member can help you with this."
		}
		slog.Error("Tools.GetProductInfo: unexpected error", "error", err, "productName", productName)
		return "I encountered an issue while looking up that product. Please try again or ask a team member."
	}

	if len(products) == 0 {
		return fmt.Sprintf("I couldn't find any products matching '%s'. Could you provide more details or try a different search term?", productName)
	}

	results := make([]string, 0, len(products))
	for _, p := range products {
		availability := "Out of Stock"
		if p.Available {
			availability = "In Stock"
		}
		entry := fmt.Sprintf("**%s**\n- Price: $%s %s\n- Status: %s", p.Title, p.Price, p.Currency, availability)
		if p.InventoryQuantity > 0 {
			entry += fmt.Sprintf(" (%d available)", p.InventoryQuantity)
		}
		if p.Description != "" {
			desc := p.Description
			if len(desc) > maxDescriptionLength {
				desc = desc[:maxDescriptionLength] + "..."
			}
			entry += "\n- Description: " + desc
		}
		results = append(results, entry)
	}

	return strings.Join(results, "\n\n")
}

// CheckOrderStatus looks up an order by ID or order number and formats its
// status for the response generator.
func (t *Tools) CheckOrderStatus(ctx context.Context, orderID string) string {
	slog.Info("Tools.CheckOrderStatus: called", "orderID", orderID)

	order, err := t.client.GetOrderStatus(ctx, orderID)
	if err != nil {
		var notFoundErr *OrderNotFoundError
		if errors.As(err, &notFoundErr) {
			return fmt.Sprintf("I couldn't find an order with ID '%s'. Please double-check the order number and try again. It should be in your confirmation email.", orderID)
		}
		var rateErr *RateLimitError
		if errors.As(err, &rateErr) {
			slog.Warn("Tools.CheckOrderStatus: rate limit hit", "orderID", orderID)
			return "I'm having trouble accessing order information right now. Please try again in a moment."
		}
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			slog.Error("Tools.CheckOrderStatus: API error", "error", err, "orderID", orderID)
			return "I couldn't retrieve your order information at this time. A team member will be able to help you."
		}
		slog.Error("Tools.CheckOrderStatus: unexpected error", "error", err, "orderID", orderID)
		return "I encountered an issue while looking up your order. Please try again or contact our support team."
	}

	result := fmt.Sprintf("**Order %s**\n- %s\n- Total: $%s %s\n- Items: %d item(s)",
		order.OrderNumber, order.StatusSummary(), order.TotalPrice, order.Currency, order.LineItemsCount)
	if order.ShippingCity != "" && order.ShippingCountry != "" {
		result += fmt.Sprintf("\n- Shipping to: %s, %s", order.ShippingCity, order.ShippingCountry)
	}
	return result
}

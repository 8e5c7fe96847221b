// Package marketplace implements the HTTP client for the marketplace
// statistics API.
package marketplace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"sellwatch/internal/store"
)

// DefaultBaseURL is the production statistics API host.
const DefaultBaseURL = "https://statistics-api.wildberries.ru"

// ErrUnauthorized signals that the marketplace rejected the tenant's
// token. Callers must disable the credential and never retry
// automatically.
var ErrUnauthorized = errors.New("marketplace rejected the API token")

// Client calls the marketplace statistics API on behalf of one tenant
// per call; the bearer token travels with each request.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// orderLine mirrors the statistics API orders response.
type orderLine struct {
	Date            apiTime `json:"date"`
	SupplierArticle string  `json:"supplierArticle"`
	TechSize        string  `json:"techSize"`
	TotalPrice      float64 `json:"totalPrice"`
	DiscountPercent float64 `json:"discountPercent"`
	WarehouseName   string  `json:"warehouseName"`
	RegionName      string  `json:"regionName"`
	NmID            int64   `json:"nmId"`
	Subject         string  `json:"subject"`
	Category        string  `json:"category"`
	Brand           string  `json:"brand"`
	IsCancel        bool    `json:"isCancel"`
	Srid            string  `json:"srid"`
}

// stockLine mirrors the statistics API stocks response.
type stockLine struct {
	LastChangeDate apiTime `json:"lastChangeDate"`
	WarehouseName  string  `json:"warehouseName"`
	NmID           int64   `json:"nmId"`
	TechSize       string  `json:"techSize"`
	Quantity       int     `json:"quantity"`
	Price          float64 `json:"Price"`
	Discount       float64 `json:"Discount"`
}

// apiTime parses the API's timezone-less timestamps.
type apiTime struct {
	time.Time
}

func (t *apiTime) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05"} {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("unrecognized marketplace timestamp %q", s)
}

// GetOrders fetches the tenant's order lines changed since the given
// date.
func (c *Client) GetOrders(ctx context.Context, token string, tenantID int64, since time.Time) ([]store.Order, error) {
	url := fmt.Sprintf("%s/api/v1/supplier/orders?dateFrom=%s", c.baseURL, since.Format("2006-01-02"))

	var lines []orderLine
	if err := c.get(ctx, token, url, &lines); err != nil {
		return nil, err
	}

	orders := make([]store.Order, len(lines))
	for i, l := range lines {
		orders[i] = store.Order{
			TenantID:        tenantID,
			OccurredAt:      l.Date.Time,
			ExternalLineID:  l.Srid,
			VariantID:       l.NmID,
			Cancelled:       l.IsCancel,
			Size:            l.TechSize,
			Price:           l.TotalPrice,
			DiscountPercent: l.DiscountPercent,
			Warehouse:       l.WarehouseName,
			Region:          l.RegionName,
			Category:        l.Category,
			Subject:         l.Subject,
			Brand:           l.Brand,
			Article:         l.SupplierArticle,
		}
	}
	return orders, nil
}

// GetStocks fetches the tenant's current warehouse stock snapshot.
func (c *Client) GetStocks(ctx context.Context, token string, tenantID int64) ([]store.Stock, error) {
	url := fmt.Sprintf("%s/api/v1/supplier/stocks?dateFrom=%s", c.baseURL, time.Now().AddDate(0, 0, -1).Format("2006-01-02"))

	var lines []stockLine
	if err := c.get(ctx, token, url, &lines); err != nil {
		return nil, err
	}

	importedAt := time.Now().Truncate(time.Minute)
	stocks := make([]store.Stock, len(lines))
	for i, l := range lines {
		stocks[i] = store.Stock{
			TenantID:   tenantID,
			ImportedAt: importedAt,
			VariantID:  l.NmID,
			Warehouse:  l.WarehouseName,
			Size:       l.TechSize,
			Quantity:   l.Quantity,
			Price:      l.Price,
			Discount:   l.Discount,
		}
	}
	return stocks, nil
}

// Ping checks API availability with the tenant's token.
func (c *Client) Ping(ctx context.Context, token string) error {
	return c.get(ctx, token, c.baseURL+"/ping", nil)
}

func (c *Client) get(ctx context.Context, token, url string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("marketplace request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusProxyAuthRequired:
		return ErrUnauthorized
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("marketplace returned %d: %s", resp.StatusCode, body)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode marketplace response: %w", err)
	}
	return nil
}

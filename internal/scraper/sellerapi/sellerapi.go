// Package sellerapi resolves global ids to seller-account entries through the
// seller's product info endpoint.
package sellerapi

import (
	"PriceScraper/internal/models"
	"PriceScraper/internal/pricing"
	"PriceScraper/internal/scraper/transport"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

const (
	DefaultBaseURL = "https://api-seller.ozon.ru"
	infoListPath   = "/v3/product/info/list"
	// MaxBatch is the largest sku list the endpoint accepts.
	MaxBatch = 1000
)

// Credentials identify the seller account.
type Credentials struct {
	ClientID string
	APIKey   string
}

// Client implements scraper.BatchLookup.
type Client struct {
	http    *transport.Client
	baseURL string
	creds   Credentials
}

func New(tc *transport.Client, baseURL string, creds Credentials) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{http: tc, baseURL: strings.TrimRight(baseURL, "/"), creds: creds}
}

type infoRequest struct {
	OfferID   []string `json:"offer_id"`
	ProductID []string `json:"product_id"`
	SKU       []string `json:"sku"`
}

// LookupBatch requests one batch of global ids. Rows carry the sku the API echoes
// back, which is what callers must join on.
func (c *Client) LookupBatch(ctx context.Context, globalIDs []int64) ([]models.SellerEntry, error) {
	if len(globalIDs) > MaxBatch {
		return nil, fmt.Errorf("batch of %d ids exceeds the limit of %d", len(globalIDs), MaxBatch)
	}
	req := infoRequest{OfferID: []string{}, ProductID: []string{}, SKU: make([]string, len(globalIDs))}
	for i, id := range globalIDs {
		req.SKU[i] = strconv.FormatInt(id, 10)
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("Client-Id", c.creds.ClientID)
	header.Set("Api-Key", c.creds.APIKey)
	body, err := c.http.PostJSON(ctx, c.baseURL+infoListPath, payload, header)
	if err != nil {
		return nil, fmt.Errorf("product info for %d skus: %w", len(globalIDs), err)
	}
	return ParseInfoList(body)
}

type flexInt int64

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(bytes.TrimSpace(b)), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid id %q: %w", s, err)
	}
	*f = flexInt(v)
	return nil
}

// decimalText accepts a price as a string, a bare number or an object wrapping one.
type decimalText string

func (d *decimalText) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0 || string(b) == "null":
		*d = ""
	case b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*d = decimalText(s)
	case b[0] == '{':
		var m map[string]json.RawMessage
		if err := json.Unmarshal(b, &m); err != nil {
			return err
		}
		for _, k := range []string{"price", "old_price", "marketing_price", "value"} {
			if raw, ok := m[k]; ok {
				return d.UnmarshalJSON(raw)
			}
		}
		*d = ""
	default:
		*d = decimalText(b)
	}
	return nil
}

type infoItem struct {
	ID             flexInt     `json:"id"`
	SKU            flexInt     `json:"sku"`
	OfferID        string      `json:"offer_id"`
	Name           string      `json:"name"`
	Price          decimalText `json:"price"`
	OldPrice       decimalText `json:"old_price"`
	MarketingPrice decimalText `json:"marketing_price"`
	Sources        []struct {
		SKU flexInt `json:"sku"`
	} `json:"sources"`
}

type infoResponse struct {
	Result *struct {
		Items []infoItem `json:"items"`
	} `json:"result"`
	Items []infoItem `json:"items"`
}

// ParseInfoList decodes a product info response. Items may sit under "result.items"
// or at the top level. Rows without any sku are dropped.
func ParseInfoList(body []byte) ([]models.SellerEntry, error) {
	var resp infoResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("could not decode product info: %w", err)
	}
	items := resp.Items
	if resp.Result != nil && len(resp.Result.Items) > 0 {
		items = resp.Result.Items
	}

	entries := make([]models.SellerEntry, 0, len(items))
	for _, it := range items {
		sku := int64(it.SKU)
		if sku == 0 {
			for _, s := range it.Sources {
				if s.SKU != 0 {
					sku = int64(s.SKU)
					break
				}
			}
		}
		if sku == 0 {
			continue
		}
		entries = append(entries, models.SellerEntry{
			GlobalID:      sku,
			SellerLocalID: it.OfferID,
			Name:          it.Name,
			PriceBasic:    pricing.FromText(string(it.OldPrice), models.ProvenanceSeller),
			PriceProduct:  pricing.FromText(string(it.Price), models.ProvenanceSeller),
			PriceCard:     pricing.FromText(string(it.MarketingPrice), models.ProvenanceSeller),
		})
	}
	return entries, nil
}

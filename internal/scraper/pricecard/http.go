package pricecard

import (
	"PriceScraper/internal/models"
	"PriceScraper/internal/scraper/transport"
	"bytes"
	"context"
	"fmt"
	"net/http"
)

// HTTPSource downloads product pages without a browser.
type HTTPSource struct {
	Client    *transport.Client
	Selectors []string
}

func (s *HTTPSource) FetchCardPrice(ctx context.Context, productURL string) (models.MinorUnits, error) {
	header := http.Header{}
	header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	body, err := s.Client.Get(ctx, productURL, header)
	if err != nil {
		return 0, err
	}
	v, err := Extract(bytes.NewReader(body), s.Selectors)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", productURL, err)
	}
	return v, nil
}

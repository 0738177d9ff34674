package scraper

import (
	"PriceScraper/internal/models"
	"context"
	"errors"
	"fmt"
)

// ErrTransient marks failures worth retrying later: rate limiting, anti-bot challenges,
// timeouts. Collaborators wrap it; the pipeline only reports it.
var ErrTransient = errors.New("transient fetch failure")

// PageFetcher returns one page of a brand or seller catalog. An empty page is valid.
type PageFetcher interface {
	FetchPage(ctx context.Context, sourceID int64, page int) ([]models.RawItem, error)
}

// BatchLookup resolves global ids through the seller-account API. Implementations
// accept at most their documented batch ceiling per call.
type BatchLookup interface {
	LookupBatch(ctx context.Context, globalIDs []int64) ([]models.SellerEntry, error)
}

// CardPriceSource scrapes the card price from a rendered product page.
type CardPriceSource interface {
	FetchCardPrice(ctx context.Context, productURL string) (models.MinorUnits, error)
}

// Sink persists the final ordered record sequence of a run.
type Sink interface {
	Write(ctx context.Context, run models.RunSummary, records []models.CanonicalRecord) error
}

// StatusError is returned for non-2xx upstream responses.
type StatusError struct {
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: received status code %d", e.URL, e.StatusCode)
}

// Unwrap makes throttling and anti-bot statuses match ErrTransient.
func (e *StatusError) Unwrap() error {
	if IsTransientStatus(e.StatusCode) {
		return ErrTransient
	}
	return nil
}

// IsTransientStatus reports statuses that signal throttling or an anti-bot wall:
// 429, 403, 498 (stale anti-bot token) and 5xx.
func IsTransientStatus(code int) bool {
	return code == 429 || code == 403 || code == 498 || code >= 500
}

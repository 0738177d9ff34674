// Package catalog walks a paginated catalog API for one brand or seller.
package catalog

import (
	"PriceScraper/internal/models"
	"PriceScraper/internal/scraper"
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
)

// EndOfData selects how the last page is recognised.
type EndOfData int

const (
	// EndOnEmptyPage stops at the first page with zero items.
	EndOnEmptyPage EndOfData = iota
	// EndOnShortPage also stops after a page with fewer than PageSize items.
	EndOnShortPage
)

// ParseEndOfData maps the config spelling ("empty" or "short") to an EndOfData.
func ParseEndOfData(s string) (EndOfData, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "empty", "empty_page":
		return EndOnEmptyPage, nil
	case "short", "short_page":
		return EndOnShortPage, nil
	}
	return EndOnEmptyPage, fmt.Errorf("unknown end_of_data mode %q", s)
}

// ErrPageLimit is reported when MaxPages pages were read without reaching the end.
var ErrPageLimit = errors.New("page limit reached before end of data")

// PartialResultError means pagination for a source stopped early. Items from the
// pages before Page were delivered; nothing after it was.
type PartialResultError struct {
	SourceID     int64
	Page         int
	PagesFetched int
	ItemsFetched int
	Err          error
}

func (e *PartialResultError) Error() string {
	return fmt.Sprintf("source %d: pagination stopped at page %d after %d pages (%d items): %v",
		e.SourceID, e.Page, e.PagesFetched, e.ItemsFetched, e.Err)
}

func (e *PartialResultError) Unwrap() error { return e.Err }

// Page is one fetched catalog page.
type Page struct {
	Number int
	Items  []models.RawItem
}

// Fetcher paginates one source sequentially. Retries belong to the PageFetcher.
type Fetcher struct {
	Source    scraper.PageFetcher
	FirstPage int
	PageSize  int
	EndOfData EndOfData
	MaxPages  int
}

// Pages lazily yields the pages of sourceID in order. A failure is yielded once as a
// *PartialResultError and ends the sequence.
func (f *Fetcher) Pages(ctx context.Context, sourceID int64) iter.Seq2[Page, error] {
	return func(yield func(Page, error) bool) {
		var pagesFetched, itemsFetched int
		fail := func(page int, err error) {
			yield(Page{Number: page}, &PartialResultError{
				SourceID:     sourceID,
				Page:         page,
				PagesFetched: pagesFetched,
				ItemsFetched: itemsFetched,
				Err:          err,
			})
		}

		for n := f.FirstPage; ; n++ {
			if f.MaxPages > 0 && pagesFetched >= f.MaxPages {
				fail(n, ErrPageLimit)
				return
			}
			if err := ctx.Err(); err != nil {
				fail(n, err)
				return
			}

			items, err := f.Source.FetchPage(ctx, sourceID, n)
			if err != nil {
				fail(n, err)
				return
			}
			if len(items) == 0 {
				return
			}

			for i := range items {
				items[i].Page = n
			}
			pagesFetched++
			itemsFetched += len(items)
			if !yield(Page{Number: n, Items: items}, nil) {
				return
			}

			if f.EndOfData == EndOnShortPage && f.PageSize > 0 && len(items) < f.PageSize {
				return
			}
		}
	}
}

// Collect drains Pages. On failure it returns the items gathered so far together with
// the *PartialResultError.
func (f *Fetcher) Collect(ctx context.Context, sourceID int64) ([]models.RawItem, error) {
	var all []models.RawItem
	for page, err := range f.Pages(ctx, sourceID) {
		if err != nil {
			return all, err
		}
		all = append(all, page.Items...)
	}
	return all, nil
}

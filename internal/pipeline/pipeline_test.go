package pipeline

import (
	"PriceScraper/internal/catalog"
	"PriceScraper/internal/lookup"
	"PriceScraper/internal/models"
	"PriceScraper/internal/scraper"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func minor(v int64) *int64 { return &v }

// fakeCatalog serves pages per source. A page list entry of nil means "fail here".
type fakeCatalog struct {
	pages map[int64][][]models.RawItem
	fail  map[int64]int
}

func (f *fakeCatalog) FetchPage(ctx context.Context, sourceID int64, page int) ([]models.RawItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if at, ok := f.fail[sourceID]; ok && page == at {
		return nil, fmt.Errorf("source %d page %d: %w", sourceID, page, scraper.ErrTransient)
	}
	pages := f.pages[sourceID]
	if page-1 >= len(pages) {
		return nil, nil
	}
	out := make([]models.RawItem, len(pages[page-1]))
	copy(out, pages[page-1])
	return out, nil
}

type fakeSeller struct {
	entries map[int64]models.SellerEntry
	err     error
}

func (f *fakeSeller) LookupBatch(ctx context.Context, ids []int64) ([]models.SellerEntry, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []models.SellerEntry
	for _, id := range ids {
		if e, ok := f.entries[id]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}

type fakeFallback struct {
	mu     sync.Mutex
	prices map[string]models.MinorUnits
	asked  []string
}

func (f *fakeFallback) FetchCardPrice(ctx context.Context, url string) (models.MinorUnits, error) {
	f.mu.Lock()
	f.asked = append(f.asked, url)
	f.mu.Unlock()
	if v, ok := f.prices[url]; ok {
		return v, nil
	}
	return 0, errors.New("card price not found")
}

var fixedClock = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }

func newPipeline(cat *fakeCatalog, seller *fakeSeller, fb *fakeFallback) *Pipeline {
	p := &Pipeline{
		Fetcher: &catalog.Fetcher{Source: cat, FirstPage: 1, PageSize: 100},
		Options: Options{FetchConcurrency: 4, LookupConcurrency: 2, FallbackConcurrency: 1, Now: fixedClock},
	}
	if seller != nil {
		p.Coordinator = &lookup.Coordinator{Lookup: seller, BatchSize: 1000}
	}
	if fb != nil {
		p.Fallback = fb
	}
	return p
}

func scenario() (*fakeCatalog, *fakeSeller, *fakeFallback) {
	cat := &fakeCatalog{pages: map[int64][][]models.RawItem{
		100: {{
			{GlobalID: 1, Name: "first", PriceBasic: minor(54800), ProductURL: "https://shop.test/1"},
			{GlobalID: 2, Name: "second", PriceProduct: minor(17320), ProductURL: "https://shop.test/2"},
		}},
	}}
	seller := &fakeSeller{entries: map[int64]models.SellerEntry{
		1: {GlobalID: 1, SellerLocalID: "SKU-A"},
	}}
	fb := &fakeFallback{prices: map[string]models.MinorUnits{"https://shop.test/2": 1200}}
	return cat, seller, fb
}

func TestRunScenario(t *testing.T) {
	cat, seller, fb := scenario()
	res, err := newPipeline(cat, seller, fb).Run(context.Background(), []models.Source{{ID: 100, Name: "brand"}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.State != StateDone {
		t.Errorf("state = %s", res.State)
	}
	if len(res.Records) != 2 {
		t.Fatalf("records = %d", len(res.Records))
	}

	r1, r2 := res.Records[0], res.Records[1]
	if r1.PriceBasic.String() != "548.00 (api_catalog)" {
		t.Errorf("record 1 basic = %s", r1.PriceBasic)
	}
	if !r1.PriceProduct.IsAbsent() {
		t.Errorf("record 1 product = %s; want absent", r1.PriceProduct)
	}
	if r1.SellerLocalID == nil || *r1.SellerLocalID != "SKU-A" {
		t.Errorf("record 1 seller id = %v", r1.SellerLocalID)
	}
	if !r2.PriceBasic.IsAbsent() {
		t.Errorf("record 2 basic = %s; want absent", r2.PriceBasic)
	}
	if r2.PriceProduct.String() != "173.20 (api_catalog)" {
		t.Errorf("record 2 product = %s", r2.PriceProduct)
	}
	if r2.PriceCard.String() != "12.00 (html_fallback)" {
		t.Errorf("record 2 card = %s", r2.PriceCard)
	}
	if r2.SellerLocalID != nil {
		t.Errorf("record 2 seller id = %v; want nil", *r2.SellerLocalID)
	}
	if res.Unmatched != 1 || res.FallbackFilled != 1 || res.FallbackFailed != 1 {
		t.Errorf("unmatched=%d filled=%d failed=%d", res.Unmatched, res.FallbackFilled, res.FallbackFailed)
	}
	if !r1.CollectedAt.Equal(fixedClock()) {
		t.Errorf("collected at = %v", r1.CollectedAt)
	}
}

func TestRunDeterministic(t *testing.T) {
	var outputs [][]byte
	for range 2 {
		cat, seller, fb := scenario()
		cat.pages[200] = [][]models.RawItem{
			{{GlobalID: 7, PriceBasic: minor(100)}, {GlobalID: 8, PriceCard: minor(50)}},
			{{GlobalID: 9}},
		}
		res, err := newPipeline(cat, seller, fb).Run(context.Background(), []models.Source{{ID: 100}, {ID: 200}})
		if err != nil {
			t.Fatal(err)
		}
		b, err := json.Marshal(res.Records)
		if err != nil {
			t.Fatal(err)
		}
		outputs = append(outputs, b)
	}
	if !bytes.Equal(outputs[0], outputs[1]) {
		t.Errorf("runs differ:\n%s\n%s", outputs[0], outputs[1])
	}
}

func TestRunFallbackNeverOverridesCardPrice(t *testing.T) {
	cat := &fakeCatalog{pages: map[int64][][]models.RawItem{
		1: {{{GlobalID: 1, PriceCard: minor(500), ProductURL: "u1"}}},
	}}
	fb := &fakeFallback{prices: map[string]models.MinorUnits{"u1": 1}}
	res, err := newPipeline(cat, nil, fb).Run(context.Background(), []models.Source{{ID: 1}})
	if err != nil {
		t.Fatal(err)
	}
	if len(fb.asked) != 0 {
		t.Errorf("fallback consulted for present card price: %v", fb.asked)
	}
	if res.Records[0].PriceCard.Source() != models.ProvenanceCatalog {
		t.Errorf("card = %s", res.Records[0].PriceCard)
	}
}

func TestRunAllSourcesFailed(t *testing.T) {
	cat := &fakeCatalog{fail: map[int64]int{1: 1, 2: 1}}
	res, err := newPipeline(cat, nil, nil).Run(context.Background(), []models.Source{{ID: 1}, {ID: 2}})
	var all *AllIdentifiersFailedError
	if !errors.As(err, &all) {
		t.Fatalf("expected AllIdentifiersFailedError, got %v", err)
	}
	if len(all.Failures) != 2 {
		t.Errorf("failures = %d", len(all.Failures))
	}
	if !errors.Is(err, scraper.ErrTransient) {
		t.Error("causes should be reachable through the joined error")
	}
	if res.State != StateFailed {
		t.Errorf("state = %s", res.State)
	}
}

func TestRunSkipsFailedSource(t *testing.T) {
	cat := &fakeCatalog{
		pages: map[int64][][]models.RawItem{
			1: {{{GlobalID: 10}}, {{GlobalID: 11}}},
			2: {{{GlobalID: 20}}},
		},
		fail: map[int64]int{1: 2},
	}
	res, err := newPipeline(cat, nil, nil).Run(context.Background(), []models.Source{{ID: 1}, {ID: 2}})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Failures) != 1 || res.Failures[0].Source.ID != 1 {
		t.Fatalf("failures = %+v", res.Failures)
	}
	var partial *catalog.PartialResultError
	if !errors.As(res.Failures[0].Err, &partial) || partial.Page != 2 {
		t.Errorf("failure cause = %v", res.Failures[0].Err)
	}
	if len(res.Records) != 1 || res.Records[0].GlobalID != 20 {
		t.Errorf("records = %+v", res.Records)
	}
}

func TestRunAcceptPartial(t *testing.T) {
	cat := &fakeCatalog{
		pages: map[int64][][]models.RawItem{1: {{{GlobalID: 10}}, {{GlobalID: 11}}}},
		fail:  map[int64]int{1: 2},
	}
	p := newPipeline(cat, nil, nil)
	p.Options.AcceptPartial = true
	res, err := p.Run(context.Background(), []models.Source{{ID: 1}})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Records) != 1 || res.Failures[0].KeptItems != 1 {
		t.Errorf("records=%d failures=%+v", len(res.Records), res.Failures)
	}
}

func TestRunDuplicateWithinSourceIsFatalToSource(t *testing.T) {
	cat := &fakeCatalog{pages: map[int64][][]models.RawItem{
		1: {{{GlobalID: 5}}, {{GlobalID: 5}}},
		2: {{{GlobalID: 6}}},
	}}
	res, err := newPipeline(cat, nil, nil).Run(context.Background(), []models.Source{{ID: 1}, {ID: 2}})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Failures) != 1 || res.Failures[0].Source.ID != 1 {
		t.Fatalf("failures = %+v", res.Failures)
	}
	if len(res.Records) != 1 || res.Records[0].GlobalID != 6 {
		t.Errorf("records = %+v", res.Records)
	}
}

func TestRunDropsItemsWithoutID(t *testing.T) {
	cat := &fakeCatalog{pages: map[int64][][]models.RawItem{
		1: {{{Name: "no id"}, {GlobalID: 7}, {Name: "also no id"}}, {{GlobalID: 8}}},
	}}
	res, err := newPipeline(cat, nil, nil).Run(context.Background(), []models.Source{{ID: 1}})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Failures) != 0 || res.WithoutID != 2 {
		t.Fatalf("failures=%+v withoutID=%d", res.Failures, res.WithoutID)
	}
	if len(res.Records) != 2 || res.Records[0].GlobalID != 7 || res.Records[1].GlobalID != 8 {
		t.Errorf("records = %+v", res.Records)
	}
}

func TestRunCrossSourceDuplicateKeepsFirst(t *testing.T) {
	cat := &fakeCatalog{pages: map[int64][][]models.RawItem{
		1: {{{GlobalID: 5, Name: "from one"}}},
		2: {{{GlobalID: 5, Name: "from two"}, {GlobalID: 6}}},
	}}
	res, err := newPipeline(cat, nil, nil).Run(context.Background(), []models.Source{{ID: 1}, {ID: 2}})
	if err != nil {
		t.Fatal(err)
	}
	if res.CrossSourceDuplicates != 1 || len(res.Records) != 2 {
		t.Fatalf("dups=%d records=%d", res.CrossSourceDuplicates, len(res.Records))
	}
	if res.Records[0].Name != "from one" {
		t.Errorf("kept %q", res.Records[0].Name)
	}
}

func TestRunCabinetFilter(t *testing.T) {
	cat := &fakeCatalog{pages: map[int64][][]models.RawItem{
		1: {{{GlobalID: 1, SupplierID: 42}, {GlobalID: 2, SupplierID: 43}}},
	}}
	p := newPipeline(cat, nil, nil)
	p.Options.Cabinets = map[int64]string{42: "Main cabinet"}
	res, err := p.Run(context.Background(), []models.Source{{ID: 1}})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Records) != 1 || res.Records[0].CabinetName != "Main cabinet" || res.FilteredOut != 1 {
		t.Errorf("records=%+v filtered=%d", res.Records, res.FilteredOut)
	}
}

func TestRunSellerUnreachableDegrades(t *testing.T) {
	cat, _, _ := scenario()
	seller := &fakeSeller{err: errors.New("connection refused")}
	res, err := newPipeline(cat, seller, nil).Run(context.Background(), []models.Source{{ID: 100}})
	if err != nil {
		t.Fatalf("seller outage must not fail the run: %v", err)
	}
	if res.State != StateDone || res.Unmatched != 2 || !res.Lookup.Degraded() {
		t.Errorf("state=%s unmatched=%d report=%+v", res.State, res.Unmatched, res.Lookup)
	}
}

func TestRunCancelled(t *testing.T) {
	cat, seller, fb := scenario()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := newPipeline(cat, seller, fb).Run(ctx, []models.Source{{ID: 100}})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
	var all *AllIdentifiersFailedError
	if errors.As(err, &all) {
		t.Error("cancellation must not be reported as all sources failing")
	}
	if res == nil || res.State != StateFailed {
		t.Errorf("result = %+v", res)
	}
}

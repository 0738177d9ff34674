package pipeline

import (
	"PriceScraper/internal/catalog"
	"PriceScraper/internal/index"
	"PriceScraper/internal/models"
	"PriceScraper/internal/pricing"
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

type fetchSlot struct {
	items []models.RawItem
	err   error
}

// fetchAll collects every source concurrently. Each goroutine owns one slot.
func (p *Pipeline) fetchAll(ctx context.Context, sources []models.Source) []fetchSlot {
	slots := make([]fetchSlot, len(sources))
	var g errgroup.Group
	g.SetLimit(max(p.Options.FetchConcurrency, 1))
	for i, src := range sources {
		g.Go(func() error {
			log.Printf("Fetching catalog for source %d (%s)", src.ID, src.Name)
			items, err := p.Fetcher.Collect(ctx, src.ID)
			slots[i] = fetchSlot{items: items, err: err}
			return nil
		})
	}
	_ = g.Wait()
	return slots
}

// normalize turns fetched items into the primary index, source by source in
// configuration order. It returns how many sources contributed items.
func (p *Pipeline) normalize(sources []models.Source, fetched []fetchSlot, res *Result) (*index.Index[int64, models.CanonicalRecord], int) {
	primary := index.New[int64, models.CanonicalRecord]()
	collectedAt := p.now()
	contributed := 0

	for i, src := range sources {
		slot := fetched[i]
		items := slot.items
		if slot.err != nil {
			failure := SourceFailure{Source: src, Err: slot.err}
			var partial *catalog.PartialResultError
			keep := p.Options.AcceptPartial && errors.As(slot.err, &partial) && len(items) > 0 &&
				!errors.Is(slot.err, context.Canceled) && !errors.Is(slot.err, context.DeadlineExceeded)
			if !keep {
				log.WithField("source", src.ID).Errorf("Skipping source: %v", slot.err)
				res.Failures = append(res.Failures, failure)
				continue
			}
			failure.KeptItems = len(items)
			log.WithField("source", src.ID).Warnf("Keeping %d items from a partial fetch: %v", len(items), slot.err)
			res.Failures = append(res.Failures, failure)
		}

		items = p.dropWithoutID(src, items, res)

		// a global id repeated within one source's pages makes that source unusable
		if _, err := index.Build(items, func(it models.RawItem) int64 { return it.GlobalID }); err != nil {
			var dup *index.DuplicateKeyError
			if errors.As(err, &dup) {
				log.WithFields(log.Fields{"source": src.ID, "existing": dup.Existing, "incoming": dup.Incoming}).
					Errorf("Duplicate global id %v within one source, skipping source", dup.Key)
			}
			if slot.err != nil {
				// already recorded as a partial failure; replace it
				res.Failures = res.Failures[:len(res.Failures)-1]
			}
			res.Failures = append(res.Failures, SourceFailure{Source: src, Err: err})
			continue
		}

		contributed++
		for _, item := range items {
			cabinet, ok := p.cabinetFor(item.SupplierID)
			if !ok {
				res.FilteredOut++
				continue
			}
			rec := toRecord(item, cabinet, collectedAt)
			if err := primary.Add(rec.GlobalID, rec); err != nil {
				res.CrossSourceDuplicates++
				log.Debugf("Item %d already collected from an earlier source", rec.GlobalID)
			}
		}
	}
	log.Printf("Normalized %d records from %d of %d sources", primary.Len(), contributed, len(sources))
	return primary, contributed
}

// dropWithoutID removes items the catalog returned without a global id. They cannot be
// joined or deduplicated, but the fetcher still counted them for end-of-data.
func (p *Pipeline) dropWithoutID(src models.Source, items []models.RawItem, res *Result) []models.RawItem {
	kept := items[:0:0]
	for _, item := range items {
		if item.GlobalID <= 0 {
			res.WithoutID++
			log.WithFields(log.Fields{"source": src.ID, "page": item.Page, "name": item.Name}).
				Warn("Catalog item without a global id, skipping")
			continue
		}
		kept = append(kept, item)
	}
	return kept
}

func (p *Pipeline) cabinetFor(supplierID int64) (string, bool) {
	if len(p.Options.Cabinets) == 0 {
		return "", true
	}
	name, ok := p.Options.Cabinets[supplierID]
	return name, ok
}

func toRecord(item models.RawItem, cabinet string, at time.Time) models.CanonicalRecord {
	basic, product, card := pricing.NormalizeItem(item)
	return models.CanonicalRecord{
		GlobalID:     item.GlobalID,
		Name:         item.Name,
		BrandID:      item.BrandID,
		SupplierID:   item.SupplierID,
		CabinetName:  cabinet,
		SizeID:       item.SizeID,
		PriceBasic:   basic,
		PriceProduct: product,
		PriceCard:    card,
		ProductURL:   item.ProductURL,
		CollectedAt:  at,
	}
}

type sweepSlot struct {
	record int
	value  models.MinorUnits
	err    error
}

// sweep asks the fallback source for every card price still absent.
func (p *Pipeline) sweep(ctx context.Context, res *Result) {
	if p.Fallback == nil {
		return
	}
	var slots []sweepSlot
	for i, rec := range res.Records {
		if rec.PriceCard.IsAbsent() && rec.ProductURL != "" {
			slots = append(slots, sweepSlot{record: i})
		}
	}
	if len(slots) == 0 {
		return
	}
	log.Printf("Fallback sweep for %d records without a card price", len(slots))

	var g errgroup.Group
	g.SetLimit(max(p.Options.FallbackConcurrency, 1))
	for i := range slots {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				slots[i].err = err
				return nil
			}
			url := res.Records[slots[i].record].ProductURL
			slots[i].value, slots[i].err = p.Fallback.FetchCardPrice(ctx, url)
			return nil
		})
	}
	_ = g.Wait()

	for _, s := range slots {
		rec := &res.Records[s.record]
		price := models.Absent()
		if s.err == nil {
			price = models.NewPrice(s.value, models.ProvenanceHTML)
		}
		if price.IsAbsent() || s.value == 0 {
			res.FallbackFailed++
			if s.err != nil {
				log.Debugf("Fallback failed for %s: %v", rec.ProductURL, s.err)
			}
			continue
		}
		rec.PriceCard = rec.PriceCard.Or(price)
		res.FallbackFilled++
	}
}

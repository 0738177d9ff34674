// Package reconcile joins catalog records with seller-account entries.
package reconcile

import (
	"PriceScraper/internal/index"
	"PriceScraper/internal/models"
)

// Outcome is the reconciled record set in primary order.
type Outcome struct {
	Records      []models.CanonicalRecord
	Unmatched    int
	UnmatchedIDs []int64
}

// Reconcile merges secondary entries into primary records by global id. Catalog values
// always win; a seller price only fills a field the catalog left absent. Records with no
// seller entry pass through with a nil seller-local id.
func Reconcile(primary *index.Index[int64, models.CanonicalRecord], secondary *index.Index[int64, models.SellerEntry]) Outcome {
	out := Outcome{Records: make([]models.CanonicalRecord, 0, primary.Len())}
	for id, rec := range primary.All() {
		entry, ok := secondary.Get(id)
		if !ok {
			rec.SellerLocalID = nil
			out.Records = append(out.Records, rec)
			out.Unmatched++
			out.UnmatchedIDs = append(out.UnmatchedIDs, id)
			continue
		}
		out.Records = append(out.Records, Merge(rec, entry))
	}
	return out
}

// Merge applies one seller entry to a record.
func Merge(rec models.CanonicalRecord, entry models.SellerEntry) models.CanonicalRecord {
	if entry.SellerLocalID != "" {
		local := entry.SellerLocalID
		rec.SellerLocalID = &local
	}
	if rec.Name == "" {
		rec.Name = entry.Name
	}
	rec.PriceBasic = rec.PriceBasic.Or(entry.PriceBasic)
	rec.PriceProduct = rec.PriceProduct.Or(entry.PriceProduct)
	rec.PriceCard = rec.PriceCard.Or(entry.PriceCard)
	return rec
}

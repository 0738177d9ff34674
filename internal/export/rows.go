// Package export writes reconciled records to spreadsheet files.
package export

import (
	"PriceScraper/internal/models"
	"time"
)

// Row flattens a record into models.RecordColumns order. Absent values are nil;
// prices are float64 major units.
func Row(rec models.CanonicalRecord) []any {
	return []any{
		rec.GlobalID,
		optString(rec.SellerLocalID),
		rec.Name,
		rec.BrandID,
		rec.SupplierID,
		emptyNil(rec.CabinetName),
		optInt(rec.SizeID),
		priceValue(rec.PriceBasic),
		string(rec.PriceBasic.Source()),
		priceValue(rec.PriceProduct),
		string(rec.PriceProduct.Source()),
		priceValue(rec.PriceCard),
		string(rec.PriceCard.Source()),
		rec.ProductURL,
		rec.CollectedAt.UTC().Format(time.RFC3339),
	}
}

func priceValue(p models.Price) any {
	if v, ok := p.Value(); ok {
		return v.Float64()
	}
	return nil
}

func optString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func optInt(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func emptyNil(s string) any {
	if s == "" {
		return nil
	}
	return s
}

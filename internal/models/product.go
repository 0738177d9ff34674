package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Provenance records which data source produced a price value.
type Provenance string

const (
	ProvenanceCatalog Provenance = "api_catalog"
	ProvenanceSeller  Provenance = "api_seller"
	ProvenanceHTML    Provenance = "html_fallback"
	ProvenanceAbsent  Provenance = "absent"
)

// MinorUnits is a money amount in the smallest currency unit (kopecks, cents).
type MinorUnits int64

// String renders the amount in major units with two decimals, e.g. 54800 -> "548.00".
func (m MinorUnits) String() string {
	sign := ""
	v := int64(m)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

// Float64 returns the amount in major units. Only used at the spreadsheet boundary.
func (m MinorUnits) Float64() float64 {
	return float64(m) / 100
}

// Price is a tagged optional amount. The zero value is absent.
type Price struct {
	value  MinorUnits
	source Provenance
}

// NewPrice builds a present price. Negative values and an absent or empty source
// yield an absent price, so a value without provenance cannot be constructed.
func NewPrice(value MinorUnits, source Provenance) Price {
	if value < 0 || source == "" || source == ProvenanceAbsent {
		return Price{}
	}
	return Price{value: value, source: source}
}

// Absent returns the explicit "no price reported" value.
func Absent() Price { return Price{} }

// Value returns the amount and whether it is present.
func (p Price) Value() (MinorUnits, bool) {
	return p.value, !p.IsAbsent()
}

// Source is the provenance tag; absent prices report ProvenanceAbsent.
func (p Price) Source() Provenance {
	if p.source == "" {
		return ProvenanceAbsent
	}
	return p.source
}

func (p Price) IsAbsent() bool {
	return p.source == "" || p.source == ProvenanceAbsent
}

// Or keeps p unless it is absent, in which case other is returned.
func (p Price) Or(other Price) Price {
	if p.IsAbsent() {
		return other
	}
	return p
}

func (p Price) String() string {
	if p.IsAbsent() {
		return string(ProvenanceAbsent)
	}
	return fmt.Sprintf("%s (%s)", p.value, p.source)
}

type priceJSON struct {
	Value  *string    `json:"value"`
	Source Provenance `json:"source"`
}

func (p Price) MarshalJSON() ([]byte, error) {
	out := priceJSON{Source: p.Source()}
	if v, ok := p.Value(); ok {
		s := v.String()
		out.Value = &s
	}
	return json.Marshal(out)
}

func (p *Price) UnmarshalJSON(data []byte) error {
	var in priceJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	if in.Value == nil {
		*p = Absent()
		return nil
	}
	v, ok := ParseMinorUnits(*in.Value)
	if !ok {
		return fmt.Errorf("price value %q is not a non-negative decimal", *in.Value)
	}
	*p = NewPrice(v, in.Source)
	return nil
}

// ParseMinorUnits parses a plain unsigned major-unit decimal ("1234.5", "0.07", "99")
// into minor units without going through floating point. A third fractional digit
// rounds half up; further digits are ignored. Signs, grouping and decimal commas are
// rejected.
func ParseMinorUnits(s string) (MinorUnits, bool) {
	s = strings.TrimSpace(s)
	whole, frac, _ := strings.Cut(s, ".")
	if whole == "" && frac == "" {
		return 0, false
	}
	if whole == "" {
		whole = "0"
	}
	if !allDigits(whole) || !allDigits(frac) {
		return 0, false
	}
	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil || w > (1<<62)/100 {
		return 0, false
	}

	frac += "000"
	cents := int64(frac[0]-'0')*10 + int64(frac[1]-'0')
	if frac[2] >= '5' {
		cents++
	}
	return MinorUnits(w*100 + cents), true
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// RawItem is one product entry as returned by a catalog API page.
type RawItem struct {
	GlobalID     int64
	Name         string
	BrandID      int64
	BrandName    string
	SupplierID   int64
	SupplierName string
	SizeID       *int64
	SizeName     string
	// Prices in minor units; nil when the page did not carry the field.
	PriceBasic   *int64
	PriceProduct *int64
	PriceCard    *int64
	ProductURL   string
	Page         int
}

// SellerEntry is one row returned by the seller-account lookup. GlobalID is the
// marketplace-wide key echoed back by the seller API; SellerLocalID is the seller's own.
type SellerEntry struct {
	GlobalID      int64
	SellerLocalID string
	Name          string
	PriceBasic    Price
	PriceProduct  Price
	PriceCard     Price
}

// CanonicalRecord is the unified output row.
type CanonicalRecord struct {
	GlobalID      int64     `json:"global_id"`
	SellerLocalID *string   `json:"seller_local_id"`
	Name          string    `json:"name"`
	BrandID       int64     `json:"brand_id"`
	SupplierID    int64     `json:"supplier_id"`
	CabinetName   string    `json:"cabinet_name,omitempty"`
	SizeID        *int64    `json:"size_id,omitempty"`
	PriceBasic    Price     `json:"price_basic"`
	PriceProduct  Price     `json:"price_product"`
	PriceCard     Price     `json:"price_card"`
	ProductURL    string    `json:"product_url"`
	CollectedAt   time.Time `json:"collected_at"`
}

// RecordColumns is the column order every sink writes.
var RecordColumns = []string{
	"global_id",
	"seller_local_id",
	"name",
	"brand_id",
	"supplier_id",
	"cabinet_name",
	"size_id",
	"price_basic",
	"source_price_basic",
	"price_product",
	"source_price_product",
	"price_card",
	"source_price_card",
	"product_url",
	"collected_at",
}

// Source is one brand or seller identifier to collect.
type Source struct {
	ID   int64  `yaml:"id" json:"id"`
	Name string `yaml:"name" json:"name"`
}

// RunSummary describes a finished collection run.
type RunSummary struct {
	ID             string    `json:"id"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
	State          string    `json:"state"`
	Records        int       `json:"records"`
	Unmatched      int       `json:"unmatched"`
	FallbackFilled int       `json:"fallback_filled"`
	FailedSources  []string  `json:"failed_sources,omitempty"`
}

// RecordFilters holds query parameters for reading stored records.
type RecordFilters struct {
	RunID       string
	BrandID     int64
	CabinetName string
	OnlyMissing bool // records whose price_card is absent
	// For Pagination
	Limit  int
	Offset int
}

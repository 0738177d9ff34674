// Package pricing converts raw marketplace price representations into
// provenance-tagged canonical prices.
package pricing

import (
	"PriceScraper/internal/models"
	"regexp"
	"strings"
)

// MinorUnitScale is the number of minor units in one major unit. Catalog APIs report
// prices in kopecks, so the factor is fixed.
const MinorUnitScale = 100

// Normalize converts a minor-unit integer into a canonical price tagged with src.
// nil, zero and negative inputs mean "no price reported" and yield an absent price.
func Normalize(raw *int64, src models.Provenance) models.Price {
	if raw == nil || *raw <= 0 {
		return models.Absent()
	}
	return models.NewPrice(models.MinorUnits(*raw), src)
}

// NormalizeItem returns the three catalog prices of an item, each tagged api_catalog.
func NormalizeItem(item models.RawItem) (basic, product, card models.Price) {
	basic = Normalize(item.PriceBasic, models.ProvenanceCatalog)
	product = Normalize(item.PriceProduct, models.ProvenanceCatalog)
	card = Normalize(item.PriceCard, models.ProvenanceCatalog)
	return basic, product, card
}

// FromText builds a price from decimal text in major units ("548.00", "1 234,50",
// "AED 1,079"). Empty, malformed and non-positive strings yield an absent price.
func FromText(s string, src models.Provenance) models.Price {
	v, ok := ParseDecimal(s)
	if !ok || v <= 0 {
		return models.Absent()
	}
	return models.NewPrice(v, src)
}

// numberRegex finds the first price-looking number in a string. Grouping may use
// spaces (including NBSP and narrow NBSP), commas or dots.
var numberRegex = regexp.MustCompile(`\d[\d\s\x{00a0}\x{202f},.]*\d|\d`)

var groupSpaces = strings.NewReplacer(" ", "", "\u00a0", "", "\u202f", "", "\t", "", "\n", "", "\r", "")

// ParseDecimal reads the first number of s as a major-unit amount and returns it in
// minor units. It accepts currency text around the number, space or NBSP grouping
// and either ',' or '.' as the decimal separator. Negative amounts are rejected.
func ParseDecimal(s string) (models.MinorUnits, bool) {
	loc := numberRegex.FindStringIndex(s)
	if loc == nil {
		return 0, false
	}
	if before := strings.TrimRight(s[:loc[0]], " \u00a0"); strings.HasSuffix(before, "-") {
		return 0, false
	}
	cleaned := normalizeSeparators(groupSpaces.Replace(s[loc[0]:loc[1]]))
	return models.ParseMinorUnits(cleaned)
}

// normalizeSeparators rewrites a number so that '.' is the only (decimal) separator.
// The last of ',' or '.' is the decimal point when both appear; a lone ',' is a
// decimal point only when followed by one or two digits ("12,50" vs "1,079").
func normalizeSeparators(s string) string {
	lastComma := strings.LastIndex(s, ",")
	lastDot := strings.LastIndex(s, ".")

	switch {
	case lastComma >= 0 && lastDot >= 0:
		if lastComma > lastDot {
			s = strings.ReplaceAll(s, ".", "")
			return strings.Replace(s, ",", ".", 1)
		}
		return strings.ReplaceAll(s, ",", "")
	case lastComma >= 0:
		if strings.Count(s, ",") == 1 && len(s)-lastComma-1 <= 2 {
			return strings.Replace(s, ",", ".", 1)
		}
		return strings.ReplaceAll(s, ",", "")
	case strings.Count(s, ".") > 1:
		return strings.ReplaceAll(s, ".", "")
	}
	return s
}

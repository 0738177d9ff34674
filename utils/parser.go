package utils

import (
	"PriceScraper/internal/models"
	"PriceScraper/internal/pricing"
	"strings"

	log "github.com/sirupsen/logrus"
)

// ParsePrice extracts a price from free text such as "List Price: AED 219.41" or
// "1 234,50 ₽" and returns it in minor units.
func ParsePrice(priceStr string) (models.MinorUnits, bool) {
	if strings.TrimSpace(priceStr) == "" {
		return 0, false
	}
	price, ok := pricing.ParseDecimal(priceStr)
	if !ok {
		log.Debugf("ParsePrice: no price in '%s'", priceStr)
		return 0, false
	}
	return price, true
}

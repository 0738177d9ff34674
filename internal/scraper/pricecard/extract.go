// Package pricecard scrapes the card price from a product page when the catalog API
// did not report one.
package pricecard

import (
	"PriceScraper/internal/models"
	"PriceScraper/internal/scraper"
	"PriceScraper/utils"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
	log "github.com/sirupsen/logrus"
	"golang.org/x/net/html"
)

// DefaultSelectors are tried in order; the first element whose text parses as a
// positive price wins.
var DefaultSelectors = []string{
	`span[class*="price-card"]`,
	`[class*="wallet"] [class*="price"]`,
	`ins[class*="price"]`,
}

var (
	ErrNoPrice = errors.New("card price not found on page")
	// ErrRobotCheck is returned for anti-bot interstitials; it matches scraper.ErrTransient.
	ErrRobotCheck = fmt.Errorf("anti-bot page served: %w", scraper.ErrTransient)
)

var robotTitles = []string{"robot check", "captcha", "почти готово", "access denied"}

// Extract parses an HTML document and returns the first card price found.
func Extract(r io.Reader, selectors []string) (models.MinorUnits, error) {
	root, err := html.Parse(r)
	if err != nil {
		return 0, fmt.Errorf("could not parse product page: %w", err)
	}
	doc := goquery.NewDocumentFromNode(root)

	title := strings.ToLower(strings.TrimSpace(doc.Find("title").First().Text()))
	for _, marker := range robotTitles {
		if strings.Contains(title, marker) {
			log.Printf("Robot check or CAPTCHA detected in title: %s", title)
			return 0, ErrRobotCheck
		}
	}

	if len(selectors) == 0 {
		selectors = DefaultSelectors
	}
	for _, sel := range selectors {
		var found models.MinorUnits
		doc.Find(sel).EachWithBreak(func(i int, s *goquery.Selection) bool {
			if v, ok := utils.ParsePrice(s.Text()); ok && v > 0 {
				found = v
				return false
			}
			return true
		})
		if found > 0 {
			log.Debugf("Card price %s matched selector %q", found, sel)
			return found, nil
		}
	}
	return 0, ErrNoPrice
}

// Package catalogapi reads the marketplace's internal brand catalog API.
package catalogapi

import (
	"PriceScraper/internal/models"
	"PriceScraper/internal/scraper/transport"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

const (
	DefaultBaseURL = "https://www.wildberries.ru/__internal/u-catalog/brands/v4/catalog"
	productURLFmt  = "https://www.wildberries.ru/catalog/%d/detail.aspx"
)

// Config holds the query parameters shared by every page request.
type Config struct {
	BaseURL string
	Dest    int64
	SPP     int
	// FSupplier restricts results to a comma-separated list of supplier ids.
	FSupplier string
}

// Client implements scraper.PageFetcher on top of a transport client.
type Client struct {
	http *transport.Client
	cfg  Config
}

func New(tc *transport.Client, cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.SPP == 0 {
		cfg.SPP = 30
	}
	return &Client{http: tc, cfg: cfg}
}

// ProductURL is the public product page of a global id.
func ProductURL(id int64) string {
	return fmt.Sprintf(productURLFmt, id)
}

// PageURL builds the catalog URL for one brand page.
func (c *Client) PageURL(brandID int64, page int) string {
	q := url.Values{}
	q.Set("ab_testing", "false")
	q.Set("appType", "1")
	q.Set("brand", strconv.FormatInt(brandID, 10))
	q.Set("curr", "rub")
	q.Set("dest", strconv.FormatInt(c.cfg.Dest, 10))
	q.Set("hide_dtype", "9")
	q.Set("hide_vflags", "4294967296")
	q.Set("lang", "ru")
	q.Set("page", strconv.Itoa(page))
	q.Set("sort", "popular")
	q.Set("spp", strconv.Itoa(c.cfg.SPP))
	if c.cfg.FSupplier != "" {
		q.Set("fsupplier", c.cfg.FSupplier)
	}
	return c.cfg.BaseURL + "?" + q.Encode()
}

// FetchPage returns the items of one catalog page.
func (c *Client) FetchPage(ctx context.Context, brandID int64, page int) ([]models.RawItem, error) {
	header := http.Header{}
	if u, err := url.Parse(c.cfg.BaseURL); err == nil {
		origin := u.Scheme + "://" + u.Host
		header.Set("Origin", origin)
		header.Set("Referer", origin+"/")
	}
	body, err := c.http.Get(ctx, c.PageURL(brandID, page), header)
	if err != nil {
		return nil, err
	}
	items, err := ParsePage(body)
	if err != nil {
		return nil, fmt.Errorf("brand %d page %d: %w", brandID, page, err)
	}
	for i := range items {
		if items[i].BrandID == 0 {
			items[i].BrandID = brandID
		}
	}
	return items, nil
}

type priceBlock struct {
	Basic     *int64 `json:"basic"`
	Product   *int64 `json:"product"`
	Card      *int64 `json:"card"`
	PriceCard *int64 `json:"priceCard"`
}

func (p *priceBlock) empty() bool {
	return p == nil || (p.Basic == nil && p.Product == nil && p.Card == nil && p.PriceCard == nil)
}

func (p *priceBlock) card() *int64 {
	if p.Card != nil {
		return p.Card
	}
	return p.PriceCard
}

type size struct {
	OptionID *int64      `json:"optionId"`
	Name     string      `json:"name"`
	OrigName string      `json:"origName"`
	Price    *priceBlock `json:"price"`
}

type product struct {
	ID         int64       `json:"id"`
	NmID       int64       `json:"nmId"`
	Name       string      `json:"name"`
	Title      string      `json:"title"`
	BrandID    int64       `json:"brandId"`
	Brand      string      `json:"brand"`
	SupplierID int64       `json:"supplierId"`
	Supplier   string      `json:"supplier"`
	Price      *priceBlock `json:"price"`
	Sizes      []size      `json:"sizes"`
	Link       string      `json:"link"`
}

type envelope struct {
	Products []product       `json:"products"`
	Data     json.RawMessage `json:"data"`
}

// ParsePage decodes a catalog response. Products may sit under "products",
// "data.products" or be the "data" array itself.
func ParsePage(body []byte) ([]models.RawItem, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("could not decode catalog page: %w", err)
	}
	products := env.Products
	if products == nil && len(env.Data) > 0 {
		data := bytes.TrimSpace(env.Data)
		switch {
		case bytes.HasPrefix(data, []byte("[")):
			if err := json.Unmarshal(data, &products); err != nil {
				return nil, fmt.Errorf("could not decode data array: %w", err)
			}
		case bytes.HasPrefix(data, []byte("{")):
			var inner struct {
				Products []product `json:"products"`
			}
			if err := json.Unmarshal(data, &inner); err != nil {
				return nil, fmt.Errorf("could not decode data object: %w", err)
			}
			products = inner.Products
		}
	}

	items := make([]models.RawItem, 0, len(products))
	for _, p := range products {
		items = append(items, toRawItem(p))
	}
	return items, nil
}

// toRawItem collapses a product to one item. The product-level price wins; otherwise
// the first size that carries a price is used. A product without an id keeps
// GlobalID 0 so the page length still reflects what the API returned.
func toRawItem(p product) models.RawItem {
	id := p.ID
	if id == 0 {
		id = p.NmID
	}
	name := p.Name
	if name == "" {
		name = p.Title
	}
	item := models.RawItem{
		GlobalID:     id,
		Name:         name,
		BrandID:      p.BrandID,
		BrandName:    p.Brand,
		SupplierID:   p.SupplierID,
		SupplierName: p.Supplier,
		ProductURL:   p.Link,
	}
	if item.ProductURL == "" && id != 0 {
		item.ProductURL = ProductURL(id)
	}

	price := p.Price
	if price.empty() {
		for _, s := range p.Sizes {
			if s.Price.empty() {
				continue
			}
			price = s.Price
			item.SizeID = s.OptionID
			item.SizeName = s.Name
			if item.SizeName == "" {
				item.SizeName = s.OrigName
			}
			break
		}
	}
	if !price.empty() {
		item.PriceBasic = price.Basic
		item.PriceProduct = price.Product
		item.PriceCard = price.card()
	}
	return item
}

package config

import (
	"PriceScraper/internal/models"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ScraperConfig holds general scraper settings.
type ScraperConfig struct {
	Workers  string `yaml:"workers"`
	Headless bool   `yaml:"headless"`
}

// CatalogConfig describes the brand catalog API and what to collect from it.
type CatalogConfig struct {
	BaseURL   string          `yaml:"base_url"`
	Dest      int64           `yaml:"dest"`
	SPP       int             `yaml:"spp"`
	FSupplier string          `yaml:"fsupplier"`
	FirstPage int             `yaml:"first_page"`
	PageSize  int             `yaml:"page_size"`
	EndOfData string          `yaml:"end_of_data"`
	MaxPages  int             `yaml:"max_pages"`
	Sources   []models.Source `yaml:"sources"`
}

// SellerConfig holds the seller-account API credentials and batching.
type SellerConfig struct {
	Enabled     bool   `yaml:"enabled"`
	BaseURL     string `yaml:"base_url"`
	ClientID    string `yaml:"client_id"`
	APIKey      string `yaml:"api_key"`
	BatchSize   int    `yaml:"batch_size"`
	Concurrency int    `yaml:"concurrency"`
}

// FallbackConfig controls the product-page card price sweep.
type FallbackConfig struct {
	Mode        string        `yaml:"mode"` // off, http or browser
	Concurrency int           `yaml:"concurrency"`
	Selectors   []string      `yaml:"selectors"`
	PageTimeout time.Duration `yaml:"page_timeout"`
}

// TransportConfig tunes the shared HTTP client.
type TransportConfig struct {
	Timeout   time.Duration `yaml:"timeout"`
	Retries   int           `yaml:"retries"`
	Rate      float64       `yaml:"rate"`
	MinRate   float64       `yaml:"min_rate"`
	MaxRate   float64       `yaml:"max_rate"`
	CoolOff   time.Duration `yaml:"cool_off"`
	Cookies   string        `yaml:"cookies"`
	CookieURL string        `yaml:"cookie_url"`
	UserAgent string        `yaml:"user_agent"`
}

type OutputConfig struct {
	XLSX           string `yaml:"xlsx"`
	SQLite         string `yaml:"sqlite"`
	PostgresDSN    string `yaml:"postgres_dsn"`
	PostgresSchema string `yaml:"postgres_schema"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type ServerConfig struct {
	Addr   string `yaml:"addr"`
	ApiKey string `yaml:"api_key"`
}

// Config is the complete structure for the config.yml file.
type Config struct {
	Scraper   ScraperConfig    `yaml:"scraper"`
	Catalog   CatalogConfig    `yaml:"catalog"`
	Seller    SellerConfig     `yaml:"seller"`
	Fallback  FallbackConfig   `yaml:"fallback"`
	Transport TransportConfig  `yaml:"transport"`
	Cabinets  map[int64]string `yaml:"cabinets"`
	Output    OutputConfig     `yaml:"output"`
	Log       LogConfig        `yaml:"log"`
	Server    ServerConfig     `yaml:"server"`
}

// Default returns the settings used for keys missing from the file.
func Default() Config {
	return Config{
		Scraper: ScraperConfig{Workers: "auto", Headless: true},
		Catalog: CatalogConfig{
			BaseURL:   "https://www.wildberries.ru/__internal/u-catalog/brands/v4/catalog",
			Dest:      -1257786,
			SPP:       30,
			FirstPage: 1,
			PageSize:  100,
			EndOfData: "empty",
			MaxPages:  200,
		},
		Seller: SellerConfig{
			BaseURL:     "https://api-seller.ozon.ru",
			BatchSize:   1000,
			Concurrency: 2,
		},
		Fallback: FallbackConfig{Mode: "off", Concurrency: 1, PageTimeout: 60 * time.Second},
		Transport: TransportConfig{
			Timeout:   30 * time.Second,
			Retries:   3,
			Rate:      2,
			MinRate:   0.2,
			MaxRate:   10,
			CoolOff:   5 * time.Second,
			CookieURL: "https://www.wildberries.ru/",
		},
		Output: OutputConfig{XLSX: "output", SQLite: "prices.db", PostgresSchema: "public"},
		Log:    LogConfig{Level: "info", Format: "text"},
		Server: ServerConfig{Addr: ":8080"},
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// ApplyEnv overrides secrets from the environment so they can stay out of the file.
func (c *Config) ApplyEnv() {
	c.Seller.APIKey = getenv("SELLER_API_KEY", c.Seller.APIKey)
	c.Seller.ClientID = getenv("SELLER_CLIENT_ID", c.Seller.ClientID)
	c.Transport.Cookies = getenv("MARKET_COOKIES", c.Transport.Cookies)
	c.Output.PostgresDSN = getenv("PG_DSN", c.Output.PostgresDSN)
	c.Server.ApiKey = getenv("SERVER_API_KEY", c.Server.ApiKey)
	c.Log.Level = getenv("LOG_LEVEL", c.Log.Level)
}

// LoadConfig reads a YAML file on top of Default and applies environment overrides.
func LoadConfig(filepath string) (*Config, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling config YAML: %w", err)
	}
	cfg.ApplyEnv()
	return &cfg, nil
}

// Validate reports every problem found, not just the first.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if len(c.Catalog.Sources) == 0 {
		add("catalog.sources: at least one source is required")
	}
	seen := make(map[int64]bool)
	for i, s := range c.Catalog.Sources {
		if s.ID <= 0 {
			add("catalog.sources[%d]: id must be positive", i)
		}
		if seen[s.ID] {
			add("catalog.sources[%d]: duplicate id %d", i, s.ID)
		}
		seen[s.ID] = true
	}
	if c.Catalog.FirstPage != 0 && c.Catalog.FirstPage != 1 {
		add("catalog.first_page must be 0 or 1, got %d", c.Catalog.FirstPage)
	}
	if c.Catalog.PageSize < 0 || c.Catalog.MaxPages < 0 {
		add("catalog.page_size and catalog.max_pages must not be negative")
	}
	switch strings.ToLower(c.Catalog.EndOfData) {
	case "", "empty", "empty_page", "short", "short_page":
	default:
		add("catalog.end_of_data must be empty or short, got %q", c.Catalog.EndOfData)
	}
	if strings.HasPrefix(strings.ToLower(c.Catalog.EndOfData), "short") && c.Catalog.PageSize == 0 {
		add("catalog.page_size is required when end_of_data is short")
	}

	if c.Seller.Enabled {
		if c.Seller.ClientID == "" || c.Seller.APIKey == "" {
			add("seller: client_id and api_key are required when enabled (or SELLER_CLIENT_ID / SELLER_API_KEY)")
		}
		if c.Seller.BatchSize < 0 || c.Seller.BatchSize > 1000 {
			add("seller.batch_size must be within 0..1000 (0 = 1000), got %d", c.Seller.BatchSize)
		}
	}

	switch c.Fallback.Mode {
	case "", "off", "http", "browser":
	default:
		add("fallback.mode must be off, http or browser, got %q", c.Fallback.Mode)
	}

	// concurrency limits: fetch > lookup > fallback
	if c.Seller.Concurrency < 0 || c.Fallback.Concurrency < 0 {
		add("seller.concurrency and fallback.concurrency must not be negative")
	}
	if workers, err := strconv.Atoi(strings.TrimSpace(c.Scraper.Workers)); err == nil && workers > 0 &&
		c.Seller.Enabled && c.Seller.Concurrency > workers {
		add("seller.concurrency (%d) must not exceed scraper.workers (%d)", c.Seller.Concurrency, workers)
	}
	if fallbackOn := c.Fallback.Mode == "http" || c.Fallback.Mode == "browser"; fallbackOn && c.Seller.Enabled &&
		max(c.Fallback.Concurrency, 1) > max(c.Seller.Concurrency, 1) {
		add("fallback.concurrency (%d) must not exceed seller.concurrency (%d)", c.Fallback.Concurrency, c.Seller.Concurrency)
	}

	if c.Transport.MinRate > c.Transport.MaxRate {
		add("transport.min_rate (%v) exceeds max_rate (%v)", c.Transport.MinRate, c.Transport.MaxRate)
	}
	if c.Transport.Retries < 0 {
		add("transport.retries must not be negative")
	}

	switch c.Log.Format {
	case "", "text", "json":
	default:
		add("log.format must be text or json, got %q", c.Log.Format)
	}
	return errors.Join(errs...)
}

// Package app wires configuration into the collection pipeline and its sinks.
package app

import (
	"PriceScraper/internal/catalog"
	"PriceScraper/internal/database"
	"PriceScraper/internal/export"
	"PriceScraper/internal/lookup"
	"PriceScraper/internal/models"
	"PriceScraper/internal/pgstore"
	"PriceScraper/internal/pipeline"
	"PriceScraper/internal/scraper"
	"PriceScraper/internal/scraper/catalogapi"
	"PriceScraper/internal/scraper/pricecard"
	"PriceScraper/internal/scraper/sellerapi"
	"PriceScraper/internal/scraper/transport"
	"PriceScraper/pkg/config"
	"PriceScraper/utils"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// maxWorkers caps "auto" concurrency; the marketplace throttles long before CPU does.
const maxWorkers = 8

// App is the main application structure holding all dependencies.
type App struct {
	Config *config.Config
	Repo   *database.DBRepository
}

// New loads and validates the config and opens the run store.
func New(configPath string) (*App, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	SetupLogging(cfg.Log)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s:\n%w", configPath, err)
	}
	return NewWithConfig(cfg)
}

// NewWithConfig opens the SQLite store named in cfg. An empty path disables it.
func NewWithConfig(cfg *config.Config) (*App, error) {
	a := &App{Config: cfg}
	if cfg.Output.SQLite != "" {
		repo, err := database.InitDB(cfg.Output.SQLite)
		if err != nil {
			return nil, err
		}
		a.Repo = repo
	}
	return a, nil
}

func (a *App) Close() error {
	if a.Repo == nil {
		return nil
	}
	return a.Repo.Close()
}

// SetupLogging applies level and format. Unknown levels fall back to info.
func SetupLogging(cfg config.LogConfig) {
	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		level = log.InfoLevel
	}
	log.SetLevel(level)
	log.SetOutput(os.Stderr)
	if strings.EqualFold(cfg.Format, "json") {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
}

func (a *App) transportClient(secrets ...string) (*transport.Client, error) {
	t := a.Config.Transport
	var gate *transport.AdaptiveGate
	if t.Rate > 0 {
		gate = transport.NewAdaptiveGate(t.Rate, t.MinRate, t.MaxRate, t.CoolOff)
	}
	return transport.New(transport.Options{
		Timeout:   t.Timeout,
		Retries:   t.Retries,
		UserAgent: t.UserAgent,
		Cookies:   t.Cookies,
		CookieURL: t.CookieURL,
		Gate:      gate,
		Secrets:   secrets,
	})
}

// BuildPipeline creates the clients for every enabled source. The returned func
// releases the browser when the fallback runs in browser mode.
func (a *App) BuildPipeline() (*pipeline.Pipeline, func(), error) {
	cfg := a.Config
	cleanup := func() {}

	marketClient, err := a.transportClient(cfg.Transport.Cookies)
	if err != nil {
		return nil, cleanup, err
	}
	end, err := catalog.ParseEndOfData(cfg.Catalog.EndOfData)
	if err != nil {
		return nil, cleanup, err
	}

	workers := utils.GetOptimalWorkerCount(cfg.Scraper.Workers, maxWorkers)
	p := &pipeline.Pipeline{
		Fetcher: &catalog.Fetcher{
			Source: catalogapi.New(marketClient, catalogapi.Config{
				BaseURL:   cfg.Catalog.BaseURL,
				Dest:      cfg.Catalog.Dest,
				SPP:       cfg.Catalog.SPP,
				FSupplier: cfg.Catalog.FSupplier,
			}),
			FirstPage: cfg.Catalog.FirstPage,
			PageSize:  cfg.Catalog.PageSize,
			EndOfData: end,
			MaxPages:  cfg.Catalog.MaxPages,
		},
		Options: pipeline.Options{
			FetchConcurrency:    workers,
			LookupConcurrency:   cfg.Seller.Concurrency,
			FallbackConcurrency: cfg.Fallback.Concurrency,
			Cabinets:            cfg.Cabinets,
		},
	}

	if cfg.Seller.Enabled {
		sellerClient, err := a.transportClient(cfg.Seller.APIKey, cfg.Seller.ClientID)
		if err != nil {
			return nil, cleanup, err
		}
		p.Coordinator = &lookup.Coordinator{
			Lookup: sellerapi.New(sellerClient, cfg.Seller.BaseURL, sellerapi.Credentials{
				ClientID: cfg.Seller.ClientID,
				APIKey:   cfg.Seller.APIKey,
			}),
			BatchSize:   cfg.Seller.BatchSize,
			Concurrency: cfg.Seller.Concurrency,
		}
	}

	fallback, closeFallback, err := a.fallback(marketClient)
	if err != nil {
		return nil, cleanup, err
	}
	p.Fallback = fallback
	return p, closeFallback, nil
}

func (a *App) fallback(tc *transport.Client) (scraper.CardPriceSource, func(), error) {
	fb := a.Config.Fallback
	switch fb.Mode {
	case "http":
		return &pricecard.HTTPSource{Client: tc, Selectors: fb.Selectors}, func() {}, nil
	case "browser":
		browser, closeBrowser, err := pricecard.LaunchBrowser(a.Config.Scraper.Headless)
		if err != nil {
			return nil, func() {}, err
		}
		return &pricecard.BrowserSource{
			Browser:     browser,
			Selectors:   fb.Selectors,
			PageTimeout: fb.PageTimeout,
		}, closeBrowser, nil
	default:
		return nil, func() {}, nil
	}
}

// Summarize turns a pipeline result into the run record the sinks store.
func Summarize(id string, res *pipeline.Result) models.RunSummary {
	run := models.RunSummary{
		ID:             id,
		StartedAt:      res.StartedAt,
		FinishedAt:     res.FinishedAt,
		State:          string(res.State),
		Records:        len(res.Records),
		Unmatched:      res.Unmatched,
		FallbackFilled: res.FallbackFilled,
	}
	for _, f := range res.Failures {
		run.FailedSources = append(run.FailedSources, fmt.Sprintf("%d", f.Source.ID))
	}
	return run
}

// Sinks lists the configured outputs in write order. Closers must be called after writing.
func (a *App) Sinks(ctx context.Context) ([]scraper.Sink, []func(), error) {
	var (
		sinks   []scraper.Sink
		closers []func()
	)
	out := a.Config.Output
	if out.XLSX != "" {
		sinks = append(sinks, &export.ExcelSink{Path: out.XLSX})
	}
	if a.Repo != nil {
		sinks = append(sinks, a.Repo)
	}
	if out.PostgresDSN != "" {
		store, err := pgstore.Open(ctx, out.PostgresDSN, out.PostgresSchema, 4, false)
		if err != nil {
			return nil, closers, err
		}
		closers = append(closers, store.Close)
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, closers, err
		}
		sinks = append(sinks, store)
	}
	return sinks, closers, nil
}

// Collect runs one collection and writes the result to every sink. A cancelled or
// partially failed run is still written so it can be inspected later.
func (a *App) Collect(ctx context.Context) (models.RunSummary, error) {
	p, cleanup, err := a.BuildPipeline()
	defer cleanup()
	if err != nil {
		return models.RunSummary{}, err
	}

	runID := uuid.NewString()
	log.WithField("run_id", runID).Info("--- Starting Collection Task ---")
	res, runErr := p.Run(ctx, a.Config.Catalog.Sources)
	run := Summarize(runID, res)

	if res.Lookup.Degraded() {
		log.Warnf("Seller lookup degraded: %d of %d batches failed", len(res.Lookup.FailedBatches), res.Lookup.Batches)
	}
	if len(res.UnmatchedIDs) > 0 {
		log.Debugf("Unmatched ids: %v", res.UnmatchedIDs)
	}

	// Sinks get a fresh context so a cancelled run still lands on disk.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Minute)
	defer cancel()
	sinks, closers, err := a.Sinks(writeCtx)
	defer func() {
		for _, c := range closers {
			c()
		}
	}()
	if err != nil {
		return run, errors.Join(runErr, err)
	}

	var writeErrs []error
	for _, s := range sinks {
		if err := s.Write(writeCtx, run, res.Records); err != nil {
			log.Errorf("Sink %T failed: %v", s, err)
			writeErrs = append(writeErrs, err)
		}
	}
	log.WithFields(log.Fields{
		"run_id":  run.ID,
		"state":   run.State,
		"records": run.Records,
	}).Info("--- Collection Task Finished ---")
	return run, errors.Join(runErr, errors.Join(writeErrs...))
}

// ExportRun re-exports a stored run to xlsx. An empty runID selects the latest run.
func (a *App) ExportRun(ctx context.Context, runID, path string) (string, error) {
	if a.Repo == nil {
		return "", errors.New("no sqlite store configured")
	}
	var (
		run *models.RunSummary
		err error
	)
	if runID == "" {
		run, err = a.Repo.LatestRun(ctx)
	} else {
		run, err = a.Repo.GetRun(ctx, runID)
	}
	if err != nil {
		return "", err
	}
	records, err := a.Repo.GetRecords(ctx, models.RecordFilters{RunID: run.ID})
	if err != nil {
		return "", err
	}
	if path == "" {
		path = a.Config.Output.XLSX
	}
	sink := &export.ExcelSink{Path: path}
	if err := sink.Write(ctx, *run, records); err != nil {
		return "", err
	}
	name := sink.FileName(*run)
	log.Printf("Exported run %s (%d records) to %s", run.ID, len(records), name)
	return name, nil
}

// ListRuns returns stored runs, newest first.
func (a *App) ListRuns(ctx context.Context, limit int) ([]models.RunSummary, error) {
	if a.Repo == nil {
		return nil, errors.New("no sqlite store configured")
	}
	return a.Repo.ListRuns(ctx, limit)
}

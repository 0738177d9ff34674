// Package pgstore mirrors finished runs into PostgreSQL.
package pgstore

import (
	"PriceScraper/internal/models"
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"
)

const defaultBatch = 500

// Store is a scraper.Sink backed by a pgx pool.
type Store struct {
	pool   *pgxpool.Pool
	schema string
	batch  int
}

// Open connects to dsn. viaBouncer switches to the simple protocol for PgBouncer in
// transaction mode.
func Open(ctx context.Context, dsn, schema string, maxConns int, viaBouncer bool) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres dsn: %w", err)
	}
	if maxConns <= 0 {
		maxConns = 2
	}
	cfg.MaxConns = int32(maxConns)
	if viaBouncer {
		cfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}
	if schema == "" {
		schema = "public"
	}
	return &Store{pool: pool, schema: schema, batch: defaultBatch}, nil
}

func (s *Store) Close() { s.pool.Close() }

func (s *Store) table(name string) string {
	return pgx.Identifier{s.schema, name}.Sanitize()
}

// EnsureSchema creates the tables when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE SCHEMA IF NOT EXISTS ` + pgx.Identifier{s.schema}.Sanitize(),
		`CREATE TABLE IF NOT EXISTS ` + s.table("price_runs") + ` (
			id TEXT PRIMARY KEY,
			started_at TIMESTAMPTZ NOT NULL,
			finished_at TIMESTAMPTZ,
			state TEXT NOT NULL,
			records INTEGER NOT NULL DEFAULT 0,
			unmatched INTEGER NOT NULL DEFAULT 0,
			fallback_filled INTEGER NOT NULL DEFAULT 0,
			failed_sources TEXT[]
		)`,
		`CREATE TABLE IF NOT EXISTS ` + s.table("price_records") + ` (
			run_id TEXT NOT NULL REFERENCES ` + s.table("price_runs") + `(id) ON DELETE CASCADE,
			position INTEGER NOT NULL,
			global_id BIGINT NOT NULL,
			seller_local_id TEXT,
			name TEXT,
			brand_id BIGINT,
			supplier_id BIGINT,
			cabinet_name TEXT,
			size_id BIGINT,
			price_basic NUMERIC(14,2),
			source_price_basic TEXT NOT NULL,
			price_product NUMERIC(14,2),
			source_price_product TEXT NOT NULL,
			price_card NUMERIC(14,2),
			source_price_card TEXT NOT NULL,
			product_url TEXT,
			collected_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (run_id, global_id)
		)`,
	}
	for _, q := range stmts {
		if _, err := s.pool.Exec(ctx, q); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// priceMinor passes minor units; the insert divides by 100 in NUMERIC so the stored
// value stays exact.
func priceMinor(p models.Price) *int64 {
	if v, ok := p.Value(); ok {
		n := int64(v)
		return &n
	}
	return nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// Write upserts the run and replaces its records in one transaction.
func (s *Store) Write(ctx context.Context, run models.RunSummary, records []models.CanonicalRecord) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `INSERT INTO `+s.table("price_runs")+`
		(id, started_at, finished_at, state, records, unmatched, fallback_filled, failed_sources)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (id) DO UPDATE SET
			finished_at = EXCLUDED.finished_at, state = EXCLUDED.state, records = EXCLUDED.records,
			unmatched = EXCLUDED.unmatched, fallback_filled = EXCLUDED.fallback_filled,
			failed_sources = EXCLUDED.failed_sources`,
		run.ID, run.StartedAt, nullTime(run.FinishedAt), run.State, run.Records, run.Unmatched,
		run.FallbackFilled, run.FailedSources,
	)
	if err != nil {
		return fmt.Errorf("upsert run %s: %w", run.ID, err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM `+s.table("price_records")+` WHERE run_id = $1`, run.ID); err != nil {
		return err
	}

	insert := `INSERT INTO ` + s.table("price_records") + `
		(run_id, position, global_id, seller_local_id, name, brand_id, supplier_id, cabinet_name, size_id,
		 price_basic, source_price_basic, price_product, source_price_product, price_card, source_price_card,
		 product_url, collected_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,
		        $10::bigint / 100.0, $11, $12::bigint / 100.0, $13, $14::bigint / 100.0, $15,
		        $16,$17)`

	for _, span := range chunks(len(records), s.batch) {
		b := &pgx.Batch{}
		for i := span[0]; i < span[1]; i++ {
			r := records[i]
			b.Queue(insert,
				run.ID, i, r.GlobalID, r.SellerLocalID, r.Name, r.BrandID, r.SupplierID, r.CabinetName, r.SizeID,
				priceMinor(r.PriceBasic), string(r.PriceBasic.Source()),
				priceMinor(r.PriceProduct), string(r.PriceProduct.Source()),
				priceMinor(r.PriceCard), string(r.PriceCard.Source()),
				r.ProductURL, r.CollectedAt,
			)
		}
		br := tx.SendBatch(ctx, b)
		for k := span[0]; k < span[1]; k++ {
			if _, err := br.Exec(); err != nil {
				_ = br.Close()
				return fmt.Errorf("insert record %d: %w", records[k].GlobalID, err)
			}
		}
		if err := br.Close(); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit run %s: %w", run.ID, err)
	}
	log.Printf("Mirrored run %s (%d records) to postgres", run.ID, len(records))
	return nil
}

// chunks splits [0, n) into half-open spans of at most size.
func chunks(n, size int) [][2]int {
	if size <= 0 {
		size = defaultBatch
	}
	var out [][2]int
	for i := 0; i < n; i += size {
		out = append(out, [2]int{i, min(i+size, n)})
	}
	return out
}

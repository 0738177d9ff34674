package database

import (
	"PriceScraper/internal/models"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

// ErrRunNotFound is returned when a run id is unknown.
var ErrRunNotFound = errors.New("run not found")

// DBRepository stores runs and their reconciled records in SQLite.
type DBRepository struct {
	DB *sql.DB
}

const createRunsTableSQL = `
CREATE TABLE IF NOT EXISTS runs (
	"id" TEXT NOT NULL PRIMARY KEY,
	"started_at" TEXT NOT NULL,
	"finished_at" TEXT,
	"state" TEXT NOT NULL,
	"records" INTEGER DEFAULT 0,
	"unmatched" INTEGER DEFAULT 0,
	"fallback_filled" INTEGER DEFAULT 0,
	"failed_sources" TEXT
);`

const createRecordsTableSQL = `
CREATE TABLE IF NOT EXISTS records (
	"id" INTEGER NOT NULL PRIMARY KEY AUTOINCREMENT,
	"run_id" TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	"position" INTEGER NOT NULL,
	"global_id" INTEGER NOT NULL,
	"seller_local_id" TEXT,
	"name" TEXT,
	"brand_id" INTEGER,
	"supplier_id" INTEGER,
	"cabinet_name" TEXT,
	"size_id" INTEGER,
	"price_basic" INTEGER,
	"source_price_basic" TEXT NOT NULL,
	"price_product" INTEGER,
	"source_price_product" TEXT NOT NULL,
	"price_card" INTEGER,
	"source_price_card" TEXT NOT NULL,
	"product_url" TEXT,
	"collected_at" TEXT NOT NULL,
	UNIQUE(run_id, global_id)
);`

const createRecordsIndexSQL = `CREATE INDEX IF NOT EXISTS records_run_position ON records(run_id, position);`

// InitDB opens (or creates) the database file and makes sure the tables exist.
func InitDB(filepath string) (*DBRepository, error) {
	db, err := sql.Open("sqlite", filepath)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}
	// one writer at a time; also keeps ":memory:" on a single connection
	db.SetMaxOpenConns(1)
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("error pinging database: %w", err)
	}

	for _, stmt := range []string{"PRAGMA foreign_keys = ON;", createRunsTableSQL, createRecordsTableSQL, createRecordsIndexSQL} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("error creating tables: %w", err)
		}
	}

	log.Println("Database and tables initialized successfully.")
	return &DBRepository{DB: db}, nil
}

func (repo *DBRepository) Close() error {
	return repo.DB.Close()
}

// timeLayout has a fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func priceArgs(p models.Price) (any, string) {
	if v, ok := p.Value(); ok {
		return int64(v), string(p.Source())
	}
	return nil, string(models.ProvenanceAbsent)
}

// Write stores a run and replaces its records. It implements scraper.Sink.
func (repo *DBRepository) Write(ctx context.Context, run models.RunSummary, records []models.CanonicalRecord) error {
	failed, err := json.Marshal(run.FailedSources)
	if err != nil {
		return err
	}

	tx, err := repo.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
	INSERT INTO runs (id, started_at, finished_at, state, records, unmatched, fallback_filled, failed_sources)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		finished_at=excluded.finished_at,
		state=excluded.state,
		records=excluded.records,
		unmatched=excluded.unmatched,
		fallback_filled=excluded.fallback_filled,
		failed_sources=excluded.failed_sources;`,
		run.ID, formatTime(run.StartedAt), formatTime(run.FinishedAt), run.State,
		run.Records, run.Unmatched, run.FallbackFilled, string(failed),
	)
	if err != nil {
		return fmt.Errorf("failed to save run %s: %w", run.ID, err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM records WHERE run_id = ?", run.ID); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
	INSERT INTO records (
		run_id, position, global_id, seller_local_id, name, brand_id, supplier_id, cabinet_name, size_id,
		price_basic, source_price_basic, price_product, source_price_product, price_card, source_price_card,
		product_url, collected_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, rec := range records {
		basic, basicSrc := priceArgs(rec.PriceBasic)
		product, productSrc := priceArgs(rec.PriceProduct)
		card, cardSrc := priceArgs(rec.PriceCard)
		_, err := stmt.ExecContext(ctx,
			run.ID, i, rec.GlobalID, rec.SellerLocalID, rec.Name, rec.BrandID, rec.SupplierID,
			rec.CabinetName, rec.SizeID,
			basic, basicSrc, product, productSrc, card, cardSrc,
			rec.ProductURL, formatTime(rec.CollectedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to save record %d: %w", rec.GlobalID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run %s: %w", run.ID, err)
	}
	log.Printf("Saved run %s with %d records", run.ID, len(records))
	return nil
}

func recordConditions(filters models.RecordFilters) (string, []any) {
	conditions := []string{"run_id = ?"}
	args := []any{filters.RunID}
	if filters.BrandID != 0 {
		conditions = append(conditions, "brand_id = ?")
		args = append(args, filters.BrandID)
	}
	if filters.CabinetName != "" {
		conditions = append(conditions, "cabinet_name = ?")
		args = append(args, filters.CabinetName)
	}
	if filters.OnlyMissing {
		conditions = append(conditions, "price_card IS NULL")
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

// GetRecords returns the records of filters.RunID in their original order.
func (repo *DBRepository) GetRecords(ctx context.Context, filters models.RecordFilters) ([]models.CanonicalRecord, error) {
	where, args := recordConditions(filters)
	query := `SELECT global_id, seller_local_id, name, brand_id, supplier_id, cabinet_name, size_id,
		price_basic, source_price_basic, price_product, source_price_product, price_card, source_price_card,
		product_url, collected_at
		FROM records` + where + " ORDER BY position"
	if filters.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filters.Limit)
		if filters.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filters.Offset)
		}
	}

	rows, err := repo.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute records query: %w", err)
	}
	defer rows.Close()

	var records []models.CanonicalRecord
	for rows.Next() {
		var (
			r                          models.CanonicalRecord
			sellerID, cabinet, url     sql.NullString
			sizeID                     sql.NullInt64
			basic, product, card       sql.NullInt64
			basicSrc, productSrc, cSrc string
			collectedAt                string
		)
		if err := rows.Scan(
			&r.GlobalID, &sellerID, &r.Name, &r.BrandID, &r.SupplierID, &cabinet, &sizeID,
			&basic, &basicSrc, &product, &productSrc, &card, &cSrc,
			&url, &collectedAt,
		); err != nil {
			return nil, fmt.Errorf("error scanning record row: %w", err)
		}
		if sellerID.Valid {
			r.SellerLocalID = &sellerID.String
		}
		if sizeID.Valid {
			r.SizeID = &sizeID.Int64
		}
		r.CabinetName = cabinet.String
		r.ProductURL = url.String
		r.PriceBasic = scanPrice(basic, basicSrc)
		r.PriceProduct = scanPrice(product, productSrc)
		r.PriceCard = scanPrice(card, cSrc)
		r.CollectedAt = parseTime(collectedAt)
		records = append(records, r)
	}
	return records, rows.Err()
}

func scanPrice(v sql.NullInt64, src string) models.Price {
	if !v.Valid {
		return models.Absent()
	}
	return models.NewPrice(models.MinorUnits(v.Int64), models.Provenance(src))
}

// CountRecords counts the records matching filters, ignoring Limit and Offset.
func (repo *DBRepository) CountRecords(ctx context.Context, filters models.RecordFilters) (int, error) {
	where, args := recordConditions(filters)
	var n int
	if err := repo.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM records"+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return n, nil
}

const runColumns = "id, started_at, finished_at, state, records, unmatched, fallback_filled, failed_sources"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(s rowScanner) (models.RunSummary, error) {
	var (
		run               models.RunSummary
		started, finished sql.NullString
		failed            sql.NullString
	)
	if err := s.Scan(&run.ID, &started, &finished, &run.State, &run.Records, &run.Unmatched, &run.FallbackFilled, &failed); err != nil {
		return run, err
	}
	run.StartedAt = parseTime(started.String)
	run.FinishedAt = parseTime(finished.String)
	if failed.String != "" && failed.String != "null" {
		if err := json.Unmarshal([]byte(failed.String), &run.FailedSources); err != nil {
			log.Printf("Run %s has unreadable failed_sources: %v", run.ID, err)
		}
	}
	return run, nil
}

// ListRuns returns the most recent runs first.
func (repo *DBRepository) ListRuns(ctx context.Context, limit int) ([]models.RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := repo.DB.QueryContext(ctx, "SELECT "+runColumns+" FROM runs ORDER BY started_at DESC, id LIMIT ?", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []models.RunSummary
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning run row: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// GetRun looks up one run by id.
func (repo *DBRepository) GetRun(ctx context.Context, id string) (*models.RunSummary, error) {
	run, err := scanRun(repo.DB.QueryRowContext(ctx, "SELECT "+runColumns+" FROM runs WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// LatestRun returns the most recently started run.
func (repo *DBRepository) LatestRun(ctx context.Context) (*models.RunSummary, error) {
	runs, err := repo.ListRuns(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, ErrRunNotFound
	}
	return &runs[0], nil
}

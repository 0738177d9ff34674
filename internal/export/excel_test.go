package export

import (
	"PriceScraper/internal/models"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"
)

func sampleRecords() []models.CanonicalRecord {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	sku := "SKU-A"
	return []models.CanonicalRecord{
		{
			GlobalID: 1, SellerLocalID: &sku, Name: "Cream", BrandID: 5,
			PriceBasic:  models.NewPrice(54800, models.ProvenanceCatalog),
			ProductURL:  "https://www.wildberries.ru/catalog/1/detail.aspx",
			CollectedAt: at,
		},
		{
			GlobalID: 2, Name: "Serum", BrandID: 5,
			PriceProduct: models.NewPrice(17320, models.ProvenanceCatalog),
			PriceCard:    models.NewPrice(1200, models.ProvenanceHTML),
			CollectedAt:  at,
		},
	}
}

func TestRow(t *testing.T) {
	row := Row(sampleRecords()[1])
	if len(row) != len(models.RecordColumns) {
		t.Fatalf("row has %d cells; want %d", len(row), len(models.RecordColumns))
	}
	if row[1] != nil || row[7] != nil {
		t.Errorf("absent values must be nil: %v %v", row[1], row[7])
	}
	if row[8] != "absent" || row[12] != "html_fallback" {
		t.Errorf("provenance cells = %v %v", row[8], row[12])
	}
	if row[9] != 173.2 {
		t.Errorf("product price = %v", row[9])
	}
}

func TestExcelSinkWrite(t *testing.T) {
	dir := t.TempDir()
	sink := &ExcelSink{Path: dir}
	run := models.RunSummary{ID: "run-1", State: "DONE", StartedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC), Records: 2}

	if err := sink.Write(context.Background(), run, sampleRecords()); err != nil {
		t.Fatalf("Write: %v", err)
	}
	path := filepath.Join(dir, "prices_20240501_120000.xlsx")
	if sink.FileName(run) != path {
		t.Errorf("file name = %s", sink.FileName(run))
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows(recordsSheet, excelize.Options{RawCellValue: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 3 {
		t.Fatalf("rows = %d; want 3", len(rows))
	}
	if rows[0][0] != "global_id" || rows[0][14] != "collected_at" {
		t.Errorf("header = %v", rows[0])
	}
	if rows[1][1] != "SKU-A" || rows[1][7] != "548" || rows[1][8] != "api_catalog" {
		t.Errorf("row 1 = %v", rows[1])
	}
	if rows[2][1] != "" || rows[2][11] != "12" || rows[2][12] != "html_fallback" {
		t.Errorf("row 2 = %v", rows[2])
	}

	if v, _ := f.GetCellValue(runSheet, "B1"); v != "run-1" {
		t.Errorf("run id cell = %q", v)
	}
	if w, _ := f.GetColWidth(recordsSheet, "N"); w > maxColWidth {
		t.Errorf("url column width %v exceeds cap", w)
	}
}

func TestExcelSinkExplicitFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "report.xlsx")
	sink := &ExcelSink{Path: path}
	if err := sink.Write(context.Background(), models.RunSummary{}, nil); err != nil {
		t.Fatalf("Write: %v", err)
	}
	f, err := excelize.OpenFile(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	rows, _ := f.GetRows(recordsSheet)
	if len(rows) != 1 {
		t.Errorf("empty export should hold the header only, got %d rows", len(rows))
	}
}

package export

import (
	"PriceScraper/internal/models"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	log "github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"
)

const (
	recordsSheet  = "Prices"
	runSheet      = "Run"
	maxColWidth   = 50
	priceNumFmt   = "#,##0.00"
	fileTimestamp = "20060102_150405"
)

var priceColumns = map[string]bool{"price_basic": true, "price_product": true, "price_card": true}

// ExcelSink writes one workbook per run. Path is either an .xlsx file or a directory
// that receives prices_<timestamp>.xlsx.
type ExcelSink struct {
	Path string
}

// FileName resolves the workbook path for a run.
func (s *ExcelSink) FileName(run models.RunSummary) string {
	if strings.EqualFold(filepath.Ext(s.Path), ".xlsx") {
		return s.Path
	}
	return filepath.Join(s.Path, "prices_"+run.StartedAt.UTC().Format(fileTimestamp)+".xlsx")
}

func (s *ExcelSink) Write(ctx context.Context, run models.RunSummary, records []models.CanonicalRecord) error {
	filename := s.FileName(run)
	if dir := filepath.Dir(filename); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create output directory %s: %w", dir, err)
		}
	}

	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName("Sheet1", recordsSheet); err != nil {
		return fmt.Errorf("failed to rename sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"366092"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}
	numFmt := priceNumFmt
	priceStyle, err := f.NewStyle(&excelize.Style{CustomNumFmt: &numFmt})
	if err != nil {
		return fmt.Errorf("failed to create price style: %w", err)
	}

	widths := make([]int, len(models.RecordColumns))
	header := make([]any, len(models.RecordColumns))
	for i, col := range models.RecordColumns {
		header[i] = col
		widths[i] = utf8.RuneCountInString(col)
	}
	if err := f.SetSheetRow(recordsSheet, "A1", &header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	lastCol, _ := excelize.ColumnNumberToName(len(header))
	if err := f.SetCellStyle(recordsSheet, "A1", lastCol+"1", headerStyle); err != nil {
		return err
	}

	for i, rec := range records {
		if i%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		row := Row(rec)
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(recordsSheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i+2, err)
		}
		for j, v := range row {
			if v == nil {
				continue
			}
			widths[j] = max(widths[j], utf8.RuneCountInString(fmt.Sprint(v)))
		}
	}

	for j, col := range models.RecordColumns {
		name, _ := excelize.ColumnNumberToName(j + 1)
		if priceColumns[col] && len(records) > 0 {
			if err := f.SetCellStyle(recordsSheet, name+"2", fmt.Sprintf("%s%d", name, len(records)+1), priceStyle); err != nil {
				return err
			}
		}
		if err := f.SetColWidth(recordsSheet, name, name, float64(min(widths[j]+2, maxColWidth))); err != nil {
			return err
		}
	}
	if err := f.SetPanes(recordsSheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		return err
	}

	if err := writeRunSheet(f, run); err != nil {
		return err
	}

	if err := f.SaveAs(filename); err != nil {
		return fmt.Errorf("failed to save Excel file %s: %w", filename, err)
	}
	log.Printf("Exported %d records to %s", len(records), filename)
	return nil
}

func writeRunSheet(f *excelize.File, run models.RunSummary) error {
	if _, err := f.NewSheet(runSheet); err != nil {
		return fmt.Errorf("failed to create run sheet: %w", err)
	}
	rows := [][]any{
		{"run_id", run.ID},
		{"state", run.State},
		{"started_at", run.StartedAt.UTC().Format("2006-01-02 15:04:05")},
		{"finished_at", run.FinishedAt.UTC().Format("2006-01-02 15:04:05")},
		{"records", run.Records},
		{"unmatched", run.Unmatched},
		{"fallback_filled", run.FallbackFilled},
		{"failed_sources", strings.Join(run.FailedSources, "; ")},
	}
	for i, r := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(runSheet, cell, &r); err != nil {
			return err
		}
	}
	return f.SetColWidth(runSheet, "A", "B", 30)
}

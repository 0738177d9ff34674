package server

import (
	"PriceScraper/internal/database"
	"PriceScraper/internal/models"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"
)

func seededRepo(t *testing.T) *database.DBRepository {
	t.Helper()
	repo, err := database.InitDB(filepath.Join(t.TempDir(), "prices.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { repo.Close() })

	ctx := context.Background()
	old := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	if err := repo.Write(ctx, models.RunSummary{ID: "old", StartedAt: old, State: "DONE"}, []models.CanonicalRecord{
		{GlobalID: 9, Name: "Old", CollectedAt: old},
	}); err != nil {
		t.Fatal(err)
	}

	now := old.Add(24 * time.Hour)
	var records []models.CanonicalRecord
	for i := range 5 {
		rec := models.CanonicalRecord{GlobalID: int64(100 + i), Name: "Item", BrandID: 310, CabinetName: "MAU", CollectedAt: now}
		if i%2 == 0 {
			rec.PriceCard = models.NewPrice(1000, models.ProvenanceCatalog)
		}
		if i == 4 {
			rec.BrandID = 311
		}
		records = append(records, rec)
	}
	if err := repo.Write(ctx, models.RunSummary{ID: "new", StartedAt: now, State: "DONE", Records: 5}, records); err != nil {
		t.Fatal(err)
	}
	return repo
}

func get(t *testing.T, h http.Handler, target string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRecordsHandler(t *testing.T) {
	h := NewRouter(seededRepo(t), "")

	testCases := []struct {
		name      string
		target    string
		wantCode  int
		wantRun   string
		wantIDs   []int64
		wantPages int
		wantTotal int
	}{
		{"latest run paginated", "/records?limit=2&page=2", 200, "new", []int64{102, 103}, 3, 5},
		{"explicit run", "/records?run_id=old", 200, "old", []int64{9}, 1, 1},
		{"brand filter", "/records?brand_id=311", 200, "new", []int64{104}, 1, 1},
		{"missing card", "/records?missing_card=true", 200, "new", []int64{101, 103}, 1, 2},
		{"unknown run", "/records?run_id=nope", 404, "", nil, 0, 0},
		{"bad brand", "/records?brand_id=x", 400, "", nil, 0, 0},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rec := get(t, h, tc.target, nil)
			if rec.Code != tc.wantCode {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tc.wantCode, rec.Body)
			}
			if tc.wantCode != 200 {
				return
			}
			var resp models.RecordsResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatal(err)
			}
			if resp.Run == nil || resp.Run.ID != tc.wantRun {
				t.Errorf("run = %+v, want %s", resp.Run, tc.wantRun)
			}
			var ids []int64
			for _, r := range resp.Data {
				ids = append(ids, r.GlobalID)
			}
			if len(ids) != len(tc.wantIDs) {
				t.Fatalf("ids = %v, want %v", ids, tc.wantIDs)
			}
			for i := range ids {
				if ids[i] != tc.wantIDs[i] {
					t.Errorf("ids = %v, want %v", ids, tc.wantIDs)
					break
				}
			}
			if resp.Pagination.TotalPages != tc.wantPages || resp.Pagination.TotalItems != tc.wantTotal {
				t.Errorf("pagination = %+v", resp.Pagination)
			}
		})
	}
}

func TestRunsHandler(t *testing.T) {
	rec := get(t, NewRouter(seededRepo(t), ""), "/runs", nil)
	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}
	var runs []models.RunSummary
	if err := json.Unmarshal(rec.Body.Bytes(), &runs); err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 || runs[0].ID != "new" {
		t.Errorf("runs = %+v", runs)
	}
}

func TestRecordsWithoutRuns(t *testing.T) {
	repo, err := database.InitDB(filepath.Join(t.TempDir(), "empty.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer repo.Close()
	if rec := get(t, NewRouter(repo, ""), "/records", nil); rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestAPIKey(t *testing.T) {
	h := NewRouter(seededRepo(t), "secret")
	if rec := get(t, h, "/runs", nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("no key: status = %d", rec.Code)
	}
	if rec := get(t, h, "/runs", http.Header{"X-Api-Key": {"secret"}}); rec.Code != http.StatusOK {
		t.Errorf("with key: status = %d", rec.Code)
	}
}

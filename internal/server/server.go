package server

import (
	"PriceScraper/internal/database"
	"PriceScraper/internal/models"
	"PriceScraper/pkg/config"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"
)

const maxLimit = 500

// Store is the read side of the run history.
type Store interface {
	GetRecords(ctx context.Context, filters models.RecordFilters) ([]models.CanonicalRecord, error)
	CountRecords(ctx context.Context, filters models.RecordFilters) (int, error)
	ListRuns(ctx context.Context, limit int) ([]models.RunSummary, error)
	GetRun(ctx context.Context, id string) (*models.RunSummary, error)
	LatestRun(ctx context.Context) (*models.RunSummary, error)
}

// NewRouter registers the read API. A non-empty apiKey is required in X-API-Key.
func NewRouter(repo Store, apiKey string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /records", recordsHandler(repo))
	mux.HandleFunc("GET /runs", runsHandler(repo))
	return requireKey(apiKey, mux)
}

// Start serves the read API until ctx is cancelled.
func Start(ctx context.Context, repo Store, cfg *config.Config) error {
	addr := cfg.Server.Addr
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           NewRouter(repo, cfg.Server.ApiKey),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("Starting API server on %s", addr)
	log.Println("Endpoints: /records, /runs")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func requireKey(apiKey string, next http.Handler) http.Handler {
	if apiKey == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.Header.Get("X-API-Key")
		if subtle.ConstantTimeCompare([]byte(got), []byte(apiKey)) != 1 {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Errorf("Failed to encode response: %v", err)
	}
}

// resolveRun picks the run named by run_id, or the latest one.
func resolveRun(ctx context.Context, repo Store, runID string) (*models.RunSummary, error) {
	if runID == "" {
		return repo.LatestRun(ctx)
	}
	return repo.GetRun(ctx, runID)
}

func recordsHandler(repo Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// 1. Parse Pagination Parameters
		queryParams := r.URL.Query()
		page, _ := strconv.Atoi(queryParams.Get("page"))
		if page < 1 {
			page = 1
		}
		limit, _ := strconv.Atoi(queryParams.Get("limit"))
		if limit < 1 {
			limit = 20 // Default limit
		}
		limit = min(limit, maxLimit)
		offset := (page - 1) * limit

		run, err := resolveRun(r.Context(), repo, queryParams.Get("run_id"))
		if errors.Is(err, database.ErrRunNotFound) {
			http.Error(w, "Run not found", http.StatusNotFound)
			return
		}
		if err != nil {
			log.Errorf("Failed to resolve run: %v", err)
			http.Error(w, "Failed to get run", http.StatusInternalServerError)
			return
		}

		filters := models.RecordFilters{
			RunID:       run.ID,
			CabinetName: queryParams.Get("cabinet"),
			OnlyMissing: queryParams.Get("missing_card") == "true",
		}
		if b := queryParams.Get("brand_id"); b != "" {
			brandID, err := strconv.ParseInt(b, 10, 64)
			if err != nil {
				http.Error(w, "Invalid brand_id", http.StatusBadRequest)
				return
			}
			filters.BrandID = brandID
		}

		// 2. Get Total Count for Pagination
		total, err := repo.CountRecords(r.Context(), filters)
		if err != nil {
			http.Error(w, "Failed to count records", http.StatusInternalServerError)
			return
		}
		totalPages := int(math.Ceil(float64(total) / float64(limit)))

		// 3. Get Paginated Records
		filters.Limit, filters.Offset = limit, offset
		records, err := repo.GetRecords(r.Context(), filters)
		if err != nil {
			http.Error(w, "Failed to get records", http.StatusInternalServerError)
			return
		}
		if records == nil {
			records = []models.CanonicalRecord{}
		}

		writeJSON(w, models.RecordsResponse{
			Run:  run,
			Data: records,
			Pagination: models.Pagination{
				TotalPages:  totalPages,
				CurrentPage: page,
				TotalItems:  total,
			},
		})
	}
}

func runsHandler(repo Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		limit = min(max(limit, 0), maxLimit)
		runs, err := repo.ListRuns(r.Context(), limit)
		if err != nil {
			http.Error(w, "Failed to list runs", http.StatusInternalServerError)
			return
		}
		if runs == nil {
			runs = []models.RunSummary{}
		}
		writeJSON(w, runs)
	}
}

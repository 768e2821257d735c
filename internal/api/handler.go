// internal/api/handler.go
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github-trend-tracker/internal/model"
	"github-trend-tracker/internal/store"
	"github-trend-tracker/internal/trend"
)

// Reader is the read-only store surface the API serves from.
type Reader interface {
	QuerySnapshot(ctx context.Context, date time.Time, mode model.Mode) ([]model.SnapshotEntry, error)
	QueryPrevious(ctx context.Context, date time.Time, mode model.Mode) ([]model.SnapshotEntry, error)
	DetailsByName(ctx context.Context) (map[string]model.RepositoryDetail, error)
	CategoryStats(ctx context.Context, date time.Time, mode model.Mode) ([]store.CategoryStat, error)
	LanguageStats(ctx context.Context, date time.Time, mode model.Mode, limit int) ([]store.LanguageStat, error)
	RepoHistory(ctx context.Context, fullName string, ref time.Time, days int) ([]model.HistoryPoint, error)
	AvailableDates(ctx context.Context, mode model.Mode, limit int) ([]time.Time, error)
}

// Handler is the container for API dependencies.
type Handler struct {
	db     Reader
	trend  trend.Config
	logger *slog.Logger
	now    func() time.Time
}

// NewRouter creates and configures a new chi router with all API routes.
// Trend results are recomputed on read from the persisted snapshots; the
// trend config must match the one the ingestion runs used.
func NewRouter(db Reader, trendCfg trend.Config, logger *slog.Logger) http.Handler {
	h := &Handler{
		db:     db,
		trend:  trendCfg,
		logger: logger,
		now:    time.Now,
	}

	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger) // Chi's default logger
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// API Routes
	r.Get("/health", h.healthCheck)
	r.Route("/v1", func(r chi.Router) {
		r.Get("/dates", h.getDates)
		r.Get("/snapshots/{date}", h.getSnapshot)
		r.Get("/trends/{date}", h.getTrends)
		r.Get("/stats/categories", h.getCategoryStats)
		r.Get("/stats/languages", h.getLanguageStats)
		r.Get("/repos/{owner}/{name}/history", h.getRepoHistory)
	})

	return r
}

// healthCheck is a simple health endpoint.
func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// getDates lists the snapshot dates available for a mode, newest first.
// GET /v1/dates?mode=topic&limit=N
func (h *Handler) getDates(w http.ResponseWriter, r *http.Request) {
	mode := model.ParseMode(r.URL.Query().Get("mode"))
	limit, ok := queryLimit(w, r, 30)
	if !ok {
		return
	}

	dates, err := h.db.AvailableDates(r.Context(), mode, limit)
	if err != nil {
		h.logger.Error("Failed to list dates", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	out := make([]string, 0, len(dates))
	for _, d := range dates {
		out = append(out, d.Format(time.DateOnly))
	}
	respondWithJSON(w, http.StatusOK, out)
}

// getSnapshot returns the ranked snapshot for one date.
// GET /v1/snapshots/{date}?mode=topic
func (h *Handler) getSnapshot(w http.ResponseWriter, r *http.Request) {
	date, ok := pathDate(w, r)
	if !ok {
		return
	}
	mode := model.ParseMode(r.URL.Query().Get("mode"))

	entries, err := h.db.QuerySnapshot(r.Context(), date, mode)
	if err != nil {
		h.logger.Error("Failed to query snapshot", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if len(entries) == 0 {
		respondWithError(w, http.StatusNotFound, "No snapshot for that date")
		return
	}

	respondWithJSON(w, http.StatusOK, entries)
}

// getTrends recomputes the trend result for one date from the stored
// snapshot, its predecessor and the detail dimension.
// GET /v1/trends/{date}?mode=topic
func (h *Handler) getTrends(w http.ResponseWriter, r *http.Request) {
	date, ok := pathDate(w, r)
	if !ok {
		return
	}
	mode := model.ParseMode(r.URL.Query().Get("mode"))

	today, err := h.db.QuerySnapshot(r.Context(), date, mode)
	if err != nil {
		h.logger.Error("Failed to query snapshot", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if len(today) == 0 {
		respondWithError(w, http.StatusNotFound, "No snapshot for that date")
		return
	}

	previous, err := h.db.QueryPrevious(r.Context(), date, mode)
	if err != nil {
		h.logger.Error("Failed to query previous snapshot", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	details, err := h.db.DetailsByName(r.Context())
	if err != nil {
		h.logger.Error("Failed to load details", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	result := trend.Analyze(date, mode, today, previous, details, h.trend)
	respondWithJSON(w, http.StatusOK, result)
}

// getCategoryStats returns the category distribution of one snapshot.
// GET /v1/stats/categories?date=YYYY-MM-DD&mode=topic
func (h *Handler) getCategoryStats(w http.ResponseWriter, r *http.Request) {
	date, ok := queryDate(w, r)
	if !ok {
		return
	}
	mode := model.ParseMode(r.URL.Query().Get("mode"))

	stats, err := h.db.CategoryStats(r.Context(), date, mode)
	if err != nil {
		h.logger.Error("Failed to compute category stats", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	respondWithJSON(w, http.StatusOK, stats)
}

// getLanguageStats returns the language distribution of one snapshot.
// GET /v1/stats/languages?date=YYYY-MM-DD&mode=topic&limit=N
func (h *Handler) getLanguageStats(w http.ResponseWriter, r *http.Request) {
	date, ok := queryDate(w, r)
	if !ok {
		return
	}
	mode := model.ParseMode(r.URL.Query().Get("mode"))
	limit, ok := queryLimit(w, r, 20)
	if !ok {
		return
	}

	stats, err := h.db.LanguageStats(r.Context(), date, mode, limit)
	if err != nil {
		h.logger.Error("Failed to compute language stats", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	respondWithJSON(w, http.StatusOK, stats)
}

// getRepoHistory returns a repository's observation history, oldest first.
// GET /v1/repos/{owner}/{name}/history?days=N
func (h *Handler) getRepoHistory(w http.ResponseWriter, r *http.Request) {
	fullName := chi.URLParam(r, "owner") + "/" + chi.URLParam(r, "name")

	days := 30
	if daysStr := r.URL.Query().Get("days"); daysStr != "" {
		var err error
		days, err = strconv.Atoi(daysStr)
		if err != nil || days <= 0 || days > 365 {
			respondWithError(w, http.StatusBadRequest, "Invalid 'days' parameter. Must be an integer between 1 and 365.")
			return
		}
	}

	points, err := h.db.RepoHistory(r.Context(), fullName, h.now().UTC(), days)
	if err != nil {
		h.logger.Error("Failed to query history", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if len(points) == 0 {
		respondWithError(w, http.StatusNotFound, "No history for that repository")
		return
	}

	respondWithJSON(w, http.StatusOK, points)
}

func pathDate(w http.ResponseWriter, r *http.Request) (time.Time, bool) {
	return parseDate(w, chi.URLParam(r, "date"))
}

func queryDate(w http.ResponseWriter, r *http.Request) (time.Time, bool) {
	return parseDate(w, r.URL.Query().Get("date"))
}

func parseDate(w http.ResponseWriter, raw string) (time.Time, bool) {
	date, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid 'date'. Expected YYYY-MM-DD.")
		return time.Time{}, false
	}
	return date, true
}

func queryLimit(w http.ResponseWriter, r *http.Request, def int) (int, bool) {
	limitStr := r.URL.Query().Get("limit")
	if limitStr == "" {
		return def, true
	}
	limit, err := strconv.Atoi(limitStr)
	if err != nil || limit <= 0 || limit > 100 {
		respondWithError(w, http.StatusBadRequest, "Invalid 'limit' parameter. Must be an integer between 1 and 100.")
		return 0, false
	}
	return limit, true
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

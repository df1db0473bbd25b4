package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"sjsage522/grailworker/internal/crawler"
	"sjsage522/grailworker/logger"
	"sjsage522/grailworker/services/metrics"
	"sjsage522/grailworker/services/worker"
)

const (
	defaultScrapeLimit = 20
	maxScrapeLimit     = 100
)

// Scraper is the worker surface the handlers use
type Scraper interface {
	Status() worker.Status
	TriggerRefresh() worker.RefreshResult
	ScrapeOnce(ctx context.Context, q crawler.SearchQuery, limit int) ([]crawler.Listing, error)
}

// Catalog is the read side of the listing catalog
type Catalog interface {
	Items() []crawler.Listing
	Random() (crawler.Listing, bool)
}

// Handler serves the game's JSON API
type Handler struct {
	catalog Catalog
	scraper Scraper
	log     *logger.Logger
}

// NewHandler creates the API handler
func NewHandler(cat Catalog, scraper Scraper) *Handler {
	return &Handler{
		catalog: cat,
		scraper: scraper,
		log:     logger.ForAPI(),
	}
}

// Router registers every route on a new mux router
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(h.logRequests, cors)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/items", h.HandleItems).Methods(http.MethodGet)
	api.HandleFunc("/random-item", h.HandleRandomItem).Methods(http.MethodGet)
	api.HandleFunc("/status", h.HandleStatus).Methods(http.MethodGet)
	api.HandleFunc("/refresh", h.HandleRefresh).Methods(http.MethodPost)
	api.HandleFunc("/scrape", h.HandleScrape).Methods(http.MethodPost)
	api.HandleFunc("/health", h.HandleHealth).Methods(http.MethodGet)
	api.PathPrefix("/").Methods(http.MethodOptions).HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	return r
}

type itemsResponse struct {
	Success bool              `json:"success"`
	Items   []crawler.Listing `json:"items"`
	Count   int               `json:"count"`
	Status  *worker.Status    `json:"status,omitempty"`
}

type randomItemResponse struct {
	Success bool             `json:"success"`
	Item    *crawler.Listing `json:"item,omitempty"`
	Message string           `json:"message,omitempty"`
	Status  worker.Status    `json:"status"`
}

type statusResponse struct {
	Success bool `json:"success"`
	worker.Status
}

type messageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type errorResponse struct {
	Success bool              `json:"success"`
	Error   string            `json:"error"`
	Items   []crawler.Listing `json:"items,omitempty"`
}

// HandleItems returns the whole catalog
func (h *Handler) HandleItems(w http.ResponseWriter, r *http.Request) {
	items := h.catalog.Items()
	status := h.scraper.Status()
	writeJSON(w, http.StatusOK, itemsResponse{
		Success: true,
		Items:   items,
		Count:   len(items),
		Status:  &status,
	})
}

// HandleRandomItem returns one listing for a game round
func (h *Handler) HandleRandomItem(w http.ResponseWriter, r *http.Request) {
	status := h.scraper.Status()
	item, ok := h.catalog.Random()
	if !ok {
		writeJSON(w, http.StatusOK, randomItemResponse{
			Success: false,
			Message: "No items available",
			Status:  status,
		})
		return
	}
	writeJSON(w, http.StatusOK, randomItemResponse{Success: true, Item: &item, Status: status})
}

// HandleStatus reports catalog and scraper state
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{Success: true, Status: h.scraper.Status()})
}

// HandleRefresh starts a background scrape cycle
func (h *Handler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	switch h.scraper.TriggerRefresh() {
	case worker.RefreshAlreadyRunning:
		writeJSON(w, http.StatusOK, messageResponse{Success: false, Message: "Scraping already in progress"})
	case worker.RefreshStopped:
		writeJSON(w, http.StatusServiceUnavailable, messageResponse{Success: false, Message: "Scraper is shutting down"})
	default:
		writeJSON(w, http.StatusOK, messageResponse{Success: true, Message: "Refresh started"})
	}
}

type scrapeRequest struct {
	SearchQuery string `json:"searchQuery"`
	Category    string `json:"category"`
	PriceRange  struct {
		Min looseString `json:"min"`
		Max looseString `json:"max"`
	} `json:"priceRange"`
	Limit int `json:"limit"`
}

// HandleScrape runs an ad-hoc search that is returned but not stored
func (h *Handler) HandleScrape(w http.ResponseWriter, r *http.Request) {
	var req scrapeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Success: false, Error: "invalid request body: " + err.Error()})
		return
	}

	limit := req.Limit
	if limit <= 0 {
		limit = defaultScrapeLimit
	}
	if limit > maxScrapeLimit {
		limit = maxScrapeLimit
	}

	q := crawler.SearchQuery{
		Term:     req.SearchQuery,
		Category: req.Category,
		MinPrice: string(req.PriceRange.Min),
		MaxPrice: string(req.PriceRange.Max),
	}
	h.log.Info().
		Str("query", q.Term).
		Str("category", q.Category).
		Int("limit", limit).
		Msg("Ad-hoc scrape")

	items, err := h.scraper.ScrapeOnce(r.Context(), q, limit)
	if err != nil {
		h.log.LogError("scrape", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{
			Success: false,
			Error:   err.Error(),
			Items:   []crawler.Listing{},
		})
		return
	}
	writeJSON(w, http.StatusOK, itemsResponse{Success: true, Items: items, Count: len(items)})
}

// HandleHealth is the liveness probe
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "OK",
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	})
}

// looseString accepts a JSON string, number or null
type looseString string

func (s *looseString) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	switch {
	case raw == "null":
		*s = ""
	case strings.HasPrefix(raw, `"`):
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = looseString(strings.TrimSpace(v))
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return err
		}
		*s = looseString(n.String())
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.ForAPI().LogError("encode", err)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		h.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("took", time.Since(start)).
			Msg("Request")
	})
}

// cors lets the browser game call the API from another origin
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		next.ServeHTTP(w, r)
	})
}

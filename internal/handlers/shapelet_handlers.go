package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"air-shapelets/internal/repository"
	"air-shapelets/internal/services"
	"air-shapelets/pkg/logging"
	"air-shapelets/pkg/metrics"
)

// RequestIDHeader carries the request correlation id in and out
const RequestIDHeader = "X-Request-ID"

// ShapeletHandler handles shapelet API endpoints
type ShapeletHandler struct {
	lookup  *services.LookupService
	logger  logging.Logger
	metrics *metrics.Collector
}

// NewShapeletHandler creates a new shapelet handler
func NewShapeletHandler(lookup *services.LookupService, logger logging.Logger, metricsCollector *metrics.Collector) *ShapeletHandler {
	return &ShapeletHandler{
		lookup:  lookup,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// PaginatedResponse represents a paginated API response
type PaginatedResponse struct {
	Data       interface{} `json:"data"`
	Total      int         `json:"total"`
	Page       int         `json:"page"`
	Limit      int         `json:"limit"`
	TotalPages int         `json:"total_pages"`
}

// ListResponse wraps an unpaginated list
type ListResponse struct {
	Data  interface{} `json:"data"`
	Count int         `json:"count"`
}

// GetShapelets handles GET /api/shapelets
func (h *ShapeletHandler) GetShapelets(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	defer h.observe("/api/shapelets", time.Now())

	page, limit := parsePagination(r)
	filter := repository.ShapeletFilter{
		Limit:  limit,
		Offset: (page - 1) * limit,
	}

	query := r.URL.Query()
	if siteKey := query.Get("site_key"); siteKey != "" {
		filter.SiteKey = &siteKey
	}
	if code := query.Get("parameter_code"); code != "" {
		filter.ParameterCode = &code
	}
	if yearStr := query.Get("year"); yearStr != "" {
		year, err := strconv.Atoi(yearStr)
		if err != nil || year < 1900 || year > 2100 {
			h.sendError(w, r, "invalid year, expected a four digit integer", http.StatusBadRequest)
			return
		}
		filter.Year = &year
	}

	shapelets, total, err := h.lookup.GetShapelets(ctx, filter)
	if err != nil {
		h.logger.Error(ctx, "[API_GET_SHAPELETS_ERROR] Failed to get shapelets", logging.Fields{
			"filter": filter,
		}, err)
		h.metrics.RecordAPIError("internal_error", "/api/shapelets")
		h.sendError(w, r, "failed to retrieve shapelets", http.StatusInternalServerError)
		return
	}

	h.metrics.RecordAPIRequest("/api/shapelets", "GET", "200")
	h.sendJSON(w, PaginatedResponse{
		Data:       shapelets,
		Total:      total,
		Page:       page,
		Limit:      limit,
		TotalPages: (total + limit - 1) / limit,
	}, http.StatusOK)
}

// GetSites handles GET /api/sites
func (h *ShapeletHandler) GetSites(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	defer h.observe("/api/sites", time.Now())

	page, limit := parsePagination(r)
	sites, err := h.lookup.GetSites(ctx, limit, (page-1)*limit)
	if err != nil {
		h.logger.Error(ctx, "[API_GET_SITES_ERROR] Failed to get sites", logging.Fields{}, err)
		h.metrics.RecordAPIError("internal_error", "/api/sites")
		h.sendError(w, r, "failed to retrieve sites", http.StatusInternalServerError)
		return
	}

	h.metrics.RecordAPIRequest("/api/sites", "GET", "200")
	h.sendJSON(w, ListResponse{Data: sites, Count: len(sites)}, http.StatusOK)
}

// GetPollutants handles GET /api/pollutants
func (h *ShapeletHandler) GetPollutants(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	defer h.observe("/api/pollutants", time.Now())

	pollutants, err := h.lookup.GetPollutants(ctx)
	if err != nil {
		h.logger.Error(ctx, "[API_GET_POLLUTANTS_ERROR] Failed to get pollutants", logging.Fields{}, err)
		h.metrics.RecordAPIError("internal_error", "/api/pollutants")
		h.sendError(w, r, "failed to retrieve pollutants", http.StatusInternalServerError)
		return
	}

	h.metrics.RecordAPIRequest("/api/pollutants", "GET", "200")
	h.sendJSON(w, ListResponse{Data: pollutants, Count: len(pollutants)}, http.StatusOK)
}

// GetRuns handles GET /api/runs
func (h *ShapeletHandler) GetRuns(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	defer h.observe("/api/runs", time.Now())

	page, limit := parsePagination(r)
	runs, err := h.lookup.GetRuns(ctx, limit, (page-1)*limit)
	if err != nil {
		h.logger.Error(ctx, "[API_GET_RUNS_ERROR] Failed to get ingestion runs", logging.Fields{}, err)
		h.metrics.RecordAPIError("internal_error", "/api/runs")
		h.sendError(w, r, "failed to retrieve ingestion runs", http.StatusInternalServerError)
		return
	}

	h.metrics.RecordAPIRequest("/api/runs", "GET", "200")
	h.sendJSON(w, ListResponse{Data: runs, Count: len(runs)}, http.StatusOK)
}

// GetRun handles GET /api/runs/{id}
func (h *ShapeletHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	defer h.observe("/api/runs/{id}", time.Now())

	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		h.sendError(w, r, "invalid run id", http.StatusBadRequest)
		return
	}

	run, err := h.lookup.GetRun(ctx, id)
	if err != nil {
		var notFound *repository.NotFoundError
		if errors.As(err, &notFound) {
			h.sendError(w, r, notFound.Error(), http.StatusNotFound)
			return
		}
		h.logger.Error(ctx, "[API_GET_RUN_ERROR] Failed to get ingestion run", logging.Fields{
			"run_db_id": id,
		}, err)
		h.metrics.RecordAPIError("internal_error", "/api/runs/{id}")
		h.sendError(w, r, "failed to retrieve ingestion run", http.StatusInternalServerError)
		return
	}

	h.metrics.RecordAPIRequest("/api/runs/{id}", "GET", "200")
	h.sendJSON(w, run, http.StatusOK)
}

// GetSummary handles GET /api/summary
func (h *ShapeletHandler) GetSummary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	defer h.observe("/api/summary", time.Now())

	summary, err := h.lookup.GetSummary(ctx)
	if err != nil {
		h.metrics.RecordAPIError("internal_error", "/api/summary")
		h.sendError(w, r, "failed to summarize shapelets", http.StatusInternalServerError)
		return
	}

	h.metrics.RecordAPIRequest("/api/summary", "GET", "200")
	h.sendJSON(w, summary, http.StatusOK)
}

// HealthCheck handles GET /health
func (h *ShapeletHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	status := map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}

	if err := h.lookup.HealthCheck(ctx); err != nil {
		h.logger.Warn(ctx, "[HEALTH_CHECK] Database unreachable", logging.Fields{
			"error": err.Error(),
		})
		status["status"] = "unhealthy"
		h.sendJSON(w, status, http.StatusServiceUnavailable)
		return
	}

	h.logger.Debug(ctx, "[HEALTH_CHECK] Health check requested", logging.Fields{})
	h.sendJSON(w, status, http.StatusOK)
}

// RequestID tags each request context with an id, reusing the caller's header when set
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(logging.WithRequestID(r.Context(), id)))
	})
}

// observe records the request duration for endpoint
func (h *ShapeletHandler) observe(endpoint string, startTime time.Time) {
	h.metrics.APIRequestDuration.WithLabelValues(endpoint).Observe(time.Since(startTime).Seconds())
}

// parsePagination reads page and limit, falling back to page 1 of 100
func parsePagination(r *http.Request) (page, limit int) {
	page, limit = 1, 100

	if p, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && p > 0 {
		page = p
	}
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 && l <= services.MaxPageSize {
		limit = l
	}
	return page, limit
}

// sendJSON sends a JSON response
func (h *ShapeletHandler) sendJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// sendError sends an error response
func (h *ShapeletHandler) sendError(w http.ResponseWriter, r *http.Request, message string, statusCode int) {
	h.metrics.RecordAPIRequest(r.URL.Path, r.Method, strconv.Itoa(statusCode))

	response := ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	}

	h.sendJSON(w, response, statusCode)
}

// RegisterRoutes registers all shapelet API routes
func (h *ShapeletHandler) RegisterRoutes(router *mux.Router) {
	router.Use(RequestID)
	router.HandleFunc("/api/shapelets", h.GetShapelets).Methods("GET")
	router.HandleFunc("/api/sites", h.GetSites).Methods("GET")
	router.HandleFunc("/api/pollutants", h.GetPollutants).Methods("GET")
	router.HandleFunc("/api/runs", h.GetRuns).Methods("GET")
	router.HandleFunc("/api/runs/{id:[0-9]+}", h.GetRun).Methods("GET")
	router.HandleFunc("/api/summary", h.GetSummary).Methods("GET")
	router.HandleFunc("/health", h.HealthCheck).Methods("GET")
	router.HandleFunc("/api/docs/openapi.json", OpenAPISpec).Methods("GET")
	router.HandleFunc("/api/docs", SwaggerUI).Methods("GET")
}

package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"

	"meteo-platform/internal/models"
	"meteo-platform/internal/repository"
	"meteo-platform/internal/services"
	"meteo-platform/pkg/logging"
	"meteo-platform/pkg/metrics"
)

var validate = validator.New()

// WeatherHandler handles barometer and SODAR API endpoints
type WeatherHandler struct {
	weatherService *services.WeatherService
	statsService   *services.StatisticsService
	logger         *logging.StructuredLogger
	metrics        *metrics.Collector
}

// NewWeatherHandler creates a new weather handler
func NewWeatherHandler(
	weatherService *services.WeatherService,
	statsService *services.StatisticsService,
	logger *logging.StructuredLogger,
	metricsCollector *metrics.Collector,
) *WeatherHandler {
	return &WeatherHandler{
		weatherService: weatherService,
		statsService:   statsService,
		logger:         logger,
		metrics:        metricsCollector,
	}
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// DataResponse wraps a list payload
type DataResponse struct {
	Data interface{} `json:"data"`
}

// PressureSummary is the wire form of a pressure summary
type PressureSummary struct {
	Date        string   `json:"date,omitempty"`
	MinPressure *float64 `json:"min_pressure"`
	MaxPressure *float64 `json:"max_pressure"`
	AvgPressure *float64 `json:"avg_pressure"`
	Count       *int     `json:"count,omitempty"`
}

// PressureDataResponse is the payload of GET /api/barometer/data
type PressureDataResponse struct {
	Data    []models.Reading `json:"data"`
	Summary PressureSummary  `json:"summary"`
}

// ProfileResponse is the payload of GET /api/sodar/profile
type ProfileResponse struct {
	Date string                 `json:"date"`
	Data []models.HeightProfile `json:"data"`
}

// dateQuery holds the optional date filter shared by most endpoints
type dateQuery struct {
	Date string `validate:"omitempty,datetime=2006-01-02"`
}

// requiredDateQuery is dateQuery for endpoints that need a day
type requiredDateQuery struct {
	Date string `validate:"required,datetime=2006-01-02"`
}

// parseDate validates the date query parameter. A nil time means no filter.
func parseDate(r *http.Request, required bool) (*time.Time, error) {
	raw := r.URL.Query().Get("date")

	var err error
	if required {
		err = validate.Struct(requiredDateQuery{Date: raw})
	} else {
		err = validate.Struct(dateQuery{Date: raw})
	}
	if err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 && verrs[0].Tag() == "required" {
			return nil, &models.ValidationError{Field: "date", Message: "date query parameter is required"}
		}
		return nil, &models.ValidationError{Field: "date", Value: raw, Message: "invalid date format, expected YYYY-MM-DD"}
	}

	if raw == "" {
		return nil, nil
	}
	d, err := models.ParseDate("date", raw)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func toPressureSummary(s models.DailySummary, withDate bool) PressureSummary {
	out := PressureSummary{
		MinPressure: s.Min,
		MaxPressure: s.Max,
		AvgPressure: s.Avg,
	}
	if withDate {
		count := s.Count
		out.Date = s.Date
		out.Count = &count
	}
	return out
}

// GetPressureData handles GET /api/barometer/data
func (h *WeatherHandler) GetPressureData(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	defer func() {
		h.metrics.APIRequestDuration.WithLabelValues("/api/barometer/data").Observe(time.Since(startTime).Seconds())
	}()

	date, err := parseDate(r, false)
	if err != nil {
		h.sendError(w, r, err.Error(), http.StatusBadRequest)
		return
	}

	data, err := h.weatherService.Pressure(ctx, date)
	if err != nil {
		h.logger.Error(ctx, "[API_GET_PRESSURE_ERROR] Failed to get pressure readings", logging.Fields{
			"date": r.URL.Query().Get("date"),
		}, err)
		h.metrics.RecordAPIError("internal_error", "/api/barometer/data")
		h.sendError(w, r, "failed to retrieve pressure readings", http.StatusInternalServerError)
		return
	}

	readings := data.Readings
	if readings == nil {
		readings = []models.Reading{}
	}

	h.metrics.RecordAPIRequest("/api/barometer/data", "GET", "200")
	h.sendJSON(w, PressureDataResponse{
		Data:    readings,
		Summary: toPressureSummary(data.Summary, false),
	}, http.StatusOK)
}

// GetPressureSummary handles GET /api/barometer/summary
func (h *WeatherHandler) GetPressureSummary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	defer func() {
		h.metrics.APIRequestDuration.WithLabelValues("/api/barometer/summary").Observe(time.Since(startTime).Seconds())
	}()

	date, err := parseDate(r, false)
	if err != nil {
		h.sendError(w, r, err.Error(), http.StatusBadRequest)
		return
	}

	summaries, err := h.statsService.PressureSummaries(ctx, date)
	if err != nil {
		h.logger.Error(ctx, "[API_GET_PRESSURE_SUMMARY_ERROR] Failed to summarize pressure", logging.Fields{
			"date": r.URL.Query().Get("date"),
		}, err)
		h.metrics.RecordAPIError("internal_error", "/api/barometer/summary")
		h.sendError(w, r, "failed to compute pressure summary", http.StatusInternalServerError)
		return
	}

	out := make([]PressureSummary, 0, len(summaries))
	for _, s := range summaries {
		out = append(out, toPressureSummary(s, true))
	}

	h.metrics.RecordAPIRequest("/api/barometer/summary", "GET", "200")
	h.sendJSON(w, DataResponse{Data: out}, http.StatusOK)
}

// GetLatestPressure handles GET /api/barometer/latest
func (h *WeatherHandler) GetLatestPressure(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	defer func() {
		h.metrics.APIRequestDuration.WithLabelValues("/api/barometer/latest").Observe(time.Since(startTime).Seconds())
	}()

	reading, err := h.weatherService.LatestPressure(ctx)
	if err != nil {
		var notFound *repository.NotFoundError
		if errors.As(err, &notFound) {
			h.sendError(w, r, "no pressure readings stored", http.StatusNotFound)
			return
		}
		h.logger.Error(ctx, "[API_GET_LATEST_ERROR] Failed to get latest reading", logging.Fields{}, err)
		h.metrics.RecordAPIError("internal_error", "/api/barometer/latest")
		h.sendError(w, r, "failed to retrieve latest reading", http.StatusInternalServerError)
		return
	}

	h.metrics.RecordAPIRequest("/api/barometer/latest", "GET", "200")
	h.sendJSON(w, reading, http.StatusOK)
}

// GetWindData handles GET /api/sodar/data
func (h *WeatherHandler) GetWindData(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	defer func() {
		h.metrics.APIRequestDuration.WithLabelValues("/api/sodar/data").Observe(time.Since(startTime).Seconds())
	}()

	date, err := parseDate(r, false)
	if err != nil {
		h.sendError(w, r, err.Error(), http.StatusBadRequest)
		return
	}

	samples, err := h.weatherService.Wind(ctx, date)
	if err != nil {
		h.logger.Error(ctx, "[API_GET_WIND_ERROR] Failed to get wind samples", logging.Fields{
			"date": r.URL.Query().Get("date"),
		}, err)
		h.metrics.RecordAPIError("internal_error", "/api/sodar/data")
		h.sendError(w, r, "failed to retrieve wind samples", http.StatusInternalServerError)
		return
	}
	if samples == nil {
		samples = []models.WindSample{}
	}

	h.metrics.RecordAPIRequest("/api/sodar/data", "GET", "200")
	h.sendJSON(w, DataResponse{Data: samples}, http.StatusOK)
}

// GetWindSummary handles GET /api/sodar/summary
func (h *WeatherHandler) GetWindSummary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	defer func() {
		h.metrics.APIRequestDuration.WithLabelValues("/api/sodar/summary").Observe(time.Since(startTime).Seconds())
	}()

	date, err := parseDate(r, false)
	if err != nil {
		h.sendError(w, r, err.Error(), http.StatusBadRequest)
		return
	}

	summaries, err := h.statsService.WindSummaries(ctx, date)
	if err != nil {
		h.logger.Error(ctx, "[API_GET_WIND_SUMMARY_ERROR] Failed to summarize wind", logging.Fields{
			"date": r.URL.Query().Get("date"),
		}, err)
		h.metrics.RecordAPIError("internal_error", "/api/sodar/summary")
		h.sendError(w, r, "failed to compute wind summary", http.StatusInternalServerError)
		return
	}
	if summaries == nil {
		summaries = []models.WindDailySummary{}
	}

	h.metrics.RecordAPIRequest("/api/sodar/summary", "GET", "200")
	h.sendJSON(w, DataResponse{Data: summaries}, http.StatusOK)
}

// GetWindProfile handles GET /api/sodar/profile
func (h *WeatherHandler) GetWindProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	defer func() {
		h.metrics.APIRequestDuration.WithLabelValues("/api/sodar/profile").Observe(time.Since(startTime).Seconds())
	}()

	date, err := parseDate(r, true)
	if err != nil {
		h.sendError(w, r, err.Error(), http.StatusBadRequest)
		return
	}

	profile, err := h.statsService.WindProfile(ctx, *date)
	if err != nil {
		h.logger.Error(ctx, "[API_GET_PROFILE_ERROR] Failed to compute wind profile", logging.Fields{
			"date": date.Format(models.DateLayout),
		}, err)
		h.metrics.RecordAPIError("internal_error", "/api/sodar/profile")
		h.sendError(w, r, "failed to compute wind profile", http.StatusInternalServerError)
		return
	}
	if profile == nil {
		profile = []models.HeightProfile{}
	}

	h.metrics.RecordAPIRequest("/api/sodar/profile", "GET", "200")
	h.sendJSON(w, ProfileResponse{Date: date.Format(models.DateLayout), Data: profile}, http.StatusOK)
}

// HealthCheck handles GET /health
func (h *WeatherHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	status := map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}

	if err := h.weatherService.HealthCheck(ctx); err != nil {
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

// sendJSON sends a JSON response
func (h *WeatherHandler) sendJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// sendError sends an error response
func (h *WeatherHandler) sendError(w http.ResponseWriter, r *http.Request, message string, statusCode int) {
	h.metrics.RecordAPIRequest(r.URL.Path, r.Method, strconv.Itoa(statusCode))

	response := ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	}

	h.sendJSON(w, response, statusCode)
}

// RegisterRoutes registers all weather API routes
func (h *WeatherHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/barometer/data", h.GetPressureData).Methods("GET")
	router.HandleFunc("/api/barometer/summary", h.GetPressureSummary).Methods("GET")
	router.HandleFunc("/api/barometer/latest", h.GetLatestPressure).Methods("GET")
	router.HandleFunc("/api/sodar/data", h.GetWindData).Methods("GET")
	router.HandleFunc("/api/sodar/summary", h.GetWindSummary).Methods("GET")
	router.HandleFunc("/api/sodar/profile", h.GetWindProfile).Methods("GET")
	router.HandleFunc("/api/docs", SwaggerUI).Methods("GET")
	router.HandleFunc("/api/docs/openapi.json", OpenAPISpec).Methods("GET")
	router.HandleFunc("/health", h.HealthCheck).Methods("GET")
}

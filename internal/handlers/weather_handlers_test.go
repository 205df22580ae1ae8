package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"

	"meteo-platform/internal/models"
	"meteo-platform/internal/repository"
	"meteo-platform/internal/services"
	"meteo-platform/migrations"
	"meteo-platform/pkg/database"
	"meteo-platform/pkg/logging"
	"meteo-platform/pkg/metrics"
)

type brokenBackend struct{}

func (brokenBackend) Exists(context.Context, models.WindKey) (bool, error) {
	return false, errors.New("backend down")
}

func (brokenBackend) Write(context.Context, models.WindSample) error {
	return errors.New("backend down")
}

func (brokenBackend) Query(context.Context, time.Time, time.Time) ([]models.WindSample, error) {
	return nil, errors.New("backend down")
}

type testServer struct {
	router *mux.Router
	db     *database.DB
}

func newTestServer(t *testing.T, backend repository.WindBackend) *testServer {
	t.Helper()

	logger := logging.NewStructuredLogger("handlers-test", "test", logging.ErrorLevel, logging.FormatJSON)
	logger.SetOutput(io.Discard)
	collector := metrics.NewCollector("handlers_test", prometheus.NewRegistry())

	db, err := database.Open(&database.Config{Driver: database.DriverSQLite, Path: ":memory:"}, logger, collector)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if _, err := migrations.Up(context.Background(), db.DB()); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	pressure := repository.NewPressureRepository(db, logger, collector)
	wind := repository.NewWindRepository(backend, logger, collector)

	ctx := context.Background()
	day := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	pressure.UpsertBatch(ctx, []models.Reading{
		{Timestamp: day, Pressure: 1010},
		{Timestamp: day.Add(8 * time.Hour), Pressure: 1012},
		{Timestamp: day.Add(16 * time.Hour), Pressure: 1014},
		{Timestamp: day.AddDate(0, 0, 1), Pressure: 1000},
	})
	if _, ok := backend.(brokenBackend); !ok {
		wind.UpsertBatch(ctx, []models.WindSample{
			{Timestamp: day.Add(10 * time.Minute), Height: 40, Speed: 2, Direction: 90},
			{Timestamp: day.Add(10 * time.Minute), Height: 60, Speed: 4, Direction: 270},
			{Timestamp: day.Add(20 * time.Minute), Height: 40, Speed: 4, Direction: 90},
		})
	}

	handler := NewWeatherHandler(
		services.NewWeatherService(pressure, wind, logger, collector),
		services.NewStatisticsService(pressure, wind, time.Minute, logger, collector),
		logger,
		collector,
	)

	router := mux.NewRouter()
	router.Use(RequestLogging(logger))
	handler.RegisterRoutes(router)
	return &testServer{router: router, db: db}
}

func (s *testServer) get(t *testing.T, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestGetPressureData(t *testing.T) {
	srv := newTestServer(t, repository.NewMemoryWindBackend())

	rec := srv.get(t, "/api/barometer/data?date=2025-03-01")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	if rec.Header().Get(RequestIDHeader) == "" {
		t.Error("response is missing a request id")
	}

	body := decode[struct {
		Data []struct {
			Datetime time.Time `json:"datetime"`
			Pressure float64   `json:"pressure"`
		} `json:"data"`
		Summary map[string]*float64 `json:"summary"`
	}](t, rec)

	if len(body.Data) != 3 || body.Data[0].Pressure != 1010 {
		t.Errorf("data = %+v", body.Data)
	}
	if avg := body.Summary["avg_pressure"]; avg == nil || *avg != 1012 {
		t.Errorf("summary = %v", body.Summary)
	}
}

func TestGetPressureData_EmptyDay(t *testing.T) {
	srv := newTestServer(t, repository.NewMemoryWindBackend())

	rec := srv.get(t, "/api/barometer/data?date=2024-01-01")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	want := `{"data":[],"summary":{"min_pressure":null,"max_pressure":null,"avg_pressure":null}}`
	if got := strings.TrimSpace(rec.Body.String()); got != want {
		t.Errorf("body = %s, want %s", got, want)
	}
}

func TestDateValidation(t *testing.T) {
	srv := newTestServer(t, repository.NewMemoryWindBackend())

	tests := []struct {
		name    string
		target  string
		message string
	}{
		{"bad format", "/api/barometer/data?date=01-03-2025", "invalid date format, expected YYYY-MM-DD"},
		{"impossible day", "/api/barometer/summary?date=2025-02-30", "invalid date format, expected YYYY-MM-DD"},
		{"sodar data", "/api/sodar/data?date=yesterday", "invalid date format, expected YYYY-MM-DD"},
		{"sodar summary", "/api/sodar/summary?date=2025-13-01", "invalid date format, expected YYYY-MM-DD"},
		{"profile without date", "/api/sodar/profile", "date query parameter is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := srv.get(t, tt.target)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			body := decode[ErrorResponse](t, rec)
			if body.Code != http.StatusBadRequest || body.Error != "Bad Request" || body.Message != tt.message {
				t.Errorf("body = %+v", body)
			}
		})
	}
}

func TestGetPressureSummary(t *testing.T) {
	srv := newTestServer(t, repository.NewMemoryWindBackend())

	rec := srv.get(t, "/api/barometer/summary")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decode[struct {
		Data []PressureSummary `json:"data"`
	}](t, rec)

	if len(body.Data) != 2 {
		t.Fatalf("got %d summaries, want 2", len(body.Data))
	}
	first := body.Data[0]
	if first.Date != "2025-03-01" || *first.MinPressure != 1010 || *first.MaxPressure != 1014 || *first.Count != 3 {
		t.Errorf("first summary = %+v", first)
	}
	if body.Data[1].Date != "2025-03-02" {
		t.Errorf("summaries not ascending: %+v", body.Data)
	}
}

func TestGetLatestPressure(t *testing.T) {
	srv := newTestServer(t, repository.NewMemoryWindBackend())

	rec := srv.get(t, "/api/barometer/latest")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := decode[models.Reading](t, rec); got.Pressure != 1000 {
		t.Errorf("latest = %+v", got)
	}

	if _, err := srv.db.ExecContext(context.Background(), "clear", "DELETE FROM pressure_readings"); err != nil {
		t.Fatal(err)
	}
	if rec := srv.get(t, "/api/barometer/latest"); rec.Code != http.StatusNotFound {
		t.Errorf("empty store status = %d, want 404", rec.Code)
	}
}

func TestSodarEndpoints(t *testing.T) {
	srv := newTestServer(t, repository.NewMemoryWindBackend())

	data := decode[struct {
		Data []models.WindSample `json:"data"`
	}](t, srv.get(t, "/api/sodar/data?date=2025-03-01"))
	if len(data.Data) != 3 || data.Data[0].Height != 40 || data.Data[1].Height != 60 {
		t.Errorf("sodar data = %+v", data.Data)
	}

	summary := decode[struct {
		Data []models.WindDailySummary `json:"data"`
	}](t, srv.get(t, "/api/sodar/summary"))
	if len(summary.Data) != 1 || summary.Data[0].Count != 3 {
		t.Errorf("sodar summary = %+v", summary.Data)
	}

	profile := decode[ProfileResponse](t, srv.get(t, "/api/sodar/profile?date=2025-03-01"))
	if profile.Date != "2025-03-01" || len(profile.Data) != 2 {
		t.Fatalf("profile = %+v", profile)
	}
	if profile.Data[0].Height != 40 || profile.Data[0].AvgSpeed != 3 || profile.Data[0].Samples != 2 {
		t.Errorf("height 40 = %+v", profile.Data[0])
	}
}

func TestPersistenceFailure(t *testing.T) {
	srv := newTestServer(t, brokenBackend{})

	for _, target := range []string{"/api/sodar/data", "/api/sodar/summary", "/api/sodar/profile?date=2025-03-01"} {
		rec := srv.get(t, target)
		if rec.Code != http.StatusInternalServerError {
			t.Errorf("%s status = %d, want 500", target, rec.Code)
			continue
		}
		if body := decode[ErrorResponse](t, rec); body.Code != http.StatusInternalServerError {
			t.Errorf("%s body = %+v", target, body)
		}
	}

	srv.db.Close()
	if rec := srv.get(t, "/api/barometer/data"); rec.Code != http.StatusInternalServerError {
		t.Errorf("closed db status = %d, want 500", rec.Code)
	}
	if rec := srv.get(t, "/health"); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("health with closed db = %d, want 503", rec.Code)
	}
}

func TestHealthAndDocs(t *testing.T) {
	srv := newTestServer(t, repository.NewMemoryWindBackend())

	health := srv.get(t, "/health")
	if health.Code != http.StatusOK || decode[map[string]string](t, health)["status"] != "healthy" {
		t.Errorf("health = %d", health.Code)
	}

	doc := decode[map[string]interface{}](t, srv.get(t, "/api/docs/openapi.json"))
	paths, _ := doc["paths"].(map[string]interface{})
	for _, p := range []string{"/api/barometer/data", "/api/barometer/summary", "/api/sodar/profile"} {
		if _, ok := paths[p]; !ok {
			t.Errorf("openapi document is missing %s", p)
		}
	}

	ui := srv.get(t, "/api/docs")
	if ui.Code != http.StatusOK || !strings.Contains(ui.Body.String(), "Meteo Platform API Documentation") {
		t.Errorf("swagger ui = %d", ui.Code)
	}
}

func TestRequestIDIsPropagated(t *testing.T) {
	srv := newTestServer(t, repository.NewMemoryWindBackend())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "req-42")
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)

	if got := rec.Header().Get(RequestIDHeader); got != "req-42" {
		t.Errorf("request id = %q, want req-42", got)
	}
}

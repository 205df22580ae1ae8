package services

import (
	"context"
	"fmt"
	"time"

	"meteo-platform/internal/aggregate"
	"meteo-platform/internal/models"
	"meteo-platform/internal/repository"
	"meteo-platform/pkg/logging"
	"meteo-platform/pkg/metrics"
)

// PressureData is the raw readings of a query together with their overall summary
type PressureData struct {
	Readings []models.Reading
	Summary  models.DailySummary
}

// WeatherService serves raw readings and samples
type WeatherService struct {
	pressure repository.PressureRepository
	wind     repository.WindRepository
	logger   *logging.StructuredLogger
	metrics  *metrics.Collector
}

// NewWeatherService creates a new weather service
func NewWeatherService(pressure repository.PressureRepository, wind repository.WindRepository, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *WeatherService {
	return &WeatherService{
		pressure: pressure,
		wind:     wind,
		logger:   logger,
		metrics:  metricsCollector,
	}
}

// Pressure retrieves readings, restricted to one day when date is set, and
// summarizes them as a single group
func (s *WeatherService) Pressure(ctx context.Context, date *time.Time) (*PressureData, error) {
	var filter repository.ReadingFilter
	opts := aggregate.Options{GroupBy: aggregate.GroupByNone}
	if date != nil {
		from, to := dayFilter(*date)
		filter = repository.ReadingFilter{From: &from, To: &to}
		opts.Date = &from
	}

	readings, err := s.pressure.Readings(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to get readings: %w", err)
	}

	return &PressureData{
		Readings: readings,
		Summary:  aggregate.Summarize(aggregate.ReadingPoints(readings), opts)[0],
	}, nil
}

// LatestPressure retrieves the most recent reading
func (s *WeatherService) LatestPressure(ctx context.Context) (*models.Reading, error) {
	return s.pressure.Latest(ctx)
}

// Wind retrieves wind samples, restricted to one day when date is set
func (s *WeatherService) Wind(ctx context.Context, date *time.Time) ([]models.WindSample, error) {
	var filter repository.SampleFilter
	if date != nil {
		from, to := dayFilter(*date)
		filter = repository.SampleFilter{From: &from, To: &to}
	}

	samples, err := s.wind.Samples(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to get wind samples: %w", err)
	}
	return samples, nil
}

// HealthCheck checks the relational store
func (s *WeatherService) HealthCheck(ctx context.Context) error {
	return s.pressure.HealthCheck(ctx)
}

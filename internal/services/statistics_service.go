package services

import (
	"context"
	"fmt"
	"time"

	"meteo-platform/internal/aggregate"
	"meteo-platform/internal/cache"
	"meteo-platform/internal/models"
	"meteo-platform/internal/repository"
	"meteo-platform/pkg/logging"
	"meteo-platform/pkg/metrics"
)

const (
	pressureSummaryCache = "pressure_summary"
	windSummaryCache     = "wind_summary"
)

// StatisticsService computes daily summaries. Unfiltered full-history
// summaries are served from a TTL cache; per-date summaries always hit the
// store.
type StatisticsService struct {
	pressure repository.PressureRepository
	wind     repository.WindRepository
	logger   *logging.StructuredLogger
	metrics  *metrics.Collector

	pressureCache *cache.SummaryCache[[]models.DailySummary]
	windCache     *cache.SummaryCache[[]models.WindDailySummary]
}

// NewStatisticsService creates a new statistics service with full-history
// caches living for ttl
func NewStatisticsService(
	pressure repository.PressureRepository,
	wind repository.WindRepository,
	ttl time.Duration,
	logger *logging.StructuredLogger,
	metricsCollector *metrics.Collector,
	opts ...cache.Option,
) *StatisticsService {
	opts = append([]cache.Option{cache.WithObserver(metricsCollector)}, opts...)
	return &StatisticsService{
		pressure:      pressure,
		wind:          wind,
		logger:        logger,
		metrics:       metricsCollector,
		pressureCache: cache.New[[]models.DailySummary](pressureSummaryCache, ttl, opts...),
		windCache:     cache.New[[]models.WindDailySummary](windSummaryCache, ttl, opts...),
	}
}

// dayFilter bounds a store query to one calendar day
func dayFilter(date time.Time) (from, to time.Time) {
	from = models.DayOf(date)
	return from, from.AddDate(0, 0, 1)
}

// PressureSummaries returns daily pressure summaries ascending by date. With a
// date, exactly one summary is returned, with nil statistics when the day has
// no readings.
func (s *StatisticsService) PressureSummaries(ctx context.Context, date *time.Time) ([]models.DailySummary, error) {
	if date != nil {
		from, to := dayFilter(*date)
		readings, err := s.pressure.Readings(ctx, repository.ReadingFilter{From: &from, To: &to})
		if err != nil {
			return nil, fmt.Errorf("failed to load readings for %s: %w", from.Format(models.DateLayout), err)
		}
		return aggregate.Summarize(aggregate.ReadingPoints(readings), aggregate.Options{Date: &from}), nil
	}

	return s.pressureCache.GetOrCompute(ctx, func(ctx context.Context) ([]models.DailySummary, error) {
		timer := s.metrics.NewTimer(s.metrics.SummaryComputeDuration.WithLabelValues(pressureSummaryCache))
		readings, err := s.pressure.Readings(ctx, repository.ReadingFilter{})
		if err != nil {
			return nil, fmt.Errorf("failed to load pressure history: %w", err)
		}
		summaries := aggregate.Summarize(aggregate.ReadingPoints(readings), aggregate.Options{})

		s.logger.Info(ctx, "[STATS_CALC_COMPLETE] Pressure history summarized", logging.Fields{
			"readings":    len(readings),
			"days":        len(summaries),
			"duration_ms": timer.ObserveDuration().Milliseconds(),
		})
		return summaries, nil
	})
}

// WindSummaries returns daily wind summaries ascending by date, with the same
// date semantics as PressureSummaries
func (s *StatisticsService) WindSummaries(ctx context.Context, date *time.Time) ([]models.WindDailySummary, error) {
	if date != nil {
		from, to := dayFilter(*date)
		samples, err := s.wind.Samples(ctx, repository.SampleFilter{From: &from, To: &to})
		if err != nil {
			return nil, fmt.Errorf("failed to load wind samples for %s: %w", from.Format(models.DateLayout), err)
		}
		return aggregate.WindDaily(samples, aggregate.Options{Date: &from}), nil
	}

	return s.windCache.GetOrCompute(ctx, func(ctx context.Context) ([]models.WindDailySummary, error) {
		timer := s.metrics.NewTimer(s.metrics.SummaryComputeDuration.WithLabelValues(windSummaryCache))
		samples, err := s.wind.Samples(ctx, repository.SampleFilter{})
		if err != nil {
			return nil, fmt.Errorf("failed to load wind history: %w", err)
		}
		summaries := aggregate.WindDaily(samples, aggregate.Options{})

		s.logger.Info(ctx, "[STATS_CALC_COMPLETE] Wind history summarized", logging.Fields{
			"samples":     len(samples),
			"days":        len(summaries),
			"duration_ms": timer.ObserveDuration().Milliseconds(),
		})
		return summaries, nil
	})
}

// WindProfile averages one day's wind per height bin
func (s *StatisticsService) WindProfile(ctx context.Context, date time.Time) ([]models.HeightProfile, error) {
	from, to := dayFilter(date)
	samples, err := s.wind.Samples(ctx, repository.SampleFilter{From: &from, To: &to})
	if err != nil {
		return nil, fmt.Errorf("failed to load wind samples for %s: %w", from.Format(models.DateLayout), err)
	}
	return aggregate.Profile(samples, from), nil
}

// InvalidateCaches drops both full-history payloads
func (s *StatisticsService) InvalidateCaches() {
	s.pressureCache.Invalidate()
	s.windCache.Invalidate()
}

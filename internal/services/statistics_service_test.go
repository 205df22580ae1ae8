package services

import (
	"context"
	"testing"
	"time"

	"meteo-platform/internal/cache"
	"meteo-platform/internal/models"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func seedReadings(t *testing.T, env *testEnv, readings ...models.Reading) {
	t.Helper()
	if _, err := env.pressure.UpsertBatch(context.Background(), readings); err != nil {
		t.Fatalf("seed readings: %v", err)
	}
}

func at(date string, hour int) time.Time {
	return day(date).Add(time.Duration(hour) * time.Hour)
}

func TestStatisticsService_PressureSummaryFixture(t *testing.T) {
	env := newTestEnv(t)
	seedReadings(t, env,
		models.Reading{Timestamp: at("2025-03-01", 0), Pressure: 1010},
		models.Reading{Timestamp: at("2025-03-01", 8), Pressure: 1012},
		models.Reading{Timestamp: at("2025-03-01", 16), Pressure: 1014},
		models.Reading{Timestamp: at("2025-03-02", 0), Pressure: 990},
	)
	svc := NewStatisticsService(env.pressure, env.wind, time.Minute, env.logger, env.metrics)

	got, err := svc.PressureSummaries(context.Background(), ptr(day("2025-03-01")))
	if err != nil {
		t.Fatalf("PressureSummaries() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d summaries, want 1", len(got))
	}
	s := got[0]
	if s.Date != "2025-03-01" || !floatEq(s.Min, 1010) || !floatEq(s.Max, 1014) || !floatEq(s.Avg, 1012) || s.Count != 3 {
		t.Errorf("summary = %+v", s)
	}
}

func TestStatisticsService_EmptyDateYieldsNullSummary(t *testing.T) {
	env := newTestEnv(t)
	svc := NewStatisticsService(env.pressure, env.wind, time.Minute, env.logger, env.metrics)

	got, err := svc.PressureSummaries(context.Background(), ptr(day("2025-03-05")))
	if err != nil {
		t.Fatalf("PressureSummaries() error = %v", err)
	}
	if len(got) != 1 || got[0].Date != "2025-03-05" || got[0].Min != nil || got[0].Max != nil || got[0].Avg != nil {
		t.Errorf("summaries = %+v, want one empty summary for 2025-03-05", got)
	}
}

func TestStatisticsService_FullHistoryIsCached(t *testing.T) {
	env := newTestEnv(t)
	seedReadings(t, env,
		models.Reading{Timestamp: at("2025-03-03", 0), Pressure: 3},
		models.Reading{Timestamp: at("2025-03-01", 0), Pressure: 1},
		models.Reading{Timestamp: at("2025-03-02", 0), Pressure: 2},
	)

	clock := &fakeClock{now: time.Date(2025, 3, 4, 0, 0, 0, 0, time.UTC)}
	svc := NewStatisticsService(env.pressure, env.wind, 10*time.Minute, env.logger, env.metrics, cache.WithClock(clock.Now))
	ctx := context.Background()

	first, err := svc.PressureSummaries(ctx, nil)
	if err != nil {
		t.Fatalf("PressureSummaries() error = %v", err)
	}
	wantOrder := []string{"2025-03-01", "2025-03-02", "2025-03-03"}
	if len(first) != len(wantOrder) {
		t.Fatalf("got %d summaries, want %d", len(first), len(wantOrder))
	}
	for i, w := range wantOrder {
		if first[i].Date != w {
			t.Errorf("summary[%d].Date = %s, want %s", i, first[i].Date, w)
		}
	}

	seedReadings(t, env, models.Reading{Timestamp: at("2025-03-04", 0), Pressure: 4})

	clock.now = clock.now.Add(9 * time.Minute)
	cached, _ := svc.PressureSummaries(ctx, nil)
	if len(cached) != 3 {
		t.Errorf("within TTL got %d summaries, want the cached 3", len(cached))
	}

	clock.now = clock.now.Add(time.Minute)
	fresh, _ := svc.PressureSummaries(ctx, nil)
	if len(fresh) != 4 {
		t.Errorf("after TTL got %d summaries, want 4", len(fresh))
	}

	// a date filter bypasses the cache
	seedReadings(t, env, models.Reading{Timestamp: at("2025-03-05", 0), Pressure: 5})
	dated, _ := svc.PressureSummaries(ctx, ptr(day("2025-03-05")))
	if !floatEq(dated[0].Avg, 5) {
		t.Errorf("dated summary = %+v", dated[0])
	}

	svc.InvalidateCaches()
	invalidated, _ := svc.PressureSummaries(ctx, nil)
	if len(invalidated) != 5 {
		t.Errorf("after invalidation got %d summaries, want 5", len(invalidated))
	}
}

func TestStatisticsService_Wind(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.wind.UpsertBatch(ctx, []models.WindSample{
		{Timestamp: at("2025-04-17", 0), Height: 40, Speed: 2, Direction: 90},
		{Timestamp: at("2025-04-17", 1), Height: 40, Speed: 4, Direction: 450},
		{Timestamp: at("2025-04-17", 1), Height: 60, Speed: 6, Direction: 270},
		{Timestamp: at("2025-04-18", 0), Height: 40, Speed: 1, Direction: 0},
	})
	svc := NewStatisticsService(env.pressure, env.wind, time.Minute, env.logger, env.metrics)

	all, err := svc.WindSummaries(ctx, nil)
	if err != nil {
		t.Fatalf("WindSummaries() error = %v", err)
	}
	if len(all) != 2 || all[0].Date != "2025-04-17" {
		t.Fatalf("WindSummaries() = %+v", all)
	}
	s := all[0]
	if !floatEq(s.MinSpeed, 2) || !floatEq(s.MaxSpeed, 6) || !floatEq(s.AvgSpeed, 4) || !floatEq(s.AvgDirection, 180) || s.Count != 3 {
		t.Errorf("2025-04-17 summary = %+v", s)
	}

	empty, err := svc.WindSummaries(ctx, ptr(day("2025-04-20")))
	if err != nil {
		t.Fatalf("WindSummaries() error = %v", err)
	}
	if len(empty) != 1 || empty[0].AvgSpeed != nil || empty[0].AvgDirection != nil {
		t.Errorf("empty day = %+v", empty)
	}

	profile, err := svc.WindProfile(ctx, day("2025-04-17"))
	if err != nil {
		t.Fatalf("WindProfile() error = %v", err)
	}
	if len(profile) != 2 || profile[0].Height != 40 || profile[0].AvgSpeed != 3 || profile[0].Samples != 2 {
		t.Fatalf("profile = %+v", profile)
	}
	if !floatEq(profile[0].AvgDirection, 90) {
		t.Errorf("height 40 avg direction = %v, want 90 (out-of-range bearing excluded)", profile[0].AvgDirection)
	}
}

func TestWeatherService(t *testing.T) {
	env := newTestEnv(t)
	seedReadings(t, env,
		models.Reading{Timestamp: at("2025-03-01", 0), Pressure: 1010},
		models.Reading{Timestamp: at("2025-03-01", 1), Pressure: 1014},
		models.Reading{Timestamp: at("2025-03-02", 0), Pressure: 1000},
	)
	svc := NewWeatherService(env.pressure, env.wind, env.logger, env.metrics)
	ctx := context.Background()

	data, err := svc.Pressure(ctx, ptr(day("2025-03-01")))
	if err != nil {
		t.Fatalf("Pressure() error = %v", err)
	}
	if len(data.Readings) != 2 || !floatEq(data.Summary.Avg, 1012) || data.Summary.Date != "2025-03-01" {
		t.Errorf("Pressure(2025-03-01) = %+v", data)
	}

	all, err := svc.Pressure(ctx, nil)
	if err != nil {
		t.Fatalf("Pressure() error = %v", err)
	}
	if len(all.Readings) != 3 || !floatEq(all.Summary.Min, 1000) || !floatEq(all.Summary.Max, 1014) {
		t.Errorf("Pressure(nil) summary = %+v", all.Summary)
	}

	none, err := svc.Pressure(ctx, ptr(day("2025-01-01")))
	if err != nil {
		t.Fatalf("Pressure() error = %v", err)
	}
	if len(none.Readings) != 0 || none.Summary.Avg != nil {
		t.Errorf("Pressure(empty day) = %+v", none)
	}

	latest, err := svc.LatestPressure(ctx)
	if err != nil || latest.Pressure != 1000 {
		t.Errorf("LatestPressure() = %+v, %v", latest, err)
	}

	if err := svc.HealthCheck(ctx); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

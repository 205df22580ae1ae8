package repository

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"meteo-platform/internal/models"
	"meteo-platform/migrations"
	"meteo-platform/pkg/database"
	"meteo-platform/pkg/logging"
	"meteo-platform/pkg/metrics"
)

func testDeps() (*logging.StructuredLogger, *metrics.Collector) {
	logger := logging.NewStructuredLogger("repository-test", "test", logging.ErrorLevel, logging.FormatJSON)
	logger.SetOutput(io.Discard)
	return logger, metrics.NewCollector("repository_test", prometheus.NewRegistry())
}

func setupTestDB(t *testing.T) *database.DB {
	t.Helper()

	logger, collector := testDeps()
	db, err := database.Open(&database.Config{Driver: database.DriverSQLite, Path: ":memory:"}, logger, collector)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("close db: %v", err)
		}
	})

	if _, err := migrations.Up(context.Background(), db.DB()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newTestPressureRepo(t *testing.T) PressureRepository {
	t.Helper()
	logger, collector := testDeps()
	return NewPressureRepository(setupTestDB(t), logger, collector)
}

func reading(date string, hour int, pressure float64) models.Reading {
	d, err := time.Parse(models.DateLayout, date)
	if err != nil {
		panic(err)
	}
	return models.Reading{Timestamp: d.Add(time.Duration(hour) * time.Hour), Pressure: pressure}
}

func TestPressureRepository_UpsertIsIdempotent(t *testing.T) {
	repo := newTestPressureRepo(t)
	ctx := context.Background()
	r := reading("2025-03-01", 6, 1012.5)

	first, err := repo.Upsert(ctx, r)
	if err != nil {
		t.Fatalf("first Upsert() error = %v", err)
	}
	if first != models.Inserted {
		t.Errorf("first Upsert() = %v, want inserted", first)
	}

	r.Pressure = 999
	second, err := repo.Upsert(ctx, r)
	if err != nil {
		t.Fatalf("second Upsert() error = %v", err)
	}
	if second != models.SkippedDuplicate {
		t.Errorf("second Upsert() = %v, want skipped", second)
	}

	got, err := repo.Readings(ctx, ReadingFilter{})
	if err != nil {
		t.Fatalf("Readings() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d rows, want 1", len(got))
	}
	if got[0].Pressure != 1012.5 {
		t.Errorf("pressure = %v, duplicate upsert must not overwrite", got[0].Pressure)
	}
	if !got[0].Timestamp.Equal(r.Timestamp) {
		t.Errorf("timestamp = %v, want %v", got[0].Timestamp, r.Timestamp)
	}
}

func TestPressureRepository_ConcurrentUpsertsOfOneKey(t *testing.T) {
	repo := newTestPressureRepo(t)
	ctx := context.Background()
	r := reading("2025-03-01", 0, 1010)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		inserted int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o, err := repo.Upsert(ctx, r)
			if err != nil {
				t.Errorf("Upsert() error = %v", err)
				return
			}
			if o == models.Inserted {
				mu.Lock()
				inserted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if inserted != 1 {
		t.Errorf("inserted = %d, want exactly 1", inserted)
	}
	if n, _ := repo.Count(ctx); n != 1 {
		t.Errorf("Count() = %d, want 1", n)
	}
}

func TestPressureRepository_UpsertBatch(t *testing.T) {
	repo := newTestPressureRepo(t)
	ctx := context.Background()

	if _, err := repo.Upsert(ctx, reading("2025-03-01", 0, 1010)); err != nil {
		t.Fatalf("seed: %v", err)
	}

	batch := []models.Reading{
		reading("2025-03-01", 0, 1010),
		reading("2025-03-01", 1, 1011),
		reading("2025-03-01", 2, 1012),
		reading("2025-03-01", 2, 1012),
	}

	got, err := repo.UpsertBatch(ctx, batch)
	if err != nil {
		t.Fatalf("UpsertBatch() error = %v", err)
	}
	if got.Inserted != 2 || got.Skipped != 2 {
		t.Errorf("UpsertBatch() = %+v, want {Inserted:2 Skipped:2}", got)
	}

	again, err := repo.UpsertBatch(ctx, batch)
	if err != nil {
		t.Fatalf("second UpsertBatch() error = %v", err)
	}
	if again.Inserted != 0 || again.Skipped != 4 {
		t.Errorf("second UpsertBatch() = %+v, want all skipped", again)
	}

	empty, err := repo.UpsertBatch(ctx, nil)
	if err != nil || empty != (models.BatchResult{}) {
		t.Errorf("UpsertBatch(nil) = %+v, %v", empty, err)
	}
}

func TestPressureRepository_UpsertBatchRollsBack(t *testing.T) {
	repo := newTestPressureRepo(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := repo.UpsertBatch(ctx, []models.Reading{reading("2025-03-01", 0, 1010), reading("2025-03-01", 1, 1011)})
	if err == nil {
		t.Fatal("UpsertBatch() on a cancelled context should fail")
	}

	n, err := repo.Count(context.Background())
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if n != 0 {
		t.Errorf("Count() = %d after failed batch, want 0", n)
	}

	// the connection must still be usable after the rollback
	if _, err := repo.Upsert(context.Background(), reading("2025-03-01", 0, 1010)); err != nil {
		t.Errorf("Upsert() after failed batch error = %v", err)
	}
}

func TestPressureRepository_ReadingsFilterAndOrder(t *testing.T) {
	repo := newTestPressureRepo(t)
	ctx := context.Background()

	for _, r := range []models.Reading{
		reading("2025-03-03", 1, 3),
		reading("2025-03-01", 1, 1),
		reading("2025-03-02", 23, 2),
		reading("2025-03-02", 0, 2.5),
	} {
		if _, err := repo.Upsert(ctx, r); err != nil {
			t.Fatalf("Upsert() error = %v", err)
		}
	}

	all, err := repo.Readings(ctx, ReadingFilter{})
	if err != nil {
		t.Fatalf("Readings() error = %v", err)
	}
	for i := 1; i < len(all); i++ {
		if all[i].Timestamp.Before(all[i-1].Timestamp) {
			t.Fatalf("readings not ascending: %v before %v", all[i-1].Timestamp, all[i].Timestamp)
		}
	}

	from := time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 1)
	day, err := repo.Readings(ctx, ReadingFilter{From: &from, To: &to})
	if err != nil {
		t.Fatalf("Readings() error = %v", err)
	}
	if len(day) != 2 {
		t.Fatalf("got %d readings for 2025-03-02, want 2", len(day))
	}
	if day[0].Pressure != 2.5 || day[1].Pressure != 2 {
		t.Errorf("day readings = %+v", day)
	}
}

func TestPressureRepository_Latest(t *testing.T) {
	repo := newTestPressureRepo(t)
	ctx := context.Background()

	_, err := repo.Latest(ctx)
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("Latest() on empty store error = %v, want *NotFoundError", err)
	}

	repo.Upsert(ctx, reading("2025-03-01", 0, 1))
	repo.Upsert(ctx, reading("2025-03-05", 0, 5))
	repo.Upsert(ctx, reading("2025-03-03", 0, 3))

	latest, err := repo.Latest(ctx)
	if err != nil {
		t.Fatalf("Latest() error = %v", err)
	}
	if latest.Pressure != 5 {
		t.Errorf("Latest() = %+v, want the 2025-03-05 reading", latest)
	}
}

func TestPressureRepository_HealthCheck(t *testing.T) {
	repo := newTestPressureRepo(t)
	if err := repo.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

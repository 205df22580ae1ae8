package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"meteo-platform/internal/models"
	"meteo-platform/pkg/database"
	"meteo-platform/pkg/logging"
	"meteo-platform/pkg/metrics"
)

// PressureRepository provides data access for barometric pressure readings
type PressureRepository interface {
	// Upsert inserts the reading unless one with the same timestamp exists
	Upsert(ctx context.Context, reading models.Reading) (models.UpsertOutcome, error)
	// UpsertBatch upserts readings in one transaction; on error nothing from
	// the batch is kept
	UpsertBatch(ctx context.Context, readings []models.Reading) (models.BatchResult, error)

	Readings(ctx context.Context, filter ReadingFilter) ([]models.Reading, error)
	Latest(ctx context.Context) (*models.Reading, error)
	Count(ctx context.Context) (int, error)

	HealthCheck(ctx context.Context) error
}

// ReadingFilter bounds a reading query. From is inclusive, To exclusive; nil is unbounded.
type ReadingFilter struct {
	From *time.Time
	To   *time.Time
}

const upsertReadingSQL = `
	INSERT INTO pressure_readings (ts, pressure)
	VALUES (?, ?)
	ON CONFLICT (ts) DO NOTHING
`

// pressureRepository implements PressureRepository
type pressureRepository struct {
	db      *database.DB
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewPressureRepository creates a new pressure repository
func NewPressureRepository(db *database.DB, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) PressureRepository {
	return &pressureRepository{
		db:      db,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// Upsert inserts a single reading. The conditional insert is atomic per
// timestamp, so concurrent writers of one key create exactly one row.
func (r *pressureRepository) Upsert(ctx context.Context, reading models.Reading) (models.UpsertOutcome, error) {
	result, err := r.db.ExecContext(ctx, "upsert_reading", r.db.Rebind(upsertReadingSQL),
		reading.Timestamp.UTC(),
		reading.Pressure,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert reading: %w", err)
	}

	return outcome(result)
}

// UpsertBatch upserts readings in a single transaction
func (r *pressureRepository) UpsertBatch(ctx context.Context, readings []models.Reading) (models.BatchResult, error) {
	var batch models.BatchResult
	if len(readings) == 0 {
		return batch, nil
	}

	timer := time.Now()
	defer func() {
		r.metrics.IngestionBatchSize.Observe(float64(len(readings)))
		r.logger.Debug(ctx, "[REPO_BATCH_UPSERT] Batch upsert completed", logging.Fields{
			"count":       len(readings),
			"inserted":    batch.Inserted,
			"skipped":     batch.Skipped,
			"duration_ms": time.Since(timer).Milliseconds(),
		})
	}()

	err := r.db.WithTx(ctx, "upsert_readings_batch", func(tx *sqlx.Tx) error {
		stmt, err := tx.PreparexContext(ctx, r.db.Rebind(upsertReadingSQL))
		if err != nil {
			return fmt.Errorf("failed to prepare statement: %w", err)
		}
		defer stmt.Close()

		var local models.BatchResult
		for _, reading := range readings {
			result, err := stmt.ExecContext(ctx, reading.Timestamp.UTC(), reading.Pressure)
			if err != nil {
				return fmt.Errorf("failed to upsert reading at %s: %w", reading.Timestamp.UTC().Format(time.RFC3339), err)
			}
			o, err := outcome(result)
			if err != nil {
				return err
			}
			local.Add(o)
		}

		batch = local
		return nil
	})
	if err != nil {
		batch = models.BatchResult{}
		return batch, fmt.Errorf("failed to upsert batch: %w", err)
	}

	return batch, nil
}

func outcome(result sql.Result) (models.UpsertOutcome, error) {
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return models.SkippedDuplicate, nil
	}
	return models.Inserted, nil
}

// Readings retrieves readings ascending by timestamp
func (r *pressureRepository) Readings(ctx context.Context, filter ReadingFilter) ([]models.Reading, error) {
	query := `
		SELECT id, ts, pressure, created_at
		FROM pressure_readings
		WHERE 1=1
	`
	args := []interface{}{}

	if filter.From != nil {
		query += " AND ts >= ?"
		args = append(args, filter.From.UTC())
	}

	if filter.To != nil {
		query += " AND ts < ?"
		args = append(args, filter.To.UTC())
	}

	query += " ORDER BY ts"

	var readings []models.Reading
	if err := r.db.SelectContext(ctx, "get_readings", &readings, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to get readings: %w", err)
	}

	for i := range readings {
		readings[i].Timestamp = readings[i].Timestamp.UTC()
		readings[i].CreatedAt = readings[i].CreatedAt.UTC()
	}

	return readings, nil
}

// Latest retrieves the most recent reading
func (r *pressureRepository) Latest(ctx context.Context) (*models.Reading, error) {
	query := `
		SELECT id, ts, pressure, created_at
		FROM pressure_readings
		ORDER BY ts DESC
		LIMIT 1
	`

	var reading models.Reading
	err := r.db.GetContext(ctx, "get_latest_reading", &reading, query)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{
			Resource: "pressure_reading",
			ID:       "latest",
		}
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get latest reading: %w", err)
	}

	reading.Timestamp = reading.Timestamp.UTC()
	reading.CreatedAt = reading.CreatedAt.UTC()
	return &reading, nil
}

// Count returns the number of stored readings
func (r *pressureRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.GetContext(ctx, "count_readings", &n, `SELECT COUNT(*) FROM pressure_readings`); err != nil {
		return 0, fmt.Errorf("failed to count readings: %w", err)
	}
	return n, nil
}

// HealthCheck performs a repository health check
func (r *pressureRepository) HealthCheck(ctx context.Context) error {
	return r.db.HealthCheck(ctx)
}

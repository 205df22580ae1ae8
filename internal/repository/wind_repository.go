package repository

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"meteo-platform/internal/models"
	"meteo-platform/pkg/logging"
	"meteo-platform/pkg/metrics"
)

// WindBackend is the keyed storage a WindRepository writes through. A zero
// from or to in Query means unbounded on that side.
type WindBackend interface {
	Exists(ctx context.Context, key models.WindKey) (bool, error)
	Write(ctx context.Context, sample models.WindSample) error
	Query(ctx context.Context, from, to time.Time) ([]models.WindSample, error)
}

// WindRepository provides data access for SODAR wind samples
type WindRepository interface {
	// Upsert writes the sample unless one with the same (timestamp, height) exists
	Upsert(ctx context.Context, sample models.WindSample) (models.UpsertOutcome, error)
	// UpsertBatch upserts samples in order and stops at the first failure;
	// samples written before it stay written
	UpsertBatch(ctx context.Context, samples []models.WindSample) (models.BatchResult, error)

	Samples(ctx context.Context, filter SampleFilter) ([]models.WindSample, error)
}

// SampleFilter bounds a sample query. From is inclusive, To exclusive; nil is unbounded.
type SampleFilter struct {
	From *time.Time
	To   *time.Time
}

const lockStripes = 64

// windRepository implements WindRepository
type windRepository struct {
	backend WindBackend
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
	locks   [lockStripes]sync.Mutex
}

// NewWindRepository creates a new wind repository over backend
func NewWindRepository(backend WindBackend, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) WindRepository {
	return &windRepository{
		backend: backend,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// lockFor returns the stripe guarding key. Exists-then-write for one key runs
// under this lock, so at most one writer of a key reaches the backend.
func (r *windRepository) lockFor(key models.WindKey) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(key.String()))
	return &r.locks[h.Sum32()%lockStripes]
}

// Upsert writes a single sample
func (r *windRepository) Upsert(ctx context.Context, sample models.WindSample) (models.UpsertOutcome, error) {
	if r.backend == nil {
		return 0, ErrNoBackend
	}

	key := sample.Key()
	mu := r.lockFor(key)
	mu.Lock()
	defer mu.Unlock()

	exists, err := r.backend.Exists(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("failed to check wind sample %s: %w", key, err)
	}
	if exists {
		return models.SkippedDuplicate, nil
	}

	sample.Timestamp = key.Timestamp
	if err := r.backend.Write(ctx, sample); err != nil {
		return 0, fmt.Errorf("failed to write wind sample %s: %w", key, err)
	}
	return models.Inserted, nil
}

// UpsertBatch upserts samples one by one
func (r *windRepository) UpsertBatch(ctx context.Context, samples []models.WindSample) (models.BatchResult, error) {
	var batch models.BatchResult
	if len(samples) == 0 {
		return batch, nil
	}

	timer := time.Now()
	defer func() {
		r.metrics.IngestionBatchSize.Observe(float64(len(samples)))
		r.logger.Debug(ctx, "[REPO_WIND_BATCH_UPSERT] Wind batch upsert completed", logging.Fields{
			"count":       len(samples),
			"inserted":    batch.Inserted,
			"skipped":     batch.Skipped,
			"duration_ms": time.Since(timer).Milliseconds(),
		})
	}()

	for _, s := range samples {
		if err := ctx.Err(); err != nil {
			return batch, err
		}
		o, err := r.Upsert(ctx, s)
		if err != nil {
			return batch, err
		}
		batch.Add(o)
	}
	return batch, nil
}

// Samples retrieves samples ascending by timestamp then height
func (r *windRepository) Samples(ctx context.Context, filter SampleFilter) ([]models.WindSample, error) {
	if r.backend == nil {
		return nil, ErrNoBackend
	}

	var from, to time.Time
	if filter.From != nil {
		from = filter.From.UTC()
	}
	if filter.To != nil {
		to = filter.To.UTC()
	}

	samples, err := r.backend.Query(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query wind samples: %w", err)
	}
	return samples, nil
}

package services

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"meteo-platform/internal/changes"
	"meteo-platform/internal/events"
	"meteo-platform/internal/fetch"
	"meteo-platform/internal/models"
	"meteo-platform/internal/parser"
	"meteo-platform/internal/repository"
	"meteo-platform/pkg/logging"
	"meteo-platform/pkg/metrics"
)

// Feed names an ingestion feed
type Feed string

const (
	FeedBarometer Feed = "barometer"
	FeedSodar     Feed = "sodar"
)

// maxRangeDays bounds a single remote ingestion request
const maxRangeDays = 366

// ErrNoFetcher is returned by remote ingestion when no fetcher is configured
var ErrNoFetcher = errors.New("no remote feed fetcher configured")

// Fetcher downloads the raw remote feed file for a calendar date
type Fetcher interface {
	Fetch(ctx context.Context, date time.Time) (string, error)
}

// FileStatus is the outcome of ingesting one source file
type FileStatus string

const (
	FileOK        FileStatus = "ok"
	FileUnchanged FileStatus = "unchanged"
	FileEmpty     FileStatus = "empty"
	FileFailed    FileStatus = "failed"
)

// FileResult reports one source file of a sweep
type FileResult struct {
	Name     string
	Status   FileStatus
	Stats    parser.Stats
	Batch    models.BatchResult
	Duration time.Duration
	Err      error
}

// DateStatus is the outcome of ingesting one remote date
type DateStatus string

const (
	DateOK          DateStatus = "ok"
	DateEmpty       DateStatus = "empty"
	DateNotFound    DateStatus = "not_found"
	DateFetchFailed DateStatus = "fetch_failed"
	DateFailed      DateStatus = "failed"
)

// DateResult reports one remote date of a range ingestion
type DateResult struct {
	Date     time.Time
	Status   DateStatus
	Stats    parser.Stats
	Batch    models.BatchResult
	Duration time.Duration
	Err      error
}

// IngestionResult contains ingestion statistics for one run
type IngestionResult struct {
	RunID    string
	Feed     Feed
	Files    []FileResult
	Dates    []DateResult
	Batch    models.BatchResult
	Records  int
	Dropped  int
	Duration time.Duration
}

// Failures counts files and dates that failed
func (r *IngestionResult) Failures() int {
	n := 0
	for _, f := range r.Files {
		if f.Status == FileFailed {
			n++
		}
	}
	for _, d := range r.Dates {
		if d.Status == DateFailed || d.Status == DateFetchFailed {
			n++
		}
	}
	return n
}

func (r *IngestionResult) add(stats parser.Stats, batch models.BatchResult) {
	r.Records += stats.Records
	r.Dropped += stats.Dropped
	r.Batch.Merge(batch)
}

// IngestionService parses feed files and upserts their records
type IngestionService struct {
	pressure  repository.PressureRepository
	wind      repository.WindRepository
	tracker   *changes.Tracker
	fetcher   Fetcher
	publisher events.Publisher
	logger    *logging.StructuredLogger
	metrics   *metrics.Collector

	workers         int
	batchSize       int
	barometerSchema parser.Schema
	sodarSchema     parser.SodarSchema
}

// IngestionOption configures an IngestionService
type IngestionOption func(*IngestionService)

// WithFetcher enables remote SODAR ingestion
func WithFetcher(f Fetcher) IngestionOption {
	return func(s *IngestionService) { s.fetcher = f }
}

// WithPublisher sets where ingestion events go
func WithPublisher(p events.Publisher) IngestionOption {
	return func(s *IngestionService) { s.publisher = p }
}

// WithWorkers bounds the number of files or dates processed at once
func WithWorkers(n int) IngestionOption {
	return func(s *IngestionService) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithBatchSize sets how many records go into one store round-trip
func WithBatchSize(n int) IngestionOption {
	return func(s *IngestionService) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithBarometerSchema overrides the barometer column layout
func WithBarometerSchema(schema parser.Schema) IngestionOption {
	return func(s *IngestionService) { s.barometerSchema = schema }
}

// WithSodarSchema overrides the SODAR header names
func WithSodarSchema(schema parser.SodarSchema) IngestionOption {
	return func(s *IngestionService) { s.sodarSchema = schema }
}

// NewIngestionService creates a new ingestion service. A nil tracker gets a
// fresh one.
func NewIngestionService(
	pressure repository.PressureRepository,
	wind repository.WindRepository,
	tracker *changes.Tracker,
	logger *logging.StructuredLogger,
	metricsCollector *metrics.Collector,
	opts ...IngestionOption,
) *IngestionService {
	if tracker == nil {
		tracker = changes.NewTracker()
	}
	s := &IngestionService{
		pressure:        pressure,
		wind:            wind,
		tracker:         tracker,
		publisher:       events.NopPublisher{},
		logger:          logger,
		metrics:         metricsCollector,
		workers:         4,
		batchSize:       500,
		barometerSchema: parser.BarometerSchema,
		sodarSchema:     parser.DefaultSodarSchema,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// storeFunc parses content and upserts the records it yields
type storeFunc func(ctx context.Context, content []byte) (parser.Stats, models.BatchResult, error)

// IngestBarometer ingests changed pressure files from src
func (s *IngestionService) IngestBarometer(ctx context.Context, src FileSource) (*IngestionResult, error) {
	return s.ingestFiles(ctx, FeedBarometer, src, s.storeBarometer)
}

// IngestSodarFiles ingests changed SODAR files from src
func (s *IngestionService) IngestSodarFiles(ctx context.Context, src FileSource) (*IngestionResult, error) {
	return s.ingestFiles(ctx, FeedSodar, src, s.storeSodar)
}

func (s *IngestionService) storeBarometer(ctx context.Context, content []byte) (parser.Stats, models.BatchResult, error) {
	var stats parser.Stats
	batch, err := upsertInBatches(ctx, parser.ParseBarometer(content, s.barometerSchema, &stats), s.batchSize, s.pressure.UpsertBatch)
	return stats, batch, err
}

func (s *IngestionService) storeSodar(ctx context.Context, content []byte) (parser.Stats, models.BatchResult, error) {
	var stats parser.Stats
	batch, err := upsertInBatches(ctx, parser.ParseSodar(content, s.sodarSchema, &stats), s.batchSize, s.wind.UpsertBatch)
	return stats, batch, err
}

// upsertInBatches drains seq into batches of size. Batches stored before a
// failure stay stored.
func upsertInBatches[T any](
	ctx context.Context,
	seq iter.Seq[T],
	size int,
	upsert func(context.Context, []T) (models.BatchResult, error),
) (models.BatchResult, error) {
	var total models.BatchResult
	pending := make([]T, 0, size)

	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		res, err := upsert(ctx, pending)
		if err != nil {
			return err
		}
		total.Merge(res)
		pending = pending[:0]
		return nil
	}

	for rec := range seq {
		pending = append(pending, rec)
		if len(pending) >= size {
			if err := flush(); err != nil {
				return total, err
			}
		}
	}
	if err := flush(); err != nil {
		return total, err
	}
	return total, nil
}

func (s *IngestionService) ingestFiles(ctx context.Context, feed Feed, src FileSource, store storeFunc) (*IngestionResult, error) {
	start := time.Now()
	result := &IngestionResult{RunID: uuid.NewString(), Feed: feed}

	s.logger.Info(ctx, "[INGEST_START] Starting data ingestion", logging.Fields{
		"run_id":     result.RunID,
		"feed":       feed,
		"workers":    s.workers,
		"batch_size": s.batchSize,
		"stage":      "INITIALIZATION",
	})

	files, err := src.List(ctx)
	if err != nil {
		s.metrics.RecordIngestionError("list_error")
		return nil, fmt.Errorf("failed to list %s files: %w", feed, err)
	}

	s.logger.Info(ctx, "[INGEST_FILES] Found data files", logging.Fields{
		"run_id":     result.RunID,
		"file_count": len(files),
		"stage":      "FILE_DISCOVERY",
	})

	result.Files = make([]FileResult, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, f := range files {
		g.Go(func() error {
			result.Files[i] = s.ingestFile(gctx, result.RunID, feed, src, f, store)
			return nil
		})
	}
	_ = g.Wait()

	for _, f := range result.Files {
		result.add(f.Stats, f.Batch)
	}
	result.Duration = time.Since(start)
	s.metrics.TrackedFiles.Set(float64(s.tracker.Len()))

	s.logger.Info(ctx, "[INGEST_COMPLETE] Data ingestion completed", logging.Fields{
		"run_id":           result.RunID,
		"feed":             feed,
		"total_files":      len(result.Files),
		"failed_files":     result.Failures(),
		"total_records":    result.Records,
		"inserted":         result.Batch.Inserted,
		"skipped":          result.Batch.Skipped,
		"dropped_rows":     result.Dropped,
		"duration_seconds": result.Duration.Seconds(),
		"stage":            "COMPLETE",
	})

	return result, ctx.Err()
}

// ingestFile processes one file. Failures are reported in the result, and the
// file is forgotten by the tracker so the next sweep retries it.
func (s *IngestionService) ingestFile(ctx context.Context, runID string, feed Feed, src FileSource, f SourceFile, store storeFunc) FileResult {
	res := FileResult{Name: f.Name}
	if err := ctx.Err(); err != nil {
		res.Status, res.Err = FileFailed, err
		return res
	}

	if !s.tracker.Observe(f.key(), f.ModTime) {
		res.Status = FileUnchanged
		s.metrics.RecordSource(string(feed), string(res.Status))
		return res
	}

	start := time.Now()
	content, err := src.Read(ctx, f)
	if err == nil {
		res.Stats, res.Batch, err = store(ctx, content)
	}
	res.Duration = time.Since(start)

	fields := logging.Fields{
		"run_id":        runID,
		"feed":          feed,
		"file":          f.Name,
		"rows":          res.Stats.Rows,
		"records":       res.Stats.Records,
		"dropped":       res.Stats.Dropped,
		"inserted":      res.Batch.Inserted,
		"skipped":       res.Batch.Skipped,
		"delimiter":     res.Stats.Delimiter,
		"duration_ms":   res.Duration.Milliseconds(),
		"dir_out_range": res.Stats.DirectionOutOfRange,
	}

	switch {
	case err != nil:
		res.Status, res.Err = FileFailed, err
		s.tracker.Forget(f.key())
		s.metrics.RecordIngestionError("file_error")
		s.logger.Error(ctx, "[INGEST_FILE_ERROR] File ingestion failed", fields, err)
	case res.Stats.Records == 0:
		res.Status = FileEmpty
		s.logger.Warn(ctx, "[INGEST_FILE_EMPTY] File yielded no records", fields)
	default:
		res.Status = FileOK
		s.logger.Info(ctx, "[INGEST_FILE_SUCCESS] File ingested successfully", fields)
	}

	s.record(feed, string(res.Status), res.Stats, res.Batch, res.Duration)
	s.publish(ctx, events.IngestionEvent{
		RunID:    runID,
		Feed:     string(feed),
		Source:   f.Name,
		Status:   string(res.Status),
		Inserted: res.Batch.Inserted,
		Skipped:  res.Batch.Skipped,
		Dropped:  res.Stats.Dropped,
	})
	return res
}

// IngestSodarRange fetches and ingests remote SODAR files for every date from
// from to to inclusive. A date that cannot be fetched counts as zero records
// and does not stop the others.
func (s *IngestionService) IngestSodarRange(ctx context.Context, from, to time.Time) (*IngestionResult, error) {
	if s.fetcher == nil {
		return nil, ErrNoFetcher
	}

	from, to = models.DayOf(from), models.DayOf(to)
	if to.Before(from) {
		return nil, &models.ValidationError{
			Field:   "to",
			Value:   to.Format(models.DateLayout),
			Message: "end date must not be before start date",
		}
	}
	days := int(to.Sub(from).Hours()/24) + 1
	if days > maxRangeDays {
		return nil, &models.ValidationError{
			Field:   "to",
			Value:   to.Format(models.DateLayout),
			Message: fmt.Sprintf("date range spans %d days, at most %d allowed", days, maxRangeDays),
		}
	}

	start := time.Now()
	result := &IngestionResult{RunID: uuid.NewString(), Feed: FeedSodar}

	s.logger.Info(ctx, "[INGEST_REMOTE_START] Starting remote SODAR ingestion", logging.Fields{
		"run_id": result.RunID,
		"from":   from.Format(models.DateLayout),
		"to":     to.Format(models.DateLayout),
		"days":   days,
	})

	result.Dates = make([]DateResult, days)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i := range days {
		date := from.AddDate(0, 0, i)
		g.Go(func() error {
			result.Dates[i] = s.ingestDate(gctx, result.RunID, date)
			return nil
		})
	}
	_ = g.Wait()

	for _, d := range result.Dates {
		result.add(d.Stats, d.Batch)
	}
	result.Duration = time.Since(start)

	s.logger.Info(ctx, "[INGEST_REMOTE_COMPLETE] Remote SODAR ingestion completed", logging.Fields{
		"run_id":           result.RunID,
		"days":             days,
		"failed_days":      result.Failures(),
		"total_records":    result.Records,
		"inserted":         result.Batch.Inserted,
		"skipped":          result.Batch.Skipped,
		"duration_seconds": result.Duration.Seconds(),
	})

	return result, ctx.Err()
}

func (s *IngestionService) ingestDate(ctx context.Context, runID string, date time.Time) DateResult {
	res := DateResult{Date: date}
	if err := ctx.Err(); err != nil {
		res.Status, res.Err = DateFailed, err
		return res
	}

	start := time.Now()
	body, err := s.fetcher.Fetch(ctx, date)
	switch {
	case errors.Is(err, fetch.ErrFeedNotFound):
		res.Status = DateNotFound
	case err != nil:
		res.Status, res.Err = DateFetchFailed, err
	default:
		res.Stats, res.Batch, err = s.storeSodar(ctx, []byte(body))
		switch {
		case err != nil:
			res.Status, res.Err = DateFailed, err
			s.metrics.RecordIngestionError("date_error")
		case res.Stats.Records == 0:
			res.Status = DateEmpty
		default:
			res.Status = DateOK
		}
	}
	res.Duration = time.Since(start)

	fields := logging.Fields{
		"run_id":      runID,
		"date":        date.Format(models.DateLayout),
		"status":      res.Status,
		"records":     res.Stats.Records,
		"dropped":     res.Stats.Dropped,
		"inserted":    res.Batch.Inserted,
		"skipped":     res.Batch.Skipped,
		"duration_ms": res.Duration.Milliseconds(),
	}
	if res.Err != nil {
		s.logger.Error(ctx, "[INGEST_DATE_ERROR] Remote date ingestion failed", fields, res.Err)
	} else {
		s.logger.Info(ctx, "[INGEST_DATE] Remote date processed", fields)
	}

	s.record(FeedSodar, string(res.Status), res.Stats, res.Batch, res.Duration)
	s.publish(ctx, events.IngestionEvent{
		RunID:    runID,
		Feed:     string(FeedSodar),
		Source:   date.Format(fetch.DateLayout),
		Status:   string(res.Status),
		Inserted: res.Batch.Inserted,
		Skipped:  res.Batch.Skipped,
		Dropped:  res.Stats.Dropped,
	})
	return res
}

func (s *IngestionService) record(feed Feed, status string, stats parser.Stats, batch models.BatchResult, d time.Duration) {
	s.metrics.RecordSource(string(feed), status)
	s.metrics.RecordIngestedRecords(string(feed), batch.Inserted, batch.Skipped)
	s.metrics.RecordDroppedRows(string(feed), stats.Dropped)
	s.metrics.IngestionDuration.WithLabelValues(string(feed)).Observe(d.Seconds())
}

func (s *IngestionService) publish(ctx context.Context, event events.IngestionEvent) {
	event.FinishedAt = time.Now().UTC()
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn(ctx, "[INGEST_EVENT] Failed to publish ingestion event", logging.Fields{
			"run_id": event.RunID,
			"source": event.Source,
			"error":  err.Error(),
		})
	}
}

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector provides application metrics collection
type Collector struct {
	// API Metrics
	APIRequestsTotal   *prometheus.CounterVec
	APIRequestDuration *prometheus.HistogramVec
	APIErrorsTotal     *prometheus.CounterVec

	// Ingestion Metrics
	IngestionRecordsTotal *prometheus.CounterVec
	IngestionFilesTotal   *prometheus.CounterVec
	IngestionDuration     *prometheus.HistogramVec
	IngestionErrorsTotal  *prometheus.CounterVec
	IngestionBatchSize    prometheus.Histogram
	ParserDroppedRows     *prometheus.CounterVec
	TrackedFiles          prometheus.Gauge

	// Fetch Metrics
	FetchRequestsTotal *prometheus.CounterVec
	FetchFailuresTotal *prometheus.CounterVec

	// Event Metrics
	EventsPublishedTotal *prometheus.CounterVec

	// Database Metrics
	DBQueryDuration  *prometheus.HistogramVec
	DBConnectionPool *prometheus.GaugeVec
	DBErrorsTotal    *prometheus.CounterVec

	// Summary Metrics
	CacheRequestsTotal     *prometheus.CounterVec
	SummaryComputeDuration *prometheus.HistogramVec
}

// NewCollector creates a new metrics collector registered with reg.
// A nil reg uses the default Prometheus registerer.
func NewCollector(namespace string, reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Collector{
		APIRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "api_requests_total",
				Help:      "Total number of API requests by endpoint, method, and status",
			},
			[]string{"endpoint", "method", "status"},
		),

		APIRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "api_request_duration_seconds",
				Help:      "API request duration in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.02, 0.05, 0.1, 0.2, 0.5, 1.0, 2.0, 5.0},
			},
			[]string{"endpoint"},
		),

		APIErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "api_errors_total",
				Help:      "Total number of API errors by type",
			},
			[]string{"error_type", "endpoint"},
		),

		IngestionRecordsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ingestion_records_total",
				Help:      "Records handed to the store by feed and upsert outcome",
			},
			[]string{"feed", "outcome"},
		),

		IngestionFilesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ingestion_sources_total",
				Help:      "Files or remote dates processed by feed and status",
			},
			[]string{"feed", "status"},
		),

		IngestionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "ingestion_duration_seconds",
				Help:      "Duration of ingestion sweeps in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 600},
			},
			[]string{"feed"},
		),

		IngestionErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ingestion_errors_total",
				Help:      "Total number of ingestion errors by type",
			},
			[]string{"error_type"},
		),

		IngestionBatchSize: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "ingestion_batch_size",
				Help:      "Number of records per batch during ingestion",
				Buckets:   []float64{10, 50, 100, 500, 1000, 5000, 10000},
			},
		),

		ParserDroppedRows: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "parser_dropped_rows_total",
				Help:      "Rows dropped by the parser as malformed, by feed",
			},
			[]string{"feed"},
		),

		TrackedFiles: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "tracked_files",
				Help:      "Number of source files with a recorded modification time",
			},
		),

		FetchRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fetch_requests_total",
				Help:      "Remote feed requests by HTTP status class",
			},
			[]string{"status"},
		),

		FetchFailuresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fetch_failures_total",
				Help:      "Remote feed dates that produced no data, by reason",
			},
			[]string{"reason"},
		),

		EventsPublishedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_published_total",
				Help:      "Ingestion events published by result",
			},
			[]string{"result"},
		),

		DBQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "db_query_duration_seconds",
				Help:      "Database query duration in seconds by query type",
				Buckets:   []float64{0.001, 0.002, 0.005, 0.01, 0.02, 0.05, 0.1, 0.2, 0.5},
			},
			[]string{"query_type"},
		),

		DBConnectionPool: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "db_connection_pool",
				Help:      "Database connection pool statistics",
			},
			[]string{"state"}, // "in_use", "idle", "total"
		),

		DBErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "db_errors_total",
				Help:      "Total number of database errors by type",
			},
			[]string{"error_type"},
		),

		CacheRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "summary_cache_requests_total",
				Help:      "Summary cache lookups by cache and result",
			},
			[]string{"cache", "result"},
		),

		SummaryComputeDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "summary_compute_duration_seconds",
				Help:      "Duration of full-history summary computation in seconds",
				Buckets:   []float64{0.005, 0.01, 0.02, 0.05, 0.1, 0.2, 0.5, 1.0, 5.0},
			},
			[]string{"cache"},
		),
	}
}

// Timer provides timing functionality for operations
type Timer struct {
	start    time.Time
	observer prometheus.Observer
}

// NewTimer creates a new timer
func (c *Collector) NewTimer(histogram prometheus.Observer) *Timer {
	return &Timer{
		start:    time.Now(),
		observer: histogram,
	}
}

// ObserveDuration records the elapsed time since timer creation
func (t *Timer) ObserveDuration() time.Duration {
	duration := time.Since(t.start)
	if t.observer != nil {
		t.observer.Observe(duration.Seconds())
	}
	return duration
}

// RecordAPIRequest increments API request counter
func (c *Collector) RecordAPIRequest(endpoint, method, status string) {
	c.APIRequestsTotal.WithLabelValues(endpoint, method, status).Inc()
}

// RecordAPIError increments API error counter
func (c *Collector) RecordAPIError(errorType, endpoint string) {
	c.APIErrorsTotal.WithLabelValues(errorType, endpoint).Inc()
}

// RecordIngestedRecords adds upsert outcomes for a feed
func (c *Collector) RecordIngestedRecords(feed string, inserted, skipped int) {
	c.IngestionRecordsTotal.WithLabelValues(feed, "inserted").Add(float64(inserted))
	c.IngestionRecordsTotal.WithLabelValues(feed, "skipped").Add(float64(skipped))
}

// RecordSource counts one processed file or remote date
func (c *Collector) RecordSource(feed, status string) {
	c.IngestionFilesTotal.WithLabelValues(feed, status).Inc()
}

// RecordDroppedRows adds parser drops for a feed
func (c *Collector) RecordDroppedRows(feed string, n int) {
	if n > 0 {
		c.ParserDroppedRows.WithLabelValues(feed).Add(float64(n))
	}
}

// RecordIngestionError increments ingestion error counter
func (c *Collector) RecordIngestionError(errorType string) {
	c.IngestionErrorsTotal.WithLabelValues(errorType).Inc()
}

// RecordFetch counts a remote request by outcome ("ok", "not_found", "failed")
func (c *Collector) RecordFetch(status string) {
	c.FetchRequestsTotal.WithLabelValues(status).Inc()
}

// RecordFetchFailure counts a remote date that yielded zero records
func (c *Collector) RecordFetchFailure(reason string) {
	c.FetchFailuresTotal.WithLabelValues(reason).Inc()
}

// RecordEvent counts a published ingestion event
func (c *Collector) RecordEvent(result string) {
	c.EventsPublishedTotal.WithLabelValues(result).Inc()
}

// RecordDBError increments database error counter
func (c *Collector) RecordDBError(errorType string) {
	c.DBErrorsTotal.WithLabelValues(errorType).Inc()
}

// RecordCacheRequest counts a summary cache lookup
func (c *Collector) RecordCacheRequest(cache string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	c.CacheRequestsTotal.WithLabelValues(cache, result).Inc()
}

// UpdateDBConnectionPool updates database connection pool metrics
func (c *Collector) UpdateDBConnectionPool(inUse, idle, total int) {
	c.DBConnectionPool.WithLabelValues("in_use").Set(float64(inUse))
	c.DBConnectionPool.WithLabelValues("idle").Set(float64(idle))
	c.DBConnectionPool.WithLabelValues("total").Set(float64(total))
}

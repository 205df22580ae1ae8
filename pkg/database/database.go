package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"meteo-platform/pkg/logging"
	"meteo-platform/pkg/metrics"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

// Config holds database connection configuration
type Config struct {
	Driver          string
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

func (c *Config) driver() string {
	if c.Driver == "" {
		return DriverPostgres
	}
	return c.Driver
}

// DataSourceName builds the driver-specific connection string
func (c *Config) DataSourceName() (string, error) {
	switch c.driver() {
	case DriverPostgres:
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			c.Host,
			c.Port,
			c.User,
			c.Password,
			c.Database,
			c.SSLMode,
		), nil
	case DriverSQLite:
		if c.Path == ":memory:" {
			return c.Path, nil
		}
		return fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", c.Path), nil
	default:
		return "", fmt.Errorf("unsupported database driver %q", c.Driver)
	}
}

// DB wraps sqlx.DB with monitoring and metrics
type DB struct {
	db      *sqlx.DB
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
	config  *Config

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// Open creates a new database connection for the configured driver and starts
// pool monitoring
func Open(cfg *Config, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) (*DB, error) {
	dsn, err := cfg.DataSourceName()
	if err != nil {
		return nil, err
	}

	db, err := sqlx.Open(cfg.driver(), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	// Configure connection pool
	maxOpen, maxIdle := cfg.MaxOpenConns, cfg.MaxIdleConns
	lifetime, idleTime := cfg.ConnMaxLifetime, cfg.ConnMaxIdleTime
	if cfg.driver() == DriverSQLite {
		// sqlite allows one writer, and an in-memory database lives and dies
		// with its single connection
		maxOpen, maxIdle = 1, 1
		lifetime, idleTime = 0, 0
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(lifetime)
	db.SetConnMaxIdleTime(idleTime)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info(context.Background(), "[DB_INIT] Database connection established", logging.Fields{
		"driver":            cfg.driver(),
		"host":              cfg.Host,
		"port":              cfg.Port,
		"database":          cfg.Database,
		"path":              cfg.Path,
		"max_open_conns":    maxOpen,
		"max_idle_conns":    maxIdle,
		"conn_max_lifetime": cfg.ConnMaxLifetime.String(),
	})

	d := newDB(db, cfg, logger, metricsCollector)
	d.stop = make(chan struct{})
	d.done = make(chan struct{})

	// Start monitoring connection pool
	go d.monitorConnectionPool(10 * time.Second)

	return d, nil
}

// NewFromDB wraps an already opened connection without pool monitoring
func NewFromDB(db *sqlx.DB, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *DB {
	return newDB(db, &Config{Driver: db.DriverName(), MaxOpenConns: db.Stats().MaxOpenConnections}, logger, metricsCollector)
}

func newDB(db *sqlx.DB, cfg *Config, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *DB {
	return &DB{
		db:      db,
		logger:  logger,
		metrics: metricsCollector,
		config:  cfg,
	}
}

// Close stops pool monitoring and closes the database connection
func (p *DB) Close() error {
	var err error
	p.closeOnce.Do(func() {
		if p.stop != nil {
			close(p.stop)
			<-p.done
		}
		p.logger.Info(context.Background(), "[DB_CLOSE] Closing database connection", logging.Fields{
			"driver":   p.config.driver(),
			"database": p.config.Database,
		})
		err = p.db.Close()
	})
	return err
}

// DB returns the underlying sqlx.DB instance
func (p *DB) DB() *sqlx.DB {
	return p.db
}

// DriverName returns the name of the driver in use
func (p *DB) DriverName() string {
	return p.db.DriverName()
}

// Rebind converts '?' placeholders to the driver's bindvar style
func (p *DB) Rebind(query string) string {
	return p.db.Rebind(query)
}

func (p *DB) observe(queryType string, start time.Time) time.Duration {
	duration := time.Since(start)
	p.metrics.DBQueryDuration.WithLabelValues(queryType).Observe(duration.Seconds())
	return duration
}

// QueryContext executes a query with context and metrics
func (p *DB) QueryContext(ctx context.Context, queryType, query string, args ...interface{}) (*sqlx.Rows, error) {
	start := time.Now()
	defer func() {
		duration := p.observe(queryType, start)
		p.logger.Debug(ctx, "[DB_QUERY] Query executed", logging.Fields{
			"query_type":  queryType,
			"duration_ms": duration.Milliseconds(),
			"query":       query,
		})
	}()

	rows, err := p.db.QueryxContext(ctx, query, args...)
	if err != nil {
		p.metrics.RecordDBError("query_error")
		p.logger.Error(ctx, "[DB_QUERY_ERROR] Query failed", logging.Fields{
			"query_type": queryType,
			"query":      query,
		}, err)
		return nil, err
	}

	return rows, nil
}

// ExecContext executes a command with context and metrics
func (p *DB) ExecContext(ctx context.Context, queryType, query string, args ...interface{}) (sql.Result, error) {
	start := time.Now()
	defer func() {
		duration := p.observe(queryType, start)
		p.logger.Debug(ctx, "[DB_EXEC] Command executed", logging.Fields{
			"query_type":  queryType,
			"duration_ms": duration.Milliseconds(),
		})
	}()

	result, err := p.db.ExecContext(ctx, query, args...)
	if err != nil {
		p.metrics.RecordDBError("exec_error")
		p.logger.Error(ctx, "[DB_EXEC_ERROR] Command failed", logging.Fields{
			"query_type": queryType,
		}, err)
		return nil, err
	}

	return result, nil
}

// GetContext executes a query that returns a single row
func (p *DB) GetContext(ctx context.Context, queryType string, dest interface{}, query string, args ...interface{}) error {
	defer p.observe(queryType, time.Now())

	err := p.db.GetContext(ctx, dest, query, args...)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		p.metrics.RecordDBError("get_error")
		p.logger.Error(ctx, "[DB_GET_ERROR] Get query failed", logging.Fields{
			"query_type": queryType,
		}, err)
	}

	return err
}

// SelectContext executes a query that returns multiple rows
func (p *DB) SelectContext(ctx context.Context, queryType string, dest interface{}, query string, args ...interface{}) error {
	defer p.observe(queryType, time.Now())

	err := p.db.SelectContext(ctx, dest, query, args...)
	if err != nil {
		p.metrics.RecordDBError("select_error")
		p.logger.Error(ctx, "[DB_SELECT_ERROR] Select query failed", logging.Fields{
			"query_type": queryType,
		}, err)
		return err
	}

	return nil
}

// BeginTx begins a new transaction. nil opts uses the driver's default isolation.
func (p *DB) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error) {
	tx, err := p.db.BeginTxx(ctx, opts)
	if err != nil {
		p.metrics.RecordDBError("transaction_begin_error")
		p.logger.Error(ctx, "[DB_TX_ERROR] Failed to begin transaction", logging.Fields{}, err)
		return nil, err
	}

	return tx, nil
}

// WithTx runs fn inside a transaction, committing when fn returns nil and
// rolling back otherwise
func (p *DB) WithTx(ctx context.Context, queryType string, fn func(*sqlx.Tx) error) error {
	defer p.observe(queryType, time.Now())

	tx, err := p.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		p.metrics.RecordDBError("transaction_error")
		return err
	}

	if err := tx.Commit(); err != nil {
		p.metrics.RecordDBError("transaction_commit_error")
		p.logger.Error(ctx, "[DB_TX_ERROR] Failed to commit transaction", logging.Fields{
			"query_type": queryType,
		}, err)
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// monitorConnectionPool periodically updates connection pool metrics
func (p *DB) monitorConnectionPool(interval time.Duration) {
	defer close(p.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
		}

		stats := p.db.Stats()

		p.metrics.UpdateDBConnectionPool(
			stats.InUse,
			stats.Idle,
			stats.OpenConnections,
		)

		if stats.MaxOpenConnections <= 0 {
			continue
		}

		// Log warning if connection pool is near capacity
		utilization := float64(stats.InUse) / float64(stats.MaxOpenConnections)
		if utilization > 0.8 {
			p.logger.Warn(context.Background(), "[DB_POOL_WARNING] Connection pool utilization high", logging.Fields{
				"in_use":      stats.InUse,
				"idle":        stats.Idle,
				"total":       stats.OpenConnections,
				"max_open":    stats.MaxOpenConnections,
				"utilization": fmt.Sprintf("%.2f%%", utilization*100),
			})
		}
	}
}

// HealthCheck performs a database health check
func (p *DB) HealthCheck(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := p.db.PingContext(pingCtx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}

	return nil
}

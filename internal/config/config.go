package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Logging  LoggingConfig
	InfluxDB InfluxDBConfig
	Feeds    FeedsConfig
	Ingest   IngestConfig
	Cache    CacheConfig
	Kafka    KafkaConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DatabaseConfig holds relational store configuration.
// Driver is "postgres" or "sqlite3"; Path is only used by sqlite3.
type DatabaseConfig struct {
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

// LoggingConfig holds logger configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// InfluxDBConfig holds the wind-profile sink configuration. An empty URL keeps
// wind samples in memory.
type InfluxDBConfig struct {
	URL         string
	Token       string
	Org         string
	Bucket      string
	Measurement string
}

// FeedsConfig locates the raw sensor data
type FeedsConfig struct {
	BarometerDir string
	SodarDir     string
	SodarURL     string
	FetchTimeout time.Duration
	FetchRetries int
}

// IngestConfig controls ingestion sweeps
type IngestConfig struct {
	Workers   int
	BatchSize int
	Schedule  time.Duration
}

// CacheConfig controls the full-history summary caches
type CacheConfig struct {
	SummaryTTL time.Duration
}

// KafkaConfig holds ingestion event publishing configuration. No brokers
// disables publishing.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// LoadConfig reads configuration from the environment, after loading a .env
// file from the working directory when one exists.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}
	return fromEnv()
}

func fromEnv() (*Config, error) {
	var errs []error
	l := loader{errs: &errs}

	cfg := &Config{
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         l.int("SERVER_PORT", 8080),
			ReadTimeout:  l.duration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: l.duration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:  l.duration("SERVER_IDLE_TIMEOUT", 60*time.Second),
		},
		Database: DatabaseConfig{
			Driver:          getEnv("DB_DRIVER", "postgres"),
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            l.int("DB_PORT", 5432),
			User:            getEnv("DB_USER", "meteo"),
			Password:        getEnv("DB_PASSWORD", ""),
			Database:        getEnv("DB_NAME", "meteo"),
			SSLMode:         getEnv("DB_SSLMODE", "disable"),
			Path:            getEnv("DB_PATH", "meteo.db"),
			MaxOpenConns:    l.int("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    l.int("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: l.duration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			ConnMaxIdleTime: l.duration("DB_CONN_MAX_IDLE_TIME", time.Minute),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		InfluxDB: InfluxDBConfig{
			URL:         getEnv("INFLUX_URL", ""),
			Token:       getEnv("INFLUX_TOKEN", ""),
			Org:         getEnv("INFLUX_ORG", "meteo"),
			Bucket:      getEnv("INFLUX_BUCKET", "sodar"),
			Measurement: getEnv("INFLUX_MEASUREMENT", "wind_profile"),
		},
		Feeds: FeedsConfig{
			BarometerDir: getEnv("BAROMETER_DIR", "data/barometer"),
			SodarDir:     getEnv("SODAR_DIR", ""),
			SodarURL:     getEnv("SODAR_URL", "https://meteo777.pythonanywhere.com/sodar/data/{date}.txt"),
			FetchTimeout: l.duration("FETCH_TIMEOUT", 15*time.Second),
			FetchRetries: l.int("FETCH_RETRIES", 3),
		},
		Ingest: IngestConfig{
			Workers:   l.int("INGEST_WORKERS", 4),
			BatchSize: l.int("INGEST_BATCH_SIZE", 500),
			Schedule:  l.duration("INGEST_SCHEDULE", 10*time.Minute),
		},
		Cache: CacheConfig{
			SummaryTTL: l.duration("SUMMARY_CACHE_TTL", 10*time.Minute),
		},
		Kafka: KafkaConfig{
			Brokers: getEnvStringSlice("KAFKA_BROKERS", nil),
			Topic:   getEnv("KAFKA_TOPIC", "meteo-ingestion"),
		},
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return cfg, nil
}

// Validate checks the configuration for values the services cannot run with
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid SERVER_PORT %d", c.Server.Port))
	}

	switch c.Database.Driver {
	case "postgres":
		if c.Database.Host == "" || c.Database.Database == "" {
			errs = append(errs, errors.New("DB_HOST and DB_NAME are required for the postgres driver"))
		}
	case "sqlite3":
		if c.Database.Path == "" {
			errs = append(errs, errors.New("DB_PATH is required for the sqlite3 driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid DB_DRIVER %q (allowed: postgres, sqlite3)", c.Database.Driver))
	}

	if c.Database.MaxOpenConns <= 0 {
		errs = append(errs, fmt.Errorf("DB_MAX_OPEN_CONNS must be positive, got %d", c.Database.MaxOpenConns))
	}
	if c.Database.MaxIdleConns < 0 || c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		errs = append(errs, fmt.Errorf("DB_MAX_IDLE_CONNS must be between 0 and DB_MAX_OPEN_CONNS, got %d", c.Database.MaxIdleConns))
	}

	switch strings.ToLower(c.Logging.Format) {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("invalid LOG_FORMAT %q (allowed: json, console)", c.Logging.Format))
	}

	if c.InfluxDB.URL != "" && c.InfluxDB.Bucket == "" {
		errs = append(errs, errors.New("INFLUX_BUCKET is required when INFLUX_URL is set"))
	}

	if c.Feeds.SodarURL != "" && !strings.Contains(c.Feeds.SodarURL, "{date}") {
		errs = append(errs, fmt.Errorf("SODAR_URL %q must contain a {date} placeholder", c.Feeds.SodarURL))
	}
	if c.Feeds.FetchTimeout <= 0 {
		errs = append(errs, errors.New("FETCH_TIMEOUT must be positive"))
	}
	if c.Feeds.FetchRetries < 0 {
		errs = append(errs, errors.New("FETCH_RETRIES must not be negative"))
	}

	if c.Ingest.Workers <= 0 {
		errs = append(errs, fmt.Errorf("INGEST_WORKERS must be positive, got %d", c.Ingest.Workers))
	}
	if c.Ingest.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("INGEST_BATCH_SIZE must be positive, got %d", c.Ingest.BatchSize))
	}
	if c.Ingest.Schedule <= 0 {
		errs = append(errs, errors.New("INGEST_SCHEDULE must be positive"))
	}

	if c.Cache.SummaryTTL < 0 {
		errs = append(errs, errors.New("SUMMARY_CACHE_TTL must not be negative"))
	}

	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		errs = append(errs, errors.New("KAFKA_TOPIC is required when KAFKA_BROKERS is set"))
	}

	return errors.Join(errs...)
}

// loader collects parse errors so every bad variable is reported at once
type loader struct {
	errs *[]error
}

func (l loader) int(key string, defaultValue int) int {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		*l.errs = append(*l.errs, fmt.Errorf("invalid %s: %w", key, err))
		return defaultValue
	}
	return n
}

func (l loader) duration(key string, defaultValue time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		*l.errs = append(*l.errs, fmt.Errorf("invalid %s: %w", key, err))
		return defaultValue
	}
	return d
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	value, exists := os.LookupEnv(key)
	if !exists || strings.TrimSpace(value) == "" {
		return defaultValue
	}

	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

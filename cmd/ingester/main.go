package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"meteo-platform/internal/changes"
	"meteo-platform/internal/config"
	"meteo-platform/internal/events"
	"meteo-platform/internal/fetch"
	"meteo-platform/internal/influxdb"
	"meteo-platform/internal/models"
	"meteo-platform/internal/repository"
	"meteo-platform/internal/scheduler"
	"meteo-platform/internal/services"
	"meteo-platform/migrations"
	"meteo-platform/pkg/database"
	"meteo-platform/pkg/logging"
	"meteo-platform/pkg/metrics"
)

const version = "1.0.0"

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Parse command-line flags
	dataDir := flag.String("data-dir", cfg.Feeds.BarometerDir, "Directory containing barometer .txt files (empty to skip)")
	sodarDir := flag.String("sodar-dir", cfg.Feeds.SodarDir, "Directory containing SODAR .txt files (empty to skip)")
	sodarFrom := flag.String("sodar-from", "", "First date (YYYY-MM-DD) to fetch from the remote SODAR feed")
	sodarTo := flag.String("sodar-to", "", "Last date (YYYY-MM-DD) to fetch; defaults to -sodar-from")
	sodarRemote := flag.Bool("sodar-remote", false, "With -watch, poll the remote SODAR feed for yesterday and today")
	watch := flag.Bool("watch", false, "Keep running and sweep every INGEST_SCHEDULE")
	flag.Parse()

	logger := logging.NewStructuredLogger("meteo-ingester", version, logging.ParseLevel(cfg.Logging.Level), logging.Format(strings.ToLower(cfg.Logging.Format)))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info(ctx, "[INGESTER_START] Starting meteo data ingestion", logging.Fields{
		"version":    version,
		"data_dir":   *dataDir,
		"sodar_dir":  *sodarDir,
		"sodar_from": *sodarFrom,
		"sodar_to":   *sodarTo,
		"watch":      *watch,
		"workers":    cfg.Ingest.Workers,
		"batch_size": cfg.Ingest.BatchSize,
	})

	var from, to time.Time
	if *sodarFrom != "" {
		if from, err = models.ParseDate("sodar-from", *sodarFrom); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
		to = from
		if *sodarTo != "" {
			if to, err = models.ParseDate("sodar-to", *sodarTo); err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(2)
			}
		}
	}

	// Initialize metrics collector
	metricsCollector := metrics.NewCollector("meteo_ingester", prometheus.NewRegistry())

	// Initialize database
	dbConfig := &database.Config{
		Driver:          cfg.Database.Driver,
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		Database:        cfg.Database.Database,
		SSLMode:         cfg.Database.SSLMode,
		Path:            cfg.Database.Path,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
	}

	db, err := database.Open(dbConfig, logger, metricsCollector)
	if err != nil {
		logger.Fatal(ctx, "[INGESTER_ERROR] Failed to connect to database", logging.Fields{}, err)
	}
	defer db.Close()

	if db.DriverName() == database.DriverSQLite {
		if _, err := migrations.Up(ctx, db.DB()); err != nil {
			logger.Fatal(ctx, "[INGESTER_ERROR] Failed to apply migrations", logging.Fields{}, err)
		}
	}

	// Initialize wind backend
	var windBackend repository.WindBackend
	if cfg.InfluxDB.URL != "" {
		influx, err := influxdb.NewClient(ctx, cfg.InfluxDB, logger)
		if err != nil {
			logger.Fatal(ctx, "[INGESTER_ERROR] Failed to connect to InfluxDB", logging.Fields{}, err)
		}
		defer influx.Close()
		windBackend = influx
	} else {
		logger.Warn(ctx, "[INGESTER_START] INFLUX_URL not set, wind samples are kept in memory", logging.Fields{})
		windBackend = repository.NewMemoryWindBackend()
	}

	// Initialize event publisher
	var publisher events.Publisher = events.NopPublisher{}
	if len(cfg.Kafka.Brokers) > 0 {
		kafka, err := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger, metricsCollector)
		if err != nil {
			logger.Fatal(ctx, "[INGESTER_ERROR] Failed to connect to Kafka", logging.Fields{
				"brokers": cfg.Kafka.Brokers,
			}, err)
		}
		publisher = kafka
	}
	defer publisher.Close()

	fetcher := fetch.NewSodarFetcher(fetch.Config{
		URLTemplate: cfg.Feeds.SodarURL,
		Timeout:     cfg.Feeds.FetchTimeout,
		Backoff:     fetch.BackoffConfig{MaxRetries: cfg.Feeds.FetchRetries},
	}, logger, metricsCollector)

	// Initialize repositories and service
	pressureRepo := repository.NewPressureRepository(db, logger, metricsCollector)
	windRepo := repository.NewWindRepository(windBackend, logger, metricsCollector)

	ingestionService := services.NewIngestionService(pressureRepo, windRepo, changes.NewTracker(), logger, metricsCollector,
		services.WithFetcher(fetcher),
		services.WithPublisher(publisher),
		services.WithWorkers(cfg.Ingest.Workers),
		services.WithBatchSize(cfg.Ingest.BatchSize),
	)

	var jobs []namedJob
	if *dataDir != "" {
		src := services.NewDirSource(*dataDir)
		jobs = append(jobs, namedJob{"barometer-sweep", func(ctx context.Context) (*services.IngestionResult, error) {
			return ingestionService.IngestBarometer(ctx, src)
		}})
	}
	if *sodarDir != "" {
		src := services.NewDirSource(*sodarDir)
		jobs = append(jobs, namedJob{"sodar-sweep", func(ctx context.Context) (*services.IngestionResult, error) {
			return ingestionService.IngestSodarFiles(ctx, src)
		}})
	}
	if !from.IsZero() {
		jobs = append(jobs, namedJob{"sodar-range", func(ctx context.Context) (*services.IngestionResult, error) {
			return ingestionService.IngestSodarRange(ctx, from, to)
		}})
	}
	if *watch && *sodarRemote {
		jobs = append(jobs, namedJob{"sodar-remote", func(ctx context.Context) (*services.IngestionResult, error) {
			today := models.DayOf(time.Now())
			return ingestionService.IngestSodarRange(ctx, today.AddDate(0, 0, -1), today)
		}})
	}

	if len(jobs) == 0 {
		fmt.Fprintln(os.Stderr, "nothing to ingest: set -data-dir, -sodar-dir or -sodar-from")
		os.Exit(2)
	}

	if *watch {
		runScheduled(ctx, logger, cfg.Ingest.Schedule, jobs)
		return
	}

	failures := 0
	for _, job := range jobs {
		result, err := job.run(ctx)
		if result != nil {
			printResult(job.name, result)
			failures += result.Failures()
		}
		if err != nil {
			logger.Error(ctx, "[INGESTION_ERROR] Ingestion failed", logging.Fields{
				"job": job.name,
			}, err)
			os.Exit(1)
		}
	}

	logger.Info(ctx, "[INGESTER_COMPLETE] Ingestion completed", logging.Fields{
		"jobs":     len(jobs),
		"failures": failures,
	})
	if failures > 0 {
		os.Exit(1)
	}
}

type namedJob struct {
	name string
	run  func(ctx context.Context) (*services.IngestionResult, error)
}

// runScheduled sweeps every interval until ctx is cancelled. Each job runs at
// most once at a time.
func runScheduled(ctx context.Context, logger *logging.StructuredLogger, interval time.Duration, jobs []namedJob) {
	s := scheduler.New(logger)
	for _, job := range jobs {
		job := job
		err := s.Every(job.name, interval, func(jobCtx context.Context) error {
			result, err := job.run(jobCtx)
			if result != nil {
				logger.Info(jobCtx, "[INGESTION_SWEEP] Sweep finished", logging.Fields{
					"job":      job.name,
					"run_id":   result.RunID,
					"inserted": result.Batch.Inserted,
					"skipped":  result.Batch.Skipped,
					"dropped":  result.Dropped,
					"failures": result.Failures(),
				})
			}
			return err
		})
		if err != nil {
			logger.Fatal(ctx, "[INGESTER_ERROR] Failed to schedule job", logging.Fields{"job": job.name}, err)
		}
	}

	s.Start()
	<-ctx.Done()
	s.Stop()
}

func printResult(name string, result *services.IngestionResult) {
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("INGESTION COMPLETE: %s (%s)\n", name, result.Feed)
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Run ID:             %s\n", result.RunID)
	fmt.Printf("Records Parsed:     %d\n", result.Records)
	fmt.Printf("Rows Dropped:       %d\n", result.Dropped)
	fmt.Printf("Inserted:           %d\n", result.Batch.Inserted)
	fmt.Printf("Skipped Duplicates: %d\n", result.Batch.Skipped)
	fmt.Printf("Duration:           %v\n", result.Duration)

	if len(result.Files) > 0 {
		fmt.Printf("\n%-32s %-10s %8s %8s %8s\n", "FILE", "STATUS", "RECORDS", "INSERTED", "DROPPED")
		for _, f := range result.Files {
			fmt.Printf("%-32s %-10s %8d %8d %8d\n", f.Name, f.Status, f.Stats.Records, f.Batch.Inserted, f.Stats.Dropped)
		}
	}
	if len(result.Dates) > 0 {
		fmt.Printf("\n%-12s %-14s %8s %8s %8s\n", "DATE", "STATUS", "RECORDS", "INSERTED", "DROPPED")
		for _, d := range result.Dates {
			fmt.Printf("%-12s %-14s %8d %8d %8d\n", d.Date.Format(models.DateLayout), d.Status, d.Stats.Records, d.Batch.Inserted, d.Stats.Dropped)
		}
	}

	if failures := result.Failures(); failures > 0 {
		fmt.Printf("\nFailures (%d):\n", failures)
		shown := 0
		for _, f := range result.Files {
			if f.Err != nil && shown < 10 {
				fmt.Printf("  - %s: %v\n", f.Name, f.Err)
				shown++
			}
		}
		for _, d := range result.Dates {
			if d.Err != nil && shown < 10 {
				fmt.Printf("  - %s: %v\n", d.Date.Format(models.DateLayout), d.Err)
				shown++
			}
		}
		if failures > shown {
			fmt.Printf("  ... and %d more failures\n", failures-shown)
		}
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"meteo-platform/internal/config"
	"meteo-platform/internal/handlers"
	"meteo-platform/internal/influxdb"
	"meteo-platform/internal/repository"
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

	logger := logging.NewStructuredLogger("meteo-api", version, logging.ParseLevel(cfg.Logging.Level), logging.Format(strings.ToLower(cfg.Logging.Format)))

	ctx := context.Background()
	logger.Info(ctx, "[STARTUP] Starting meteo platform API server", logging.Fields{
		"version":     version,
		"server_host": cfg.Server.Host,
		"server_port": cfg.Server.Port,
		"db_driver":   cfg.Database.Driver,
		"db_name":     cfg.Database.Database,
		"influx_url":  cfg.InfluxDB.URL,
	})

	// Initialize metrics collector
	metricsCollector := metrics.NewCollector("meteo_platform", nil)

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
		logger.Fatal(ctx, "[STARTUP_ERROR] Failed to connect to database", logging.Fields{}, err)
	}
	defer db.Close()

	// sqlite is the embedded development store and has no separate migrate step
	if db.DriverName() == database.DriverSQLite {
		applied, err := migrations.Up(ctx, db.DB())
		if err != nil {
			logger.Fatal(ctx, "[STARTUP_ERROR] Failed to apply migrations", logging.Fields{}, err)
		}
		logger.Info(ctx, "[STARTUP] Schema up to date", logging.Fields{"applied": len(applied)})
	}

	// Initialize wind backend
	var windBackend repository.WindBackend
	if cfg.InfluxDB.URL != "" {
		influx, err := influxdb.NewClient(ctx, cfg.InfluxDB, logger)
		if err != nil {
			logger.Fatal(ctx, "[STARTUP_ERROR] Failed to connect to InfluxDB", logging.Fields{}, err)
		}
		defer influx.Close()
		windBackend = influx
	} else {
		logger.Warn(ctx, "[STARTUP] INFLUX_URL not set, wind samples are kept in memory", logging.Fields{})
		windBackend = repository.NewMemoryWindBackend()
	}

	// Initialize repositories
	pressureRepo := repository.NewPressureRepository(db, logger, metricsCollector)
	windRepo := repository.NewWindRepository(windBackend, logger, metricsCollector)

	// Initialize services
	weatherService := services.NewWeatherService(pressureRepo, windRepo, logger, metricsCollector)
	statsService := services.NewStatisticsService(pressureRepo, windRepo, cfg.Cache.SummaryTTL, logger, metricsCollector)

	// Initialize handlers
	weatherHandler := handlers.NewWeatherHandler(weatherService, statsService, logger, metricsCollector)

	// Setup router
	router := mux.NewRouter()
	router.Use(handlers.RequestLogging(logger))

	// Register routes
	weatherHandler.RegisterRoutes(router)

	// Prometheus metrics endpoint
	router.Handle("/metrics", promhttp.Handler())

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	go func() {
		logger.Info(ctx, "[SERVER_START] HTTP server listening", logging.Fields{
			"address": server.Addr,
		})

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal(ctx, "[SERVER_ERROR] Server failed", logging.Fields{}, err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info(ctx, "[SHUTDOWN] Shutting down server...", logging.Fields{})

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "[SHUTDOWN_ERROR] Server forced to shutdown", logging.Fields{}, err)
	}

	logger.Info(ctx, "[SHUTDOWN_COMPLETE] Server stopped", logging.Fields{})
}

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"meteo-platform/internal/config"
	"meteo-platform/migrations"
	"meteo-platform/pkg/database"
	"meteo-platform/pkg/logging"
	"meteo-platform/pkg/metrics"
)

func main() {
	direction := flag.String("direction", "up", "Migration direction: up or down")
	flag.Parse()

	if *direction != "up" && *direction != "down" {
		fmt.Fprintf(os.Stderr, "Invalid direction %q, expected up or down\n", *direction)
		os.Exit(2)
	}

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewStructuredLogger("meteo-migrate", "1.0.0", logging.ErrorLevel, logging.FormatJSON)
	logger.SetOutput(io.Discard)

	// Connect to database
	db, err := database.Open(&database.Config{
		Driver:       cfg.Database.Driver,
		Host:         cfg.Database.Host,
		Port:         cfg.Database.Port,
		User:         cfg.Database.User,
		Password:     cfg.Database.Password,
		Database:     cfg.Database.Database,
		SSLMode:      cfg.Database.SSLMode,
		Path:         cfg.Database.Path,
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	}, logger, metrics.NewCollector("meteo_migrate", prometheus.NewRegistry()))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	fmt.Printf("Connected to %s database successfully\n", db.DriverName())

	ctx := context.Background()
	var applied []migrations.Migration
	if *direction == "up" {
		applied, err = migrations.Up(ctx, db.DB())
	} else {
		applied, err = migrations.Down(ctx, db.DB())
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to execute migration: %v\n", err)
		os.Exit(1)
	}

	if len(applied) == 0 {
		fmt.Println("Nothing to migrate")
		return
	}
	for _, m := range applied {
		fmt.Printf("Migrated %s: %s_%s\n", *direction, m.Version, m.Name)
	}
	fmt.Println("Migration completed successfully")
}

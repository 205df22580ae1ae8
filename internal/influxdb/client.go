package influxdb

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"meteo-platform/internal/config"
	"meteo-platform/internal/models"
	"meteo-platform/pkg/logging"
)

const (
	tagSource = "source"
	tagHeight = "height_m"

	fieldSpeed     = "speed"
	fieldDirection = "direction"

	sourceSodar = "sodar"
)

// Client stores SODAR wind samples in an InfluxDB v2 bucket. Each sample is
// one point tagged by height; (time, height_m) is its identity.
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	queryAPI api.QueryAPI
	config   config.InfluxDBConfig
	logger   *logging.StructuredLogger
}

// NewClient initializes the InfluxDB v2 client and verifies connectivity
func NewClient(ctx context.Context, cfg config.InfluxDBConfig, logger *logging.StructuredLogger) (*Client, error) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	health, err := client.Health(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to InfluxDB: %w", err)
	}

	logger.Info(ctx, "[INFLUX_INIT] InfluxDB connection verified", logging.Fields{
		"url":         cfg.URL,
		"org":         cfg.Org,
		"bucket":      cfg.Bucket,
		"measurement": cfg.Measurement,
		"status":      string(health.Status),
	})

	return newClient(client, cfg, logger), nil
}

func newClient(client influxdb2.Client, cfg config.InfluxDBConfig, logger *logging.StructuredLogger) *Client {
	if cfg.Measurement == "" {
		cfg.Measurement = "wind_profile"
	}
	return &Client{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		queryAPI: client.QueryAPI(cfg.Org),
		config:   cfg,
		logger:   logger,
	}
}

// Exists reports whether a point for key is already stored
func (c *Client) Exists(ctx context.Context, key models.WindKey) (bool, error) {
	result, err := c.queryAPI.Query(ctx, existsQuery(c.config.Bucket, c.config.Measurement, key))
	if err != nil {
		return false, fmt.Errorf("failed to query wind point: %w", err)
	}
	defer result.Close()

	found := result.Next()
	if err := result.Err(); err != nil {
		return false, fmt.Errorf("failed to read wind point: %w", err)
	}
	return found, nil
}

// Write stores one sample as a point
func (c *Client) Write(ctx context.Context, sample models.WindSample) error {
	if err := c.writeAPI.WritePoint(ctx, samplePoint(c.config.Measurement, sample)); err != nil {
		return fmt.Errorf("failed to write wind point: %w", err)
	}
	return nil
}

// Query returns samples in [from, to) ordered by timestamp then height. Zero
// bounds are open.
func (c *Client) Query(ctx context.Context, from, to time.Time) ([]models.WindSample, error) {
	result, err := c.queryAPI.Query(ctx, rangeQuery(c.config.Bucket, c.config.Measurement, from, to))
	if err != nil {
		return nil, fmt.Errorf("failed to query wind samples: %w", err)
	}
	defer result.Close()

	var samples []models.WindSample
	for result.Next() {
		rec := result.Record()
		s, ok := sampleFromRecord(rec.Time(), rec.Values())
		if !ok {
			c.logger.Warn(ctx, "[INFLUX_QUERY] Skipping malformed wind record", logging.Fields{
				"time": rec.Time().Format(time.RFC3339),
			})
			continue
		}
		samples = append(samples, s)
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("failed to read wind samples: %w", err)
	}

	slices.SortFunc(samples, func(a, b models.WindSample) int {
		if c := a.Timestamp.Compare(b.Timestamp); c != 0 {
			return c
		}
		return cmp.Compare(a.Height, b.Height)
	})
	return samples, nil
}

// HealthCheck pings the server
func (c *Client) HealthCheck(ctx context.Context) error {
	ok, err := c.client.Ping(ctx)
	if err != nil {
		return fmt.Errorf("influxdb ping failed: %w", err)
	}
	if !ok {
		return fmt.Errorf("influxdb is not ready")
	}
	return nil
}

// Close closes the InfluxDB client
func (c *Client) Close() {
	c.client.Close()
}

func samplePoint(measurement string, s models.WindSample) *write.Point {
	return write.NewPoint(
		measurement,
		map[string]string{
			tagSource: sourceSodar,
			tagHeight: models.FormatHeight(s.Height),
		},
		map[string]interface{}{
			fieldSpeed:     s.Speed,
			fieldDirection: s.Direction,
		},
		s.Timestamp.UTC(),
	)
}

func sampleFromRecord(ts time.Time, values map[string]interface{}) (models.WindSample, bool) {
	hs, ok := values[tagHeight].(string)
	if !ok {
		return models.WindSample{}, false
	}
	height, err := strconv.ParseFloat(hs, 64)
	if err != nil {
		return models.WindSample{}, false
	}
	speed, ok := models.CoerceFloat(values[fieldSpeed])
	if !ok {
		return models.WindSample{}, false
	}
	direction, ok := models.CoerceFloat(values[fieldDirection])
	if !ok {
		return models.WindSample{}, false
	}
	return models.WindSample{
		Timestamp: ts.UTC(),
		Height:    height,
		Speed:     speed,
		Direction: direction,
	}, true
}

func fluxTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func fluxString(s string) string {
	return strconv.Quote(s)
}

func existsQuery(bucket, measurement string, key models.WindKey) string {
	var b strings.Builder
	fmt.Fprintf(&b, "from(bucket: %s)\n", fluxString(bucket))
	fmt.Fprintf(&b, "  |> range(start: %s, stop: %s)\n", fluxTime(key.Timestamp), fluxTime(key.Timestamp.Add(time.Second)))
	fmt.Fprintf(&b, "  |> filter(fn: (r) => r._measurement == %s and r.%s == %s and r._field == %s)\n",
		fluxString(measurement), tagHeight, fluxString(models.FormatHeight(key.Height)), fluxString(fieldSpeed))
	b.WriteString("  |> filter(fn: (r) => r._time == " + fluxTime(key.Timestamp) + ")\n")
	b.WriteString("  |> limit(n: 1)")
	return b.String()
}

func rangeQuery(bucket, measurement string, from, to time.Time) string {
	start := "0"
	if !from.IsZero() {
		start = fluxTime(from)
	}
	stop := "now()"
	if !to.IsZero() {
		stop = fluxTime(to)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "from(bucket: %s)\n", fluxString(bucket))
	fmt.Fprintf(&b, "  |> range(start: %s, stop: %s)\n", start, stop)
	fmt.Fprintf(&b, "  |> filter(fn: (r) => r._measurement == %s)\n", fluxString(measurement))
	fmt.Fprintf(&b, "  |> pivot(rowKey: [\"_time\", %s], columnKey: [\"_field\"], valueColumn: \"_value\")\n", fluxString(tagHeight))
	b.WriteString("  |> group()\n")
	b.WriteString("  |> sort(columns: [\"_time\"])")
	return b.String()
}

package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"meteo-platform/pkg/logging"
	"meteo-platform/pkg/metrics"
)

// DateLayout is the yymmdd form the SODAR logger names its daily files with
const DateLayout = "060102"

// maxBodyBytes bounds a single daily file
const maxBodyBytes = 32 << 20

var (
	// ErrFeedNotFound is returned when the remote has no file for the date
	ErrFeedNotFound = errors.New("sodar feed not found")

	errServerError = errors.New("server error")
	errRateLimited = errors.New("rate limited")
	errUnexpected  = errors.New("unexpected status code")
	errCircuitOpen = errors.New("circuit breaker open")
)

// BackoffConfig controls retry timing
type BackoffConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// Config configures a SodarFetcher
type Config struct {
	// URLTemplate contains a {date} placeholder replaced with the yymmdd date
	URLTemplate string
	Timeout     time.Duration
	Backoff     BackoffConfig
	Client      *http.Client
}

// SodarFetcher downloads daily SODAR files over HTTP
type SodarFetcher struct {
	urlTemplate string
	client      *http.Client
	backoff     BackoffConfig
	circuit     *gobreaker.CircuitBreaker
	logger      *logging.StructuredLogger
	metrics     *metrics.Collector
}

// NewSodarFetcher creates a fetcher with retries and a circuit breaker
func NewSodarFetcher(cfg Config, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *SodarFetcher {
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.Backoff.InitialInterval <= 0 {
		cfg.Backoff.InitialInterval = 500 * time.Millisecond
	}
	if cfg.Backoff.MaxInterval <= 0 {
		cfg.Backoff.MaxInterval = 5 * time.Second
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "sodar-feed",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     2 * time.Minute,
		// a missing daily file is an answer, not an outage
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrFeedNotFound)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn(context.Background(), "[FETCH_CIRCUIT] Circuit breaker state changed", logging.Fields{
				"circuit": name,
				"from":    from.String(),
				"to":      to.String(),
			})
		},
	})

	return &SodarFetcher{
		urlTemplate: cfg.URLTemplate,
		client:      client,
		backoff:     cfg.Backoff,
		circuit:     cb,
		logger:      logger,
		metrics:     metricsCollector,
	}
}

// URL returns the file URL for the calendar date of date
func (f *SodarFetcher) URL(date time.Time) string {
	return strings.ReplaceAll(f.urlTemplate, "{date}", date.Format(DateLayout))
}

// Fetch downloads the file for date. A 404 yields ErrFeedNotFound without
// retrying; server errors and transport failures are retried with exponential
// backoff.
func (f *SodarFetcher) Fetch(ctx context.Context, date time.Time) (string, error) {
	url := f.URL(date)
	start := time.Now()

	body, err := f.fetchWithRetry(ctx, url)

	fields := logging.Fields{
		"url":         url,
		"duration_ms": time.Since(start).Milliseconds(),
	}
	switch {
	case err == nil:
		f.metrics.RecordFetch("ok")
		fields["bytes"] = len(body)
		f.logger.Debug(ctx, "[FETCH_SODAR] Downloaded SODAR file", fields)
		return body, nil
	case errors.Is(err, ErrFeedNotFound):
		f.metrics.RecordFetch("not_found")
		f.logger.Info(ctx, "[FETCH_SODAR] No SODAR file for date", fields)
		return "", err
	default:
		f.metrics.RecordFetch("failed")
		f.metrics.RecordFetchFailure(failureReason(err))
		f.logger.Error(ctx, "[FETCH_SODAR] Failed to download SODAR file", fields, err)
		return "", fmt.Errorf("failed to fetch %s: %w", url, err)
	}
}

func (f *SodarFetcher) fetchWithRetry(ctx context.Context, url string) (string, error) {
	var attempt int
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		result, err := f.circuit.Execute(func() (interface{}, error) {
			return f.get(ctx, url)
		})
		if err == nil {
			body, ok := result.(string)
			if !ok {
				return "", fmt.Errorf("unexpected result type from circuit breaker")
			}
			return body, nil
		}

		if errors.Is(err, ErrFeedNotFound) {
			return "", err
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return "", fmt.Errorf("%w: %v", errCircuitOpen, err)
		}
		if attempt >= f.backoff.MaxRetries {
			return "", err
		}

		delay := f.backoff.InitialInterval * time.Duration(math.Pow(2, float64(attempt)))
		if delay > f.backoff.MaxInterval {
			delay = f.backoff.MaxInterval
		}

		f.logger.Debug(ctx, "[FETCH_RETRY] Retrying SODAR download", logging.Fields{
			"url":      url,
			"attempt":  attempt + 1,
			"delay_ms": delay.Milliseconds(),
			"error":    err.Error(),
		})

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", ctx.Err()
		case <-timer.C:
		}
		attempt++
	}
}

func (f *SodarFetcher) get(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return "", ErrFeedNotFound
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", errRateLimited
	case resp.StatusCode >= 500:
		return "", fmt.Errorf("%w: %d", errServerError, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return "", fmt.Errorf("%w: %d", errUnexpected, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}
	return string(body), nil
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, errCircuitOpen):
		return "circuit_open"
	case errors.Is(err, errRateLimited):
		return "rate_limited"
	case errors.Is(err, errServerError):
		return "server_error"
	case errors.Is(err, errUnexpected):
		return "unexpected_status"
	default:
		return "transport"
	}
}

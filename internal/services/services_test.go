package services

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"meteo-platform/internal/events"
	"meteo-platform/internal/models"
	"meteo-platform/internal/repository"
	"meteo-platform/migrations"
	"meteo-platform/pkg/database"
	"meteo-platform/pkg/logging"
	"meteo-platform/pkg/metrics"
)

type testEnv struct {
	pressure repository.PressureRepository
	wind     repository.WindRepository
	backend  *repository.MemoryWindBackend
	logger   *logging.StructuredLogger
	metrics  *metrics.Collector
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	logger := logging.NewStructuredLogger("services-test", "test", logging.ErrorLevel, logging.FormatJSON)
	logger.SetOutput(io.Discard)
	collector := metrics.NewCollector("services_test", prometheus.NewRegistry())

	db, err := database.Open(&database.Config{Driver: database.DriverSQLite, Path: ":memory:"}, logger, collector)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if _, err := migrations.Up(context.Background(), db.DB()); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	backend := repository.NewMemoryWindBackend()
	return &testEnv{
		pressure: repository.NewPressureRepository(db, logger, collector),
		wind:     repository.NewWindRepository(backend, logger, collector),
		backend:  backend,
		logger:   logger,
		metrics:  collector,
	}
}

// memSource is an in-memory FileSource
type memSource struct {
	mu      sync.Mutex
	files   map[string]memFile
	readErr map[string]error
	reads   map[string]int
}

type memFile struct {
	content string
	mtime   time.Time
}

func newMemSource() *memSource {
	return &memSource{
		files:   make(map[string]memFile),
		readErr: make(map[string]error),
		reads:   make(map[string]int),
	}
}

func (m *memSource) put(name, content string, mtime time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[name] = memFile{content: content, mtime: mtime}
}

func (m *memSource) List(ctx context.Context) ([]SourceFile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []SourceFile
	for name, f := range m.files {
		out = append(out, SourceFile{Name: name, Path: "mem/" + name, ModTime: f.mtime})
	}
	return out, nil
}

func (m *memSource) Read(ctx context.Context, f SourceFile) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads[f.Name]++
	if err := m.readErr[f.Name]; err != nil {
		return nil, err
	}
	return []byte(m.files[f.Name].content), nil
}

func (m *memSource) readCount(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads[name]
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.IngestionEvent
}

func (p *recordingPublisher) Publish(_ context.Context, e events.IngestionEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) bySource() map[string]events.IngestionEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]events.IngestionEvent, len(p.events))
	for _, e := range p.events {
		out[e.Source] = e
	}
	return out
}

func fileStatuses(r *IngestionResult) map[string]FileStatus {
	out := make(map[string]FileStatus, len(r.Files))
	for _, f := range r.Files {
		out[f.Name] = f.Status
	}
	return out
}

func day(s string) time.Time {
	d, err := time.Parse(models.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return d
}

func ptr[T any](v T) *T { return &v }

func floatEq(p *float64, want float64) bool {
	return p != nil && *p == want
}

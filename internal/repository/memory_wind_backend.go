package repository

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"meteo-platform/internal/models"
)

// MemoryWindBackend keeps wind samples in process memory. It is used when no
// time-series store is configured.
type MemoryWindBackend struct {
	mu      sync.RWMutex
	samples map[models.WindKey]models.WindSample
}

// NewMemoryWindBackend creates an empty in-memory backend
func NewMemoryWindBackend() *MemoryWindBackend {
	return &MemoryWindBackend{samples: make(map[models.WindKey]models.WindSample)}
}

// Exists reports whether a sample with key is stored
func (m *MemoryWindBackend) Exists(_ context.Context, key models.WindKey) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.samples[key]
	return ok, nil
}

// Write stores the sample, replacing any sample with the same key
func (m *MemoryWindBackend) Write(_ context.Context, sample models.WindSample) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.samples[sample.Key()] = sample
	return nil
}

// Query returns samples in [from, to) ordered by timestamp then height
func (m *MemoryWindBackend) Query(_ context.Context, from, to time.Time) ([]models.WindSample, error) {
	m.mu.RLock()
	out := make([]models.WindSample, 0, len(m.samples))
	for _, s := range m.samples {
		if !from.IsZero() && s.Timestamp.Before(from) {
			continue
		}
		if !to.IsZero() && !s.Timestamp.Before(to) {
			continue
		}
		out = append(out, s)
	}
	m.mu.RUnlock()

	slices.SortFunc(out, func(a, b models.WindSample) int {
		if c := a.Timestamp.Compare(b.Timestamp); c != 0 {
			return c
		}
		return cmp.Compare(a.Height, b.Height)
	})
	return out, nil
}

// Len returns the number of stored samples
func (m *MemoryWindBackend) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.samples)
}

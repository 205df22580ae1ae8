// Package cache memoizes expensive full-history aggregations for a fixed TTL.
package cache

import (
	"context"
	"sync"
	"time"
)

// Observer receives hit/miss notifications, typically a metrics collector
type Observer interface {
	RecordCacheRequest(cache string, hit bool)
}

type nopObserver struct{}

func (nopObserver) RecordCacheRequest(string, bool) {}

// Option configures a SummaryCache
type Option func(*config)

type config struct {
	now      func() time.Time
	observer Observer
}

// WithClock replaces time.Now, mainly for tests
func WithClock(now func() time.Time) Option {
	return func(c *config) { c.now = now }
}

// WithObserver reports every lookup to o
func WithObserver(o Observer) Option {
	return func(c *config) { c.observer = o }
}

// SummaryCache holds a single payload of type T. The payload is fresh while
// now - computedAt < ttl.
type SummaryCache[T any] struct {
	name     string
	ttl      time.Duration
	now      func() time.Time
	observer Observer

	mu         sync.Mutex
	payload    T
	computedAt time.Time
	valid      bool
}

// New creates an empty cache. name labels metrics.
func New[T any](name string, ttl time.Duration, opts ...Option) *SummaryCache[T] {
	cfg := config{now: time.Now, observer: nopObserver{}}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &SummaryCache[T]{
		name:     name,
		ttl:      ttl,
		now:      cfg.now,
		observer: cfg.observer,
	}
}

// GetOrCompute returns the cached payload while it is fresh, otherwise runs
// compute and stores its result. A failed compute leaves the previous entry
// in place and returns the error.
//
// The lock is held while compute runs; concurrent callers wait for its result.
func (c *SummaryCache[T]) GetOrCompute(ctx context.Context, compute func(context.Context) (T, error)) (T, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.valid && c.now().Sub(c.computedAt) < c.ttl {
		c.observer.RecordCacheRequest(c.name, true)
		return c.payload, nil
	}
	c.observer.RecordCacheRequest(c.name, false)

	payload, err := compute(ctx)
	if err != nil {
		var zero T
		return zero, err
	}

	c.payload = payload
	c.computedAt = c.now()
	c.valid = true
	return payload, nil
}

// Invalidate drops the cached payload
func (c *SummaryCache[T]) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero T
	c.payload = zero
	c.valid = false
}

// ComputedAt returns when the current payload was computed, or false if empty
func (c *SummaryCache[T]) ComputedAt() (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.computedAt, c.valid
}

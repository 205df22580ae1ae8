// Package changes remembers the modification time of every source file seen by
// an ingestion sweep so unchanged files can be skipped on the next one.
package changes

import (
	"sync"
	"time"
)

// Tracker is a process-local fingerprint map. The zero value is not usable; use NewTracker.
type Tracker struct {
	mu   sync.Mutex
	seen map[string]time.Time
}

// NewTracker creates an empty tracker
func NewTracker() *Tracker {
	return &Tracker{seen: make(map[string]time.Time)}
}

// Observe reports whether name is new or its mtime differs from the last
// recorded value, and records mtime either way.
func (t *Tracker) Observe(name string, mtime time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	prev, ok := t.seen[name]
	t.seen[name] = mtime
	return !ok || !prev.Equal(mtime)
}

// Forget drops the fingerprint for name so the next Observe reports a change.
func (t *Tracker) Forget(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.seen, name)
}

// Len returns the number of tracked files
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.seen)
}

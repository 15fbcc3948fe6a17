package triage

import (
	"sync"
	"time"

	"hyperbridge/internal/island"
)

const (
	DefaultDebounceInterval = 200 * time.Millisecond
	DefaultDebounceEntries  = 4096
)

type debounceEntry struct {
	at     time.Time
	fields island.Fields
}

// Debouncer rate-limits re-deliveries of identical raw content per key.
// Content changes are never delayed.
type Debouncer struct {
	mu         sync.Mutex
	interval   time.Duration
	maxEntries int
	entries    map[string]debounceEntry
}

func NewDebouncer(interval time.Duration, maxEntries int) *Debouncer {
	if interval < 0 {
		interval = 0
	}
	if maxEntries <= 0 {
		maxEntries = DefaultDebounceEntries
	}
	return &Debouncer{
		interval:   interval,
		maxEntries: maxEntries,
		entries:    map[string]debounceEntry{},
	}
}

// Allow reports whether an update for key carrying f should proceed at now,
// and records it if so.
func (d *Debouncer) Allow(key string, f island.Fields, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	prev, ok := d.entries[key]
	if ok && prev.fields == f && now.Sub(prev.at) < d.interval {
		return false
	}
	d.entries[key] = debounceEntry{at: now, fields: f}
	if !ok && len(d.entries) > d.maxEntries {
		d.pruneLocked(key)
	}
	return true
}

// Forget drops all state for key.
func (d *Debouncer) Forget(key string) {
	d.mu.Lock()
	delete(d.entries, key)
	d.mu.Unlock()
}

func (d *Debouncer) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}

// pruneLocked removes the least recently accepted entries until within cap,
// never removing keep.
func (d *Debouncer) pruneLocked(keep string) {
	for len(d.entries) > d.maxEntries {
		var (
			oldestKey string
			oldestAt  time.Time
			set       bool
		)
		for k, e := range d.entries {
			if k == keep {
				continue
			}
			if !set || e.at.Before(oldestAt) {
				oldestKey, oldestAt, set = k, e.at, true
			}
		}
		if !set {
			return
		}
		delete(d.entries, oldestKey)
	}
}

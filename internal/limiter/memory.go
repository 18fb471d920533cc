package limiter

import (
	"sync"
	"time"
)

// Memory is an in-process fixed-window counter keyed by caller identifier.
// Counters are process-local and reset on restart.
type Memory struct {
	mu         sync.Mutex
	entries    map[string]*windowEntry
	maxReq     int
	window     time.Duration
	maxEntries int
	now        func() time.Time
}

type windowEntry struct {
	count int
	start time.Time
}

// compactThreshold is the entry count above which stale windows are swept.
const compactThreshold = 10000

// NewMemory constructs a fixed-window limiter allowing maxRequests per window.
func NewMemory(maxRequests int, window time.Duration) *Memory {
	return &Memory{
		entries:    make(map[string]*windowEntry),
		maxReq:     maxRequests,
		window:     window,
		maxEntries: compactThreshold,
		now:        time.Now,
	}
}

// Allow reports whether a request from the identifier is currently permitted.
// A missing or elapsed window resets the counter and allows.
func (m *Memory) Allow(identifier string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if len(m.entries) > m.maxEntries {
		m.compact(now)
	}

	e, ok := m.entries[identifier]
	if !ok || now.Sub(e.start) > m.window {
		m.entries[identifier] = &windowEntry{count: 1, start: now}
		return true
	}
	if e.count >= m.maxReq {
		return false
	}
	e.count++
	return true
}

// compact drops entries whose window elapsed. Caller holds the lock.
func (m *Memory) compact(now time.Time) {
	cutoff := now.Add(-m.window)
	for k, e := range m.entries {
		if e.start.Before(cutoff) {
			delete(m.entries, k)
		}
	}
}

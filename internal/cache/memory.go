// Package cache implements the tiered series cache: a size-bounded memory
// tier, an optional disk tier and the long-term store consulted last.
// Entries are keyed by the exact requested (symbol, range); overlapping
// ranges are deliberately not merged.
package cache

import (
	"strings"
	"sync"
	"time"

	"assetfeed/internal/model"
)

// pointSize is the rough in-memory footprint of one PricePoint used for
// the eviction ceiling. Precision does not matter, consistency does.
const pointSize = 96

type memoryEntry struct {
	points      []model.PricePoint
	writtenAt   time.Time
	accessCount int64
	size        int
}

// Memory is the in-memory tier. Reads within FreshTTL are fresh; reads
// within StaleHorizon are served flagged stale; beyond that the entry is
// invisible (and reclaimed by SweepExpired). Eviction under the byte
// ceiling removes the least-accessed entry, oldest write breaking ties.
type Memory struct {
	freshTTL     time.Duration
	staleHorizon time.Duration
	maxBytes     int

	mu        sync.Mutex
	items     map[string]*memoryEntry
	totalSize int
	now       func() time.Time
}

func NewMemory(maxBytes int, freshTTL, staleHorizon time.Duration) *Memory {
	if staleHorizon < freshTTL {
		staleHorizon = freshTTL
	}
	return &Memory{
		freshTTL:     freshTTL,
		staleHorizon: staleHorizon,
		maxBytes:     maxBytes,
		items:        make(map[string]*memoryEntry),
		now:          time.Now,
	}
}

// Get returns the cached points for key and whether they are past the
// fresh TTL. ok is false when absent or past the stale horizon.
func (m *Memory) Get(key string) (points []model.PricePoint, stale bool, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, found := m.items[key]
	if !found {
		return nil, false, false
	}
	age := m.now().Sub(e.writtenAt)
	if age >= m.staleHorizon {
		return nil, false, false
	}
	e.accessCount++
	return e.points, age >= m.freshTTL, true
}

// GetStale returns whatever is still resident for key regardless of TTL.
// This is the degraded-data path used when every provider has failed.
func (m *Memory) GetStale(key string) ([]model.PricePoint, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, found := m.items[key]
	if !found {
		return nil, false
	}
	e.accessCount++
	return e.points, true
}

// Set stores points under key, evicting under memory pressure.
func (m *Memory) Set(key string, points []model.PricePoint) {
	size := len(points)*pointSize + len(key)
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, found := m.items[key]; found {
		m.totalSize -= old.size
	}
	m.items[key] = &memoryEntry{points: points, writtenAt: m.now(), size: size}
	m.totalSize += size
	m.evictLocked()
}

// evictLocked removes victims until the ceiling holds. Victim selection is
// approximate LRU: lowest access count, then oldest write.
func (m *Memory) evictLocked() {
	if m.maxBytes <= 0 {
		return
	}
	for m.totalSize > m.maxBytes && len(m.items) > 1 {
		var victimKey string
		var victim *memoryEntry
		for k, e := range m.items {
			if victim == nil ||
				e.accessCount < victim.accessCount ||
				(e.accessCount == victim.accessCount && e.writtenAt.Before(victim.writtenAt)) {
				victimKey, victim = k, e
			}
		}
		m.totalSize -= victim.size
		delete(m.items, victimKey)
	}
}

// Invalidate removes every entry for symbol.
func (m *Memory) Invalidate(symbol string) {
	prefix := symbol + ":"
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, e := range m.items {
		if strings.HasPrefix(k, prefix) {
			m.totalSize -= e.size
			delete(m.items, k)
		}
	}
}

// SweepExpired reclaims entries past the stale horizon.
func (m *Memory) SweepExpired() int {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for k, e := range m.items {
		if now.Sub(e.writtenAt) >= m.staleHorizon {
			m.totalSize -= e.size
			delete(m.items, k)
			removed++
		}
	}
	return removed
}

// Len reports the number of resident entries.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

package cache

import (
	"context"
	"time"

	"assetfeed/internal/logging"
	"assetfeed/internal/model"
	"assetfeed/internal/store"
)

// Result is what a tiered lookup yields.
type Result struct {
	Points []model.PricePoint
	Stale  bool
	Tier   string // "memory", "disk" or "store"
}

// Tiered checks memory, then disk, then the long-term store, and writes
// through all tiers on Set. Disk and store are both optional (nil).
type Tiered struct {
	mem  *Memory
	disk *Disk
	st   store.Store
	log  *logging.Logger
	now  func() time.Time
}

// storeCoverageSlack is how close (in calendar days) the store's newest
// point must come to the requested range end for a store read to count as
// a hit; it absorbs weekends and market holidays at the range boundary.
const storeCoverageSlack = 5

func NewTiered(mem *Memory, disk *Disk, st store.Store, log *logging.Logger) *Tiered {
	if log == nil {
		log = logging.Nop()
	}
	return &Tiered{mem: mem, disk: disk, st: st, log: log, now: time.Now}
}

// Get looks key up tier by tier, promoting lower-tier hits into memory.
func (t *Tiered) Get(ctx context.Context, symbol string, r model.DateRange) (*Result, bool) {
	key := r.Key(symbol)

	if points, stale, ok := t.mem.Get(key); ok {
		return &Result{Points: points, Stale: stale, Tier: "memory"}, true
	}
	if t.disk != nil {
		if points, stale, ok := t.disk.Get(key); ok {
			t.mem.Set(key, points)
			return &Result{Points: points, Stale: stale, Tier: "disk"}, true
		}
	}
	if t.st != nil {
		points, err := t.st.QuerySeries(ctx, symbol, r.Start, r.End)
		if err != nil {
			t.log.Warn("store read failed", logging.F("symbol", symbol), logging.F("error", err.Error()))
		} else if t.storeCovers(points, r) {
			t.mem.Set(key, points)
			if t.disk != nil {
				if err := t.disk.Set(key, points); err != nil {
					t.log.Warn("disk promote failed", logging.F("key", key), logging.F("error", err.Error()))
				}
			}
			return &Result{Points: points, Tier: "store"}, true
		}
	}
	return nil, false
}

// storeCovers decides whether a store read satisfies the request: at least
// one point, with the newest one within a few days of the range end.
func (t *Tiered) storeCovers(points []model.PricePoint, r model.DateRange) bool {
	if len(points) == 0 {
		return false
	}
	newest := points[len(points)-1].Date
	return !newest.Before(r.End.AddDate(0, 0, -storeCoverageSlack))
}

// Set writes points through every tier. Cache tier failures are logged,
// not fatal; a store failure is returned so callers can flag it.
func (t *Tiered) Set(ctx context.Context, symbol string, r model.DateRange, points []model.PricePoint) error {
	key := r.Key(symbol)
	t.mem.Set(key, points)
	if t.disk != nil {
		if err := t.disk.Set(key, points); err != nil {
			t.log.Warn("disk write failed", logging.F("key", key), logging.F("error", err.Error()))
		}
	}
	if t.st != nil {
		if err := t.st.PersistSeries(ctx, symbol, points); err != nil {
			return err
		}
	}
	return nil
}

// GetStale is the degraded-data path: the most recent entry for the exact
// key regardless of TTL, falling back to whatever the store has for the
// range. Used only when every provider has failed.
func (t *Tiered) GetStale(ctx context.Context, symbol string, r model.DateRange) (*Result, bool) {
	key := r.Key(symbol)
	if points, ok := t.mem.GetStale(key); ok {
		return &Result{Points: points, Stale: true, Tier: "memory"}, true
	}
	if t.disk != nil {
		if points, ok := t.disk.GetStale(key); ok {
			return &Result{Points: points, Stale: true, Tier: "disk"}, true
		}
	}
	if t.st != nil {
		points, err := t.st.QuerySeries(ctx, symbol, r.Start, r.End)
		if err == nil && len(points) > 0 {
			return &Result{Points: points, Stale: true, Tier: "store"}, true
		}
	}
	return nil, false
}

// Invalidate drops symbol from the cache tiers. The store keeps its rows;
// durable history is not a cache entry.
func (t *Tiered) Invalidate(symbol string) {
	t.mem.Invalidate(symbol)
	if t.disk != nil {
		t.disk.Invalidate(symbol)
	}
}

// SweepExpired reclaims entries past the stale horizon in both cache tiers.
func (t *Tiered) SweepExpired() int {
	removed := t.mem.SweepExpired()
	if t.disk != nil {
		removed += t.disk.SweepExpired()
	}
	return removed
}

package cache

import (
	"context"
	"testing"
	"time"

	"assetfeed/internal/model"
	"assetfeed/internal/store"
)

// fakeStore is an in-memory Store for tier tests.
type fakeStore struct {
	series map[string][]model.PricePoint
	dists  map[string][]model.DistributionEvent
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		series: make(map[string][]model.PricePoint),
		dists:  make(map[string][]model.DistributionEvent),
	}
}

func (f *fakeStore) PersistSeries(_ context.Context, symbol string, points []model.PricePoint) error {
	f.series[symbol] = append([]model.PricePoint(nil), points...)
	return nil
}

func (f *fakeStore) QuerySeries(_ context.Context, symbol string, start, end time.Time) ([]model.PricePoint, error) {
	var out []model.PricePoint
	for _, p := range f.series[symbol] {
		if !p.Date.Before(start) && !p.Date.After(end) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeStore) LatestPoint(_ context.Context, symbol string) (*model.PricePoint, error) {
	pts := f.series[symbol]
	if len(pts) == 0 {
		return nil, nil
	}
	p := pts[len(pts)-1]
	return &p, nil
}

func (f *fakeStore) PersistDistributions(_ context.Context, symbol string, events []model.DistributionEvent) error {
	f.dists[symbol] = append([]model.DistributionEvent(nil), events...)
	return nil
}

func (f *fakeStore) QueryDistributions(_ context.Context, symbol string) ([]model.DistributionEvent, error) {
	return f.dists[symbol], nil
}

func (f *fakeStore) PurgeOlderThan(context.Context, int) (int64, error) { return 0, nil }
func (f *fakeStore) Stats(context.Context) (store.Stats, error)        { return store.Stats{}, nil }
func (f *fakeStore) Close() error                                      { return nil }

func TestTieredPromotesDiskHitToMemory(t *testing.T) {
	mem := NewMemory(1<<20, time.Minute, time.Hour)
	disk, err := NewDisk(t.TempDir(), time.Minute, time.Hour)
	if err != nil {
		t.Fatalf("NewDisk: %v", err)
	}
	tiered := NewTiered(mem, disk, nil, nil)

	r := model.NewDateRange(
		time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC))
	if err := disk.Set(r.Key("MSFT"), points("MSFT", 4)); err != nil {
		t.Fatalf("seed disk: %v", err)
	}

	res, ok := tiered.Get(context.Background(), "MSFT", r)
	if !ok || res.Tier != "disk" {
		t.Fatalf("first read: ok=%v tier=%q", ok, res.Tier)
	}
	res, ok = tiered.Get(context.Background(), "MSFT", r)
	if !ok || res.Tier != "memory" {
		t.Fatalf("second read should hit memory, got tier=%q", res.Tier)
	}
}

func TestTieredStoreHitRequiresCoverage(t *testing.T) {
	mem := NewMemory(1<<20, time.Minute, time.Hour)
	st := newFakeStore()
	tiered := NewTiered(mem, nil, st, nil)
	ctx := context.Background()

	// store holds data ending 2024-03-04
	if err := st.PersistSeries(ctx, "MSFT", points("MSFT", 4)); err != nil {
		t.Fatal(err)
	}

	// range ending near the stored data: store answers
	covered := model.NewDateRange(
		time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 3, 6, 0, 0, 0, 0, time.UTC))
	res, ok := tiered.Get(ctx, "MSFT", covered)
	if !ok || res.Tier != "store" {
		t.Fatalf("covered read: ok=%v tier=%q", ok, res.Tier)
	}

	// range extending far past the stored data: miss, the caller must fetch
	uncovered := model.NewDateRange(
		time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 4, 15, 0, 0, 0, 0, time.UTC))
	if _, ok := tiered.Get(ctx, "MSFT", uncovered); ok {
		t.Fatal("store data well short of range end should not satisfy the read")
	}
}

func TestTieredSetWritesThrough(t *testing.T) {
	mem := NewMemory(1<<20, time.Minute, time.Hour)
	disk, err := NewDisk(t.TempDir(), time.Minute, time.Hour)
	if err != nil {
		t.Fatalf("NewDisk: %v", err)
	}
	st := newFakeStore()
	tiered := NewTiered(mem, disk, st, nil)
	ctx := context.Background()

	r := model.NewDateRange(
		time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC))
	if err := tiered.Set(ctx, "MSFT", r, points("MSFT", 4)); err != nil {
		t.Fatalf("Set: %v", err)
	}

	if _, _, ok := mem.Get(r.Key("MSFT")); !ok {
		t.Fatal("memory tier missing after write-through")
	}
	if _, _, ok := disk.Get(r.Key("MSFT")); !ok {
		t.Fatal("disk tier missing after write-through")
	}
	if len(st.series["MSFT"]) != 4 {
		t.Fatalf("store rows = %d, want 4", len(st.series["MSFT"]))
	}
}

func TestTieredGetStaleFallsThroughToStore(t *testing.T) {
	mem := NewMemory(1<<20, time.Minute, time.Hour)
	st := newFakeStore()
	tiered := NewTiered(mem, nil, st, nil)
	ctx := context.Background()

	if err := st.PersistSeries(ctx, "MSFT", points("MSFT", 2)); err != nil {
		t.Fatal(err)
	}
	r := model.NewDateRange(
		time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC))

	// regular Get misses: store data nowhere near the range end
	if _, ok := tiered.Get(ctx, "MSFT", r); ok {
		t.Fatal("expected miss on regular read")
	}
	// degraded read takes whatever exists
	res, ok := tiered.GetStale(ctx, "MSFT", r)
	if !ok || !res.Stale || res.Tier != "store" {
		t.Fatalf("stale read: ok=%v stale=%v tier=%q", ok, res.Stale, res.Tier)
	}
}

func TestQuotesTTL(t *testing.T) {
	clock := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	q := NewQuotes(time.Minute)
	q.now = func() time.Time { return clock }

	q.Set(model.Quote{Symbol: "MSFT", Price: 420.0, Source: "test", AsOf: clock})

	if _, ok := q.Get("MSFT"); !ok {
		t.Fatal("fresh quote should hit")
	}
	clock = clock.Add(2 * time.Minute)
	if _, ok := q.Get("MSFT"); ok {
		t.Fatal("expired quote should miss")
	}
	if got, ok := q.GetStale("MSFT"); !ok || got.Price != 420.0 {
		t.Fatalf("stale quote: ok=%v price=%v", ok, got.Price)
	}
	q.Invalidate("MSFT")
	if _, ok := q.GetStale("MSFT"); ok {
		t.Fatal("invalidated quote should be gone")
	}
}

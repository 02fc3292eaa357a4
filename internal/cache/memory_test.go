package cache

import (
	"testing"
	"time"

	"assetfeed/internal/model"
)

func points(symbol string, n int) []model.PricePoint {
	out := make([]model.PricePoint, 0, n)
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		out = append(out, model.PricePoint{
			Symbol: symbol,
			Date:   base.AddDate(0, 0, i),
			Open:   100, High: 101, Low: 99, Close: 100.5,
			Volume: 10,
			Source: "test",
		})
	}
	return out
}

func TestMemoryFreshStaleExpired(t *testing.T) {
	clock := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	m := NewMemory(1<<20, 5*time.Minute, time.Hour)
	m.now = func() time.Time { return clock }

	m.Set("MSFT:2024-01-01:2024-06-01", points("MSFT", 3))

	if _, stale, ok := m.Get("MSFT:2024-01-01:2024-06-01"); !ok || stale {
		t.Fatalf("fresh read: ok=%v stale=%v", ok, stale)
	}

	clock = clock.Add(10 * time.Minute)
	if _, stale, ok := m.Get("MSFT:2024-01-01:2024-06-01"); !ok || !stale {
		t.Fatalf("stale read: ok=%v stale=%v", ok, stale)
	}

	clock = clock.Add(2 * time.Hour)
	if _, _, ok := m.Get("MSFT:2024-01-01:2024-06-01"); ok {
		t.Fatal("entry past stale horizon should be a miss")
	}
	// but GetStale still serves it until swept
	if _, ok := m.GetStale("MSFT:2024-01-01:2024-06-01"); !ok {
		t.Fatal("GetStale should serve expired residents")
	}
	if removed := m.SweepExpired(); removed != 1 {
		t.Fatalf("swept %d, want 1", removed)
	}
	if _, ok := m.GetStale("MSFT:2024-01-01:2024-06-01"); ok {
		t.Fatal("swept entry should be gone")
	}
}

func TestMemoryEvictsLeastAccessed(t *testing.T) {
	clock := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	// room for roughly two 5-point entries
	m := NewMemory(2*(5*pointSize+30), 5*time.Minute, time.Hour)
	m.now = func() time.Time { return clock }

	m.Set("AAA:2024-01-01:2024-01-05", points("AAA", 5))
	clock = clock.Add(time.Second)
	m.Set("BBB:2024-01-01:2024-01-05", points("BBB", 5))

	// touch AAA so BBB is the cold entry
	m.Get("AAA:2024-01-01:2024-01-05")
	m.Get("AAA:2024-01-01:2024-01-05")

	clock = clock.Add(time.Second)
	m.Set("CCC:2024-01-01:2024-01-05", points("CCC", 5))

	if _, _, ok := m.Get("BBB:2024-01-01:2024-01-05"); ok {
		t.Fatal("cold entry should have been evicted")
	}
	if _, _, ok := m.Get("AAA:2024-01-01:2024-01-05"); !ok {
		t.Fatal("hot entry should survive eviction")
	}
	if _, _, ok := m.Get("CCC:2024-01-01:2024-01-05"); !ok {
		t.Fatal("new entry should be resident")
	}
}

func TestMemoryInvalidateBySymbol(t *testing.T) {
	m := NewMemory(1<<20, time.Minute, time.Hour)
	m.Set("MSFT:2024-01-01:2024-02-01", points("MSFT", 2))
	m.Set("MSFT:2024-02-01:2024-03-01", points("MSFT", 2))
	m.Set("MS:2024-01-01:2024-02-01", points("MS", 2))

	m.Invalidate("MSFT")

	if m.Len() != 1 {
		t.Fatalf("len = %d, want 1", m.Len())
	}
	// prefix match must not catch the shorter symbol
	if _, _, ok := m.Get("MS:2024-01-01:2024-02-01"); !ok {
		t.Fatal("unrelated symbol should survive invalidation")
	}
}

package model

import (
	"testing"
	"time"
)

func day(s string) time.Time {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

func validPoint(date string) PricePoint {
	return PricePoint{
		Symbol: "MSFT",
		Date:   day(date),
		Open:   100, High: 105, Low: 99, Close: 104,
		Volume: 1000,
		Source: "test",
	}
}

func TestPricePointValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*PricePoint)
		wantErr bool
	}{
		{"valid", func(p *PricePoint) {}, false},
		{"zero open", func(p *PricePoint) { p.Open = 0 }, true},
		{"negative close", func(p *PricePoint) { p.Close = -1 }, true},
		{"low above high", func(p *PricePoint) { p.Low = 110 }, true},
		{"open above high", func(p *PricePoint) { p.Open = 106 }, true},
		{"close below low", func(p *PricePoint) { p.Close = 98 }, true},
		{"negative volume", func(p *PricePoint) { p.Volume = -5 }, true},
		{"zero volume ok", func(p *PricePoint) { p.Volume = 0 }, false},
		{"zero date", func(p *PricePoint) { p.Date = time.Time{} }, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := validPoint("2024-03-01")
			tc.mutate(&p)
			err := p.Validate()
			if tc.wantErr && err == nil {
				t.Fatalf("expected error, got nil")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestCleanPoints(t *testing.T) {
	bad := validPoint("2024-03-04")
	bad.Low = 200 // fails validation

	dupA := validPoint("2024-03-05")
	dupA.Close = 101
	dupB := validPoint("2024-03-05")
	dupB.Close = 102

	in := []PricePoint{
		validPoint("2024-03-06"),
		bad,
		dupA,
		validPoint("2024-03-01"),
		dupB,
	}
	out, dropped := CleanPoints(in)
	if dropped != 1 {
		t.Fatalf("dropped = %d, want 1", dropped)
	}
	if len(out) != 3 {
		t.Fatalf("len = %d, want 3", len(out))
	}
	for i := 1; i < len(out); i++ {
		if !out[i-1].Date.Before(out[i].Date) {
			t.Fatalf("points not sorted ascending at %d", i)
		}
	}
	// later duplicate wins
	if out[1].Close != 102 {
		t.Fatalf("duplicate day close = %v, want 102", out[1].Close)
	}
}

func TestCleanPointsNormalizesToUTCDay(t *testing.T) {
	p := validPoint("2024-03-01")
	p.Date = time.Date(2024, 3, 1, 20, 30, 0, 0, time.FixedZone("EST", -5*3600))
	out, _ := CleanPoints([]PricePoint{p})
	if len(out) != 1 {
		t.Fatalf("len = %d, want 1", len(out))
	}
	want := time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)
	if !out[0].Date.Equal(want) {
		t.Fatalf("date = %v, want %v", out[0].Date, want)
	}
}

func TestDateRange(t *testing.T) {
	r := NewDateRange(day("2024-01-01"), day("2024-06-30"))
	if err := r.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := r.Key("MSFT"); got != "MSFT:2024-01-01:2024-06-30" {
		t.Fatalf("key = %q", got)
	}
	if !r.Contains(day("2024-01-01")) || !r.Contains(day("2024-06-30")) {
		t.Fatal("range bounds should be inclusive")
	}
	if r.Contains(day("2024-07-01")) {
		t.Fatal("day after end should be outside")
	}

	inverted := NewDateRange(day("2024-06-30"), day("2024-01-01"))
	if err := inverted.Validate(); err == nil {
		t.Fatal("inverted range should fail validation")
	}
	if err := (DateRange{}).Validate(); err == nil {
		t.Fatal("zero range should fail validation")
	}
}

func TestQuoteValidate(t *testing.T) {
	q := Quote{Symbol: "MSFT", Price: 420.69, Source: "test", AsOf: day("2024-03-01")}
	if err := q.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	q.Price = 0
	if err := q.Validate(); err == nil {
		t.Fatal("zero price should fail")
	}
	q = Quote{Price: 1}
	if err := q.Validate(); err == nil {
		t.Fatal("missing symbol should fail")
	}
}

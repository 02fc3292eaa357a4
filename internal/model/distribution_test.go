package model

import (
	"math"
	"testing"
)

func monthlyEvents(amount float64, months int, last string) []DistributionEvent {
	end := day(last)
	out := make([]DistributionEvent, 0, months)
	for i := 0; i < months; i++ {
		out = append(out, DistributionEvent{
			Symbol: "PFF",
			ExDate: end.AddDate(0, -i, 0),
			Amount: amount,
			Source: "test",
		})
	}
	return out
}

func TestSummarizeDistributionsMonthly(t *testing.T) {
	// 12 monthly payments of 1.20 annualize to 14.40, not 12x the latest.
	events := monthlyEvents(1.20, 12, "2024-06-15")
	info := SummarizeDistributions("PFF", events, 30.0)

	if math.Abs(info.AnnualRate-14.40) > 1e-9 {
		t.Fatalf("annual rate = %v, want 14.40", info.AnnualRate)
	}
	if info.Frequency != FrequencyMonthly {
		t.Fatalf("frequency = %s, want monthly", info.Frequency)
	}
	if !info.LastExDate.Equal(day("2024-06-15")) {
		t.Fatalf("last ex-date = %v", info.LastExDate)
	}
	wantYield := 14.40 / 30.0 * 100
	if math.Abs(info.YieldPercent-wantYield) > 1e-9 {
		t.Fatalf("yield = %v, want %v", info.YieldPercent, wantYield)
	}
}

func TestSummarizeDistributionsWindowAnchoredAtNewestEvent(t *testing.T) {
	// A symbol that stopped paying a year ago still summarizes against its
	// own last event, not against today.
	events := []DistributionEvent{
		{Symbol: "OLD", ExDate: day("2020-03-01"), Amount: 0.50, Source: "test"},
		{Symbol: "OLD", ExDate: day("2020-09-01"), Amount: 0.50, Source: "test"},
		{Symbol: "OLD", ExDate: day("2019-03-01"), Amount: 0.40, Source: "test"},
	}
	info := SummarizeDistributions("OLD", events, 0)
	if math.Abs(info.AnnualRate-1.00) > 1e-9 {
		t.Fatalf("annual rate = %v, want 1.00", info.AnnualRate)
	}
	if info.Frequency != FrequencySemiAnnual {
		t.Fatalf("frequency = %s, want semiannual", info.Frequency)
	}
	if info.YieldPercent != 0 {
		t.Fatalf("yield should be 0 without a price, got %v", info.YieldPercent)
	}
}

func TestSummarizeDistributionsFrequencies(t *testing.T) {
	cases := []struct {
		count int
		want  Frequency
	}{
		{1, FrequencyAnnual},
		{2, FrequencySemiAnnual},
		{4, FrequencyQuarterly},
		{12, FrequencyMonthly},
		{3, FrequencyVariable},
		{7, FrequencyVariable},
	}
	for _, tc := range cases {
		events := make([]DistributionEvent, 0, tc.count)
		end := day("2024-06-01")
		for i := 0; i < tc.count; i++ {
			events = append(events, DistributionEvent{
				Symbol: "X",
				ExDate: end.AddDate(0, 0, -i*20),
				Amount: 1,
				Source: "test",
			})
		}
		info := SummarizeDistributions("X", events, 0)
		if info.Frequency != tc.want {
			t.Fatalf("count %d: frequency = %s, want %s", tc.count, info.Frequency, tc.want)
		}
	}
}

func TestSummarizeDistributionsIgnoresInvalidEvents(t *testing.T) {
	events := []DistributionEvent{
		{Symbol: "X", ExDate: day("2024-01-05"), Amount: 0, Source: "test"},
		{Symbol: "X", Amount: 1.0, Source: "test"}, // zero ex-date
	}
	info := SummarizeDistributions("X", events, 100)
	if info.Frequency != FrequencyUnknown {
		t.Fatalf("frequency = %s, want unknown", info.Frequency)
	}
	if info.AnnualRate != 0 {
		t.Fatalf("annual rate = %v, want 0", info.AnnualRate)
	}
	if !info.LastExDate.IsZero() {
		t.Fatalf("last ex-date should be zero, got %v", info.LastExDate)
	}
}

package model

import (
	"sort"
	"time"
)

// Frequency classifies how often a symbol pays distributions.
type Frequency string

const (
	FrequencyMonthly    Frequency = "monthly"
	FrequencyQuarterly  Frequency = "quarterly"
	FrequencySemiAnnual Frequency = "semiannual"
	FrequencyAnnual     Frequency = "annual"
	FrequencyVariable   Frequency = "variable"
	FrequencyUnknown    Frequency = "unknown"
)

// DistributionEvent is one raw dividend/distribution record as reported
// by a provider. Raw events are the durable record; summaries are derived.
type DistributionEvent struct {
	Symbol  string    `json:"symbol"`
	ExDate  time.Time `json:"ex_date"`
	PayDate time.Time `json:"pay_date,omitempty"`
	Amount  float64   `json:"amount"`
	Source  string    `json:"source"`
}

// DistributionInfo summarizes a symbol's trailing-12-month distributions.
// Recomputed on every fetch, never persisted as authoritative.
type DistributionInfo struct {
	Symbol       string    `json:"symbol"`
	AnnualRate   float64   `json:"annual_rate,omitempty"`
	YieldPercent float64   `json:"yield_percent,omitempty"`
	Frequency    Frequency `json:"frequency"`
	LastExDate   time.Time `json:"last_ex_date,omitempty"`
	LastPayDate  time.Time `json:"last_pay_date,omitempty"`
}

// SummarizeDistributions aggregates raw events over a trailing 12-month
// window anchored at the newest ex-date. The annualized rate is the sum of
// event amounts inside the window, not a multiple of the latest payment.
// price (the current quote, may be 0 if unknown) feeds the yield.
func SummarizeDistributions(symbol string, events []DistributionEvent, price float64) DistributionInfo {
	info := DistributionInfo{Symbol: symbol, Frequency: FrequencyUnknown}

	valid := make([]DistributionEvent, 0, len(events))
	for _, e := range events {
		if e.Amount <= 0 || e.ExDate.IsZero() {
			continue
		}
		valid = append(valid, e)
	}
	if len(valid) == 0 {
		return info
	}
	sort.Slice(valid, func(i, j int) bool { return valid[i].ExDate.Before(valid[j].ExDate) })

	newest := valid[len(valid)-1]
	cutoff := newest.ExDate.AddDate(-1, 0, 0)

	var sum float64
	count := 0
	for _, e := range valid {
		if e.ExDate.After(cutoff) {
			sum += e.Amount
			count++
		}
	}

	info.AnnualRate = sum
	info.Frequency = inferFrequency(count)
	info.LastExDate = newest.ExDate
	info.LastPayDate = newest.PayDate
	if price > 0 && sum > 0 {
		info.YieldPercent = sum / price * 100
	}
	return info
}

// inferFrequency maps the trailing-12-month event count to a payout cadence.
func inferFrequency(count int) Frequency {
	switch count {
	case 0:
		return FrequencyUnknown
	case 1:
		return FrequencyAnnual
	case 2:
		return FrequencySemiAnnual
	case 4:
		return FrequencyQuarterly
	case 12:
		return FrequencyMonthly
	default:
		return FrequencyVariable
	}
}

package model

import (
	"fmt"
	"sort"
	"time"
)

// PricePoint is one daily OHLCV observation in the canonical shape all
// providers are translated into. Points are immutable once validated;
// corrections arrive as a full-range overwrite.
type PricePoint struct {
	Symbol string    `json:"symbol"`
	Date   time.Time `json:"date"` // calendar day, normalized to UTC midnight
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume"`
	Source string    `json:"source"` // provider that produced the point
}

// Validate reports whether the point satisfies the OHLCV invariants:
// all prices positive, low <= open,close <= high, volume non-negative.
func (p PricePoint) Validate() error {
	if p.Open <= 0 || p.High <= 0 || p.Low <= 0 || p.Close <= 0 {
		return fmt.Errorf("non-positive price in %s@%s", p.Symbol, p.Date.Format(DateLayout))
	}
	if p.Low > p.High {
		return fmt.Errorf("low %v > high %v in %s@%s", p.Low, p.High, p.Symbol, p.Date.Format(DateLayout))
	}
	if p.Open < p.Low || p.Open > p.High {
		return fmt.Errorf("open %v outside [low,high] in %s@%s", p.Open, p.Symbol, p.Date.Format(DateLayout))
	}
	if p.Close < p.Low || p.Close > p.High {
		return fmt.Errorf("close %v outside [low,high] in %s@%s", p.Close, p.Symbol, p.Date.Format(DateLayout))
	}
	if p.Volume < 0 {
		return fmt.Errorf("negative volume in %s@%s", p.Symbol, p.Date.Format(DateLayout))
	}
	if p.Date.IsZero() {
		return fmt.Errorf("zero date in %s", p.Symbol)
	}
	return nil
}

// DateLayout is the wire format for calendar days.
const DateLayout = "2006-01-02"

// Day truncates t to its UTC calendar day.
func Day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// CleanPoints drops points that fail validation, sorts the remainder
// ascending by date and collapses duplicate days (last one wins).
// It returns the cleaned series and the number of dropped points.
func CleanPoints(points []PricePoint) ([]PricePoint, int) {
	kept := make([]PricePoint, 0, len(points))
	dropped := 0
	for _, p := range points {
		p.Date = Day(p.Date)
		if err := p.Validate(); err != nil {
			dropped++
			continue
		}
		kept = append(kept, p)
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Date.Before(kept[j].Date) })
	// collapse same-day duplicates, keeping the later entry
	out := kept[:0]
	for _, p := range kept {
		if n := len(out); n > 0 && out[n-1].Date.Equal(p.Date) {
			out[n-1] = p
			continue
		}
		out = append(out, p)
	}
	return out, dropped
}

// Quote is the latest single-point price for a symbol. Ephemeral; any
// newer fetch supersedes it.
type Quote struct {
	Symbol      string    `json:"symbol"`
	Price       float64   `json:"price"`
	DisplayName string    `json:"display_name,omitempty"`
	Source      string    `json:"source"`
	AsOf        time.Time `json:"as_of"`
}

// Validate checks the quote invariant (price > 0, symbol set).
func (q Quote) Validate() error {
	if q.Symbol == "" {
		return fmt.Errorf("quote missing symbol")
	}
	if q.Price <= 0 {
		return fmt.Errorf("non-positive quote price for %s", q.Symbol)
	}
	return nil
}

// DateRange is an inclusive calendar-day range.
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// NewDateRange normalizes both ends to UTC calendar days.
func NewDateRange(start, end time.Time) DateRange {
	return DateRange{Start: Day(start), End: Day(end)}
}

// Validate reports whether the range is usable (both ends set, start <= end).
func (r DateRange) Validate() error {
	if r.Start.IsZero() || r.End.IsZero() {
		return fmt.Errorf("date range has a zero bound")
	}
	if r.Start.After(r.End) {
		return fmt.Errorf("range start %s after end %s", r.Start.Format(DateLayout), r.End.Format(DateLayout))
	}
	return nil
}

// Key builds the canonical cache key for a symbol and this exact range.
// Keys are exact-range on purpose: overlapping ranges are not merged.
func (r DateRange) Key(symbol string) string {
	return symbol + ":" + r.Start.Format(DateLayout) + ":" + r.End.Format(DateLayout)
}

// Contains reports whether d falls inside the range (inclusive).
func (r DateRange) Contains(d time.Time) bool {
	d = Day(d)
	return !d.Before(r.Start) && !d.After(r.End)
}

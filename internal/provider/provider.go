// Package provider defines the capability interfaces every external data
// source is adapted into, plus the static descriptor and registration type
// the orchestrator consumes. Each data kind has its own fixed method set;
// an adapter implements whichever kinds its upstream API supports.
package provider

import (
	"context"

	"assetfeed/internal/model"
	"assetfeed/internal/provider/ratelimit"
)

// Descriptor is the static metadata for one provider. Created once per
// process per provider, never mutated afterwards.
type Descriptor struct {
	Name               string  `json:"name"`
	Priority           int     `json:"priority"` // lower = tried first
	RequiresCredential bool    `json:"requires_credential"`
	DailyQuota         int     `json:"daily_quota"` // 0 = unlimited
	CostPerCall        float64 `json:"cost_per_call"`
}

// Provider is the base capability every adapter implements.
type Provider interface {
	Describe() Descriptor
}

// SeriesFetcher fetches a daily OHLCV series for an inclusive date range.
// Implementations validate every point before returning; invalid points are
// dropped, and an all-invalid response is a data quality error.
type SeriesFetcher interface {
	Provider
	FetchSeries(ctx context.Context, symbol string, r model.DateRange) ([]model.PricePoint, error)
}

// QuoteFetcher fetches the latest single-point price for a symbol.
type QuoteFetcher interface {
	Provider
	FetchQuote(ctx context.Context, symbol string) (model.Quote, error)
}

// DistributionFetcher fetches raw dividend/distribution events for a symbol.
// Summaries are derived downstream; only raw events cross this boundary.
type DistributionFetcher interface {
	Provider
	FetchDistributions(ctx context.Context, symbol string) ([]model.DistributionEvent, error)
}

// Registered pairs an adapter with its own rate limiter. The orchestrator
// iterates these in ascending Priority order.
type Registered struct {
	Provider Provider
	Limiter  *ratelimit.Limiter
}

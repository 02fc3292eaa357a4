// Package store is the long-term persistence collaborator. The orchestrator
// treats it purely as the lowest, most durable cache tier; it never drives
// freshness decisions beyond "does an entry exist".
package store

import (
	"context"
	"time"

	"assetfeed/internal/model"
)

// Stats summarizes what the store holds.
type Stats struct {
	TotalRecords   int64 `json:"total_records"`
	SymbolsCovered int64 `json:"symbols_covered"`
	SizeEstimate   int64 `json:"size_estimate_bytes"`
}

// Store is the narrow persist/query interface the core depends on.
type Store interface {
	// PersistSeries upserts points; a re-persist of a range overwrites the
	// affected days (corrections are full-range overwrites, never edits).
	PersistSeries(ctx context.Context, symbol string, points []model.PricePoint) error
	QuerySeries(ctx context.Context, symbol string, start, end time.Time) ([]model.PricePoint, error)
	// LatestPoint returns the newest point for symbol, nil when none exists.
	LatestPoint(ctx context.Context, symbol string) (*model.PricePoint, error)
	PersistDistributions(ctx context.Context, symbol string, events []model.DistributionEvent) error
	QueryDistributions(ctx context.Context, symbol string) ([]model.DistributionEvent, error)
	// PurgeOlderThan removes records older than the retention window and
	// reports how many rows went away.
	PurgeOlderThan(ctx context.Context, retentionDays int) (int64, error)
	Stats(ctx context.Context) (Stats, error)
	Close() error
}

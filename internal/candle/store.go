package candle

import (
	"context"

	"github.com/shopspring/decimal"
)

// IntegrityReport summarizes how much of an expected closed-candle window is
// actually present in the store.
type IntegrityReport struct {
	Expected int
	Existing int
	Missing  int
	Percent  float64
}

// Store is the Candle persistence boundary (C2). Implementations must be
// idempotent on Upsert and must only ever mutate a candle's OHLCV fields
// while IsClosed is false (spec invariant: a closed candle is frozen).
type Store interface {
	// Upsert inserts or updates the candle keyed by (Symbol, OpenTimeMs).
	Upsert(ctx context.Context, c Candle) error

	// RecentClosed returns up to n closed candles for symbol, oldest-first.
	RecentClosed(ctx context.Context, symbol string, n int) ([]Candle, error)

	// HistoricalQuoteVolumes returns quote volumes for closed candles in the
	// window [nowMs-offsetMinutes*60_000-hours*3_600_000, nowMs-offsetMinutes*60_000),
	// restricted to the given filter.
	HistoricalQuoteVolumes(ctx context.Context, symbol string, hours, offsetMinutes int, filter VolumeFilter, nowMs int64) ([]decimal.Decimal, error)

	// Cleanup deletes candles older than nowMs-retentionHours for symbol.
	Cleanup(ctx context.Context, symbol string, retentionHours int, nowMs int64) error

	// Integrity reports the fraction of expected closed candles actually
	// present over the trailing `hours` window ending at nowMs.
	Integrity(ctx context.Context, symbol string, hours int, nowMs int64) (IntegrityReport, error)
}

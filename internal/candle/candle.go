// Package candle defines the one-minute OHLCV record, the per-symbol rolling
// cache, and the persistence boundary (Store) the ingestion pipeline writes
// through.
package candle

import (
	"github.com/shopspring/decimal"
)

// VolumeFilter selects which side of the candle book a historical volume
// query should average over.
type VolumeFilter string

const (
	FilterBull VolumeFilter = "BULL"
	FilterBear VolumeFilter = "BEAR"
	FilterAll  VolumeFilter = "ALL"
)

const DurationMs int64 = 60_000

// Candle is a one-minute OHLCV record for a (Symbol, OpenTimeMs) pair.
// Prices and volumes are decimal at this boundary; detectors convert to
// float64 for ratio comparisons since those are percent-scale and tolerant
// of the small precision loss.
type Candle struct {
	Symbol      string
	OpenTimeMs  int64
	CloseTimeMs int64
	Open        decimal.Decimal
	High        decimal.Decimal
	Low         decimal.Decimal
	Close       decimal.Decimal
	Volume      decimal.Decimal
	VolumeQuote decimal.Decimal
	IsBullish   bool
	IsClosed    bool
}

// New builds a Candle, deriving CloseTimeMs, VolumeQuote and IsBullish from
// the given OHLCV values. openTimeMs is not aligned here; callers align
// before constructing closed candles per the (Symbol, openTimeMs % 60_000 ==
// 0) invariant.
func New(symbol string, openTimeMs int64, open, high, low, close_, volume decimal.Decimal, isClosed bool) Candle {
	return Candle{
		Symbol:      symbol,
		OpenTimeMs:  openTimeMs,
		CloseTimeMs: openTimeMs + DurationMs,
		Open:        open,
		High:        high,
		Low:         low,
		Close:       close_,
		Volume:      volume,
		VolumeQuote: volume.Mul(close_),
		IsBullish:   close_.GreaterThan(open),
		IsClosed:    isClosed,
	}
}

// AlignOpenTimeMs truncates a raw timestamp to the start of its containing
// minute.
func AlignOpenTimeMs(rawMs int64) int64 {
	return rawMs - (rawMs % DurationMs)
}

// Package alerts implements the Alert domain type and the Alert Repository
// (C8): persistence, update-in-place, and the recent-volume-spikes lookback
// the Priority Correlator depends on. Grounded on the AlertManager
// persistence calls in the original tokenscan implementation and on the
// teacher's pkg/redis client for the Redis-backed variant.
package alerts

import (
	"github.com/shopspring/decimal"

	"pulseintel/internal/candle"
	"pulseintel/internal/imbalance"
)

type Kind string

const (
	VolumeSpike     Kind = "VOLUME_SPIKE"
	ConsecutiveLong Kind = "CONSECUTIVE_LONG"
	Priority        Kind = "PRIORITY"
)

// OrderBookLevel is one bid/ask rung of a captured snapshot.
type OrderBookLevel struct {
	Price    float64 `json:"price"`
	Quantity float64 `json:"quantity"`
}

// OrderBookSnapshot is captured at alert time when orderbookSnapshotOnAlert
// is enabled, mirroring Bybit's 25-level REST order book response.
type OrderBookSnapshot struct {
	Bids        []OrderBookLevel `json:"bids"`
	Asks        []OrderBookLevel `json:"asks"`
	CapturedAtMs int64           `json:"capturedAtMs"`
}

// CandleSnapshot is the OHLCV payload embedded in an alert at the moment it
// fired, plus the price level ("alertLevel") the alert keys off.
type CandleSnapshot struct {
	Open       decimal.Decimal `json:"open"`
	High       decimal.Decimal `json:"high"`
	Low        decimal.Decimal `json:"low"`
	Close      decimal.Decimal `json:"close"`
	Volume     decimal.Decimal `json:"volume"`
	AlertLevel decimal.Decimal `json:"alertLevel"`
}

// Alert is the tagged record every detector produces: a common header plus
// a variant payload depending on Kind, per SPEC_FULL.md's "dynamic
// dictionaries as alert payloads" redesign flag.
type Alert struct {
	ID          int64  `json:"id"`
	Symbol      string `json:"symbol"`
	Kind        Kind   `json:"kind"`
	Price       decimal.Decimal `json:"price"`
	AlertTimeMs int64  `json:"alertTimeMs"`
	CloseTimeMs int64  `json:"closeTimeMs,omitempty"`
	IsClosed    bool   `json:"isClosed"`

	// VOLUME_SPIKE only, defined after close.
	IsTrueSignal *bool `json:"isTrueSignal,omitempty"`

	// VOLUME_SPIKE / PRIORITY.
	VolumeRatio        *float64         `json:"volumeRatio,omitempty"`
	CurrentVolumeQuote  *decimal.Decimal `json:"currentVolumeQuote,omitempty"`
	AverageVolumeQuote  *decimal.Decimal `json:"averageVolumeQuote,omitempty"`

	// CONSECUTIVE_LONG / PRIORITY.
	ConsecutiveCount *int `json:"consecutiveCount,omitempty"`

	HasImbalance bool                  `json:"hasImbalance"`
	Imbalance    *imbalance.Imbalance  `json:"imbalance,omitempty"`

	CandleSnapshot CandleSnapshot     `json:"candleSnapshot"`
	OrderBook      *OrderBookSnapshot `json:"orderBookSnapshot,omitempty"`

	Message string `json:"message"`
}

// FromCandle builds the embedded CandleSnapshot for an alert firing against c.
func FromCandle(c candle.Candle, alertLevel decimal.Decimal) CandleSnapshot {
	return CandleSnapshot{
		Open:       c.Open,
		High:       c.High,
		Low:        c.Low,
		Close:      c.Close,
		Volume:     c.Volume,
		AlertLevel: alertLevel,
	}
}

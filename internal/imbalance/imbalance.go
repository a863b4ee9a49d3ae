// Package imbalance implements the Smart-Money pattern detector (C4):
// stateless Fair-Value-Gap / Order-Block / Breaker-Block detection over a
// candle slice. Grounded line-for-line on the ImbalanceAnalyzer class of the
// original tokenscan implementation (analyze_fair_value_gap /
// analyze_order_block / analyze_breaker_block).
package imbalance

import "pulseintel/internal/candle"

type Kind string

const (
	FVG     Kind = "FVG"
	OB      Kind = "OB"
	Breaker Kind = "BREAKER"
)

type Direction string

const (
	Bull Direction = "BULL"
	Bear Direction = "BEAR"
)

// Imbalance is the annotation a detector attaches to an alert.
type Imbalance struct {
	Kind        Kind
	Direction   Direction
	Strength    float64 // percent
	Top         float64
	Bottom      float64
	TimestampMs int64
}

// Thresholds are configuration, changeable without code changes per spec.md
// 4.4.
type Thresholds struct {
	MinGapPercent         float64 // default 0.1
	OrderBlockMovePercent float64 // default 2.0
	BreakerMovePercent    float64 // default 1.0
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		MinGapPercent:         0.1,
		OrderBlockMovePercent: 2.0,
		BreakerMovePercent:    1.0,
	}
}

// Enabled gates which of the three patterns are evaluated.
type Enabled struct {
	FVG     bool
	OB      bool
	Breaker bool
}

// Detect evaluates the three patterns in precedence order (FVG, then OB,
// then Breaker) and returns the first match, or nil. candles is the cache
// slice ending at the current candle, oldest-first.
func Detect(candles []candle.Candle, th Thresholds, enabled Enabled) *Imbalance {
	if enabled.FVG {
		if imb := detectFairValueGap(candles, th.MinGapPercent); imb != nil {
			return imb
		}
	}
	if enabled.OB {
		if imb := detectOrderBlock(candles, th.OrderBlockMovePercent); imb != nil {
			return imb
		}
	}
	if enabled.Breaker {
		if imb := detectBreakerBlock(candles, th.BreakerMovePercent); imb != nil {
			return imb
		}
	}
	return nil
}

func detectFairValueGap(candles []candle.Candle, minGapPercent float64) *Imbalance {
	if len(candles) < 3 {
		return nil
	}

	n := len(candles)
	prev := candles[n-3]
	current := candles[n-2]
	next := candles[n-1]

	prevLow, _ := prev.Low.Float64()
	prevHigh, _ := prev.High.Float64()
	nextLow, _ := next.Low.Float64()
	nextHigh, _ := next.High.Float64()

	if prevLow > nextHigh && current.IsBullish {
		strength := (prevLow - nextHigh) / nextHigh * 100
		if strength >= minGapPercent {
			return &Imbalance{Kind: FVG, Direction: Bull, Strength: strength, Top: prevLow, Bottom: nextHigh, TimestampMs: current.OpenTimeMs}
		}
	}

	if prevHigh < nextLow && !current.IsBullish {
		strength := (nextLow - prevHigh) / prevHigh * 100
		if strength >= minGapPercent {
			return &Imbalance{Kind: FVG, Direction: Bear, Strength: strength, Top: nextLow, Bottom: prevHigh, TimestampMs: current.OpenTimeMs}
		}
	}

	return nil
}

func detectOrderBlock(candles []candle.Candle, movePercent float64) *Imbalance {
	if len(candles) < 10 {
		return nil
	}

	n := len(candles)
	current := candles[n-1]
	window := candles[n-10 : n-1] // 9 candles before current

	currentClose, _ := current.Close.Float64()

	if last, ok := lastMatching(window, func(c candle.Candle) bool { return !c.IsBullish }); ok && current.IsBullish {
		lastHigh, _ := last.High.Float64()
		lastLow, _ := last.Low.Float64()
		move := (currentClose - lastHigh) / lastHigh * 100
		if move >= movePercent {
			return &Imbalance{Kind: OB, Direction: Bull, Strength: move, Top: lastHigh, Bottom: lastLow, TimestampMs: last.OpenTimeMs}
		}
	}

	if last, ok := lastMatching(window, func(c candle.Candle) bool { return c.IsBullish }); ok && !current.IsBullish {
		lastHigh, _ := last.High.Float64()
		lastLow, _ := last.Low.Float64()
		move := (lastLow - currentClose) / lastLow * 100
		if move >= movePercent {
			return &Imbalance{Kind: OB, Direction: Bear, Strength: move, Top: lastHigh, Bottom: lastLow, TimestampMs: last.OpenTimeMs}
		}
	}

	return nil
}

func detectBreakerBlock(candles []candle.Candle, movePercent float64) *Imbalance {
	if len(candles) < 15 {
		return nil
	}

	n := len(candles)
	current := candles[n-1]
	window := candles[n-15 : n-1] // 14 candles before current

	currentClose, _ := current.Close.Float64()

	maxHigh, minLow := 0.0, 0.0
	for i, c := range window {
		high, _ := c.High.Float64()
		low, _ := c.Low.Float64()
		if i == 0 || high > maxHigh {
			maxHigh = high
		}
		if i == 0 || low < minLow {
			minLow = low
		}
	}

	if currentClose > maxHigh && current.IsBullish {
		strength := (currentClose - maxHigh) / maxHigh * 100
		if strength >= movePercent {
			return &Imbalance{Kind: Breaker, Direction: Bull, Strength: strength, Top: maxHigh, Bottom: minLow, TimestampMs: current.OpenTimeMs}
		}
	}

	if currentClose < minLow && !current.IsBullish {
		strength := (minLow - currentClose) / minLow * 100
		if strength >= movePercent {
			return &Imbalance{Kind: Breaker, Direction: Bear, Strength: strength, Top: maxHigh, Bottom: minLow, TimestampMs: current.OpenTimeMs}
		}
	}

	return nil
}

// lastMatching scans window from the end and returns the most recent
// element satisfying pred.
func lastMatching(window []candle.Candle, pred func(candle.Candle) bool) (candle.Candle, bool) {
	for i := len(window) - 1; i >= 0; i-- {
		if pred(window[i]) {
			return window[i], true
		}
	}
	return candle.Candle{}, false
}

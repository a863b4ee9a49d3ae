package candle

import (
	"context"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
)

// MemoryStore is an in-memory Store implementation used for tests and for
// deployments that run without Redis. It satisfies the same interface a
// relational or Redis-backed store would, per spec.md's "the relational
// store implementation" being a pluggable, out-of-scope concern.
type MemoryStore struct {
	mu      sync.RWMutex
	candles map[string]map[int64]Candle // symbol -> openTimeMs -> candle
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{candles: make(map[string]map[int64]Candle)}
}

func (s *MemoryStore) Upsert(ctx context.Context, c Candle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	bySymbol, ok := s.candles[c.Symbol]
	if !ok {
		bySymbol = make(map[int64]Candle)
		s.candles[c.Symbol] = bySymbol
	}

	if existing, ok := bySymbol[c.OpenTimeMs]; ok && existing.IsClosed {
		// Frozen: once closed, OHLCV is immutable. A late duplicate upsert
		// for the same minute is a no-op.
		return nil
	}

	bySymbol[c.OpenTimeMs] = c
	return nil
}

func (s *MemoryStore) sortedOpenTimes(symbol string) []int64 {
	bySymbol := s.candles[symbol]
	times := make([]int64, 0, len(bySymbol))
	for t := range bySymbol {
		times = append(times, t)
	}
	sort.Slice(times, func(i, j int) bool { return times[i] < times[j] })
	return times
}

func (s *MemoryStore) RecentClosed(ctx context.Context, symbol string, n int) ([]Candle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bySymbol := s.candles[symbol]
	times := s.sortedOpenTimes(symbol)

	closed := make([]Candle, 0, n)
	for _, t := range times {
		c := bySymbol[t]
		if c.IsClosed {
			closed = append(closed, c)
		}
	}

	if len(closed) > n {
		closed = closed[len(closed)-n:]
	}
	return closed, nil
}

func (s *MemoryStore) HistoricalQuoteVolumes(ctx context.Context, symbol string, hours, offsetMinutes int, filter VolumeFilter, nowMs int64) ([]decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	windowEnd := nowMs - int64(offsetMinutes)*60_000
	windowStart := windowEnd - int64(hours)*60*60_000

	bySymbol := s.candles[symbol]
	out := make([]decimal.Decimal, 0, len(bySymbol))
	for _, c := range bySymbol {
		if !c.IsClosed {
			continue
		}
		if c.OpenTimeMs < windowStart || c.OpenTimeMs >= windowEnd {
			continue
		}
		switch filter {
		case FilterBull:
			if !c.IsBullish {
				continue
			}
		case FilterBear:
			if c.IsBullish {
				continue
			}
		}
		out = append(out, c.VolumeQuote)
	}
	return out, nil
}

func (s *MemoryStore) Cleanup(ctx context.Context, symbol string, retentionHours int, nowMs int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := nowMs - int64(retentionHours)*60*60_000
	bySymbol := s.candles[symbol]
	for t := range bySymbol {
		if t < cutoff {
			delete(bySymbol, t)
		}
	}
	return nil
}

func (s *MemoryStore) Integrity(ctx context.Context, symbol string, hours int, nowMs int64) (IntegrityReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	expected := hours * 60
	windowStart := nowMs - int64(hours)*60*60_000

	existing := 0
	bySymbol := s.candles[symbol]
	for t, c := range bySymbol {
		if c.IsClosed && t >= windowStart && t < nowMs {
			existing++
		}
	}

	missing := expected - existing
	if missing < 0 {
		missing = 0
	}
	percent := 0.0
	if expected > 0 {
		percent = float64(existing) / float64(expected) * 100
	}

	return IntegrityReport{Expected: expected, Existing: existing, Missing: missing, Percent: percent}, nil
}

package candle

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
)

func d(v string) decimal.Decimal {
	dec, err := decimal.NewFromString(v)
	if err != nil {
		panic(err)
	}
	return dec
}

func TestMemoryStoreUpsertIsIdempotent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	c := New("BTCUSDT", 60_000, d("100"), d("105"), d("95"), d("103"), d("10"), true)
	if err := s.Upsert(ctx, c); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.Upsert(ctx, c); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	recent, err := s.RecentClosed(ctx, "BTCUSDT", 10)
	if err != nil {
		t.Fatalf("recent closed: %v", err)
	}
	if len(recent) != 1 {
		t.Fatalf("expected 1 candle, got %d", len(recent))
	}
}

func TestMemoryStoreFreezesClosedCandle(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	c := New("ETHUSDT", 60_000, d("10"), d("11"), d("9"), d("10.5"), d("2"), true)
	if err := s.Upsert(ctx, c); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	mutated := c
	mutated.Close = d("999")
	if err := s.Upsert(ctx, mutated); err != nil {
		t.Fatalf("upsert mutation: %v", err)
	}

	recent, _ := s.RecentClosed(ctx, "ETHUSDT", 1)
	if len(recent) != 1 || !recent[0].Close.Equal(d("10.5")) {
		t.Fatalf("expected frozen close 10.5, got %+v", recent)
	}
}

func TestMemoryStoreHistoricalQuoteVolumesFiltersByWindowAndSide(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	const symbol = "BTCUSDT"

	now := int64(10 * 60 * 60_000) // 10 hours in
	for i := int64(0); i < 65; i++ {
		openTimeMs := now - (i+1)*60_000
		bullish := i%2 == 0
		var c Candle
		if bullish {
			c = New(symbol, openTimeMs, d("100"), d("101"), d("99"), d("101"), d("10"), true)
		} else {
			c = New(symbol, openTimeMs, d("100"), d("101"), d("99"), d("99"), d("10"), true)
		}
		if err := s.Upsert(ctx, c); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}

	values, err := s.HistoricalQuoteVolumes(ctx, symbol, 1, 0, FilterBull, now)
	if err != nil {
		t.Fatalf("historical quote volumes: %v", err)
	}
	if len(values) != 30 {
		t.Fatalf("expected 30 bullish candles in the last hour, got %d", len(values))
	}
	for _, v := range values {
		if !v.Equal(d("1010")) {
			t.Fatalf("unexpected quote volume %s", v.String())
		}
	}
}

func TestMemoryStoreIntegrity(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	const symbol = "BTCUSDT"

	now := int64(2 * 60 * 60_000)
	for i := int64(0); i < 90; i++ {
		openTimeMs := now - (i+1)*60_000
		c := New(symbol, openTimeMs, d("1"), d("1"), d("1"), d("1"), d("1"), true)
		if err := s.Upsert(ctx, c); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}

	report, err := s.Integrity(ctx, symbol, 2, now)
	if err != nil {
		t.Fatalf("integrity: %v", err)
	}
	if report.Expected != 120 || report.Existing != 90 || report.Missing != 30 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if report.Percent < 74.9 || report.Percent > 75.1 {
		t.Fatalf("unexpected percent: %v", report.Percent)
	}
}

func TestMemoryStoreCleanupRemovesOlderThanRetention(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	const symbol = "BTCUSDT"

	now := int64(3 * 60 * 60_000)
	old := New(symbol, 0, d("1"), d("1"), d("1"), d("1"), d("1"), true)
	recent := New(symbol, now-60_000, d("1"), d("1"), d("1"), d("1"), d("1"), true)
	if err := s.Upsert(ctx, old); err != nil {
		t.Fatal(err)
	}
	if err := s.Upsert(ctx, recent); err != nil {
		t.Fatal(err)
	}

	if err := s.Cleanup(ctx, symbol, 2, now); err != nil {
		t.Fatalf("cleanup: %v", err)
	}

	remaining, _ := s.RecentClosed(ctx, symbol, 10)
	if len(remaining) != 1 || remaining[0].OpenTimeMs != recent.OpenTimeMs {
		t.Fatalf("expected only the recent candle to survive, got %+v", remaining)
	}
}

package runs

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"pulseintel/internal/alerts"
	"pulseintel/internal/candle"
)

type recordingSink struct {
	news    []alerts.Alert
	updates []alerts.Alert
}

func (s *recordingSink) PublishNew(a alerts.Alert)    { s.news = append(s.news, a) }
func (s *recordingSink) PublishUpdate(a alerts.Alert) { s.updates = append(s.updates, a) }

func bullish(openTimeMs int64) candle.Candle {
	return candle.New("BTCUSDT", openTimeMs, decimal.NewFromInt(100), decimal.NewFromInt(105), decimal.NewFromInt(99), decimal.NewFromInt(104), decimal.NewFromInt(1), true)
}

func bearish(openTimeMs int64) candle.Candle {
	return candle.New("BTCUSDT", openTimeMs, decimal.NewFromInt(104), decimal.NewFromInt(105), decimal.NewFromInt(95), decimal.NewFromInt(96), decimal.NewFromInt(1), true)
}

// TestConsecutiveRunAndReset mirrors scenario 3: K=5.
func TestConsecutiveRunAndReset(t *testing.T) {
	repo := alerts.NewMemoryRepository()
	sink := &recordingSink{}
	tracker := NewTracker()
	d := NewDetector(repo, sink, tracker, 5)
	ctx := context.Background()

	var alertID int64
	for i := int64(1); i <= 5; i++ {
		a, err := d.Evaluate(ctx, bullish(i*60_000))
		if err != nil {
			t.Fatalf("evaluate %d: %v", i, err)
		}
		if i < 5 {
			if a != nil {
				t.Fatalf("expected no alert before threshold, got %+v at i=%d", a, i)
			}
			continue
		}
		if a == nil || *a.ConsecutiveCount != 5 {
			t.Fatalf("expected alert with consecutiveCount=5, got %+v", a)
		}
		alertID = a.ID
	}

	sixth, err := d.Evaluate(ctx, bullish(6*60_000))
	if err != nil {
		t.Fatalf("sixth: %v", err)
	}
	if sixth == nil || sixth.ID != alertID || *sixth.ConsecutiveCount != 6 {
		t.Fatalf("expected same id %d with count=6, got %+v", alertID, sixth)
	}

	broken, err := d.Evaluate(ctx, bearish(7*60_000))
	if err != nil {
		t.Fatalf("seventh: %v", err)
	}
	if broken == nil || broken.ID != alertID || broken.Message != "run broken" {
		t.Fatalf("expected run-broken update with id %d, got %+v", alertID, broken)
	}

	snap := tracker.Snapshot("BTCUSDT")
	if snap.Count != 0 || snap.OpenAlertID != 0 {
		t.Fatalf("expected reset state, got %+v", snap)
	}
}

func TestRunDetectorIgnoresInProgressCandles(t *testing.T) {
	repo := alerts.NewMemoryRepository()
	sink := &recordingSink{}
	tracker := NewTracker()
	d := NewDetector(repo, sink, tracker, 5)

	c := bullish(60_000)
	c.IsClosed = false
	a, err := d.Evaluate(context.Background(), c)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if a != nil {
		t.Fatalf("expected nil for in-progress candle, got %+v", a)
	}
}

func TestRunDetectorResetsBelowThresholdOnBearish(t *testing.T) {
	repo := alerts.NewMemoryRepository()
	sink := &recordingSink{}
	tracker := NewTracker()
	d := NewDetector(repo, sink, tracker, 5)
	ctx := context.Background()

	for i := int64(1); i <= 2; i++ {
		if _, err := d.Evaluate(ctx, bullish(i*60_000)); err != nil {
			t.Fatalf("evaluate: %v", err)
		}
	}
	if _, err := d.Evaluate(ctx, bearish(3*60_000)); err != nil {
		t.Fatalf("evaluate: %v", err)
	}

	snap := tracker.Snapshot("BTCUSDT")
	if snap.Count != 0 {
		t.Fatalf("expected count reset to 0, got %d", snap.Count)
	}
	if len(sink.news) != 0 {
		t.Fatalf("expected no alerts below threshold, got %d", len(sink.news))
	}
}

package priority

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"pulseintel/internal/alerts"
)

type recordingSink struct {
	news []alerts.Alert
}

func (s *recordingSink) PublishNew(a alerts.Alert)    { s.news = append(s.news, a) }
func (s *recordingSink) PublishUpdate(a alerts.Alert) {}

// TestPriorityCorrelationWithinSameBatch mirrors scenario 4: during an
// active run with count=5, a VOLUME_SPIKE alert is also produced at minute
// close.
func TestPriorityCorrelationWithinSameBatch(t *testing.T) {
	repo := alerts.NewMemoryRepository()
	sink := &recordingSink{}
	c := NewCorrelator(repo, sink)

	count := 5
	ratio := 3.3
	consecutive := alerts.Alert{ID: 10, Symbol: "BTCUSDT", Kind: alerts.ConsecutiveLong, Price: decimal.NewFromInt(110), AlertTimeMs: 300_000, ConsecutiveCount: &count, HasImbalance: true}
	volume := alerts.Alert{ID: 11, Symbol: "BTCUSDT", Kind: alerts.VolumeSpike, Price: decimal.NewFromInt(110), AlertTimeMs: 300_000, VolumeRatio: &ratio}

	alert, err := c.Evaluate(context.Background(), "BTCUSDT", 300_000, []alerts.Alert{consecutive, volume})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if alert == nil {
		t.Fatal("expected a priority alert")
	}
	if alert.ConsecutiveCount == nil || *alert.ConsecutiveCount != 5 {
		t.Fatalf("expected consecutiveCount=5, got %+v", alert.ConsecutiveCount)
	}
	if alert.VolumeRatio == nil || *alert.VolumeRatio != ratio {
		t.Fatalf("expected copied volumeRatio, got %+v", alert.VolumeRatio)
	}
	if !alert.HasImbalance {
		t.Fatal("expected hasImbalance to be the OR of both sources")
	}
	if len(sink.news) != 1 {
		t.Fatalf("expected exactly one priority publish, got %d", len(sink.news))
	}
}

func TestPriorityCorrelationFromRepositoryLookback(t *testing.T) {
	repo := alerts.NewMemoryRepository()
	sink := &recordingSink{}
	ctx := context.Background()

	ratio := 2.5
	repo.Save(ctx, alerts.Alert{Symbol: "BTCUSDT", Kind: alerts.VolumeSpike, AlertTimeMs: 100_000, VolumeRatio: &ratio})

	c := NewCorrelator(repo, sink)
	count := 5
	consecutive := alerts.Alert{ID: 20, Symbol: "BTCUSDT", Kind: alerts.ConsecutiveLong, Price: decimal.NewFromInt(110), AlertTimeMs: 300_000, ConsecutiveCount: &count}

	alert, err := c.Evaluate(ctx, "BTCUSDT", 300_000, []alerts.Alert{consecutive})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if alert == nil {
		t.Fatal("expected a priority alert from repository lookback")
	}
	if alert.VolumeRatio == nil || *alert.VolumeRatio != ratio {
		t.Fatalf("expected volumeRatio copied from repository hit, got %+v", alert.VolumeRatio)
	}
}

func TestNoPriorityAlertWithoutConsecutive(t *testing.T) {
	repo := alerts.NewMemoryRepository()
	sink := &recordingSink{}
	c := NewCorrelator(repo, sink)

	ratio := 3.3
	volume := alerts.Alert{Symbol: "BTCUSDT", Kind: alerts.VolumeSpike, AlertTimeMs: 300_000, VolumeRatio: &ratio}
	alert, err := c.Evaluate(context.Background(), "BTCUSDT", 300_000, []alerts.Alert{volume})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if alert != nil {
		t.Fatalf("expected no priority alert without a consecutive alert, got %+v", alert)
	}
}

func TestNoPriorityAlertWhenNoVolumeAnywhere(t *testing.T) {
	repo := alerts.NewMemoryRepository()
	sink := &recordingSink{}
	c := NewCorrelator(repo, sink)

	count := 5
	consecutive := alerts.Alert{Symbol: "BTCUSDT", Kind: alerts.ConsecutiveLong, AlertTimeMs: 300_000, ConsecutiveCount: &count}
	alert, err := c.Evaluate(context.Background(), "BTCUSDT", 300_000, []alerts.Alert{consecutive})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if alert != nil {
		t.Fatalf("expected no priority alert with no volume spike in batch or repository, got %+v", alert)
	}
}

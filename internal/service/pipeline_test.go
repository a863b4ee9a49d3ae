package service

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"pulseintel/internal/alerts"
	"pulseintel/internal/candle"
	"pulseintel/internal/config"
	"pulseintel/internal/priority"
	"pulseintel/internal/runs"
	"pulseintel/internal/volume"
)

type recordingSink struct {
	news    []alerts.Alert
	updates []alerts.Alert
}

func (s *recordingSink) PublishNew(a alerts.Alert)    { s.news = append(s.news, a) }
func (s *recordingSink) PublishUpdate(a alerts.Alert) { s.updates = append(s.updates, a) }

func newTestPipeline(cfg config.PipelineConfig) (*Pipeline, *recordingSink, candle.Store) {
	store := candle.NewMemoryStore()
	cache := candle.NewCache(120)
	repo := alerts.NewMemoryRepository()
	sink := &recordingSink{}

	volumeDet := volume.NewDetector(store, repo, sink, volume.NewCache(), nil, nil)
	runDet := runs.NewDetector(repo, sink, runs.NewTracker(), cfg.ConsecutiveLongCount)
	correlator := priority.NewCorrelator(repo, sink)

	p := NewPipeline(store, cache, volumeDet, runDet, correlator, repo, zap.NewNop(), cfg)
	return p, sink, store
}

func defaultTestConfig() config.PipelineConfig {
	return config.PipelineConfig{
		AnalysisHours:            1,
		VolumeMultiplier:         2.0,
		MinVolumeQuote:           1000,
		VolumeType:               config.VolumeTypeBull,
		ConsecutiveLongCount:     5,
		DataRetentionHours:       2,
		VolumeAlertsEnabled:      true,
		ConsecutiveAlertsEnabled: true,
		PriorityAlertsEnabled:    true,
	}
}

func seed(t *testing.T, store candle.Store, symbol string, now int64, n int) {
	t.Helper()
	ctx := context.Background()
	for i := 1; i <= n; i++ {
		openTimeMs := now - int64(i)*60_000
		c := candle.New(symbol, openTimeMs, decimal.NewFromInt(100), decimal.NewFromInt(101), decimal.NewFromInt(99), decimal.NewFromInt(101), decimal.NewFromFloat(1000.0/101.0), true)
		if err := store.Upsert(ctx, c); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
}

func TestPipelineHandleTickEmitsVolumeSpikeOnClose(t *testing.T) {
	cfg := defaultTestConfig()
	p, sink, store := newTestPipeline(cfg)

	now := int64(61 * 60_000)
	seed(t, store, "BTCUSDT", now, 60)

	incoming := candle.New("BTCUSDT", now, decimal.NewFromInt(100), decimal.NewFromInt(110), decimal.NewFromInt(100), decimal.NewFromInt(110), decimal.NewFromInt(30), true)
	p.HandleTick(context.Background(), incoming)

	if len(sink.news) != 1 {
		t.Fatalf("expected exactly one volume spike alert, got %d", len(sink.news))
	}
}

func TestPipelineIgnoresDuplicateClosedTicks(t *testing.T) {
	cfg := defaultTestConfig()
	p, sink, store := newTestPipeline(cfg)

	now := int64(61 * 60_000)
	seed(t, store, "BTCUSDT", now, 60)

	incoming := candle.New("BTCUSDT", now, decimal.NewFromInt(100), decimal.NewFromInt(110), decimal.NewFromInt(100), decimal.NewFromInt(110), decimal.NewFromInt(30), true)
	p.HandleTick(context.Background(), incoming)
	firstCount := len(sink.news) + len(sink.updates)

	// replaying the same closed candle must not grow the run-detector state
	// twice nor re-trigger the run detector's alert creation path.
	p.HandleTick(context.Background(), incoming)
	secondCount := len(sink.news) + len(sink.updates)

	if secondCount != firstCount {
		t.Fatalf("expected no additional alert activity from a replayed closed tick, got %d then %d", firstCount, secondCount)
	}
}

func TestPipelineRunsConsecutiveAndPriorityTogether(t *testing.T) {
	cfg := defaultTestConfig()
	p, sink, store := newTestPipeline(cfg)
	ctx := context.Background()

	now := int64(100 * 60_000)
	seed(t, store, "BTCUSDT", now, 60)

	for i := int64(0); i < 4; i++ {
		c := candle.New("BTCUSDT", now+i*60_000, decimal.NewFromInt(100), decimal.NewFromInt(101), decimal.NewFromInt(99), decimal.RequireFromString("100.5"), decimal.NewFromInt(1), true)
		p.HandleTick(ctx, c)
	}

	// fifth consecutive bullish candle with a simultaneous volume spike
	closeTick := candle.New("BTCUSDT", now+4*60_000, decimal.NewFromInt(100), decimal.NewFromInt(110), decimal.NewFromInt(100), decimal.NewFromInt(110), decimal.NewFromInt(30), true)
	p.HandleTick(ctx, closeTick)

	var sawConsecutive, sawPriority bool
	for _, a := range sink.news {
		if a.Kind == alerts.ConsecutiveLong {
			sawConsecutive = true
		}
		if a.Kind == alerts.Priority {
			sawPriority = true
		}
	}
	if !sawConsecutive {
		t.Fatal("expected a CONSECUTIVE_LONG alert")
	}
	if !sawPriority {
		t.Fatal("expected a PRIORITY alert correlating the run with the volume spike")
	}
}

package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"pulseintel/internal/alerts"
	"pulseintel/internal/candle"
	"pulseintel/internal/config"
	"pulseintel/internal/imbalance"
	"pulseintel/internal/priority"
	"pulseintel/internal/runs"
	"pulseintel/internal/volume"
)

// Pipeline wires C1-C8 together and drives one kline tick through them in
// the order spec.md 4.9's reader loop specifies: persist (C2), update cache
// (C3), volume detector (C5), and on close, run detector (C6) then priority
// correlator (C7). Built as an explicit service container per spec.md's
// "global mutable singletons" redesign flag: no module-level state, every
// dependency is passed in at construction.
type Pipeline struct {
	store    candle.Store
	cache    *candle.Cache
	volumeDet *volume.Detector
	runDet    *runs.Detector
	priorityCorrelator *priority.Correlator
	alertRepo alerts.Repository
	logger    *zap.Logger

	cfg atomic.Pointer[config.PipelineConfig]

	lastProcessed sync.Map // symbol -> int64 openTimeMs

	maintainRange func(ctx context.Context, symbol string) // backfill hook, set by cmd/main.go via SetMaintainRangeHook
}

func NewPipeline(
	store candle.Store,
	cache *candle.Cache,
	volumeDet *volume.Detector,
	runDet *runs.Detector,
	priorityCorrelator *priority.Correlator,
	alertRepo alerts.Repository,
	logger *zap.Logger,
	cfg config.PipelineConfig,
) *Pipeline {
	p := &Pipeline{
		store:              store,
		cache:              cache,
		volumeDet:          volumeDet,
		runDet:             runDet,
		priorityCorrelator: priorityCorrelator,
		alertRepo:          alertRepo,
		logger:             logger.Named("pipeline"),
	}
	p.cfg.Store(&cfg)
	return p
}

// UpdateConfig publishes a new read-mostly config snapshot; subsequent
// HandleTick calls pick it up, per spec.md 5's copy-on-write settings model.
func (p *Pipeline) UpdateConfig(cfg config.PipelineConfig) {
	p.cfg.Store(&cfg)
}

func (p *Pipeline) SetMaintainRangeHook(fn func(ctx context.Context, symbol string)) {
	p.maintainRange = fn
}

func volumeFilterFor(vt config.VolumeType) candle.VolumeFilter {
	switch vt {
	case config.VolumeTypeBear:
		return candle.FilterBear
	case config.VolumeTypeAll:
		return candle.FilterAll
	default:
		return candle.FilterBull
	}
}

func (p *Pipeline) volumeConfig(cfg *config.PipelineConfig) volume.Config {
	return volume.Config{
		AnalysisHours:  cfg.AnalysisHours,
		OffsetMinutes:  cfg.OffsetMinutes,
		Multiplier:     cfg.VolumeMultiplier,
		MinVolumeQuote: decimal.NewFromFloat(cfg.MinVolumeQuote),
		VolumeType:     volumeFilterFor(cfg.VolumeType),
		ImbalanceEnabled: cfg.ImbalanceEnabled,
		ImbalanceThresholds: imbalance.Thresholds{
			MinGapPercent:         cfg.MinGapPercent,
			OrderBlockMovePercent: cfg.OrderBlockMovePercent,
			BreakerMovePercent:    cfg.BreakerMovePercent,
		},
		ImbalanceEnabledKinds: imbalance.Enabled{
			FVG:     cfg.FVGEnabled,
			OB:      cfg.OrderBlockEnabled,
			Breaker: cfg.BreakerBlockEnabled,
		},
		OrderbookSnapshotOnAlert: cfg.OrderbookSnapshotOnAlert,
	}
}

// HandleTick is the reader-loop body for a single symbol's kline update.
// Callers must route all ticks for a given symbol through the same
// Dispatcher shard to preserve the single-writer ordering spec.md 5
// requires; HandleTick itself does no synchronization.
func (p *Pipeline) HandleTick(ctx context.Context, c candle.Candle) {
	cfg := p.cfg.Load()

	if err := p.store.Upsert(ctx, c); err != nil {
		p.logger.Error("persistence failure on upsert, dropping this tick's update", zap.String("symbol", c.Symbol), zap.Error(err))
	}
	p.cache.Update(c.Symbol, c)
	window := p.cache.Snapshot(c.Symbol)

	evaluateVolume := func() *alerts.Alert {
		if !cfg.VolumeAlertsEnabled {
			return nil
		}
		volumeAlert, err := p.volumeDet.Evaluate(ctx, p.volumeConfig(cfg), c, window)
		if err != nil {
			p.logger.Debug("volume detector skipped evaluation", zap.String("symbol", c.Symbol), zap.Error(err))
			return nil
		}
		return volumeAlert
	}

	if !c.IsClosed {
		// In-progress (phase A) re-evaluates on every tick; re-delivery is
		// harmless since it only ever updates the existing coalescing entry.
		evaluateVolume()
		return
	}

	// Finalized (phase B) must run at most once per (symbol, openTimeMs):
	// a re-delivered closed candle (reconnect resend, maintainRange refill)
	// would otherwise find the coalescing entry already cleared and mint a
	// second finalized alert for the same candle, so this gate must wrap
	// phase B, not just the run/priority detectors below it.
	lastRaw, _ := p.lastProcessed.Load(c.Symbol)
	last, _ := lastRaw.(int64)
	if c.OpenTimeMs <= last {
		return
	}
	p.lastProcessed.Store(c.Symbol, c.OpenTimeMs)

	batch := make([]alerts.Alert, 0, 2)
	if volumeAlert := evaluateVolume(); volumeAlert != nil {
		batch = append(batch, *volumeAlert)
	}

	if cfg.ConsecutiveAlertsEnabled {
		runAlert, err := p.runDet.Evaluate(ctx, c)
		if err != nil {
			p.logger.Error("run detector error", zap.String("symbol", c.Symbol), zap.Error(err))
		} else if runAlert != nil {
			batch = append(batch, *runAlert)
		}
	}

	if cfg.PriorityAlertsEnabled {
		if _, err := p.priorityCorrelator.Evaluate(ctx, c.Symbol, c.CloseTimeMs, batch); err != nil {
			p.logger.Error("priority correlator error", zap.String("symbol", c.Symbol), zap.Error(err))
		}
	}

	if p.maintainRange != nil {
		p.maintainRange(ctx, c.Symbol)
	}
}

// IngestHistory upserts backfilled candles directly into the store and
// warms the cache, without running them through the detector chain.
// spec.md 4.9's backfill populates history ("upsert missing candles"); it is
// not a replay of the reader loop and must never re-emit alerts for candles
// that already closed.
func (p *Pipeline) IngestHistory(ctx context.Context, candles []candle.Candle) error {
	for _, c := range candles {
		if err := p.store.Upsert(ctx, c); err != nil {
			return fmt.Errorf("backfill upsert %s: %w", c.Symbol, err)
		}
		p.cache.Update(c.Symbol, c)
	}
	return nil
}

// NeedsBackfill reports whether symbol's trailing history is thin enough to
// warrant a REST backfill, per spec.md 4.9's startup gate (integrity under
// 80% or fewer than 60 existing candles).
func (p *Pipeline) NeedsBackfill(ctx context.Context, symbol string, hours int, nowMs int64) (bool, error) {
	report, err := p.store.Integrity(ctx, symbol, hours, nowMs)
	if err != nil {
		return false, fmt.Errorf("integrity check: %w", err)
	}
	return report.Percent < 80 || report.Existing < 60, nil
}

// MaintainRange evicts and refills a symbol's candle history when
// integrity has degraded, per spec.md 4.9's `maintainRange`: integrity
// <90% and missing >5 triggers a refill.
func (p *Pipeline) MaintainRange(ctx context.Context, symbol string, analysisHours, retentionHours int, nowMs int64, refill func(ctx context.Context, symbol string) error) error {
	report, err := p.store.Integrity(ctx, symbol, retentionHours+analysisHours, nowMs)
	if err != nil {
		return fmt.Errorf("integrity check: %w", err)
	}
	if report.Percent >= 90 || report.Missing <= 5 {
		return nil
	}
	if refill == nil {
		return nil
	}
	return refill(ctx, symbol)
}

// Cleanup drops stale candles and alerts per symbol, mirroring
// cleanup_old_data's retention sweep.
func (p *Pipeline) Cleanup(ctx context.Context, symbol string, retentionHours int, nowMs int64) {
	if err := p.store.Cleanup(ctx, symbol, retentionHours, nowMs); err != nil {
		p.logger.Warn("candle cleanup failed", zap.String("symbol", symbol), zap.Error(err))
	}
	if err := p.alertRepo.Cleanup(ctx, symbol, retentionHours, nowMs); err != nil {
		p.logger.Warn("alert cleanup failed", zap.String("symbol", symbol), zap.Error(err))
	}
}

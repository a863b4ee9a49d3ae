// Package volume implements the Volume Detector (C5): a rolling-mean
// comparison over historical quote volume plus the two-phase
// "preliminary -> finalized" alert lifecycle. Grounded on
// AlertManager._check_volume_alert in the original tokenscan implementation,
// including the volume_alerts_cache coalescing behavior.
package volume

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"pulseintel/internal/alerts"
	"pulseintel/internal/candle"
	"pulseintel/internal/imbalance"
)

// Config mirrors the enumerated configuration knobs of spec.md 5 that the
// volume detector reads.
type Config struct {
	AnalysisHours            int
	OffsetMinutes            int
	Multiplier               float64
	MinVolumeQuote           decimal.Decimal
	VolumeType               candle.VolumeFilter
	ImbalanceEnabled         bool
	ImbalanceThresholds      imbalance.Thresholds
	ImbalanceEnabledKinds    imbalance.Enabled
	OrderbookSnapshotOnAlert bool
}

// entry is VolumeAlertEntry(symbol): a short-lived coalescing cache keyed
// by openTimeMs, retained only until the candle closes.
type entry struct {
	openTimeMs int64
	alertID    int64
	alertLevel decimal.Decimal
	volumeQuote decimal.Decimal
}

// Cache holds one VolumeAlertEntry per symbol.
type Cache struct {
	mu      sync.Mutex
	entries map[string]entry
}

func NewCache() *Cache {
	return &Cache{entries: make(map[string]entry)}
}

func (c *Cache) get(symbol string, openTimeMs int64) (entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[symbol]
	if !ok || e.openTimeMs != openTimeMs {
		return entry{}, false
	}
	return e, true
}

func (c *Cache) set(symbol string, e entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[symbol] = e
}

func (c *Cache) clear(symbol string, openTimeMs int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[symbol]; ok && e.openTimeMs == openTimeMs {
		delete(c.entries, symbol)
	}
}

// OrderBookFetcher fetches a 25-level order-book snapshot from the exchange
// REST endpoint at alert time. Implemented by internal/ingest.
type OrderBookFetcher func(ctx context.Context, symbol string) (*alerts.OrderBookSnapshot, error)

// Detector is C5: one instance is shared across all symbols, since it holds
// no per-symbol mutable state beyond the Cache (which is itself
// symbol-sharded internally).
type Detector struct {
	store       candle.Store
	repo        alerts.Repository
	sink        alerts.Sink
	cache       *Cache
	orderBooks  OrderBookFetcher
	onTrueClose func(symbol string, closeTimeMs int64) // cooldown hook; cmd/main.go wires it to the metrics cooldown gauge
}

func NewDetector(store candle.Store, repo alerts.Repository, sink alerts.Sink, cache *Cache, orderBooks OrderBookFetcher, onTrueClose func(string, int64)) *Detector {
	return &Detector{store: store, repo: repo, sink: sink, cache: cache, orderBooks: orderBooks, onTrueClose: onTrueClose}
}

// Evaluate runs one pass of the detector for a single kline update. window
// is the current rolling candle-cache snapshot (oldest-first, used only for
// imbalance annotation); c is the candle as of this tick (in-progress or
// closed).
func (d *Detector) Evaluate(ctx context.Context, cfg Config, c candle.Candle, window []candle.Candle) (*alerts.Alert, error) {
	if !c.IsBullish {
		// A bearish close still finalizes a pending preliminary alert
		// (phase B then records isTrueSignal=false); otherwise no alert.
		if !c.IsClosed {
			return nil, nil
		}
		if _, ok := d.cache.get(c.Symbol, c.OpenTimeMs); !ok {
			return nil, nil
		}
	}

	vQ := c.VolumeQuote
	if vQ.LessThan(cfg.MinVolumeQuote) {
		return nil, nil
	}

	history, err := d.store.HistoricalQuoteVolumes(ctx, c.Symbol, cfg.AnalysisHours, cfg.OffsetMinutes, cfg.VolumeType, c.OpenTimeMs)
	if err != nil {
		return nil, fmt.Errorf("historical quote volumes: %w", err)
	}
	if len(history) < 10 {
		return nil, nil
	}

	avg := mean(history)
	if avg.IsZero() {
		return nil, nil
	}
	vQf, _ := vQ.Float64()
	avgf, _ := avg.Float64()
	ratio := vQf / avgf
	if ratio < cfg.Multiplier {
		return nil, nil
	}

	var imb *imbalance.Imbalance
	if cfg.ImbalanceEnabled {
		imb = imbalance.Detect(window, cfg.ImbalanceThresholds, cfg.ImbalanceEnabledKinds)
	}

	var ob *alerts.OrderBookSnapshot
	if cfg.OrderbookSnapshotOnAlert && d.orderBooks != nil {
		snap, err := d.orderBooks(ctx, c.Symbol)
		if err == nil {
			ob = snap
		}
	}

	ratioCopy := ratio
	currentVQ := vQ
	avgVQ := avg

	if !c.IsClosed {
		return d.phaseA(ctx, c, ratioCopy, currentVQ, avgVQ, imb, ob)
	}
	return d.phaseB(ctx, c, ratioCopy, currentVQ, avgVQ, imb, ob)
}

func (d *Detector) phaseA(ctx context.Context, c candle.Candle, ratio float64, vQ, avg decimal.Decimal, imb *imbalance.Imbalance, ob *alerts.OrderBookSnapshot) (*alerts.Alert, error) {
	e, ok := d.cache.get(c.Symbol, c.OpenTimeMs)
	if !ok {
		alert := alerts.Alert{
			Symbol:             c.Symbol,
			Kind:               alerts.VolumeSpike,
			Price:              c.Close,
			AlertTimeMs:        c.OpenTimeMs,
			IsClosed:           false,
			VolumeRatio:        &ratio,
			CurrentVolumeQuote: &vQ,
			AverageVolumeQuote: &avg,
			HasImbalance:       imb != nil,
			Imbalance:          imb,
			CandleSnapshot:     alerts.FromCandle(c, c.Close),
			OrderBook:          ob,
			Message:            "volume spike",
		}
		id, err := d.repo.Save(ctx, alert)
		if err != nil {
			alert.ID = 0
			d.sink.PublishNew(alert)
			return &alert, nil
		}
		alert.ID = id
		d.cache.set(c.Symbol, entry{openTimeMs: c.OpenTimeMs, alertID: id, alertLevel: c.Close, volumeQuote: vQ})
		d.sink.PublishNew(alert)
		return &alert, nil
	}

	if vQ.LessThanOrEqual(e.volumeQuote) {
		return nil, nil
	}

	alert := alerts.Alert{
		ID:                 e.alertID,
		Symbol:             c.Symbol,
		Kind:               alerts.VolumeSpike,
		Price:              e.alertLevel,
		AlertTimeMs:        c.OpenTimeMs,
		IsClosed:           false,
		VolumeRatio:        &ratio,
		CurrentVolumeQuote: &vQ,
		AverageVolumeQuote: &avg,
		HasImbalance:       imb != nil,
		Imbalance:          imb,
		CandleSnapshot:     alerts.FromCandle(c, e.alertLevel),
		OrderBook:          ob,
		Message:            "volume spike",
	}
	if err := d.repo.Update(ctx, e.alertID, alert); err != nil {
		return nil, fmt.Errorf("update preliminary alert: %w", err)
	}
	d.cache.set(c.Symbol, entry{openTimeMs: c.OpenTimeMs, alertID: e.alertID, alertLevel: e.alertLevel, volumeQuote: vQ})
	d.sink.PublishUpdate(alert)
	return &alert, nil
}

func (d *Detector) phaseB(ctx context.Context, c candle.Candle, ratio float64, vQ, avg decimal.Decimal, imb *imbalance.Imbalance, ob *alerts.OrderBookSnapshot) (*alerts.Alert, error) {
	isTrue := c.Close.GreaterThan(c.Open)

	e, ok := d.cache.get(c.Symbol, c.OpenTimeMs)
	if !ok {
		alert := alerts.Alert{
			Symbol:             c.Symbol,
			Kind:               alerts.VolumeSpike,
			Price:              c.Close,
			AlertTimeMs:        c.OpenTimeMs,
			CloseTimeMs:        c.CloseTimeMs,
			IsClosed:           true,
			IsTrueSignal:       &isTrue,
			VolumeRatio:        &ratio,
			CurrentVolumeQuote: &vQ,
			AverageVolumeQuote: &avg,
			HasImbalance:       imb != nil,
			Imbalance:          imb,
			CandleSnapshot:     alerts.FromCandle(c, c.Close),
			OrderBook:          ob,
			Message:            "volume spike",
		}
		id, err := d.repo.Save(ctx, alert)
		if err != nil {
			alert.ID = 0
			d.sink.PublishNew(alert)
			return &alert, nil
		}
		alert.ID = id
		d.sink.PublishNew(alert)
		if isTrue && d.onTrueClose != nil {
			d.onTrueClose(c.Symbol, c.CloseTimeMs)
		}
		return &alert, nil
	}

	alert := alerts.Alert{
		ID:                 e.alertID,
		Symbol:             c.Symbol,
		Kind:               alerts.VolumeSpike,
		Price:              e.alertLevel,
		AlertTimeMs:        c.OpenTimeMs,
		CloseTimeMs:        c.CloseTimeMs,
		IsClosed:           true,
		IsTrueSignal:       &isTrue,
		VolumeRatio:        &ratio,
		CurrentVolumeQuote: &vQ,
		AverageVolumeQuote: &avg,
		HasImbalance:       imb != nil,
		Imbalance:          imb,
		CandleSnapshot:     alerts.FromCandle(c, e.alertLevel),
		OrderBook:          ob,
		Message:            "volume spike",
	}
	if err := d.repo.Update(ctx, e.alertID, alert); err != nil {
		return nil, fmt.Errorf("finalize alert: %w", err)
	}
	d.cache.clear(c.Symbol, c.OpenTimeMs)
	d.sink.PublishUpdate(alert)
	if isTrue && d.onTrueClose != nil {
		d.onTrueClose(c.Symbol, c.CloseTimeMs)
	}
	return &alert, nil
}

func mean(values []decimal.Decimal) decimal.Decimal {
	if len(values) == 0 {
		return decimal.Zero
	}
	sum := decimal.Zero
	for _, v := range values {
		sum = sum.Add(v)
	}
	return sum.Div(decimal.NewFromInt(int64(len(values))))
}

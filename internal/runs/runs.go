// Package runs implements the Run Detector (C6): a consecutive-bullish-
// candle run counter per symbol, grounded on
// AlertManager._check_consecutive_long_alert in the original tokenscan
// implementation.
package runs

import (
	"context"
	"fmt"
	"sync"

	"pulseintel/internal/alerts"
	"pulseintel/internal/candle"
)

// State is ConsecutiveState(symbol).
type State struct {
	Count       int
	OpenAlertID int64 // 0 means "no open alert"
}

// Tracker holds one State per symbol.
type Tracker struct {
	mu     sync.Mutex
	states map[string]*State
}

func NewTracker() *Tracker {
	return &Tracker{states: make(map[string]*State)}
}

func (t *Tracker) state(symbol string) *State {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.states[symbol]
	if !ok {
		s = &State{}
		t.states[symbol] = s
	}
	return s
}

// Snapshot returns a copy of symbol's current state. The priority correlator
// does not read it; it takes the run length from the consecutive alert.
func (t *Tracker) Snapshot(symbol string) State {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.states[symbol]; ok {
		return *s
	}
	return State{}
}

// Detector is C6. Threshold is the K of spec.md 4.6 (consecutiveLongCount).
type Detector struct {
	repo      alerts.Repository
	sink      alerts.Sink
	tracker   *Tracker
	threshold int
}

func NewDetector(repo alerts.Repository, sink alerts.Sink, tracker *Tracker, threshold int) *Detector {
	return &Detector{repo: repo, sink: sink, tracker: tracker, threshold: threshold}
}

// Evaluate operates only on closed candles; callers must not invoke it for
// in-progress ticks.
func (d *Detector) Evaluate(ctx context.Context, c candle.Candle) (*alerts.Alert, error) {
	if !c.IsClosed {
		return nil, nil
	}

	s := d.tracker.state(c.Symbol)

	if c.IsBullish {
		return d.onBullish(ctx, c, s)
	}
	return d.onBearish(ctx, c, s)
}

func (d *Detector) onBullish(ctx context.Context, c candle.Candle, s *State) (*alerts.Alert, error) {
	s.Count++
	if s.Count < d.threshold {
		return nil, nil
	}

	count := s.Count

	if s.OpenAlertID == 0 {
		alert := alerts.Alert{
			Symbol:           c.Symbol,
			Kind:             alerts.ConsecutiveLong,
			Price:            c.Close,
			AlertTimeMs:      c.OpenTimeMs,
			CloseTimeMs:      c.CloseTimeMs,
			IsClosed:         true,
			ConsecutiveCount: &count,
			CandleSnapshot:   alerts.FromCandle(c, c.Close),
			Message:          "consecutive bullish run",
		}
		id, err := d.repo.Save(ctx, alert)
		if err != nil {
			alert.ID = 0
			d.sink.PublishNew(alert)
			return &alert, nil
		}
		alert.ID = id
		s.OpenAlertID = id
		d.sink.PublishNew(alert)
		return &alert, nil
	}

	alert := alerts.Alert{
		ID:               s.OpenAlertID,
		Symbol:           c.Symbol,
		Kind:             alerts.ConsecutiveLong,
		Price:            c.Close,
		AlertTimeMs:      c.OpenTimeMs,
		CloseTimeMs:      c.CloseTimeMs,
		IsClosed:         true,
		ConsecutiveCount: &count,
		CandleSnapshot:   alerts.FromCandle(c, c.Close),
		Message:          "consecutive bullish run",
	}
	if err := d.repo.Update(ctx, s.OpenAlertID, alert); err != nil {
		return nil, fmt.Errorf("update consecutive alert: %w", err)
	}
	d.sink.PublishUpdate(alert)
	return &alert, nil
}

func (d *Detector) onBearish(ctx context.Context, c candle.Candle, s *State) (*alerts.Alert, error) {
	if s.Count >= d.threshold && s.OpenAlertID != 0 {
		count := s.Count
		alert := alerts.Alert{
			ID:               s.OpenAlertID,
			Symbol:           c.Symbol,
			Kind:             alerts.ConsecutiveLong,
			Price:            c.Close,
			AlertTimeMs:      c.OpenTimeMs,
			CloseTimeMs:      c.CloseTimeMs,
			IsClosed:         true,
			ConsecutiveCount: &count,
			CandleSnapshot:   alerts.FromCandle(c, c.Close),
			Message:          "run broken",
		}
		if err := d.repo.Update(ctx, s.OpenAlertID, alert); err != nil {
			return nil, fmt.Errorf("finalize broken run: %w", err)
		}
		d.sink.PublishUpdate(alert)
		s.Count = 0
		s.OpenAlertID = 0
		return &alert, nil
	}

	s.Count = 0
	s.OpenAlertID = 0
	return nil, nil
}

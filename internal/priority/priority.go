// Package priority implements the Priority Correlator (C7): joins a
// CONSECUTIVE_LONG alert with a coincident or recent VOLUME_SPIKE alert,
// grounded on AlertManager._check_priority_signal and
// AlertManager._check_recent_volume_alert in the original tokenscan
// implementation. Per spec.md's resolved Open Question, the lookback is
// minutes, not candles.
package priority

import (
	"context"
	"fmt"

	"pulseintel/internal/alerts"
)

// Correlator is C7. Invoked only after closed-candle processing, given the
// batch of alerts produced for this close.
type Correlator struct {
	repo alerts.Repository
	sink alerts.Sink
}

func NewCorrelator(repo alerts.Repository, sink alerts.Sink) *Correlator {
	return &Correlator{repo: repo, sink: sink}
}

// Evaluate inspects batch (the alerts emitted for this symbol's close) and
// emits a PRIORITY alert when a CONSECUTIVE_LONG alert is present and
// either a VOLUME_SPIKE is also in the batch, or the repository reports one
// within the last `count` minutes (count = the consecutive alert's run
// length).
func (c *Correlator) Evaluate(ctx context.Context, symbol string, nowMs int64, batch []alerts.Alert) (*alerts.Alert, error) {
	var consecutive, volumeInBatch *alerts.Alert
	for i := range batch {
		switch batch[i].Kind {
		case alerts.ConsecutiveLong:
			consecutive = &batch[i]
		case alerts.VolumeSpike:
			volumeInBatch = &batch[i]
		}
	}
	if consecutive == nil {
		return nil, nil
	}

	count := 0
	if consecutive.ConsecutiveCount != nil {
		count = *consecutive.ConsecutiveCount
	}

	volume := volumeInBatch
	if volume == nil {
		recent, err := c.repo.RecentVolumeSpikes(ctx, symbol, count, nowMs)
		if err != nil {
			return nil, fmt.Errorf("recent volume spikes: %w", err)
		}
		if len(recent) == 0 {
			return nil, nil
		}
		volume = &recent[0]
	}

	hasImbalance := consecutive.HasImbalance || volume.HasImbalance
	imb := consecutive.Imbalance
	if imb == nil {
		imb = volume.Imbalance
	}

	alert := alerts.Alert{
		Symbol:           symbol,
		Kind:             alerts.Priority,
		Price:            consecutive.Price,
		AlertTimeMs:      consecutive.AlertTimeMs,
		CloseTimeMs:      consecutive.CloseTimeMs,
		IsClosed:         true,
		ConsecutiveCount: consecutive.ConsecutiveCount,
		VolumeRatio:        volume.VolumeRatio,
		CurrentVolumeQuote: volume.CurrentVolumeQuote,
		AverageVolumeQuote: volume.AverageVolumeQuote,
		HasImbalance:     hasImbalance,
		Imbalance:        imb,
		CandleSnapshot:   consecutive.CandleSnapshot,
		Message:          "priority signal",
	}

	id, err := c.repo.Save(ctx, alert)
	if err != nil {
		alert.ID = 0
		c.sink.PublishNew(alert)
		return &alert, nil
	}
	alert.ID = id
	c.sink.PublishNew(alert)
	return &alert, nil
}

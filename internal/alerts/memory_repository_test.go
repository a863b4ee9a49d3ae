package alerts

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
)

func TestMemoryRepositorySaveAssignsIncreasingIDs(t *testing.T) {
	r := NewMemoryRepository()
	ctx := context.Background()

	id1, err := r.Save(ctx, Alert{Symbol: "BTCUSDT", Kind: VolumeSpike, AlertTimeMs: 1000})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	id2, err := r.Save(ctx, Alert{Symbol: "BTCUSDT", Kind: VolumeSpike, AlertTimeMs: 2000})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if id2 <= id1 {
		t.Fatalf("expected increasing ids, got %d then %d", id1, id2)
	}
}

func TestMemoryRepositoryUpdateInPlacePreservesID(t *testing.T) {
	r := NewMemoryRepository()
	ctx := context.Background()

	id, _ := r.Save(ctx, Alert{Symbol: "BTCUSDT", Kind: VolumeSpike, AlertTimeMs: 1000, IsClosed: false, Price: decimal.NewFromInt(100)})

	updated := Alert{Symbol: "BTCUSDT", Kind: VolumeSpike, AlertTimeMs: 1000, IsClosed: true, Price: decimal.NewFromInt(101)}
	if err := r.Update(ctx, id, updated); err != nil {
		t.Fatalf("update: %v", err)
	}

	spikes, err := r.RecentVolumeSpikes(ctx, "BTCUSDT", 10, 1000)
	if err != nil {
		t.Fatalf("recent volume spikes: %v", err)
	}
	if len(spikes) != 1 || spikes[0].ID != id || !spikes[0].IsClosed {
		t.Fatalf("expected the single updated alert to keep id %d, got %+v", id, spikes)
	}
}

func TestMemoryRepositoryRecentVolumeSpikesRespectsWindow(t *testing.T) {
	r := NewMemoryRepository()
	ctx := context.Background()
	now := int64(10 * 60_000)

	r.Save(ctx, Alert{Symbol: "BTCUSDT", Kind: VolumeSpike, AlertTimeMs: now - 3*60_000})
	r.Save(ctx, Alert{Symbol: "BTCUSDT", Kind: VolumeSpike, AlertTimeMs: now - 20*60_000})
	r.Save(ctx, Alert{Symbol: "BTCUSDT", Kind: ConsecutiveLong, AlertTimeMs: now})

	spikes, err := r.RecentVolumeSpikes(ctx, "BTCUSDT", 5, now)
	if err != nil {
		t.Fatalf("recent volume spikes: %v", err)
	}
	if len(spikes) != 1 {
		t.Fatalf("expected only the in-window VOLUME_SPIKE alert, got %d: %+v", len(spikes), spikes)
	}
}

func TestMemoryRepositoryCleanupDropsOldAlerts(t *testing.T) {
	r := NewMemoryRepository()
	ctx := context.Background()
	now := int64(3 * 60 * 60_000)

	oldID, _ := r.Save(ctx, Alert{Symbol: "BTCUSDT", Kind: VolumeSpike, AlertTimeMs: 0})
	_, _ = r.Save(ctx, Alert{Symbol: "BTCUSDT", Kind: VolumeSpike, AlertTimeMs: now - 60_000})

	if err := r.Cleanup(ctx, "BTCUSDT", 2, now); err != nil {
		t.Fatalf("cleanup: %v", err)
	}

	if _, ok := r.records[oldID]; ok {
		t.Fatalf("expected old alert %d to be removed", oldID)
	}
	if len(r.records) != 1 {
		t.Fatalf("expected exactly 1 surviving alert, got %d", len(r.records))
	}
}

package alerts

import (
	"context"
	"fmt"
	"sync"
)

// MemoryRepository is an in-process Repository, used by tests and by
// single-instance deployments without Redis configured.
type MemoryRepository struct {
	mu      sync.Mutex
	nextID  int64
	records map[int64]Alert
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{records: make(map[int64]Alert)}
}

func (r *MemoryRepository) Save(ctx context.Context, alert Alert) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	alert.ID = r.nextID
	r.records[alert.ID] = alert
	return alert.ID, nil
}

func (r *MemoryRepository) Update(ctx context.Context, id int64, alert Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.records[id]; !ok {
		return fmt.Errorf("alert %d not found", id)
	}
	alert.ID = id
	r.records[id] = alert
	return nil
}

func (r *MemoryRepository) RecentVolumeSpikes(ctx context.Context, symbol string, minutesBack int, nowMs int64) ([]Alert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := nowMs - int64(minutesBack)*60_000
	var out []Alert
	for _, a := range r.records {
		if a.Symbol == symbol && a.Kind == VolumeSpike && a.AlertTimeMs >= cutoff {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *MemoryRepository) Cleanup(ctx context.Context, symbol string, retentionHours int, nowMs int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := nowMs - int64(retentionHours)*60*60_000
	for id, a := range r.records {
		if a.Symbol == symbol && a.AlertTimeMs < cutoff {
			delete(r.records, id)
		}
	}
	return nil
}

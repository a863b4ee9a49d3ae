package alerts

import "context"

// Repository is the Alert Repository (C8): persist, update-in-place, and
// query alerts. save/update/recentVolumeSpikes/cleanup per spec.md 4.8.
type Repository interface {
	// Save inserts alert and returns the assigned id. alert.ID is ignored
	// on input.
	Save(ctx context.Context, alert Alert) (int64, error)

	// Update overwrites the mutable fields of the alert identified by id.
	Update(ctx context.Context, id int64, alert Alert) error

	// RecentVolumeSpikes returns VOLUME_SPIKE alerts for symbol with
	// alertTimeMs within the last minutesBack minutes.
	RecentVolumeSpikes(ctx context.Context, symbol string, minutesBack int, nowMs int64) ([]Alert, error)

	// Cleanup drops alerts older than retentionHours for symbol.
	Cleanup(ctx context.Context, symbol string, retentionHours int, nowMs int64) error
}

// Sink is the downstream broadcast interface every emitted alert is pushed
// through in addition to the repository, per spec.md's "Downstream sinks".
type Sink interface {
	PublishNew(alert Alert)
	PublishUpdate(alert Alert)
}

package service

import (
	"encoding/json"

	"go.uber.org/zap"

	"pulseintel/internal/alerts"
	"pulseintel/pkg/broadcaster"
)

// wireAlert is the external representation spec.md 4's subscriber interface
// expects: {"type": "NEW"|"UPDATE", "alert": {...}}.
type wireAlert struct {
	Type  string       `json:"type"`
	Alert alerts.Alert `json:"alert"`
}

// BroadcastSink adapts the pkg/broadcaster WebSocket fan-out to the
// alerts.Sink interface, publishing every new or updated alert to all
// connected subscribers.
type BroadcastSink struct {
	broadcaster *broadcaster.Broadcaster
	logger      *zap.Logger
}

func NewBroadcastSink(b *broadcaster.Broadcaster, logger *zap.Logger) *BroadcastSink {
	return &BroadcastSink{broadcaster: b, logger: logger.Named("broadcast-sink")}
}

func (s *BroadcastSink) PublishNew(a alerts.Alert) {
	s.publish("NEW", a)
}

func (s *BroadcastSink) PublishUpdate(a alerts.Alert) {
	s.publish("UPDATE", a)
}

func (s *BroadcastSink) publish(eventType string, a alerts.Alert) {
	data, err := json.Marshal(wireAlert{Type: eventType, Alert: a})
	if err != nil {
		s.logger.Error("failed to marshal alert for broadcast", zap.Error(err))
		return
	}
	s.broadcaster.Broadcast(data)
}

// wireSubscriptionUpdate announces a new pipeline settings snapshot, per
// spec.md 5's "a settings update publishes a new snapshot" requirement.
type wireSubscriptionUpdate struct {
	Type      string      `json:"type"`
	Watchlist []string    `json:"watchlist"`
	Settings  interface{} `json:"settings"`
}

// PublishSubscriptionUpdated announces a new watchlist/settings snapshot to
// all connected subscribers.
func (s *BroadcastSink) PublishSubscriptionUpdated(watchlist []string, settings interface{}) {
	data, err := json.Marshal(wireSubscriptionUpdate{Type: "SUBSCRIPTION_UPDATED", Watchlist: watchlist, Settings: settings})
	if err != nil {
		s.logger.Error("failed to marshal subscription update for broadcast", zap.Error(err))
		return
	}
	s.broadcaster.Broadcast(data)
}

// MultiSink fans an alert out to every configured alerts.Sink, letting the
// WebSocket broadcaster and the Redis PubSub sink run side by side.
type MultiSink struct {
	sinks []alerts.Sink
}

func NewMultiSink(sinks ...alerts.Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

func (m *MultiSink) PublishNew(a alerts.Alert) {
	for _, s := range m.sinks {
		s.PublishNew(a)
	}
}

func (m *MultiSink) PublishUpdate(a alerts.Alert) {
	for _, s := range m.sinks {
		s.PublishUpdate(a)
	}
}

// Package publisher implements a throttled Redis PubSub alerts.Sink, the
// channel-based transport downstream consumers (a chat notifier, a
// paper-trading bookkeeper) subscribe to instead of the WebSocket
// broadcaster, per spec.md section 1's "downstream sinks beyond the
// broadcaster are out of scope... represented only as the alerts.Sink
// interface."
package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"pulseintel/internal/alerts"
)

// PublishMetrics tracks publishing statistics.
type PublishMetrics struct {
	TotalEvents      int64         `json:"total_events"`
	SuccessfulEvents int64         `json:"successful_events"`
	FailedEvents     int64         `json:"failed_events"`
	ThrottledEvents  int64         `json:"throttled_events"`
	AverageLatency   time.Duration `json:"average_latency"`
	LastPublish      time.Time     `json:"last_publish"`
}

// RedisSink publishes alerts to per-symbol Redis channels with a
// messages-per-second throttle, implementing alerts.Sink.
type RedisSink struct {
	client  *redis.Client
	logger  *zap.Logger
	metrics PublishMetrics
	mu      sync.RWMutex
	ctx     context.Context
	cancel  context.CancelFunc

	maxMessagesPerSecond int
	messageCount         int
	lastResetTime        time.Time
	throttleMutex        sync.Mutex
}

func NewRedisSink(client *redis.Client, logger *zap.Logger) *RedisSink {
	ctx, cancel := context.WithCancel(context.Background())

	return &RedisSink{
		client:               client,
		logger:               logger.Named("redis-sink"),
		ctx:                  ctx,
		cancel:               cancel,
		maxMessagesPerSecond: 1000,
		lastResetTime:        time.Now(),
	}
}

func channelFor(symbol string) string {
	return fmt.Sprintf("pulseintel:alerts:%s", symbol)
}

func (s *RedisSink) PublishNew(a alerts.Alert) {
	s.publish("NEW", a)
}

func (s *RedisSink) PublishUpdate(a alerts.Alert) {
	s.publish("UPDATE", a)
}

func (s *RedisSink) publish(eventType string, a alerts.Alert) {
	if !s.checkThrottle() {
		s.updateMetrics(false, 0, true)
		s.logger.Debug("alert publish throttled", zap.String("symbol", a.Symbol))
		return
	}

	start := time.Now()

	payload, err := json.Marshal(struct {
		Type  string       `json:"type"`
		Alert alerts.Alert `json:"alert"`
	}{Type: eventType, Alert: a})
	if err != nil {
		s.updateMetrics(false, time.Since(start), false)
		s.logger.Error("failed to marshal alert for redis publish", zap.Error(err))
		return
	}

	if err := s.client.Publish(s.ctx, channelFor(a.Symbol), payload).Err(); err != nil {
		s.updateMetrics(false, time.Since(start), false)
		s.logger.Error("failed to publish alert to redis", zap.String("symbol", a.Symbol), zap.Error(err))
		return
	}

	s.updateMetrics(true, time.Since(start), false)
}

func (s *RedisSink) checkThrottle() bool {
	s.throttleMutex.Lock()
	defer s.throttleMutex.Unlock()

	now := time.Now()
	if now.Sub(s.lastResetTime) >= time.Second {
		s.messageCount = 0
		s.lastResetTime = now
	}

	if s.messageCount >= s.maxMessagesPerSecond {
		return false
	}
	s.messageCount++
	return true
}

func (s *RedisSink) SetThrottleLimit(limit int) {
	s.throttleMutex.Lock()
	defer s.throttleMutex.Unlock()
	s.maxMessagesPerSecond = limit
}

func (s *RedisSink) updateMetrics(success bool, latency time.Duration, throttled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.metrics.TotalEvents++
	if throttled {
		s.metrics.ThrottledEvents++
		return
	}

	if success {
		s.metrics.SuccessfulEvents++
	} else {
		s.metrics.FailedEvents++
	}

	if s.metrics.TotalEvents == 1 {
		s.metrics.AverageLatency = latency
	} else {
		s.metrics.AverageLatency = time.Duration(
			(int64(s.metrics.AverageLatency)*s.metrics.TotalEvents + int64(latency)) / (s.metrics.TotalEvents + 1),
		)
	}
	s.metrics.LastPublish = time.Now()
}

func (s *RedisSink) GetMetrics() PublishMetrics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.metrics
}

func (s *RedisSink) Close() error {
	s.cancel()
	return nil
}

package config

import (
	"fmt"
	"time"
)

// Config represents the complete application configuration, adapted from
// the teacher's exchange-services YAML shape to the signal-pipeline
// settings of spec.md 6 (analysisHours, offsetMinutes, ...).
type Config struct {
	Redis      RedisConfig      `yaml:"redis"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Workers    WorkersConfig    `yaml:"workers"`
}

// RedisConfig represents Redis connection configuration.
type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
	Timeout  string `yaml:"timeout"`
}

// ExchangeConfig carries the ingestion endpoint and curated watchlist.
type ExchangeConfig struct {
	Name         string   `yaml:"name"`
	WebSocketURL string   `yaml:"websocket_url"`
	Watchlist    []string `yaml:"watchlist"`
}

// VolumeType selects which side of historical candles the Volume Detector
// averages, per spec.md 6's `volumeType`.
type VolumeType string

const (
	VolumeTypeBull VolumeType = "BULL"
	VolumeTypeBear VolumeType = "BEAR"
	VolumeTypeAll  VolumeType = "ALL"
)

// PipelineConfig enumerates the detector/repository knobs of spec.md 6.
type PipelineConfig struct {
	AnalysisHours            int        `yaml:"analysis_hours"`
	OffsetMinutes            int        `yaml:"offset_minutes"`
	VolumeMultiplier         float64    `yaml:"volume_multiplier"`
	MinVolumeQuote           float64    `yaml:"min_volume_quote"`
	ConsecutiveLongCount     int        `yaml:"consecutive_long_count"`
	AlertGroupingMinutes     int        `yaml:"alert_grouping_minutes"`
	DataRetentionHours       int        `yaml:"data_retention_hours"`
	UpdateIntervalSeconds    int        `yaml:"update_interval_seconds"`
	VolumeType               VolumeType `yaml:"volume_type"`
	ImbalanceEnabled         bool       `yaml:"imbalance_enabled"`
	FVGEnabled               bool       `yaml:"fvg_enabled"`
	OrderBlockEnabled        bool       `yaml:"order_block_enabled"`
	BreakerBlockEnabled      bool       `yaml:"breaker_block_enabled"`
	MinGapPercent            float64    `yaml:"min_gap_percent"`
	OrderBlockMovePercent    float64    `yaml:"order_block_move_percent"`
	BreakerMovePercent       float64    `yaml:"breaker_move_percent"`
	OrderbookSnapshotOnAlert bool       `yaml:"orderbook_snapshot_on_alert"`
	VolumeAlertsEnabled      bool       `yaml:"volume_alerts_enabled"`
	ConsecutiveAlertsEnabled bool       `yaml:"consecutive_alerts_enabled"`
	PriorityAlertsEnabled    bool       `yaml:"priority_alerts_enabled"`
	TimeSyncMethod           string     `yaml:"time_sync_method"`
}

// MonitoringConfig represents monitoring configuration.
type MonitoringConfig struct {
	MetricsEnabled bool `yaml:"metrics_enabled"`
	PrometheusPort int  `yaml:"prometheus_port"`
}

// WorkersConfig sizes the per-symbol shard dispatcher.
type WorkersConfig struct {
	Shards     int `yaml:"shards"`
	QueueDepth int `yaml:"queue_depth"`
}

// ============================================================================
// HELPER METHODS
// ============================================================================

func (c *Config) GetRedisAddress() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func (c *Config) GetRedisDatabase() int {
	return c.Redis.DB
}

func (c *Config) RedisTimeout() time.Duration {
	d, err := time.ParseDuration(c.Redis.Timeout)
	if err != nil {
		return 5 * time.Second
	}
	return d
}

// Validate fails fast on misconfiguration per spec.md 7's Misconfiguration
// error kind (negative multipliers, unknown volumeType).
func (c *Config) Validate() error {
	if c.Pipeline.VolumeMultiplier <= 0 {
		return fmt.Errorf("pipeline.volume_multiplier must be positive, got %v", c.Pipeline.VolumeMultiplier)
	}
	if c.Pipeline.MinVolumeQuote < 0 {
		return fmt.Errorf("pipeline.min_volume_quote must be non-negative, got %v", c.Pipeline.MinVolumeQuote)
	}
	if c.Pipeline.ConsecutiveLongCount <= 0 {
		return fmt.Errorf("pipeline.consecutive_long_count must be positive, got %v", c.Pipeline.ConsecutiveLongCount)
	}
	if c.Pipeline.DataRetentionHours <= 0 {
		return fmt.Errorf("pipeline.data_retention_hours must be positive, got %v", c.Pipeline.DataRetentionHours)
	}
	switch c.Pipeline.VolumeType {
	case VolumeTypeBull, VolumeTypeBear, VolumeTypeAll:
	default:
		return fmt.Errorf("pipeline.volume_type must be one of BULL, BEAR, ALL; got %q", c.Pipeline.VolumeType)
	}
	switch c.Pipeline.TimeSyncMethod {
	case "", "auto", "exchange_only", "time_servers_only":
	default:
		return fmt.Errorf("pipeline.time_sync_method must be one of auto, exchange_only, time_servers_only; got %q", c.Pipeline.TimeSyncMethod)
	}
	if c.Workers.Shards <= 0 {
		return fmt.Errorf("workers.shards must be positive, got %v", c.Workers.Shards)
	}
	if len(c.Exchange.Watchlist) == 0 {
		return fmt.Errorf("exchange.watchlist must not be empty")
	}
	return nil
}

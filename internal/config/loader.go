package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type ConfigLoader struct{}

func NewConfigLoader() *ConfigLoader {
	return &ConfigLoader{}
}

func (cl *ConfigLoader) LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", filename, err)
	}

	config := defaultConfig()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if config.Redis.Host == "" {
		config.Redis.Host = "localhost"
	}
	if config.Redis.Port == 0 {
		config.Redis.Port = 6379
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// defaultConfig carries spec.md 6's enumerated defaults so a minimal YAML
// file (just redis + exchange.watchlist) is enough to start the pipeline.
func defaultConfig() Config {
	return Config{
		Exchange: ExchangeConfig{
			Name:         "bybit",
			WebSocketURL: "wss://stream.bybit.com/v5/public/linear",
		},
		Monitoring: MonitoringConfig{
			MetricsEnabled: true,
			PrometheusPort: 9090,
		},
		Pipeline: PipelineConfig{
			AnalysisHours:            1,
			OffsetMinutes:            0,
			VolumeMultiplier:         2.0,
			MinVolumeQuote:           1000,
			ConsecutiveLongCount:     5,
			AlertGroupingMinutes:     5,
			DataRetentionHours:       2,
			UpdateIntervalSeconds:    1,
			VolumeType:               VolumeTypeBull,
			MinGapPercent:            0.1,
			OrderBlockMovePercent:    2.0,
			BreakerMovePercent:       1.0,
			VolumeAlertsEnabled:      true,
			ConsecutiveAlertsEnabled: true,
			PriorityAlertsEnabled:    true,
			TimeSyncMethod:           "auto",
		},
		Workers: WorkersConfig{
			Shards:     8,
			QueueDepth: 256,
		},
		Redis: RedisConfig{
			PoolSize: 10,
			Timeout:  "5s",
		},
	}
}

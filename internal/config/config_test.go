package config

import "testing"

func validConfig() Config {
	return Config{
		Pipeline: PipelineConfig{
			VolumeMultiplier:     2.0,
			MinVolumeQuote:       1000,
			ConsecutiveLongCount: 5,
			DataRetentionHours:   2,
			VolumeType:           VolumeTypeBull,
			TimeSyncMethod:       "auto",
		},
		Workers:  WorkersConfig{Shards: 8},
		Exchange: ExchangeConfig{Watchlist: []string{"BTCUSDT"}},
	}
}

func TestValidateAcceptsWellFormedConfig(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config to pass, got %v", err)
	}
}

func TestValidateRejectsNonPositiveMultiplier(t *testing.T) {
	cfg := validConfig()
	cfg.Pipeline.VolumeMultiplier = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for zero volume_multiplier")
	}
}

func TestValidateRejectsNegativeMinVolumeQuote(t *testing.T) {
	cfg := validConfig()
	cfg.Pipeline.MinVolumeQuote = -1
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for negative min_volume_quote")
	}
}

func TestValidateRejectsUnknownVolumeType(t *testing.T) {
	cfg := validConfig()
	cfg.Pipeline.VolumeType = "BOGUS"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown volume_type")
	}
}

func TestValidateRejectsUnknownTimeSyncMethod(t *testing.T) {
	cfg := validConfig()
	cfg.Pipeline.TimeSyncMethod = "bogus"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown time_sync_method")
	}
}

func TestValidateRejectsEmptyWatchlist(t *testing.T) {
	cfg := validConfig()
	cfg.Exchange.Watchlist = nil
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for empty watchlist")
	}
}

func TestValidateRejectsNonPositiveShards(t *testing.T) {
	cfg := validConfig()
	cfg.Workers.Shards = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for zero shards")
	}
}

func TestGetRedisAddress(t *testing.T) {
	cfg := Config{Redis: RedisConfig{Host: "redis.local", Port: 6380}}
	if got := cfg.GetRedisAddress(); got != "redis.local:6380" {
		t.Fatalf("expected redis.local:6380, got %q", got)
	}
}

func TestRedisTimeoutFallsBackOnInvalidDuration(t *testing.T) {
	cfg := Config{Redis: RedisConfig{Timeout: "not-a-duration"}}
	if got := cfg.RedisTimeout(); got.Seconds() != 5 {
		t.Fatalf("expected 5s fallback, got %v", got)
	}
}

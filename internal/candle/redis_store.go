package candle

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// RedisStore persists candles as a Redis hash (symbol -> openTimeMs ->
// JSON blob) plus a sorted-set index (symbol -> openTimeMs, scored by
// openTimeMs) for ordered range queries. This mirrors the
// ZAdd+pipeline+ZRemRangeByRank+Expire idiom the teacher's historical data
// fetcher uses for candle history, generalized to support in-place mutation
// of an in-progress candle (a plain sorted set keyed by its own JSON member
// cannot be updated in place, since changing the payload changes the
// member).
type RedisStore struct {
	rdb    *redis.Client
	logger *zap.Logger
	ttl    int // retention seconds applied to the Redis key itself, independent of Cleanup
}

func NewRedisStore(rdb *redis.Client, logger *zap.Logger, ttlSeconds int) *RedisStore {
	return &RedisStore{rdb: rdb, logger: logger.Named("candle-store"), ttl: ttlSeconds}
}

func dataKey(symbol string) string  { return fmt.Sprintf("candles:%s:data", symbol) }
func indexKey(symbol string) string { return fmt.Sprintf("candles:%s:index", symbol) }

func (s *RedisStore) Upsert(ctx context.Context, c Candle) error {
	blob, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal candle: %w", err)
	}

	field := fmt.Sprintf("%d", c.OpenTimeMs)

	if raw, err := s.rdb.HGet(ctx, dataKey(c.Symbol), field).Result(); err == nil {
		var existing Candle
		if json.Unmarshal([]byte(raw), &existing) == nil && existing.IsClosed {
			// A closed candle is frozen: a later upsert for the same minute is a no-op.
			return nil
		}
	}

	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, dataKey(c.Symbol), field, blob)
	pipe.ZAdd(ctx, indexKey(c.Symbol), redis.Z{Score: float64(c.OpenTimeMs), Member: field})
	if s.ttl > 0 {
		pipe.Expire(ctx, dataKey(c.Symbol), time.Duration(s.ttl)*time.Second)
		pipe.Expire(ctx, indexKey(c.Symbol), time.Duration(s.ttl)*time.Second)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.Error("failed to upsert candle", zap.String("symbol", c.Symbol), zap.Int64("openTimeMs", c.OpenTimeMs), zap.Error(err))
		return fmt.Errorf("upsert candle: %w", err)
	}
	return nil
}

func (s *RedisStore) fetchRange(ctx context.Context, symbol string, minScore, maxScore string) ([]Candle, error) {
	fields, err := s.rdb.ZRangeByScore(ctx, indexKey(symbol), &redis.ZRangeBy{Min: minScore, Max: maxScore}).Result()
	if err != nil {
		return nil, fmt.Errorf("zrangebyscore: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	blobs, err := s.rdb.HMGet(ctx, dataKey(symbol), fields...).Result()
	if err != nil {
		return nil, fmt.Errorf("hmget: %w", err)
	}

	out := make([]Candle, 0, len(blobs))
	for _, raw := range blobs {
		str, ok := raw.(string)
		if !ok {
			continue
		}
		var c Candle
		if err := json.Unmarshal([]byte(str), &c); err != nil {
			s.logger.Warn("skipping corrupt candle blob", zap.String("symbol", symbol), zap.Error(err))
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenTimeMs < out[j].OpenTimeMs })
	return out, nil
}

func (s *RedisStore) RecentClosed(ctx context.Context, symbol string, n int) ([]Candle, error) {
	all, err := s.fetchRange(ctx, symbol, "-inf", "+inf")
	if err != nil {
		return nil, err
	}

	closed := make([]Candle, 0, n)
	for _, c := range all {
		if c.IsClosed {
			closed = append(closed, c)
		}
	}
	if len(closed) > n {
		closed = closed[len(closed)-n:]
	}
	return closed, nil
}

func (s *RedisStore) HistoricalQuoteVolumes(ctx context.Context, symbol string, hours, offsetMinutes int, filter VolumeFilter, nowMs int64) ([]decimal.Decimal, error) {
	windowEnd := nowMs - int64(offsetMinutes)*60_000
	windowStart := windowEnd - int64(hours)*60*60_000

	candles, err := s.fetchRange(ctx, symbol, fmt.Sprintf("%d", windowStart), fmt.Sprintf("(%d", windowEnd))
	if err != nil {
		return nil, err
	}

	out := make([]decimal.Decimal, 0, len(candles))
	for _, c := range candles {
		if !c.IsClosed {
			continue
		}
		switch filter {
		case FilterBull:
			if !c.IsBullish {
				continue
			}
		case FilterBear:
			if c.IsBullish {
				continue
			}
		}
		out = append(out, c.VolumeQuote)
	}
	return out, nil
}

func (s *RedisStore) Cleanup(ctx context.Context, symbol string, retentionHours int, nowMs int64) error {
	cutoff := nowMs - int64(retentionHours)*60*60_000

	stale, err := s.rdb.ZRangeByScore(ctx, indexKey(symbol), &redis.ZRangeBy{Min: "-inf", Max: fmt.Sprintf("(%d", cutoff)}).Result()
	if err != nil {
		return fmt.Errorf("zrangebyscore for cleanup: %w", err)
	}
	if len(stale) == 0 {
		return nil
	}

	pipe := s.rdb.TxPipeline()
	pipe.HDel(ctx, dataKey(symbol), stale...)
	pipe.ZRemRangeByScore(ctx, indexKey(symbol), "-inf", fmt.Sprintf("(%d", cutoff))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cleanup pipeline: %w", err)
	}
	return nil
}

func (s *RedisStore) Integrity(ctx context.Context, symbol string, hours int, nowMs int64) (IntegrityReport, error) {
	expected := hours * 60
	windowStart := nowMs - int64(hours)*60*60_000

	candles, err := s.fetchRange(ctx, symbol, fmt.Sprintf("%d", windowStart), fmt.Sprintf("(%d", nowMs))
	if err != nil {
		return IntegrityReport{}, err
	}

	existing := 0
	for _, c := range candles {
		if c.IsClosed {
			existing++
		}
	}

	missing := expected - existing
	if missing < 0 {
		missing = 0
	}
	percent := 0.0
	if expected > 0 {
		percent = float64(existing) / float64(expected) * 100
	}

	return IntegrityReport{Expected: expected, Existing: existing, Missing: missing, Percent: percent}, nil
}

package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisRepository persists alerts as a Redis hash (symbol -> id -> JSON
// blob) plus a per-(symbol,kind) sorted-set index scored by alertTimeMs,
// the same data-key/index-key split internal/candle.RedisStore uses for
// candles, so that recentVolumeSpikes is a single ZRangeByScore instead of
// a full table scan.
type RedisRepository struct {
	rdb    *redis.Client
	logger *zap.Logger
}

func NewRedisRepository(rdb *redis.Client, logger *zap.Logger) *RedisRepository {
	return &RedisRepository{rdb: rdb, logger: logger.Named("alert-repository")}
}

func alertDataKey(symbol string) string            { return fmt.Sprintf("alerts:%s:data", symbol) }
func alertIndexKey(symbol string, kind Kind) string { return fmt.Sprintf("alerts:%s:%s:index", symbol, kind) }
func alertIDSeqKey() string                         { return "alerts:seq" }

func (r *RedisRepository) Save(ctx context.Context, alert Alert) (int64, error) {
	id, err := r.rdb.Incr(ctx, alertIDSeqKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("allocate alert id: %w", err)
	}
	alert.ID = id

	blob, err := json.Marshal(alert)
	if err != nil {
		return 0, fmt.Errorf("marshal alert: %w", err)
	}

	pipe := r.rdb.TxPipeline()
	pipe.HSet(ctx, alertDataKey(alert.Symbol), strconv.FormatInt(id, 10), blob)
	pipe.ZAdd(ctx, alertIndexKey(alert.Symbol, alert.Kind), redis.Z{Score: float64(alert.AlertTimeMs), Member: strconv.FormatInt(id, 10)})
	if _, err := pipe.Exec(ctx); err != nil {
		r.logger.Error("failed to save alert", zap.String("symbol", alert.Symbol), zap.String("kind", string(alert.Kind)), zap.Error(err))
		return 0, fmt.Errorf("save alert: %w", err)
	}
	return id, nil
}

func (r *RedisRepository) Update(ctx context.Context, id int64, alert Alert) error {
	alert.ID = id
	blob, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	if err := r.rdb.HSet(ctx, alertDataKey(alert.Symbol), strconv.FormatInt(id, 10), blob).Err(); err != nil {
		r.logger.Error("failed to update alert", zap.Int64("id", id), zap.Error(err))
		return fmt.Errorf("update alert: %w", err)
	}
	return nil
}

func (r *RedisRepository) RecentVolumeSpikes(ctx context.Context, symbol string, minutesBack int, nowMs int64) ([]Alert, error) {
	cutoff := nowMs - int64(minutesBack)*60_000

	ids, err := r.rdb.ZRangeByScore(ctx, alertIndexKey(symbol, VolumeSpike), &redis.ZRangeBy{
		Min: fmt.Sprintf("%d", cutoff),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("zrangebyscore: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	blobs, err := r.rdb.HMGet(ctx, alertDataKey(symbol), ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("hmget: %w", err)
	}

	out := make([]Alert, 0, len(blobs))
	for _, raw := range blobs {
		str, ok := raw.(string)
		if !ok {
			continue
		}
		var a Alert
		if err := json.Unmarshal([]byte(str), &a); err != nil {
			r.logger.Warn("skipping corrupt alert blob", zap.String("symbol", symbol), zap.Error(err))
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func (r *RedisRepository) Cleanup(ctx context.Context, symbol string, retentionHours int, nowMs int64) error {
	cutoff := nowMs - int64(retentionHours)*60*60_000

	for _, kind := range []Kind{VolumeSpike, ConsecutiveLong, Priority} {
		stale, err := r.rdb.ZRangeByScore(ctx, alertIndexKey(symbol, kind), &redis.ZRangeBy{Min: "-inf", Max: fmt.Sprintf("(%d", cutoff)}).Result()
		if err != nil {
			return fmt.Errorf("zrangebyscore for cleanup: %w", err)
		}
		if len(stale) == 0 {
			continue
		}

		pipe := r.rdb.TxPipeline()
		pipe.HDel(ctx, alertDataKey(symbol), stale...)
		pipe.ZRemRangeByScore(ctx, alertIndexKey(symbol, kind), "-inf", fmt.Sprintf("(%d", cutoff))
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("cleanup pipeline for %s: %w", kind, err)
		}
	}
	return nil
}

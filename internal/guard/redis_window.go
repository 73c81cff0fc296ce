package guard

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisWindow implements the sliding window with one sorted set per key so
// every instance sharing the Redis server enforces the same budget.
type RedisWindow struct {
	client redis.Cmdable
	prefix string
	window time.Duration
	limit  int
	now    func() time.Time
}

func NewRedisWindow(client redis.Cmdable, prefix string, cfg WindowConfig) *RedisWindow {
	cfg = cfg.withDefaults()
	if prefix == "" {
		prefix = "livego:ratelimit:"
	}
	return &RedisWindow{client: client, prefix: prefix, window: cfg.Window, limit: cfg.Limit, now: cfg.Clock}
}

func (w *RedisWindow) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	now := w.now()
	redisKey := w.prefix + normalizeKey(key)
	member := fmt.Sprintf("%d-%s", now.UnixNano(), uuid.NewString())
	cutoff := now.Add(-w.window).UnixMilli()

	var count *redis.IntCmd
	_, err := w.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, redisKey, "-inf", strconv.FormatInt(cutoff, 10))
		pipe.ZAdd(ctx, redisKey, redis.Z{Score: float64(now.UnixMilli()), Member: member})
		count = pipe.ZCard(ctx, redisKey)
		pipe.PExpire(ctx, redisKey, w.window)
		return nil
	})
	if err != nil {
		return false, 0, fmt.Errorf("redis sliding window: %w", err)
	}
	if count.Val() <= int64(w.limit) {
		return true, 0, nil
	}

	// Over budget: the hit just recorded must not count against the caller.
	if err := w.client.ZRem(ctx, redisKey, member).Err(); err != nil {
		return false, 0, fmt.Errorf("redis sliding window: %w", err)
	}
	oldest, err := w.client.ZRangeWithScores(ctx, redisKey, 0, 0).Result()
	if err != nil || len(oldest) == 0 {
		return false, w.window, nil
	}
	expires := time.UnixMilli(int64(oldest[0].Score)).Add(w.window)
	retryAfter := expires.Sub(now)
	if retryAfter <= 0 {
		retryAfter = time.Millisecond
	}
	return false, retryAfter, nil
}

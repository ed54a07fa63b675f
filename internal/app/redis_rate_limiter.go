package app

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisRateLimiter counts requests per caller in a sliding window kept as a Redis sorted
// set, so every API instance shares the same budget. Rejected requests are counted too.
type RedisRateLimiter struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

func NewRedisRateLimiter(client redis.UniversalClient, prefix string) *RedisRateLimiter {
	trimmedPrefix := strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if trimmedPrefix == "" {
		trimmedPrefix = "rosca:rate_limit"
	}
	return &RedisRateLimiter{client: client, prefix: trimmedPrefix, now: time.Now}
}

// ConsumeRateLimit records one request for subject within scope and returns the number of
// requests in the trailing window and the seconds until the oldest of them expires.
func (r *RedisRateLimiter) ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (count int, retryAfterSeconds int, err error) {
	if r == nil || r.client == nil || limit <= 0 || window <= 0 {
		return 0, 0, nil
	}
	scope = strings.TrimSpace(scope)
	subject = strings.TrimSpace(subject)
	if scope == "" || subject == "" {
		return 0, 0, nil
	}
	if window < time.Second {
		window = time.Second
	}

	key := r.prefix + ":" + scope + ":" + subject
	now := r.now()
	cutoff := strconv.FormatInt(now.Add(-window).UnixMilli(), 10)

	var card *redis.IntCmd
	var oldest *redis.ZSliceCmd
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, key, "-inf", cutoff)
		pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixMilli()), Member: uuid.NewString()})
		card = pipe.ZCard(ctx, key)
		oldest = pipe.ZRangeWithScores(ctx, key, 0, 0)
		pipe.PExpire(ctx, key, window)
		return nil
	})
	if err != nil {
		return 0, 0, fmt.Errorf("failed to record request for %s: %w", subject, err)
	}
	return int(card.Val()), retryAfter(now, oldest.Val(), window), nil
}

// retryAfter is the whole number of seconds until the oldest entry leaves the window,
// never less than one.
func retryAfter(now time.Time, oldest []redis.Z, window time.Duration) int {
	if len(oldest) == 0 {
		return int(window / time.Second)
	}
	expires := time.UnixMilli(int64(oldest[0].Score)).Add(window)
	wait := expires.Sub(now)
	seconds := int((wait + time.Second - 1) / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	return seconds
}

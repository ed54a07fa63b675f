package app

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestRedisRateLimiterNoopCases(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer client.Close()

	tests := []struct {
		name    string
		limiter *RedisRateLimiter
		scope   string
		subject string
		limit   int
		window  time.Duration
	}{
		{name: "nil limiter", limiter: nil, scope: "write", subject: "alice", limit: 5, window: time.Minute},
		{name: "nil client", limiter: NewRedisRateLimiter(nil, ""), scope: "write", subject: "alice", limit: 5, window: time.Minute},
		{name: "no limit", limiter: NewRedisRateLimiter(client, ""), scope: "write", subject: "alice", limit: 0, window: time.Minute},
		{name: "no window", limiter: NewRedisRateLimiter(client, ""), scope: "write", subject: "alice", limit: 5, window: 0},
		{name: "blank subject", limiter: NewRedisRateLimiter(client, ""), scope: "write", subject: "  ", limit: 5, window: time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			count, retryAfter, err := tt.limiter.ConsumeRateLimit(context.Background(), tt.scope, tt.subject, tt.limit, tt.window)
			if err != nil || count != 0 || retryAfter != 0 {
				t.Fatalf("expected a no-op, got count=%d retry=%d err=%v", count, retryAfter, err)
			}
		})
	}
}

func TestNewRedisRateLimiterNormalizesPrefix(t *testing.T) {
	tests := []struct {
		prefix string
		want   string
	}{
		{prefix: "", want: "rosca:rate_limit"},
		{prefix: "  custom:limits: ", want: "custom:limits"},
	}
	for _, tt := range tests {
		if got := NewRedisRateLimiter(nil, tt.prefix).prefix; got != tt.want {
			t.Fatalf("NewRedisRateLimiter(%q) prefix = %q, want %q", tt.prefix, got, tt.want)
		}
	}
}

func TestRetryAfter(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	tests := []struct {
		name   string
		oldest []redis.Z
		want   int
	}{
		{name: "empty window", oldest: nil, want: 60},
		{name: "just recorded", oldest: []redis.Z{{Score: float64(now.UnixMilli())}}, want: 60},
		{name: "partial second rounds up", oldest: []redis.Z{{Score: float64(now.Add(-30500 * time.Millisecond).UnixMilli())}}, want: 30},
		{name: "already expired", oldest: []redis.Z{{Score: float64(now.Add(-2 * time.Minute).UnixMilli())}}, want: 1},
	}
	for _, tt := range tests {
		if got := retryAfter(now, tt.oldest, time.Minute); got != tt.want {
			t.Fatalf("%s: retryAfter = %d, want %d", tt.name, got, tt.want)
		}
	}
}

// Package ratelimit backs core.RateLimitStore with a Redis sliding window.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"paygate/internal/core"
	"paygate/internal/types"
)

// slidingWindow keeps one sorted-set member per hit, scored by its time in
// milliseconds. It trims hits older than the window, admits the new hit when
// the count is under the limit, and returns {allowed, count, oldest score}.
var slidingWindow = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)

local count = redis.call('ZCARD', key)
local allowed = 0
if count < limit then
    redis.call('ZADD', key, now, member)
    count = count + 1
    allowed = 1
end
redis.call('PEXPIRE', key, window + 1000)

local oldest = now
local first = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
if first[2] then
    oldest = tonumber(first[2])
end
return {allowed, count, oldest}
`)

// Store implements core.RateLimitStore.
type Store struct {
	client *redis.Client
	prefix string
	clock  types.Clock
	logger *slog.Logger
}

func NewStore(client *redis.Client, clock types.Clock, logger *slog.Logger) *Store {
	if clock == nil {
		clock = types.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{client: client, prefix: "paygate:rl:", clock: clock, logger: logger}
}

// Open parses redisURL and pings the server.
func Open(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return client, nil
}

func (s *Store) IncrementAndCheck(ctx context.Context, key string, limit int, window time.Duration) (core.RateLimitResult, error) {
	now := s.clock.Now()
	if limit <= 0 {
		return core.RateLimitResult{Allowed: true, ResetAt: now}, nil
	}

	res, err := slidingWindow.Run(ctx, s.client, []string{s.prefix + key},
		now.UnixMilli(), window.Milliseconds(), limit, uuid.NewString(),
	).Int64Slice()
	if err != nil {
		return core.RateLimitResult{}, fmt.Errorf("rate limit script: %w", err)
	}
	if len(res) != 3 {
		return core.RateLimitResult{}, fmt.Errorf("rate limit script: unexpected reply %v", res)
	}

	result := core.RateLimitResult{
		Allowed:   res[0] == 1,
		Remaining: max(limit-int(res[1]), 0),
		ResetAt:   time.UnixMilli(res[2]).Add(window).UTC(),
	}
	if !result.Allowed {
		s.logger.DebugContext(ctx, "rate limited", "key", key, "limit", limit)
	}
	return result, nil
}

// Probe reports Redis reachability on /health.
func Probe(client *redis.Client) core.HealthProbe {
	return core.NewProbe("redis", func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	})
}

var _ core.RateLimitStore = (*Store)(nil)

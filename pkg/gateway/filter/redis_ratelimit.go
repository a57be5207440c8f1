// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package filter

import (
	"context"
	"time"

	"github.com/LeeDigitalWorks/basins3/pkg/logger"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter shares rate limits between gateway instances using GCRA in
// Redis. Each key tracks its theoretical arrival time (TAT); a request is
// allowed while the TAT stays within the burst window.
type RedisLimiter struct {
	client *redis.Client
	config RedisLimiterConfig
}

type RedisLimiterConfig struct {
	KeyPrefix string        `mapstructure:"key_prefix"`
	RPS       int64         `mapstructure:"rps"`
	Burst     int64         `mapstructure:"burst"`
	KeyTTL    time.Duration `mapstructure:"key_ttl"`

	// FailOpen allows requests while Redis is unreachable.
	FailOpen bool `mapstructure:"fail_open"`
}

func DefaultRedisLimiterConfig() RedisLimiterConfig {
	return RedisLimiterConfig{
		KeyPrefix: "basins3:ratelimit:",
		RPS:       100,
		Burst:     200,
		KeyTTL:    time.Hour,
		FailOpen:  true,
	}
}

func NewRedisLimiter(client *redis.Client, cfg RedisLimiterConfig) *RedisLimiter {
	if cfg.Burst < 1 {
		cfg.Burst = 1
	}
	return &RedisLimiter{
		client: client,
		config: cfg,
	}
}

// Returns {allowed, remaining, reset_after_ms}. Times are in microseconds.
var gcraScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local rate = tonumber(ARGV[3])
local cost = tonumber(ARGV[4])
local ttl = tonumber(ARGV[5])

local emission_interval = 1000000 / rate
local burst_offset = burst * emission_interval

local tat = redis.call("GET", key)
if tat then
    tat = tonumber(tat)
else
    tat = now
end
if tat < now then
    tat = now
end

local new_tat = tat + (cost * emission_interval)
local allow_at = now + burst_offset
if new_tat > allow_at then
    local remaining = math.max(0, math.floor((allow_at - tat) / emission_interval))
    local reset_after = math.ceil((tat - now) / 1000)
    return {0, remaining, reset_after}
end

redis.call("SET", key, new_tat, "EX", ttl)

local remaining = math.max(0, math.floor((allow_at - new_tat) / emission_interval))
local reset_after = math.ceil((new_tat - now) / 1000)
return {1, remaining, reset_after}
`)

func (r *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	ttlSeconds := int64(r.config.KeyTTL.Seconds())
	if ttlSeconds < 1 {
		ttlSeconds = 3600
	}

	result, err := gcraScript.Run(ctx, r.client, []string{r.config.KeyPrefix + key},
		time.Now().UnixMicro(), r.config.Burst, r.config.RPS, 1, ttlSeconds,
	).Int64Slice()
	if err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("limit_key", key).Msg("redis rate limit check failed")
		if r.config.FailOpen {
			return true, nil
		}
		return false, err
	}
	return result[0] == 1, nil
}

// Reset clears the state of key.
func (r *RedisLimiter) Reset(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.config.KeyPrefix+key).Err()
}

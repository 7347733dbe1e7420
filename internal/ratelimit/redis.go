// Copyright 2026 The Holidesk Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// fixedWindowLua increments the counter and starts the window on the first
// hit, returning the new count and the remaining TTL in milliseconds. Running
// both steps in one script keeps the increment and the expiry atomic.
const fixedWindowLua = `
local count = redis.call('INCR', KEYS[1])
if count == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
	ttl = tonumber(ARGV[1])
end
return {count, ttl}
`

var fixedWindowScript = redis.NewScript(fixedWindowLua)

// refundLua decrements a live counter and never below zero; the window's
// expiry is left as it is.
const refundLua = `
local count = tonumber(redis.call('GET', KEYS[1]) or '0')
if count > 0 then
	return redis.call('DECR', KEYS[1])
end
return 0
`

var refundScript = redis.NewScript(refundLua)

// RedisLimiter implements Limiter with fixed windows in Redis
type RedisLimiter struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewRedisLimiter creates a limiter storing counters under prefix.
func NewRedisLimiter(client redis.UniversalClient, prefix string) *RedisLimiter {
	if prefix == "" {
		prefix = "rl"
	}
	return &RedisLimiter{redis: client, prefix: prefix, now: time.Now}
}

// CheckAndConsume implements Limiter
func (l *RedisLimiter) CheckAndConsume(ctx context.Context, key string, limit int, window time.Duration) (Decision, error) {
	if limit <= 0 || window <= 0 {
		return Decision{}, fmt.Errorf("ratelimit: invalid limit %d/%s", limit, window)
	}

	res, err := fixedWindowScript.Run(ctx, l.redis, []string{l.prefix + ":" + key}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(res) != 2 {
		return Decision{}, fmt.Errorf("%w: unexpected script reply", ErrUnavailable)
	}

	count, ttl := res[0], res[1]
	remaining := limit - int(count)
	if remaining < 0 {
		remaining = 0
	}

	return Decision{
		Allowed:   count <= int64(limit),
		Remaining: remaining,
		ResetAt:   l.now().Add(time.Duration(ttl) * time.Millisecond),
	}, nil
}

// Refund implements Refunder
func (l *RedisLimiter) Refund(ctx context.Context, key string) error {
	if err := refundScript.Run(ctx, l.redis, []string{l.prefix + ":" + key}).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

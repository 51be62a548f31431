/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package ratelimit enforces the Event Trigger's two backpressure controls:
// a bounded in-flight request count per external client and a per-owner
// request rate, both shared across process instances through Redis
// (spec.md §5, SPEC_FULL.md §13's "Per-user rate limits" decision).
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	appErrors "github.com/jordigilh/cardvault/internal/errors"
	"github.com/jordigilh/cardvault/internal/config"
)

// inFlightScript atomically increments a client's in-flight counter and
// reports whether it would exceed max; it never leaves the counter
// incremented past max, so a rejected request doesn't need a matching
// Release call.
var inFlightScript = redis.NewScript(`
local current = tonumber(redis.call("GET", KEYS[1]) or "0")
if current >= tonumber(ARGV[1]) then
  return 0
end
redis.call("INCR", KEYS[1])
redis.call("EXPIRE", KEYS[1], ARGV[2])
return 1
`)

// Limiter bounds in-flight requests per client and enforces a per-owner
// request rate, both backed by Redis so multiple Event Trigger instances
// share one limit.
type Limiter struct {
	rdb         *redis.Client
	maxInFlight int64
	inFlightTTL time.Duration
	perOwnerRPS float64
	burst       int
}

// New builds a Limiter. rateLimitCfg.MaxInFlight is the design default of
// 32 from §5 ("bounded in-flight request limit... design default 32...
// queue... upper bound of 64"); callers past it are rejected rather than
// queued, since this module has no durable request queue to hold them in.
func New(redisCfg config.RedisConfig, rateLimitCfg config.RateLimitConfig) *Limiter {
	return newWithClient(redis.NewClient(&redis.Options{
		Addr:     redisCfg.Addr,
		Password: redisCfg.Password,
		DB:       redisCfg.DB,
	}), rateLimitCfg, rateLimitCfg.MaxInFlight)
}

// newWithClient builds a Limiter over an already-constructed redis.Client,
// letting tests point it at a github.com/alicebob/miniredis/v2 instance.
func newWithClient(rdb *redis.Client, rateLimitCfg config.RateLimitConfig, maxInFlight int64) *Limiter {
	return &Limiter{
		rdb:         rdb,
		maxInFlight: maxInFlight,
		inFlightTTL: 5 * time.Minute,
		perOwnerRPS: rateLimitCfg.PerOwnerRPS,
		burst:       rateLimitCfg.Burst,
	}
}

// Close releases the underlying Redis client.
func (l *Limiter) Close() error {
	return l.rdb.Close()
}

// AllowInFlight claims one in-flight slot for clientID. It returns
// (true, nil) when the slot was claimed; the caller must call Release when
// the request completes. It returns (false, nil) — not an error — when
// the client is already at its bound, matching §5's "over-bound requests
// fail fast as Throttled" contract.
func (l *Limiter) AllowInFlight(ctx context.Context, clientID string) (bool, error) {
	key := inFlightKey(clientID)
	allowed, err := inFlightScript.Run(ctx, l.rdb, []string{key}, l.maxInFlight, int(l.inFlightTTL.Seconds())).Int()
	if err != nil {
		return false, appErrors.Wrap(err, appErrors.ErrorTypeTransient, "checking in-flight bound")
	}
	return allowed == 1, nil
}

// Release returns clientID's in-flight slot, to be called once the request
// that a prior AllowInFlight claimed has completed.
func (l *Limiter) Release(ctx context.Context, clientID string) error {
	if err := l.rdb.Decr(ctx, inFlightKey(clientID)).Err(); err != nil {
		return appErrors.Wrap(err, appErrors.ErrorTypeTransient, "releasing in-flight slot")
	}
	return nil
}

// AllowOwnerRate reports whether ownerID may make one more request this
// second, under a fixed-window approximation of perOwnerRPS with burst
// headroom (SPEC_FULL.md §13: "Per-user rate limits... default generous
// (10 rps / burst 20)").
func (l *Limiter) AllowOwnerRate(ctx context.Context, ownerID string) (bool, error) {
	if l.perOwnerRPS <= 0 {
		return true, nil
	}
	key := ownerRateKey(ownerID)
	count, err := l.rdb.Incr(ctx, key).Result()
	if err != nil {
		return false, appErrors.Wrap(err, appErrors.ErrorTypeTransient, "checking owner rate")
	}
	if count == 1 {
		l.rdb.Expire(ctx, key, time.Second)
	}
	limit := int64(l.perOwnerRPS) + int64(l.burst)
	return count <= limit, nil
}

func inFlightKey(clientID string) string {
	return fmt.Sprintf("cardvault:ratelimit:inflight:%s", clientID)
}

func ownerRateKey(ownerID string) string {
	return fmt.Sprintf("cardvault:ratelimit:owner:%s", ownerID)
}

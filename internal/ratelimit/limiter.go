// Package ratelimit throttles chat traffic per session. Two implementations
// share the Allower interface: a Redis-backed fixed window (INCR + EXPIRE)
// that holds across relay restarts, and an in-memory token bucket used when
// Redis is not configured.
package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Allower decides whether identifier may act now. When it may not, retryAfter
// is how long the caller should wait.
type Allower interface {
	Allow(ctx context.Context, identifier string) (allowed bool, retryAfter time.Duration)
}

// Rule defines a rate limiting policy: the Redis key prefix, maximum number of
// requests allowed in the window, and the window duration.
type Rule struct {
	Key    string        // Redis key prefix (e.g., "rl:msg:", "rl:conn:")
	Limit  int           // max count in the window
	Window time.Duration // time window
}

// MessageRule limits room messages, private messages and reactions for one
// session.
func MessageRule(limit int, window time.Duration) Rule {
	return Rule{Key: "rl:msg:", Limit: limit, Window: window}
}

// RuleConnect allows 20 WebSocket connections per minute per IP.
var RuleConnect = Rule{Key: "rl:conn:", Limit: 20, Window: time.Minute}

// Limiter performs rate limiting checks against Redis.
type Limiter struct {
	client *redis.Client
	log    zerolog.Logger
}

// NewLimiter creates a Limiter backed by the given Redis client.
func NewLimiter(client *redis.Client, log zerolog.Logger) *Limiter {
	return &Limiter{client: client, log: log.With().Str("component", "ratelimit").Logger()}
}

// Check increments identifier's counter for rule and reports whether it is
// still within the limit. The expiry is set on first access so the window is
// fixed from the first request.
//
// On Redis errors the method fails open (returns true) so that a Redis outage
// does not block legitimate traffic.
func (l *Limiter) Check(ctx context.Context, identifier string, rule Rule) (bool, error) {
	key := rule.Key + identifier

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		l.log.Warn().Err(err).Str("key", key).Msg("incr failed, failing open")
		return true, err
	}

	if count == 1 {
		if err := l.client.Expire(ctx, key, rule.Window).Err(); err != nil {
			l.log.Warn().Err(err).Str("key", key).Msg("expire failed, failing open")
			// A key with no TTL would block the identifier forever.
			l.client.Del(ctx, key)
			return true, err
		}
	}

	return int(count) <= rule.Limit, nil
}

// Remaining returns the number of requests the identifier has left in the
// current window for the given rule. Returns the full limit if the key does not
// exist yet. On Redis errors it returns the full limit (fail open).
func (l *Limiter) Remaining(ctx context.Context, identifier string, rule Rule) (int, error) {
	key := rule.Key + identifier

	count, err := l.client.Get(ctx, key).Int()
	if errors.Is(err, redis.Nil) {
		return rule.Limit, nil
	}
	if err != nil {
		return rule.Limit, err
	}

	return max(rule.Limit-count, 0), nil
}

// RetryAfter returns the time left in identifier's current window.
func (l *Limiter) RetryAfter(ctx context.Context, identifier string, rule Rule) time.Duration {
	ttl, err := l.client.TTL(ctx, rule.Key+identifier).Result()
	if err != nil || ttl <= 0 {
		return rule.Window
	}
	return ttl
}

// For binds the limiter to rule.
func (l *Limiter) For(rule Rule) Allower {
	return ruleLimiter{l: l, rule: rule}
}

type ruleLimiter struct {
	l    *Limiter
	rule Rule
}

func (r ruleLimiter) Allow(ctx context.Context, identifier string) (bool, time.Duration) {
	ok, _ := r.l.Check(ctx, identifier, r.rule)
	if ok {
		return true, 0
	}
	return false, r.l.RetryAfter(ctx, identifier, r.rule)
}

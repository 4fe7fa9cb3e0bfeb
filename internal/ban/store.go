// Package ban mutes abusive clients, keyed by client identity (the remote
// address the connection arrived from). Records live in Redis with TTL-based
// expiry:
//
//	Key:   ban:<identity>      Value: <reason>   TTL: ban duration
//	Key:   strikes:<identity>  Value: <count>    TTL: StrikesTTL
package ban

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// BanPrefix is the Redis key prefix for ban records.
	BanPrefix = "ban:"

	// StrikesPrefix is the Redis key prefix for strike counters.
	StrikesPrefix = "strikes:"

	// Escalating mute durations.
	Ban15Min  = 15 * time.Minute // first mute
	Ban1Hour  = 1 * time.Hour    // second mute
	Ban24Hour = 24 * time.Hour   // third and later

	// StrikesTTL is how long the strike counter lives. The window is fixed
	// from the first strike; it does not slide.
	StrikesTTL = 24 * time.Hour

	// AutoBanThreshold is the number of strikes within StrikesTTL that
	// triggers the first mute. Every strike past it mutes again, longer.
	AutoBanThreshold = 3
)

// Verdict is the outcome of recording a strike.
type Verdict struct {
	Strikes  int
	Banned   bool
	Duration time.Duration
}

// Store manages ban records in Redis.
type Store struct {
	client *redis.Client
}

// NewStore creates a new ban store using the provided Redis client.
func NewStore(client *redis.Client) *Store {
	return &Store{client: client}
}

// IsBanned checks if an identity is currently muted.
// Returns (isBanned, remainingSeconds, reason, error). Redis errors are
// returned so callers can decide how to handle them; the relay fails open.
func (s *Store) IsBanned(ctx context.Context, identity string) (bool, int, string, error) {
	key := BanPrefix + identity

	reason, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return false, 0, "", nil
	}
	if err != nil {
		return false, 0, "", err
	}

	ttl, err := s.client.TTL(ctx, key).Result()
	if err != nil {
		// The ban exists but its TTL is unreadable; report it anyway.
		return true, 0, reason, nil
	}

	remaining := 0
	if ttl > 0 {
		remaining = int(ttl.Seconds())
	}
	return true, remaining, reason, nil
}

// Ban mutes an identity for duration.
func (s *Store) Ban(ctx context.Context, identity string, duration time.Duration, reason string) error {
	return s.client.Set(ctx, BanPrefix+identity, reason, duration).Err()
}

// Unban lifts a mute immediately. Strikes are kept.
func (s *Store) Unban(ctx context.Context, identity string) error {
	return s.client.Del(ctx, BanPrefix+identity).Err()
}

// Strikes returns the current strike count for an identity, 0 when none
// are recorded or the window expired.
func (s *Store) Strikes(ctx context.Context, identity string) (int, error) {
	val, err := s.client.Get(ctx, StrikesPrefix+identity).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return val, nil
}

// escalationDuration returns the mute duration for the nth strike at or past
// the threshold.
func escalationDuration(strikes int) time.Duration {
	switch over := strikes - AutoBanThreshold; {
	case over <= 0:
		return Ban15Min
	case over == 1:
		return Ban1Hour
	default:
		return Ban24Hour
	}
}

// Strike records one offense (a blocked message or a report against the
// identity) and mutes the identity once AutoBanThreshold strikes have
// accumulated inside the window.
func (s *Store) Strike(ctx context.Context, identity, reason string) (Verdict, error) {
	key := StrikesPrefix + identity

	count, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return Verdict{}, fmt.Errorf("ban: strike incr: %w", err)
	}
	if count == 1 {
		if err := s.client.Expire(ctx, key, StrikesTTL).Err(); err != nil {
			return Verdict{}, fmt.Errorf("ban: strike expire: %w", err)
		}
	}

	v := Verdict{Strikes: int(count)}
	if v.Strikes < AutoBanThreshold {
		return v, nil
	}

	v.Banned = true
	v.Duration = escalationDuration(v.Strikes)
	if err := s.Ban(ctx, identity, v.Duration, reason); err != nil {
		return Verdict{}, fmt.Errorf("ban: strike ban: %w", err)
	}
	return v, nil
}

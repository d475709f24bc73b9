// Package suspension provides account suspension management backed by Redis.
// Suspension records are simple key-value pairs with TTL-based expiry:
//
//	Key:   suspension:<user_id>
//	Value: <reason>
//	TTL:   suspension duration
package suspension

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// SuspensionPrefix is the Redis key prefix for suspension records.
	SuspensionPrefix = "suspension:"

	// OffensesPrefix counts moderation offenses within OffenseWindow.
	OffensesPrefix = "offenses:"

	// ReportsPrefix counts abuse reports against a user within OffenseWindow.
	ReportsPrefix = "reports:"

	// Escalating suspension durations.
	Suspend15Min  = 15 * time.Minute // 1st offense
	Suspend1Hour  = 1 * time.Hour    // 2nd offense
	Suspend24Hour = 24 * time.Hour   // 3rd+ offense

	// OffenseWindow is how long offense and report counters live. After 24h
	// without new activity the counters reset to zero.
	OffenseWindow = 24 * time.Hour

	// AutoSuspendThreshold is the number of reports within OffenseWindow that
	// triggers an automatic suspension.
	AutoSuspendThreshold = 3

	// ReasonMultipleReports is recorded when reports trigger a suspension.
	ReasonMultipleReports = "multiple_reports"
)

// Store manages suspension records in Redis.
type Store struct {
	client *redis.Client
}

// NewStore creates a new suspension store using the provided Redis client.
func NewStore(client *redis.Client) *Store {
	return &Store{client: client}
}

// IsSuspended checks whether a user is currently suspended.
// Returns (suspended, remaining, reason, error). Redis errors are returned so
// callers can decide how to handle them; the API fails open.
func (s *Store) IsSuspended(ctx context.Context, userID string) (bool, time.Duration, string, error) {
	key := SuspensionPrefix + userID

	reason, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return false, 0, "", nil
	}
	if err != nil {
		return false, 0, "", err
	}

	ttl, err := s.client.TTL(ctx, key).Result()
	if err != nil || ttl < 0 {
		// The suspension exists even if its TTL can't be read.
		return true, 0, reason, nil
	}
	return true, ttl, reason, nil
}

// Suspended reports which of ids are currently suspended. Users who are not
// suspended are absent from the map.
func (s *Store) Suspended(ctx context.Context, ids []string) (map[string]bool, error) {
	out := make(map[string]bool)
	if len(ids) == 0 {
		return out, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.IntCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.Exists(ctx, SuspensionPrefix+id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("suspension: batch lookup: %w", err)
	}
	for i, cmd := range cmds {
		if cmd.Val() > 0 {
			out[ids[i]] = true
		}
	}
	return out, nil
}

// Suspend sets a suspension on a user with the given duration and reason.
func (s *Store) Suspend(ctx context.Context, userID string, duration time.Duration, reason string) error {
	return s.client.Set(ctx, SuspensionPrefix+userID, reason, duration).Err()
}

// Lift removes a suspension immediately.
func (s *Store) Lift(ctx context.Context, userID string) error {
	return s.client.Del(ctx, SuspensionPrefix+userID).Err()
}

// escalationDuration returns the suspension duration for a given offense count.
func escalationDuration(offenseCount int) time.Duration {
	switch {
	case offenseCount <= 1:
		return Suspend15Min
	case offenseCount == 2:
		return Suspend1Hour
	default:
		return Suspend24Hour
	}
}

// OffenseCount returns the current offense counter for a user.
// Returns 0 if there are no offenses in the current window.
func (s *Store) OffenseCount(ctx context.Context, userID string) (int, error) {
	val, err := s.client.Get(ctx, OffensesPrefix+userID).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return val, nil
}

// incrWindow increments a counter and starts its window on first increment,
// so the window doesn't slide.
func (s *Store) incrWindow(ctx context.Context, key string) (int64, error) {
	count, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if count == 1 {
		if err := s.client.Expire(ctx, key, OffenseWindow).Err(); err != nil {
			return 0, err
		}
	}
	return count, nil
}

// Escalate records an offense and suspends the user for a duration that grows
// with the number of offenses in the window:
//
//	1st offense  -> 15 minutes
//	2nd offense  -> 1 hour
//	3rd+ offense -> 24 hours
//
// Returns the duration that was applied.
func (s *Store) Escalate(ctx context.Context, userID, reason string) (time.Duration, error) {
	count, err := s.incrWindow(ctx, OffensesPrefix+userID)
	if err != nil {
		return 0, fmt.Errorf("suspension: escalate incr: %w", err)
	}

	duration := escalationDuration(int(count))
	if err := s.Suspend(ctx, userID, duration, reason); err != nil {
		return 0, fmt.Errorf("suspension: escalate suspend: %w", err)
	}
	return duration, nil
}

// ReportAndCheck counts a report against userID and, once
// AutoSuspendThreshold reports have arrived within the window, escalates a
// suspension. Returns (suspended, duration, error).
func (s *Store) ReportAndCheck(ctx context.Context, userID string) (bool, time.Duration, error) {
	count, err := s.incrWindow(ctx, ReportsPrefix+userID)
	if err != nil {
		return false, 0, fmt.Errorf("suspension: report incr: %w", err)
	}
	if count < AutoSuspendThreshold {
		return false, 0, nil
	}

	duration, err := s.Escalate(ctx, userID, ReasonMultipleReports)
	if err != nil {
		return false, 0, err
	}
	return true, duration, nil
}

// Package ratelimit throttles members and client addresses with fixed-window
// counters in Redis. Each Rule owns a key prefix; the window starts at the
// first hit and the counter expires with it.
package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Rule struct {
	Key    string        // key prefix, e.g. "rl:msg:"
	Limit  int           // hits allowed per window
	Window time.Duration // window length
}

var (
	// RuleMessage: 5 chat messages per 10 seconds per user.
	RuleMessage = Rule{Key: "rl:msg:", Limit: 5, Window: 10 * time.Second}

	// RuleMatchSearch: 30 match searches per minute per user.
	RuleMatchSearch = Rule{Key: "rl:match:", Limit: 30, Window: time.Minute}

	// RuleLogin: 10 register or login attempts per 15 minutes per address.
	RuleLogin = Rule{Key: "rl:login:", Limit: 10, Window: 15 * time.Minute}

	// RuleReport: 10 abuse reports per hour per user.
	RuleReport = Rule{Key: "rl:report:", Limit: 10, Window: time.Hour}

	// RuleConnect: 5 stream connections per minute per address.
	RuleConnect = Rule{Key: "rl:conn:", Limit: 5, Window: time.Minute}
)

// Limiter checks Rules against Redis. It fails open: when Redis cannot be
// reached the request is allowed and the error returned for logging.
type Limiter struct {
	client *redis.Client
	logger *zap.Logger
}

func NewLimiter(client *redis.Client, logger *zap.Logger) *Limiter {
	return &Limiter{client: client, logger: logger.With(zap.String("component", "ratelimit"))}
}

// Allow counts one hit for identifier under rule and reports whether it is
// still within the limit. The increment and the window expiry run in one
// MULTI so a counter can never be left without a TTL.
func (l *Limiter) Allow(ctx context.Context, identifier string, rule Rule) (bool, error) {
	key := rule.Key + identifier

	var incr *redis.IntCmd
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.ExpireNX(ctx, key, rule.Window)
		return nil
	})
	if err != nil {
		l.logger.Warn("rate limit check failed, allowing", zap.String("key", key), zap.Error(err))
		return true, err
	}
	return incr.Val() <= int64(rule.Limit), nil
}

// RetryAfter returns how long until identifier's window under rule resets,
// or the full window when that cannot be determined.
func (l *Limiter) RetryAfter(ctx context.Context, identifier string, rule Rule) time.Duration {
	ttl, err := l.client.PTTL(ctx, rule.Key+identifier).Result()
	if err != nil || ttl <= 0 {
		return rule.Window
	}
	return ttl
}

// Reset clears identifier's counter under rule.
func (l *Limiter) Reset(ctx context.Context, identifier string, rule Rule) error {
	return l.client.Del(ctx, rule.Key+identifier).Err()
}

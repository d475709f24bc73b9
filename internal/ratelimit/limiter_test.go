package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// newTestLimiter requires a running Redis on localhost:6379.
func newTestLimiter(t *testing.T, rule Rule, id string) (*Limiter, *redis.Client) {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	client.Del(ctx, rule.Key+id)
	t.Cleanup(func() {
		client.Del(ctx, rule.Key+id)
		client.Close()
	})
	return NewLimiter(client, zap.NewNop()), client
}

func TestAllow_WithinAndOverLimit(t *testing.T) {
	rule := Rule{Key: "rl:test:", Limit: 3, Window: time.Minute}
	l, client := newTestLimiter(t, rule, "allow")
	ctx := context.Background()

	for i := 1; i <= rule.Limit; i++ {
		ok, err := l.Allow(ctx, "allow", rule)
		if err != nil {
			t.Fatalf("Allow() #%d error: %v", i, err)
		}
		if !ok {
			t.Fatalf("Allow() #%d = false, want true", i)
		}
	}

	if ok, _ := l.Allow(ctx, "allow", rule); ok {
		t.Error("Allow() over the limit = true, want false")
	}

	ttl, err := client.TTL(ctx, rule.Key+"allow").Result()
	if err != nil || ttl <= 0 || ttl > time.Minute {
		t.Errorf("counter TTL = %v (%v), want within (0, 1m]", ttl, err)
	}
	if wait := l.RetryAfter(ctx, "allow", rule); wait <= 0 || wait > time.Minute {
		t.Errorf("RetryAfter() = %v, want within (0, 1m]", wait)
	}
}

func TestAllow_WindowDoesNotSlide(t *testing.T) {
	rule := Rule{Key: "rl:test:", Limit: 100, Window: time.Minute}
	l, client := newTestLimiter(t, rule, "slide")
	ctx := context.Background()

	l.Allow(ctx, "slide", rule)
	client.PExpire(ctx, rule.Key+"slide", 30*time.Second)
	l.Allow(ctx, "slide", rule)

	if ttl := client.PTTL(ctx, rule.Key+"slide").Val(); ttl > 30*time.Second {
		t.Errorf("second hit extended the window: TTL = %v", ttl)
	}
}

func TestReset(t *testing.T) {
	rule := Rule{Key: "rl:test:", Limit: 1, Window: time.Minute}
	l, _ := newTestLimiter(t, rule, "reset")
	ctx := context.Background()

	l.Allow(ctx, "reset", rule)
	if ok, _ := l.Allow(ctx, "reset", rule); ok {
		t.Fatal("expected the second hit to be limited")
	}
	if err := l.Reset(ctx, "reset", rule); err != nil {
		t.Fatalf("Reset() error: %v", err)
	}
	if ok, _ := l.Allow(ctx, "reset", rule); !ok {
		t.Error("Allow() after Reset() = false")
	}
	if wait := l.RetryAfter(ctx, "missing", rule); wait != rule.Window {
		t.Errorf("RetryAfter() for an unknown id = %v, want %v", wait, rule.Window)
	}
}

func TestAllow_FailsOpenWhenRedisDown(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	defer client.Close()
	l := NewLimiter(client, zap.NewNop())

	ok, err := l.Allow(context.Background(), "down", RuleMessage)
	if err == nil {
		t.Fatal("expected an error from an unreachable redis")
	}
	if !ok {
		t.Error("Allow() must fail open")
	}
}

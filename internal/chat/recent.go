package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// RecentPrefix is the Redis key prefix for per-chat recent message lists.
	RecentPrefix = "chat:recent:"

	// MaxRecentMessages is the number of messages retained per chat.
	MaxRecentMessages = 20

	// RecentTTL is how long an idle chat's cache survives.
	RecentTTL = 2 * time.Hour
)

// RecentCache keeps the latest messages of each chat in a capped Redis list,
// newest at the head. It backs report snapshots and quick "latest" reads
// without touching PostgreSQL.
type RecentCache struct {
	rdb *redis.Client
}

// NewRecentCache creates a cache backed by Redis.
func NewRecentCache(rdb *redis.Client) *RecentCache {
	return &RecentCache{rdb: rdb}
}

// Add pushes m onto its chat's list, trims the list and refreshes its TTL.
func (c *RecentCache) Add(ctx context.Context, m *Message) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("chat: marshal recent: %w", err)
	}
	key := RecentPrefix + m.ChatID

	pipe := c.rdb.Pipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, MaxRecentMessages-1)
	pipe.Expire(ctx, key, RecentTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("chat: cache recent: %w", err)
	}
	return nil
}

// Get returns up to n cached messages of chatID in chronological order
// (oldest first). A missing chat yields an empty slice.
func (c *RecentCache) Get(ctx context.Context, chatID string, n int) ([]Message, error) {
	if n <= 0 || n > MaxRecentMessages {
		n = MaxRecentMessages
	}
	raw, err := c.rdb.LRange(ctx, RecentPrefix+chatID, 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("chat: read recent: %w", err)
	}

	msgs := make([]Message, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		var m Message
		if err := json.Unmarshal([]byte(raw[i]), &m); err != nil {
			continue
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

// MarkRead flips the receiver status of readerID's cached messages in chatID.
func (c *RecentCache) MarkRead(ctx context.Context, chatID, readerID string) error {
	key := RecentPrefix + chatID
	raw, err := c.rdb.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return fmt.Errorf("chat: read recent: %w", err)
	}

	pipe := c.rdb.TxPipeline()
	changed := false
	for i, item := range raw {
		var m Message
		if err := json.Unmarshal([]byte(item), &m); err != nil {
			continue
		}
		if m.ReceiverID != readerID || m.ReceiverStatus == StatusRead {
			continue
		}
		m.ReceiverStatus = StatusRead
		data, err := json.Marshal(&m)
		if err != nil {
			continue
		}
		pipe.LSet(ctx, key, int64(i), data)
		changed = true
	}
	if !changed {
		return nil
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("chat: mark recent read: %w", err)
	}
	return nil
}

// Remove drops a chat's cache.
func (c *RecentCache) Remove(ctx context.Context, chatID string) error {
	return c.rdb.Del(ctx, RecentPrefix+chatID).Err()
}

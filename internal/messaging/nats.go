// Package messaging provides a NATS client wrapper for pub/sub messaging
// across Heartline services. It handles connection lifecycle, subject-based
// subscriptions, and convenience methods for match, chat and moderation
// channels.
package messaging

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// NATS subject patterns used across Heartline services.
const (
	SubjectMatchFind        = "match.find"        // request/reply
	SubjectUserEvents       = "user.events"       // + .<user_id>
	SubjectModeration       = "moderation.check"  // queue group "moderators"
	SubjectModerationResult = "moderation.result" // + .<user_id>

	moderatorQueue = "moderators"
	matcherQueue   = "matchers"
)

// NATSClient wraps the NATS connection with helper methods for pub/sub.
type NATSClient struct {
	conn   *nats.Conn
	logger *zap.Logger
	mu     sync.Mutex
	subs   map[string]*nats.Subscription
}

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultNATSConfig returns sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		Name:          "heartline",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1,
	}
}

// NewNATSClient connects to NATS with the given config and returns a ready client.
// It returns an error if the initial connection fails.
func NewNATSClient(config NATSConfig, logger *zap.Logger) (*NATSClient, error) {
	logger = logger.With(zap.String("component", "nats"))
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			logger.Info("connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	logger.Info("connected", zap.String("url", nc.ConnectedUrl()))

	return &NATSClient{
		conn:   nc,
		logger: logger,
		subs:   make(map[string]*nats.Subscription),
	}, nil
}

// Publish sends data to the given NATS subject.
func (c *NATSClient) Publish(subject string, data []byte) error {
	return c.conn.Publish(subject, data)
}

// Request sends data to subject and waits for a single reply or ctx expiry.
func (c *NATSClient) Request(ctx context.Context, subject string, data []byte) ([]byte, error) {
	msg, err := c.conn.RequestWithContext(ctx, subject, data)
	if err != nil {
		return nil, fmt.Errorf("nats request %s: %w", subject, err)
	}
	return msg.Data, nil
}

// subscribe registers handler under key for later cleanup. An empty queue
// makes a plain subscription.
func (c *NATSClient) subscribe(key, subject, queue string, handler nats.MsgHandler) error {
	var (
		sub *nats.Subscription
		err error
	)
	if queue == "" {
		sub, err = c.conn.Subscribe(subject, handler)
	} else {
		sub, err = c.conn.QueueSubscribe(subject, queue, handler)
	}
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	c.mu.Lock()
	if old, ok := c.subs[key]; ok {
		_ = old.Unsubscribe()
	}
	c.subs[key] = sub
	c.mu.Unlock()
	return nil
}

// SubscribeMatchFind serves match.find requests. The handler's return value is
// sent back as the reply. Matcher instances share a queue group so each
// request is answered once.
func (c *NATSClient) SubscribeMatchFind(handler func(data []byte) []byte) error {
	return c.subscribe(SubjectMatchFind, SubjectMatchFind, matcherQueue, func(msg *nats.Msg) {
		reply := handler(msg.Data)
		if err := msg.Respond(reply); err != nil {
			c.logger.Warn("respond match.find", zap.Error(err))
		}
	})
}

// PublishUserEvent publishes data to the user.events.<userID> subject.
func (c *NATSClient) PublishUserEvent(userID string, data []byte) error {
	return c.Publish(SubjectUserEvents+"."+userID, data)
}

// SubscribeUserEvents subscribes connection connID to the events of userID.
// A user may hold several connections, each with its own subscription.
func (c *NATSClient) SubscribeUserEvents(userID, connID string, handler func(data []byte)) error {
	return c.subscribe("events:"+connID, SubjectUserEvents+"."+userID, "", func(msg *nats.Msg) {
		handler(msg.Data)
	})
}

// UnsubscribeUserEvents drops the event subscription of a connection.
func (c *NATSClient) UnsubscribeUserEvents(connID string) error {
	return c.unsubscribe("events:" + connID)
}

// PublishModerationRequest publishes a moderation check request.
func (c *NATSClient) PublishModerationRequest(data []byte) error {
	return c.Publish(SubjectModeration, data)
}

// SubscribeModerationCheck subscribes to moderation check requests.
func (c *NATSClient) SubscribeModerationCheck(handler func(data []byte)) error {
	return c.subscribe(SubjectModeration, SubjectModeration, moderatorQueue, func(msg *nats.Msg) {
		handler(msg.Data)
	})
}

// PublishModerationResult publishes a moderation result for a specific user.
func (c *NATSClient) PublishModerationResult(userID string, data []byte) error {
	return c.Publish(SubjectModerationResult+"."+userID, data)
}

// SubscribeModerationResult subscribes connection connID to moderation
// results for userID.
func (c *NATSClient) SubscribeModerationResult(userID, connID string, handler func(data []byte)) error {
	return c.subscribe("moderation:"+connID, SubjectModerationResult+"."+userID, "", func(msg *nats.Msg) {
		handler(msg.Data)
	})
}

// UnsubscribeModerationResult unsubscribes a connection from moderation results.
func (c *NATSClient) UnsubscribeModerationResult(connID string) error {
	return c.unsubscribe("moderation:" + connID)
}

// Close drains all active subscriptions and closes the NATS connection.
func (c *NATSClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			c.logger.Warn("drain subscription", zap.String("key", key), zap.Error(err))
		}
	}
	c.subs = make(map[string]*nats.Subscription)

	if err := c.conn.Drain(); err != nil {
		c.logger.Warn("connection drain", zap.Error(err))
	}

	c.logger.Info("client closed")
}

// unsubscribe removes and unsubscribes the subscription stored under key.
func (c *NATSClient) unsubscribe(key string) error {
	c.mu.Lock()
	sub, ok := c.subs[key]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("nats: no subscription for %s", key)
	}
	delete(c.subs, key)
	c.mu.Unlock()

	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("nats unsubscribe %s: %w", key, err)
	}
	return nil
}

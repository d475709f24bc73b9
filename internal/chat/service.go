package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/heartline/server/internal/metrics"
	"github.com/heartline/server/internal/moderation"
)

// MessageStore is the persistence the service needs.
type MessageStore interface {
	Insert(ctx context.Context, senderID, receiverID, body string) (*Message, error)
	History(ctx context.Context, chatID string, before time.Time, limit int) ([]Message, error)
	MarkRead(ctx context.Context, chatID, readerID string) (int64, error)
	UnreadCount(ctx context.Context, userID string) (int, error)
	Conversations(ctx context.Context, userID string) ([]Conversation, error)
}

// Recent is the per-chat cache of latest messages.
type Recent interface {
	Add(ctx context.Context, m *Message) error
	Get(ctx context.Context, chatID string, n int) ([]Message, error)
	MarkRead(ctx context.Context, chatID, readerID string) error
	Remove(ctx context.Context, chatID string) error
}

// BlockChecker reports whether either user has blocked the other.
type BlockChecker interface {
	IsBlocked(ctx context.Context, a, b string) (bool, error)
}

// Publisher fans chat events and moderation requests out to other services.
type Publisher interface {
	PublishUserEvent(userID string, data []byte) error
	PublishModerationRequest(data []byte) error
}

// Service implements sending and reading messages.
type Service struct {
	store     MessageStore
	recent    Recent
	blocks    BlockChecker
	publisher Publisher
	filter    *moderation.Filter
	logger    *zap.Logger
}

// NewService wires a chat service. recent and publisher may be nil.
func NewService(store MessageStore, recent Recent, blocks BlockChecker, publisher Publisher, filter *moderation.Filter, logger *zap.Logger) *Service {
	return &Service{
		store:     store,
		recent:    recent,
		blocks:    blocks,
		publisher: publisher,
		filter:    filter,
		logger:    logger.With(zap.String("component", "chat")),
	}
}

// Send validates, stores and delivers a message. Spam patterns are rejected
// synchronously; the full content review happens asynchronously in the
// moderator.
func (s *Service) Send(ctx context.Context, senderID, receiverID, text string) (*Message, error) {
	if senderID == receiverID {
		return nil, ErrSelfMessage
	}
	if err := ValidateMessage(text); err != nil {
		return nil, err
	}

	blocked, err := s.blocks.IsBlocked(ctx, senderID, receiverID)
	if err != nil {
		return nil, fmt.Errorf("chat: check block: %w", err)
	}
	if blocked {
		metrics.MessagesTotal.WithLabelValues("blocked").Inc()
		return nil, ErrBlocked
	}

	if s.filter != nil {
		if res := s.filter.CheckSpam(text); res.Blocked {
			metrics.MessagesTotal.WithLabelValues("blocked").Inc()
			s.logger.Debug("message rejected",
				zap.String("sender_id", senderID),
				zap.String("term", res.Term),
			)
			return nil, fmt.Errorf("%w: %s", ErrBlockedContent, res.Term)
		}
	}

	m, err := s.store.Insert(ctx, senderID, receiverID, text)
	if err != nil {
		return nil, err
	}
	metrics.MessagesTotal.WithLabelValues("sent").Inc()

	if s.recent != nil {
		if err := s.recent.Add(ctx, m); err != nil {
			s.logger.Warn("recent cache add failed", zap.String("chat_id", m.ChatID), zap.Error(err))
		}
	}

	ev := ChatEvent{Type: EventMessage, ChatID: m.ChatID, From: senderID, Message: m, Ts: m.CreatedAt.Unix()}
	s.publishEvent(receiverID, ev)
	s.publishEvent(senderID, ev)
	s.requestModeration(m)

	return m, nil
}

// MarkRead marks readerID's unread messages from peerID as read and notifies
// the peer.
func (s *Service) MarkRead(ctx context.Context, readerID, peerID string) (int64, error) {
	chatID := ChatIDFor(readerID, peerID)
	n, err := s.store.MarkRead(ctx, chatID, readerID)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}
	metrics.MessagesTotal.WithLabelValues("read").Add(float64(n))

	if s.recent != nil {
		if err := s.recent.MarkRead(ctx, chatID, readerID); err != nil {
			s.logger.Warn("recent cache mark read failed", zap.String("chat_id", chatID), zap.Error(err))
		}
	}
	s.publishEvent(peerID, ChatEvent{Type: EventRead, ChatID: chatID, From: readerID, Count: n, Ts: time.Now().Unix()})
	return n, nil
}

// Typing relays a typing indicator to peerID. Nothing is stored.
func (s *Service) Typing(ctx context.Context, userID, peerID string, typing bool) error {
	blocked, err := s.blocks.IsBlocked(ctx, userID, peerID)
	if err != nil {
		return fmt.Errorf("chat: check block: %w", err)
	}
	if blocked {
		return ErrBlocked
	}
	s.publishEvent(peerID, ChatEvent{
		Type:     EventTyping,
		ChatID:   ChatIDFor(userID, peerID),
		From:     userID,
		IsTyping: typing,
		Ts:       time.Now().Unix(),
	})
	return nil
}

// History returns a page of the conversation between userID and peerID,
// newest first.
func (s *Service) History(ctx context.Context, userID, peerID string, before time.Time, limit int) ([]Message, error) {
	return s.store.History(ctx, ChatIDFor(userID, peerID), before, limit)
}

// Conversations lists userID's chats.
func (s *Service) Conversations(ctx context.Context, userID string) ([]Conversation, error) {
	return s.store.Conversations(ctx, userID)
}

// UnreadCount returns how many messages across all chats userID has not read.
func (s *Service) UnreadCount(ctx context.Context, userID string) (int, error) {
	return s.store.UnreadCount(ctx, userID)
}

// Snapshot returns the latest messages between two users, oldest first, for
// attaching to an abuse report. The cache is preferred; PostgreSQL is the
// fallback when the cache is cold.
func (s *Service) Snapshot(ctx context.Context, a, b string, n int) ([]Message, error) {
	chatID := ChatIDFor(a, b)
	if s.recent != nil {
		msgs, err := s.recent.Get(ctx, chatID, n)
		if err == nil && len(msgs) > 0 {
			return msgs, nil
		}
		if err != nil {
			s.logger.Warn("recent cache read failed", zap.String("chat_id", chatID), zap.Error(err))
		}
	}

	msgs, err := s.store.History(ctx, chatID, time.Time{}, n)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// Forget drops the cached latest messages between two users, e.g. once one
// has blocked the other. Stored history is untouched.
func (s *Service) Forget(ctx context.Context, a, b string) error {
	if s.recent == nil {
		return nil
	}
	return s.recent.Remove(ctx, ChatIDFor(a, b))
}

func (s *Service) publishEvent(userID string, ev ChatEvent) {
	if s.publisher == nil {
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		s.logger.Error("marshal chat event", zap.Error(err))
		return
	}
	if err := s.publisher.PublishUserEvent(userID, data); err != nil {
		s.logger.Warn("publish chat event failed",
			zap.String("user_id", userID),
			zap.String("type", ev.Type),
			zap.Error(err),
		)
	}
}

func (s *Service) requestModeration(m *Message) {
	if s.publisher == nil {
		return
	}
	data, err := json.Marshal(moderation.ModerationRequest{
		MessageID:  m.ID,
		ChatID:     m.ChatID,
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		Text:       m.Body,
		Ts:         m.CreatedAt.Unix(),
	})
	if err != nil {
		s.logger.Error("marshal moderation request", zap.Error(err))
		return
	}
	if err := s.publisher.PublishModerationRequest(data); err != nil {
		s.logger.Warn("publish moderation request failed", zap.String("message_id", m.ID), zap.Error(err))
	}
}

// IsContentError reports whether err is a user-facing rejection of the
// message content rather than an infrastructure failure.
func IsContentError(err error) bool {
	return errors.Is(err, ErrBlockedContent) || errors.Is(err, ErrInvalidMessage)
}

package ws

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/heartline/server/internal/chat"
	"github.com/heartline/server/internal/protocol"
	"github.com/heartline/server/internal/ratelimit"
)

// handlerTimeout bounds the work done for a single client frame.
const handlerTimeout = 5 * time.Second

// ChatActions is the part of the chat service reachable from the stream.
type ChatActions interface {
	Send(ctx context.Context, senderID, receiverID, text string) (*chat.Message, error)
	Typing(ctx context.Context, userID, peerID string, typing bool) error
	MarkRead(ctx context.Context, readerID, peerID string) (int64, error)
}

// Limiter throttles client actions.
type Limiter interface {
	Allow(ctx context.Context, identifier string, rule ratelimit.Rule) (bool, error)
}

// RegisterChatHandlers wires send, typing and mark_read frames to svc.
// limiter may be nil.
func (h *Hub) RegisterChatHandlers(svc ChatActions, limiter Limiter) {
	d := h.dispatcher

	d.Register(protocol.TypeSend, func(c *Connection, msg interface{}) {
		m := msg.(protocol.SendMsg)
		ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
		defer cancel()

		if limiter != nil {
			if ok, _ := limiter.Allow(ctx, c.UserID, ratelimit.RuleMessage); !ok {
				d.send(c, protocol.TypeRateLimited, protocol.RateLimitedMsg{
					RetryAfter: int(ratelimit.RuleMessage.Window.Seconds()),
				})
				return
			}
		}

		// The stored message comes back to this connection as a "message"
		// event through the user's NATS subject.
		if _, err := svc.Send(ctx, c.UserID, m.PeerID, m.Text); err != nil {
			h.replyError(c, err)
		}
	})

	d.Register(protocol.TypeTyping, func(c *Connection, msg interface{}) {
		m := msg.(protocol.TypingMsg)
		ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
		defer cancel()
		if err := svc.Typing(ctx, c.UserID, m.PeerID, m.IsTyping); err != nil {
			h.replyError(c, err)
		}
	})

	d.Register(protocol.TypeMarkRead, func(c *Connection, msg interface{}) {
		m := msg.(protocol.MarkReadMsg)
		ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
		defer cancel()
		if _, err := svc.MarkRead(ctx, c.UserID, m.PeerID); err != nil {
			h.replyError(c, err)
		}
	})
}

func (h *Hub) replyError(c *Connection, err error) {
	switch {
	case errors.Is(err, chat.ErrBlocked):
		h.dispatcher.sendError(c, "blocked", "conversation is blocked")
	case errors.Is(err, chat.ErrSelfMessage):
		h.dispatcher.sendError(c, "invalid_peer", err.Error())
	case chat.IsContentError(err):
		h.dispatcher.sendError(c, "rejected", err.Error())
	default:
		h.logger.Warn("handler failed", zap.String("conn_id", c.ID), zap.Error(err))
		h.dispatcher.sendError(c, "internal", "could not process message")
	}
}

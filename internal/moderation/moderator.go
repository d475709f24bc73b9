package moderation

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/heartline/server/internal/logger"
	"github.com/heartline/server/internal/metrics"
)

// escalateTimeout bounds the Redis work for one flagged message.
const escalateTimeout = 3 * time.Second

// Escalator suspends repeat offenders. *suspension.Store implements it.
type Escalator interface {
	Escalate(ctx context.Context, userID, reason string) (time.Duration, error)
}

// ResultPublisher delivers a verdict to the sender's event stream.
// *messaging.NATSClient implements it.
type ResultPublisher interface {
	PublishModerationResult(userID string, data []byte) error
}

// Moderator reviews messages published to moderation.check. Clean messages
// are dropped silently; flagged ones escalate the sender's suspension and
// produce a ModerationResult.
type Moderator struct {
	filter    *Filter
	escalator Escalator
	publisher ResultPublisher
	logger    *zap.Logger
}

// NewModerator creates a Moderator. escalator may be nil, in which case
// flagged messages are reported without suspending anyone.
func NewModerator(filter *Filter, escalator Escalator, publisher ResultPublisher, logger *zap.Logger) *Moderator {
	return &Moderator{
		filter:    filter,
		escalator: escalator,
		publisher: publisher,
		logger:    logger.With(zap.String("component", "moderator")),
	}
}

// Handle processes one raw ModerationRequest. It returns the result it
// published, or nil when the message was clean or malformed.
func (m *Moderator) Handle(data []byte) *ModerationResult {
	var req ModerationRequest
	if err := json.Unmarshal(data, &req); err != nil {
		m.logger.Warn("invalid moderation request", zap.Error(err))
		return nil
	}
	if req.SenderID == "" {
		m.logger.Warn("moderation request without sender", zap.String("message_id", req.MessageID))
		return nil
	}

	verdict := m.filter.Check(req.Text)
	if !verdict.Blocked {
		m.logger.Debug("clean", zap.String("message_id", req.MessageID))
		return nil
	}

	metrics.ModerationFlagsTotal.WithLabelValues(verdict.Reason).Inc()
	res := &ModerationResult{
		UserID:    req.SenderID,
		MessageID: req.MessageID,
		ChatID:    req.ChatID,
		Blocked:   true,
		Reason:    verdict.Reason,
		Term:      verdict.Term,
	}

	if m.escalator != nil {
		ctx, cancel := context.WithTimeout(context.Background(), escalateTimeout)
		duration, err := m.escalator.Escalate(ctx, req.SenderID, verdict.Reason)
		cancel()
		if err != nil {
			m.logger.Error("escalate failed", zap.String("user_id", req.SenderID), zap.Error(err))
		} else {
			res.SuspendedFor = int64(duration / time.Second)
			metrics.SuspensionsTotal.WithLabelValues("moderation").Inc()
		}
	}

	m.logger.Info("flagged",
		zap.String("user_id", req.SenderID),
		zap.String("message_id", req.MessageID),
		zap.String("reason", verdict.Reason),
		zap.String("term", verdict.Term),
		zap.String("text", logger.Truncate(req.Text, 40)),
		zap.Int64("suspended_for", res.SuspendedFor),
	)

	out, err := json.Marshal(res)
	if err != nil {
		m.logger.Error("marshal moderation result", zap.Error(err))
		return res
	}
	if err := m.publisher.PublishModerationResult(req.SenderID, out); err != nil {
		m.logger.Warn("publish moderation result failed", zap.String("user_id", req.SenderID), zap.Error(err))
	}
	return res
}

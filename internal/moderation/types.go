package moderation

// ModerationRequest is published to moderation.check by the API after a chat
// message has been stored, for asynchronous content review.
type ModerationRequest struct {
	MessageID  string `json:"message_id"`
	ChatID     string `json:"chat_id"`
	SenderID   string `json:"sender_id"`
	ReceiverID string `json:"receiver_id"`
	Text       string `json:"text"`
	Ts         int64  `json:"ts"`
}

// ModerationResult is published to moderation.result.<user_id> with the
// review outcome for a flagged message. SuspendedFor is the suspension the
// sender received, in seconds, or zero.
type ModerationResult struct {
	UserID       string `json:"user_id"`
	MessageID    string `json:"message_id"`
	ChatID       string `json:"chat_id"`
	Blocked      bool   `json:"blocked"`
	Reason       string `json:"reason"`
	Term         string `json:"term"`
	SuspendedFor int64  `json:"suspended_for,omitempty"`
}

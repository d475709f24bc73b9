// Package chat stores one-to-one conversations between members, keeps a short
// Redis cache of each conversation's latest messages, and fans new messages
// out to both participants over NATS.
package chat

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Per-participant read status of a message.
const (
	StatusUnread = "unread"
	StatusRead   = "read"
)

var (
	ErrBlocked        = errors.New("chat: conversation is blocked")
	ErrBlockedContent = errors.New("chat: message rejected by content filter")
	ErrSelfMessage    = errors.New("chat: cannot message yourself")
	ErrInvalidMessage = errors.New("chat: invalid message")
)

// chatNamespace seeds the deterministic chat ids.
var chatNamespace = uuid.MustParse("6f1c6f0e-4b4e-4c7f-9a51-2f0b6d1e8a3c")

// Message is a single chat message between two members.
type Message struct {
	ID             string    `json:"id"`
	ChatID         string    `json:"chat_id"`
	SenderID       string    `json:"sender_id"`
	ReceiverID     string    `json:"receiver_id"`
	SenderStatus   string    `json:"sender_status"`
	ReceiverStatus string    `json:"receiver_status"`
	Body           string    `json:"message"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Conversation summarises one chat from the point of view of a participant.
type Conversation struct {
	ChatID      string  `json:"chat_id"`
	PeerID      string  `json:"peer_id"`
	LastMessage Message `json:"last_message"`
	Unread      int     `json:"unread"`
}

// ChatIDFor returns the id of the conversation between a and b. It is the same
// whichever side asks.
func ChatIDFor(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return uuid.NewSHA1(chatNamespace, []byte(a+":"+b)).String()
}

// PeerOf returns the other participant of m relative to userID.
func (m *Message) PeerOf(userID string) string {
	if m.SenderID == userID {
		return m.ReceiverID
	}
	return m.SenderID
}

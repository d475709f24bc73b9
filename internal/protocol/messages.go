// Package protocol defines the JSON frames exchanged over the realtime
// stream. Every frame is an object whose "type" field selects its shape.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Frames a client may send.
const (
	TypeSend     = "send"
	TypeTyping   = "typing"
	TypeMarkRead = "mark_read"
	TypePing     = "ping"
)

// Frames the server sends. Chat events ("message", "read", "typing") are
// forwarded as the chat service published them.
const (
	TypeMessage     = "message"
	TypeRead        = "read"
	TypeModeration  = "moderation"
	TypeSuspended   = "suspended"
	TypeRateLimited = "rate_limited"
	TypeError       = "error"
	TypePong        = "pong"
)

var (
	ErrMissingType = errors.New("protocol: missing \"type\" field")
	ErrUnknownType = errors.New("protocol: unknown client frame type")
)

// SendMsg sends a chat message to PeerID over the socket instead of the
// HTTP endpoint.
type SendMsg struct {
	PeerID string `json:"peer_id"`
	Text   string `json:"text"`
}

type TypingMsg struct {
	PeerID   string `json:"peer_id"`
	IsTyping bool   `json:"is_typing"`
}

// MarkReadMsg marks every message received from PeerID as read.
type MarkReadMsg struct {
	PeerID string `json:"peer_id"`
}

type PingMsg struct{}

// ModerationMsg tells the sender that one of their messages was flagged.
type ModerationMsg struct {
	MessageID    string `json:"message_id"`
	ChatID       string `json:"chat_id"`
	Reason       string `json:"reason"`
	SuspendedFor int64  `json:"suspended_for,omitempty"`
}

// SuspendedMsg is sent when the account is suspended; the stream closes after.
type SuspendedMsg struct {
	RetryAfter int64  `json:"retry_after"`
	Reason     string `json:"reason"`
}

type RateLimitedMsg struct {
	RetryAfter int `json:"retry_after"`
}

type ErrorMsg struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type PongMsg struct{}

// clientFrames decodes each client frame type into its struct.
var clientFrames = map[string]func([]byte) (any, error){
	TypeSend:     decodeAs[SendMsg],
	TypeTyping:   decodeAs[TypingMsg],
	TypeMarkRead: decodeAs[MarkReadMsg],
	TypePing:     decodeAs[PingMsg],
}

func decodeAs[T any](data []byte) (any, error) {
	var m T
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// ParseClientMessage decodes a client frame and returns its type and the
// matching struct (SendMsg, TypingMsg, ...). The type is returned alongside
// an error when it was readable, so callers can log it.
func ParseClientMessage(data []byte) (string, any, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return "", nil, fmt.Errorf("protocol: parse frame: %w", err)
	}
	if head.Type == "" {
		return "", nil, ErrMissingType
	}

	decode, ok := clientFrames[head.Type]
	if !ok {
		return head.Type, nil, fmt.Errorf("%w: %q", ErrUnknownType, head.Type)
	}
	msg, err := decode(data)
	if err != nil {
		return head.Type, nil, fmt.Errorf("protocol: decode %q frame: %w", head.Type, err)
	}
	return head.Type, msg, nil
}

// NewServerMessage encodes payload as a frame of type msgType. payload must
// encode to a JSON object without its own "type" key; nil yields a frame
// holding only the type.
func NewServerMessage(msgType string, payload any) ([]byte, error) {
	typeField, err := json.Marshal(msgType)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode type: %w", err)
	}

	body := []byte("{}")
	if payload != nil {
		if body, err = json.Marshal(payload); err != nil {
			return nil, fmt.Errorf("protocol: encode %q payload: %w", msgType, err)
		}
	}
	if len(body) < 2 || body[0] != '{' {
		return nil, fmt.Errorf("protocol: %q payload is not an object", msgType)
	}

	var buf bytes.Buffer
	buf.Grow(len(body) + len(typeField) + 8)
	buf.WriteString(`{"type":`)
	buf.Write(typeField)
	if rest := bytes.TrimSpace(body[1:]); len(rest) > 1 {
		buf.WriteByte(',')
	}
	buf.Write(body[1:])
	return buf.Bytes(), nil
}

// NewError is a shortcut for an ErrorMsg frame.
func NewError(code, message string) []byte {
	out, _ := NewServerMessage(TypeError, ErrorMsg{Code: code, Message: message})
	return out
}

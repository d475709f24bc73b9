package chat

// Event types published to user.events.<user_id>.
const (
	EventMessage = "message"
	EventRead    = "read"
	EventTyping  = "typing"
)

// ChatEvent is the payload published to a member's NATS user.events subject
// and forwarded verbatim to their websocket streams.
type ChatEvent struct {
	Type     string   `json:"type"`                // "message", "read", "typing"
	ChatID   string   `json:"chat_id"`
	From     string   `json:"from"`                // user id of the actor
	Message  *Message `json:"message,omitempty"`   // for message events
	Count    int64    `json:"count,omitempty"`     // for read events: messages marked read
	IsTyping bool     `json:"is_typing,omitempty"` // for typing events
	Ts       int64    `json:"ts"`                  // unix timestamp
}

package chat

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// DefaultHistoryLimit and MaxHistoryLimit bound a page of History.
const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 200
)

// Store persists chat messages in PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore creates a new chat store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Insert stores a new message from senderID to receiverID. The sender's copy
// is marked read, the receiver's unread.
func (s *Store) Insert(ctx context.Context, senderID, receiverID, body string) (*Message, error) {
	m := &Message{
		ID:             uuid.NewString(),
		ChatID:         ChatIDFor(senderID, receiverID),
		SenderID:       senderID,
		ReceiverID:     receiverID,
		SenderStatus:   StatusRead,
		ReceiverStatus: StatusUnread,
		Body:           body,
	}

	const query = `
		INSERT INTO chat_messages (id, chat_id, sender_id, receiver_id, sender_status, receiver_status, message)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`

	err := s.db.QueryRowContext(ctx, query,
		m.ID, m.ChatID, m.SenderID, m.ReceiverID, m.SenderStatus, m.ReceiverStatus, m.Body,
	).Scan(&m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("chat: insert: %w", err)
	}
	return m, nil
}

// History returns up to limit messages of chatID created before the given
// time, newest first. A zero before means "now".
func (s *Store) History(ctx context.Context, chatID string, before time.Time, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	if before.IsZero() {
		before = time.Now().Add(time.Second)
	}

	const query = `
		SELECT id, chat_id, sender_id, receiver_id, sender_status, receiver_status, message, created_at, updated_at
		FROM chat_messages
		WHERE chat_id = $1 AND created_at < $2
		ORDER BY created_at DESC, id DESC
		LIMIT $3`

	rows, err := s.db.QueryContext(ctx, query, chatID, before, limit)
	if err != nil {
		return nil, fmt.Errorf("chat: history: %w", err)
	}
	defer rows.Close()

	msgs := make([]Message, 0, limit)
	for rows.Next() {
		var m Message
		if err := scanMessage(rows, &m); err != nil {
			return nil, fmt.Errorf("chat: scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("chat: history: %w", err)
	}
	return msgs, nil
}

// MarkRead marks every unread message that readerID received in chatID as
// read and returns how many changed.
func (s *Store) MarkRead(ctx context.Context, chatID, readerID string) (int64, error) {
	const query = `
		UPDATE chat_messages
		SET receiver_status = 'read', updated_at = NOW()
		WHERE chat_id = $1 AND receiver_id = $2 AND receiver_status = 'unread'`

	res, err := s.db.ExecContext(ctx, query, chatID, readerID)
	if err != nil {
		return 0, fmt.Errorf("chat: mark read: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("chat: mark read: %w", err)
	}
	return n, nil
}

// UnreadCount returns the number of unread messages addressed to userID.
func (s *Store) UnreadCount(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM chat_messages WHERE receiver_id = $1 AND receiver_status = 'unread'`,
		userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("chat: unread count: %w", err)
	}
	return n, nil
}

// Conversations lists userID's chats with their latest message and unread
// count, most recently active first.
func (s *Store) Conversations(ctx context.Context, userID string) ([]Conversation, error) {
	const query = `
		SELECT DISTINCT ON (m.chat_id)
			m.id, m.chat_id, m.sender_id, m.receiver_id, m.sender_status, m.receiver_status,
			m.message, m.created_at, m.updated_at,
			(SELECT COUNT(*) FROM chat_messages u
			 WHERE u.chat_id = m.chat_id AND u.receiver_id = $1 AND u.receiver_status = 'unread')
		FROM chat_messages m
		WHERE m.sender_id = $1 OR m.receiver_id = $1
		ORDER BY m.chat_id, m.created_at DESC, m.id DESC`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("chat: conversations: %w", err)
	}
	defer rows.Close()

	convs := []Conversation{}
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(
			&c.LastMessage.ID, &c.LastMessage.ChatID, &c.LastMessage.SenderID, &c.LastMessage.ReceiverID,
			&c.LastMessage.SenderStatus, &c.LastMessage.ReceiverStatus, &c.LastMessage.Body,
			&c.LastMessage.CreatedAt, &c.LastMessage.UpdatedAt, &c.Unread,
		); err != nil {
			return nil, fmt.Errorf("chat: scan conversation: %w", err)
		}
		c.ChatID = c.LastMessage.ChatID
		c.PeerID = c.LastMessage.PeerOf(userID)
		convs = append(convs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("chat: conversations: %w", err)
	}

	sort.SliceStable(convs, func(i, j int) bool {
		return convs[i].LastMessage.CreatedAt.After(convs[j].LastMessage.CreatedAt)
	})
	return convs, nil
}

func scanMessage(rows *sql.Rows, m *Message) error {
	return rows.Scan(&m.ID, &m.ChatID, &m.SenderID, &m.ReceiverID,
		&m.SenderStatus, &m.ReceiverStatus, &m.Body, &m.CreatedAt, &m.UpdatedAt)
}

// Package report provides PostgreSQL-backed storage for abuse reports.
// Each report captures who reported whom, the chat context, and the last
// few messages exchanged (for moderator review).
package report

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Reasons a member can give when reporting another member. They match the
// CHECK constraint on the abuse_reports table.
const (
	ReasonHarassment  = "harassment"
	ReasonSpam        = "spam"
	ReasonExplicit    = "explicit"
	ReasonFakeProfile = "fake_profile"
	ReasonOther       = "other"
)

// MaxDetails is the longest free-text explanation stored with a report.
const MaxDetails = 1000

var ErrInvalidReason = errors.New("report: invalid reason")

var validReasons = map[string]bool{
	ReasonHarassment:  true,
	ReasonSpam:        true,
	ReasonExplicit:    true,
	ReasonFakeProfile: true,
	ReasonOther:       true,
}

// ValidReason reports whether reason is an accepted report reason.
func ValidReason(reason string) bool {
	return validReasons[reason]
}

// Store manages abuse reports in PostgreSQL.
type Store struct {
	db *sql.DB
}

// Report represents a single abuse report to be persisted.
type Report struct {
	ID         int64          `json:"id"`
	ReporterID string         `json:"reporter_id"`
	ReportedID string         `json:"reported_id"`
	ChatID     string         `json:"chat_id,omitempty"`
	Reason     string         `json:"reason"`
	Details    string         `json:"details,omitempty"`
	Messages   []MessageEntry `json:"messages,omitempty"` // recent messages between the two members
	CreatedAt  time.Time      `json:"created_at"`
}

// MessageEntry is one message in the conversation snapshot attached to a report.
type MessageEntry struct {
	From string `json:"from"` // "reporter" or "reported"
	Text string `json:"text"`
	Ts   int64  `json:"ts"`
}

// NewStore creates a new report store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Create inserts an abuse report into PostgreSQL and fills in its ID and
// creation time. Messages are marshalled to JSONB.
func (s *Store) Create(ctx context.Context, report *Report) error {
	if !validReasons[report.Reason] {
		return fmt.Errorf("%w %q", ErrInvalidReason, report.Reason)
	}
	if len(report.Details) > MaxDetails {
		report.Details = report.Details[:MaxDetails]
	}

	var messagesJSON []byte
	if len(report.Messages) > 0 {
		var err error
		messagesJSON, err = json.Marshal(report.Messages)
		if err != nil {
			return fmt.Errorf("report: marshal messages: %w", err)
		}
	}

	const query = `
		INSERT INTO abuse_reports (reporter_id, reported_id, chat_id, reason, details, messages)
		VALUES ($1, $2, NULLIF($3, '')::uuid, $4, $5, $6)
		RETURNING id, created_at`

	err := s.db.QueryRowContext(ctx, query,
		report.ReporterID,
		report.ReportedID,
		report.ChatID,
		report.Reason,
		report.Details,
		messagesJSON,
	).Scan(&report.ID, &report.CreatedAt)
	if err != nil {
		return fmt.Errorf("report: insert: %w", err)
	}
	return nil
}

// CountRecent returns the number of reports filed against a user within the
// given time window.
func (s *Store) CountRecent(ctx context.Context, reportedID string, window time.Duration) (int, error) {
	const query = `
		SELECT COUNT(*)
		FROM abuse_reports
		WHERE reported_id = $1
		  AND created_at >= NOW() - $2::interval`

	var count int
	err := s.db.QueryRowContext(ctx, query, reportedID, window.String()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("report: count recent: %w", err)
	}
	return count, nil
}

// Package audit records decision and dispatch events so any automated reply
// can be reconstructed after the fact.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType labels one audit record.
type EventType string

const (
	// EventDecision is logged for every reply pipeline evaluation.
	EventDecision EventType = "decision.evaluated"
	// EventReplySent is logged when an outbound reply is delivered.
	EventReplySent EventType = "dispatch.reply_sent"
	// EventReplyDrafted is logged when a reply is stored for human review.
	EventReplyDrafted EventType = "dispatch.reply_drafted"
	// EventEscalated is logged when a message is routed to a human queue.
	EventEscalated EventType = "decision.escalated"
	// EventDuplicateSuppressed is logged when the idempotency guard replays a receipt.
	EventDuplicateSuppressed EventType = "dispatch.duplicate_suppressed"
	// EventDispatchFailed is logged when a dispatch attempt exhausts its retries.
	EventDispatchFailed EventType = "dispatch.failed"
	// EventDeadLettered is logged when a message is parked on the DLQ.
	EventDeadLettered EventType = "dispatch.dead_lettered"
	// EventBreakerTransition is logged on every circuit breaker state change.
	EventBreakerTransition EventType = "connector.breaker_transition"
)

// Event is an immutable audit record.
type Event struct {
	ID             string          `json:"id"`
	EventType      EventType       `json:"event_type"`
	Platform       string          `json:"platform,omitempty"`
	AccountID      string          `json:"account_id,omitempty"`
	MessageID      string          `json:"message_id,omitempty"`
	ConversationID string          `json:"conversation_id,omitempty"`
	Details        json.RawMessage `json:"details,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Details carries event-specific structured fields.
type Details struct {
	Intent       string `json:"intent,omitempty"`
	Outcome      string `json:"outcome,omitempty"`
	Reason       string `json:"reason,omitempty"`
	Provider     string `json:"provider,omitempty"`
	Stage        string `json:"stage,omitempty"`
	ErrorKind    string `json:"error_kind,omitempty"`
	ErrorDetail  string `json:"error_detail,omitempty"`
	Attempts     int    `json:"attempts,omitempty"`
	Exhausted    bool   `json:"exhausted,omitempty"`
	DispatchKey  string `json:"dispatch_key,omitempty"`
	ReceiptID    string `json:"receipt_id,omitempty"`
	Transition   string `json:"transition,omitempty"`
	FailureCount int    `json:"failure_count,omitempty"`
	Threshold    int    `json:"threshold,omitempty"`
}

// Service writes audit events to the relational store.
type Service struct {
	db *sql.DB
}

// NewService creates an audit service.
func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// LogEvent records one audit event.
func (s *Service) LogEvent(ctx context.Context, event Event) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO audit_events (
			id, event_type, platform, account_id, message_id,
			conversation_id, details, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := s.db.ExecContext(ctx, query,
		event.ID,
		event.EventType,
		nullString(event.Platform),
		nullString(event.AccountID),
		nullString(event.MessageID),
		nullString(event.ConversationID),
		event.Details,
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("audit: failed to log event: %w", err)
	}
	return nil
}

// LogDecision records a pipeline decision with its intent and reason.
func (s *Service) LogDecision(ctx context.Context, platform, accountID, messageID, conversationID string, d Details) error {
	detailsJSON, _ := json.Marshal(d)
	return s.LogEvent(ctx, Event{
		EventType:      EventDecision,
		Platform:       platform,
		AccountID:      accountID,
		MessageID:      messageID,
		ConversationID: conversationID,
		Details:        detailsJSON,
	})
}

// LogDispatch records a terminal dispatch event (sent, drafted, duplicate,
// failed, or dead-lettered).
func (s *Service) LogDispatch(ctx context.Context, eventType EventType, platform, accountID, messageID string, d Details) error {
	detailsJSON, _ := json.Marshal(d)
	return s.LogEvent(ctx, Event{
		EventType: eventType,
		Platform:  platform,
		AccountID: accountID,
		MessageID: messageID,
		Details:   detailsJSON,
	})
}

// LogBreakerTransition records a circuit breaker state change.
func (s *Service) LogBreakerTransition(ctx context.Context, platform, accountID, action, transition string, failures, threshold int) error {
	detailsJSON, _ := json.Marshal(Details{
		Stage:        action,
		Transition:   transition,
		FailureCount: failures,
		Threshold:    threshold,
	})
	return s.LogEvent(ctx, Event{
		EventType: EventBreakerTransition,
		Platform:  platform,
		AccountID: accountID,
		Details:   detailsJSON,
	})
}

// QueryEvents retrieves audit events matching the filter, newest first.
func (s *Service) QueryEvents(ctx context.Context, filter Filter) ([]Event, error) {
	query := `
		SELECT id, event_type, platform, account_id, message_id,
			   conversation_id, details, created_at
		FROM audit_events
		WHERE 1=1
	`
	var args []interface{}
	argIdx := 1

	if filter.Platform != "" {
		query += fmt.Sprintf(" AND platform = $%d", argIdx)
		args = append(args, filter.Platform)
		argIdx++
	}
	if filter.MessageID != "" {
		query += fmt.Sprintf(" AND message_id = $%d", argIdx)
		args = append(args, filter.MessageID)
		argIdx++
	}
	if filter.EventType != "" {
		query += fmt.Sprintf(" AND event_type = $%d", argIdx)
		args = append(args, filter.EventType)
		argIdx++
	}
	if !filter.StartTime.IsZero() {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, filter.StartTime)
		argIdx++
	}
	if !filter.EndTime.IsZero() {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, filter.EndTime)
		argIdx++
	}

	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: failed to query events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var platform, accountID, messageID, conversationID sql.NullString
		if err := rows.Scan(
			&e.ID, &e.EventType, &platform, &accountID, &messageID,
			&conversationID, &e.Details, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("audit: failed to scan event: %w", err)
		}
		e.Platform = platform.String
		e.AccountID = accountID.String
		e.MessageID = messageID.String
		e.ConversationID = conversationID.String
		events = append(events, e)
	}
	return events, rows.Err()
}

// Filter specifies criteria for querying audit events.
type Filter struct {
	Platform  string
	MessageID string
	EventType EventType
	StartTime time.Time
	EndTime   time.Time
	Limit     int
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

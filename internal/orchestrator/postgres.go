package orchestrator

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/leaseline/leasing-ai-platform/internal/intent"
	"github.com/leaseline/leasing-ai-platform/internal/reply"
)

type pgxDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements the orchestrator's persistence interfaces on Postgres.
type Store struct {
	db pgxDB
}

// NewStore builds a store backed by pgxpool.
func NewStore(pool *pgxpool.Pool) *Store {
	if pool == nil {
		panic("orchestrator: pgx pool required")
	}
	return &Store{db: pool}
}

func newStoreWithDB(db pgxDB) *Store {
	if db == nil {
		panic("orchestrator: db required")
	}
	return &Store{db: db}
}

// FetchPending claims up to limit pending messages for workerID. Expired
// leases are reclaimable so a crashed worker's batch returns to the pool.
func (s *Store) FetchPending(ctx context.Context, limit int, now time.Time, workerID string, leaseTTL time.Duration) ([]InboundMessage, error) {
	query := `
		UPDATE inbound_messages
		SET claimed_by = $1, lease_expires_at = $2
		WHERE id IN (
			SELECT id FROM inbound_messages
			WHERE status = 'pending'
			  AND (claimed_by IS NULL OR lease_expires_at < $3)
			ORDER BY received_at
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, conversation_id, platform, platform_account_id, thread_id,
		          body, lead_name, had_prior_outbound, unit_id, unit_label, received_at
	`
	rows, err := s.db.Query(ctx, query, workerID, now.Add(leaseTTL), now, limit)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: claim pending messages: %w", err)
	}
	defer rows.Close()

	var messages []InboundMessage
	for rows.Next() {
		var m InboundMessage
		var leadName, unitID, unitLabel sql.NullString
		if err := rows.Scan(
			&m.ID, &m.ConversationID, &m.Platform, &m.PlatformAccountID, &m.ThreadID,
			&m.Body, &leadName, &m.HadPriorOutbound, &unitID, &unitLabel, &m.ReceivedAt,
		); err != nil {
			return nil, fmt.Errorf("orchestrator: scan pending message: %w", err)
		}
		m.LeadName = leadName.String
		m.UnitID = unitID.String
		m.UnitLabel = unitLabel.String
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// MarkProcessed finalizes a message and records the decision metadata.
func (s *Store) MarkProcessed(ctx context.Context, messageID string, patch ProcessedPatch) error {
	decision, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("orchestrator: marshal decision patch: %w", err)
	}
	query := `
		UPDATE inbound_messages
		SET status = 'processed', decision = $2, processed_at = now()
		WHERE id = $1
	`
	if _, err := s.db.Exec(ctx, query, messageID, decision); err != nil {
		return fmt.Errorf("orchestrator: mark processed: %w", err)
	}
	return nil
}

// GetByID fetches one platform account.
func (s *Store) GetByID(ctx context.Context, platformAccountID string) (*PlatformAccount, error) {
	query := `
		SELECT id, platform, account_id, credential_refs, session_based, active, auto_send
		FROM platform_accounts
		WHERE id = $1
	`
	var a PlatformAccount
	var refs []byte
	if err := s.db.QueryRow(ctx, query, platformAccountID).Scan(
		&a.ID, &a.Platform, &a.AccountID, &refs, &a.SessionBased,
		&a.Policy.Active, &a.Policy.AutoSend,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("orchestrator: platform account %s not found", platformAccountID)
		}
		return nil, fmt.Errorf("orchestrator: select platform account: %w", err)
	}
	if len(refs) > 0 {
		if err := json.Unmarshal(refs, &a.CredentialRefs); err != nil {
			return nil, fmt.Errorf("orchestrator: decode credential refs: %w", err)
		}
	}
	return &a, nil
}

// FindRule returns the enabled rule matching policyIntent, falling back to
// fallbackIntent, or (nil, nil) when neither matches.
func (s *Store) FindRule(ctx context.Context, platformAccountID string, policyIntent, fallbackIntent intent.Intent) (*reply.Rule, error) {
	query := `
		SELECT id, name, intent, template_name
		FROM automation_rules
		WHERE platform_account_id = $1 AND enabled = TRUE AND intent IN ($2, $3)
		ORDER BY CASE WHEN intent = $2 THEN 0 ELSE 1 END
		LIMIT 1
	`
	var r reply.Rule
	var ruleIntent string
	err := s.db.QueryRow(ctx, query, platformAccountID, string(policyIntent), string(fallbackIntent)).
		Scan(&r.ID, &r.Name, &ruleIntent, &r.TemplateName)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("orchestrator: select automation rule: %w", err)
	}
	r.Intent = intent.Parse(ruleIntent)
	return &r, nil
}

// FindTemplate returns the named reply template, or (nil, nil).
func (s *Store) FindTemplate(ctx context.Context, platformAccountID, name string) (*reply.Template, error) {
	query := `
		SELECT id, name, body
		FROM reply_templates
		WHERE platform_account_id = $1 AND name = $2
	`
	var t reply.Template
	err := s.db.QueryRow(ctx, query, platformAccountID, name).Scan(&t.ID, &t.Name, &t.Body)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("orchestrator: select reply template: %w", err)
	}
	return &t, nil
}

// FetchSlotOptions lists upcoming unbooked tour slots for a unit, soonest
// first so slot labels render in chronological order.
func (s *Store) FetchSlotOptions(ctx context.Context, unitID string, limit int) ([]SlotOption, error) {
	query := `
		SELECT id, label
		FROM tour_slots
		WHERE unit_id = $1 AND booked = FALSE AND starts_at > now()
		ORDER BY starts_at
		LIMIT $2
	`
	rows, err := s.db.Query(ctx, query, unitID, limit)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: select tour slots: %w", err)
	}
	defer rows.Close()

	var slots []SlotOption
	for rows.Next() {
		var slot SlotOption
		if err := rows.Scan(&slot.ID, &slot.Label); err != nil {
			return nil, fmt.Errorf("orchestrator: scan tour slot: %w", err)
		}
		slots = append(slots, slot)
	}
	return slots, rows.Err()
}

// RecordReply inserts one drafted or sent reply.
func (s *Store) RecordReply(ctx context.Context, rec OutboundReply) error {
	query := `
		INSERT INTO outbound_replies (
			id, message_id, conversation_id, platform, account_id,
			thread_id, body, status, provider_message_id, sent_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	var sentAt *time.Time
	if !rec.SentAt.IsZero() {
		sentAt = &rec.SentAt
	}
	var providerID *string
	if rec.ProviderMessageID != "" {
		providerID = &rec.ProviderMessageID
	}
	_, err := s.db.Exec(ctx, query,
		uuid.New(), rec.MessageID, rec.ConversationID, rec.Platform, rec.AccountID,
		rec.ThreadID, rec.Body, rec.Status, providerID, sentAt,
	)
	if err != nil {
		return fmt.Errorf("orchestrator: insert outbound reply: %w", err)
	}
	return nil
}

// Transition records a conversation workflow state change.
func (s *Store) Transition(ctx context.Context, conversationID, state, reason string) error {
	query := `
		UPDATE conversations
		SET workflow_state = $2, workflow_reason = $3, updated_at = now()
		WHERE id = $1
	`
	if _, err := s.db.Exec(ctx, query, conversationID, state, reason); err != nil {
		return fmt.Errorf("orchestrator: workflow transition: %w", err)
	}
	return nil
}

// Begin registers an in-flight dispatch attempt for key. A completed or
// in-flight prior attempt is returned with created=false; a failed prior
// attempt is reclaimed for retry.
func (s *Store) Begin(ctx context.Context, key, messageID string) (*DispatchAttempt, bool, error) {
	insert := `
		INSERT INTO dispatch_attempts (key, message_id, state, updated_at)
		VALUES ($1, $2, 'in_flight', now())
		ON CONFLICT (key) DO NOTHING
	`
	tag, err := s.db.Exec(ctx, insert, key, messageID)
	if err != nil {
		return nil, false, fmt.Errorf("orchestrator: begin dispatch attempt: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return &DispatchAttempt{Key: key, MessageID: messageID, State: DispatchInFlight}, true, nil
	}

	attempt, err := s.getDispatch(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if attempt.State != DispatchFailed {
		return attempt, false, nil
	}

	reclaim := `
		UPDATE dispatch_attempts
		SET state = 'in_flight', updated_at = now()
		WHERE key = $1 AND state = 'failed'
	`
	tag, err = s.db.Exec(ctx, reclaim, key)
	if err != nil {
		return nil, false, fmt.Errorf("orchestrator: reclaim dispatch attempt: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Lost the race to another worker; re-read the current state.
		attempt, err = s.getDispatch(ctx, key)
		if err != nil {
			return nil, false, err
		}
		return attempt, false, nil
	}
	attempt.State = DispatchInFlight
	return attempt, true, nil
}

func (s *Store) getDispatch(ctx context.Context, key string) (*DispatchAttempt, error) {
	query := `
		SELECT key, message_id, state, provider_message_id, sent_at, last_error
		FROM dispatch_attempts
		WHERE key = $1
	`
	var a DispatchAttempt
	var state string
	var providerID, lastError sql.NullString
	var sentAt sql.NullTime
	if err := s.db.QueryRow(ctx, query, key).Scan(
		&a.Key, &a.MessageID, &state, &providerID, &sentAt, &lastError,
	); err != nil {
		return nil, fmt.Errorf("orchestrator: select dispatch attempt: %w", err)
	}
	a.State = DispatchState(state)
	a.ProviderMessageID = providerID.String
	a.SentAt = sentAt.Time
	a.LastError = lastError.String
	return &a, nil
}

// Complete marks the attempt as successfully sent and stores the receipt.
func (s *Store) Complete(ctx context.Context, key, providerMessageID string, sentAt time.Time) error {
	query := `
		UPDATE dispatch_attempts
		SET state = 'completed', provider_message_id = $2, sent_at = $3,
		    last_error = NULL, updated_at = now()
		WHERE key = $1
	`
	if _, err := s.db.Exec(ctx, query, key, providerMessageID, sentAt); err != nil {
		return fmt.Errorf("orchestrator: complete dispatch attempt: %w", err)
	}
	return nil
}

// Fail marks the attempt as failed so a later run may retry it.
func (s *Store) Fail(ctx context.Context, key, lastError string) error {
	query := `
		UPDATE dispatch_attempts
		SET state = 'failed', last_error = $2, updated_at = now()
		WHERE key = $1
	`
	if _, err := s.db.Exec(ctx, query, key, lastError); err != nil {
		return fmt.Errorf("orchestrator: fail dispatch attempt: %w", err)
	}
	return nil
}

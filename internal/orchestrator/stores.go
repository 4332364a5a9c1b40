package orchestrator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/leaseline/leasing-ai-platform/internal/intent"
	"github.com/leaseline/leasing-ai-platform/internal/reply"
)

// MessageStore claims and finalizes pending inbound messages.
type MessageStore interface {
	// FetchPending claims up to limit pending messages for workerID with a
	// lease of leaseTTL. Messages whose lease expired are reclaimable.
	FetchPending(ctx context.Context, limit int, now time.Time, workerID string, leaseTTL time.Duration) ([]InboundMessage, error)
	// MarkProcessed finalizes a message with its decision metadata.
	MarkProcessed(ctx context.Context, messageID string, patch ProcessedPatch) error
}

// AccountStore resolves platform accounts.
type AccountStore interface {
	GetByID(ctx context.Context, platformAccountID string) (*PlatformAccount, error)
}

// RuleStore resolves automation rules and reply templates. Both lookups
// return (nil, nil) when nothing matches.
type RuleStore interface {
	FindRule(ctx context.Context, platformAccountID string, policyIntent, fallbackIntent intent.Intent) (*reply.Rule, error)
	FindTemplate(ctx context.Context, platformAccountID, name string) (*reply.Template, error)
}

// SlotStore lists available tour slots for a unit.
type SlotStore interface {
	FetchSlotOptions(ctx context.Context, unitID string, limit int) ([]SlotOption, error)
}

// ReplyStore persists drafted and sent replies.
type ReplyStore interface {
	RecordReply(ctx context.Context, rec OutboundReply) error
}

// WorkflowStore records conversation workflow transitions.
type WorkflowStore interface {
	Transition(ctx context.Context, conversationID, state, reason string) error
}

// DispatchStore is the durable idempotency guard. For a given key, at most
// one successful external send is ever issued.
type DispatchStore interface {
	// Begin registers an in-flight attempt. created is false when the key
	// already exists in a non-retryable state; the prior attempt is returned
	// so a completed send's receipt can be replayed.
	Begin(ctx context.Context, key, messageID string) (attempt *DispatchAttempt, created bool, err error)
	Complete(ctx context.Context, key, providerMessageID string, sentAt time.Time) error
	Fail(ctx context.Context, key, lastError string) error
}

// DispatchKey derives the deterministic idempotency key for one logical
// reply-send attempt.
func DispatchKey(messageID, conversationID, threadID, outcome, body, policyIntent string) string {
	h := sha256.Sum256([]byte(strings.Join([]string{
		messageID,
		conversationID,
		threadID,
		outcome,
		body,
		policyIntent,
	}, "\x1f")))
	return hex.EncodeToString(h[:])
}

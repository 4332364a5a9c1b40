package connector

import (
	"context"
	"time"
)

// Action names the operations a connector can perform against a platform.
type Action string

const (
	ActionIngest Action = "ingest"
	ActionSend   Action = "send"
)

// Message is one normalized inbound message extracted from a platform inbox.
type Message struct {
	ThreadID  string    `json:"thread_id"`
	MessageID string    `json:"message_id"`
	Body      string    `json:"body"`
	LeadName  string    `json:"lead_name"`
	SentAt    time.Time `json:"sent_at"`
}

// OutboundPayload is the reply to submit into a platform thread.
type OutboundPayload struct {
	ThreadID string `json:"thread_id"`
	Body     string `json:"body"`
}

// Receipt records a completed outbound submission.
type Receipt struct {
	Platform          string    `json:"platform"`
	AccountID         string    `json:"account_id"`
	ThreadID          string    `json:"thread_id"`
	ProviderMessageID string    `json:"provider_message_id,omitempty"`
	SentAt            time.Time `json:"sent_at"`
}

// ActionRequest carries everything one browser action needs.
type ActionRequest struct {
	Platform  string
	Action    Action
	AccountID string
	// Credentials holds resolved plaintext values, ephemeral for this call.
	Credentials     map[string]string
	Payload         *OutboundPayload
	SessionSnapshot string
	// Attempt is 0 for the first try and increments per retry.
	Attempt int
}

// ActionResult is the outcome of one successful browser action.
type ActionResult struct {
	Messages []Message
	Receipt  *Receipt
	// SessionSnapshot is the refreshed session state to persist for reuse.
	SessionSnapshot string
}

// Executor performs a single browser-driven platform action.
type Executor interface {
	Execute(ctx context.Context, req ActionRequest) (*ActionResult, error)
}

// Account identifies one platform account and its credential references.
type Account struct {
	Platform       string
	AccountID      string
	CredentialRefs map[string]string
	// SessionBased platforms accept a stored browser session in place of an
	// interactive login pair.
	SessionBased bool
}

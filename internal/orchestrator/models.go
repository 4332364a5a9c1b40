// Package orchestrator runs the decision-and-dispatch worker loop: it claims
// pending inbound messages, decides replies, and dispatches them through the
// platform connectors.
package orchestrator

import (
	"time"

	"github.com/leaseline/leasing-ai-platform/internal/connector"
)

// PlatformPolicy is the per-account sending policy snapshot.
type PlatformPolicy struct {
	// Active gates all automated handling for the account.
	Active bool
	// AutoSend switches eligible replies from draft-only to direct send.
	AutoSend bool
}

// InboundMessage is one lead message awaiting a decision.
type InboundMessage struct {
	ID                string
	ConversationID    string
	Platform          string
	PlatformAccountID string
	ThreadID          string
	Body              string
	LeadName          string
	HadPriorOutbound  bool
	UnitID            string
	UnitLabel         string
	ReceivedAt        time.Time
}

// PlatformAccount is one listing-platform account the system replies through.
type PlatformAccount struct {
	ID             string
	Platform       string
	AccountID      string
	CredentialRefs map[string]string
	SessionBased   bool
	Policy         PlatformPolicy
}

// ConnectorAccount maps the stored account onto the connector call shape.
func (a PlatformAccount) ConnectorAccount() connector.Account {
	return connector.Account{
		Platform:       a.Platform,
		AccountID:      a.AccountID,
		CredentialRefs: a.CredentialRefs,
		SessionBased:   a.SessionBased,
	}
}

// SlotOption is one available tour slot offered to a lead.
type SlotOption struct {
	ID    string
	Label string
}

// DispatchState is the lifecycle state of one dispatch attempt.
type DispatchState string

const (
	DispatchInFlight  DispatchState = "in_flight"
	DispatchCompleted DispatchState = "completed"
	DispatchFailed    DispatchState = "failed"
)

// DispatchAttempt is the durable idempotency record for one logical send.
type DispatchAttempt struct {
	Key               string
	MessageID         string
	State             DispatchState
	ProviderMessageID string
	SentAt            time.Time
	LastError         string
}

// ProcessedPatch is the decision metadata recorded on a processed message.
type ProcessedPatch struct {
	Intent          string `json:"intent"`
	EffectiveIntent string `json:"effective_intent"`
	Outcome         string `json:"outcome"`
	Reason          string `json:"reason,omitempty"`
	Provider        string `json:"provider"`
	DispatchKey     string `json:"dispatch_key,omitempty"`
}

// OutboundReply is the persisted record of a drafted or sent reply.
type OutboundReply struct {
	MessageID         string
	ConversationID    string
	Platform          string
	AccountID         string
	ThreadID          string
	Body              string
	Status            string
	ProviderMessageID string
	SentAt            time.Time
}

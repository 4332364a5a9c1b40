package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/leaseline/leasing-ai-platform/internal/audit"
	"github.com/leaseline/leasing-ai-platform/internal/connector"
	"github.com/leaseline/leasing-ai-platform/internal/intent"
	"github.com/leaseline/leasing-ai-platform/internal/observability/metrics"
	"github.com/leaseline/leasing-ai-platform/internal/queue"
	"github.com/leaseline/leasing-ai-platform/internal/reply"
	"github.com/leaseline/leasing-ai-platform/pkg/logging"
)

// Sender dispatches an outbound reply through the connector stack.
type Sender interface {
	Send(ctx context.Context, account connector.Account, payload connector.OutboundPayload) (*connector.SendResult, error)
}

// DeadLetterSink parks messages whose dispatch exhausted its retries.
type DeadLetterSink interface {
	Publish(ctx context.Context, dl queue.DeadLetter) error
}

// AuditLog records decision and dispatch events.
type AuditLog interface {
	LogDecision(ctx context.Context, platform, accountID, messageID, conversationID string, d audit.Details) error
	LogDispatch(ctx context.Context, eventType audit.EventType, platform, accountID, messageID string, d audit.Details) error
}

// Config tunes one processor instance.
type Config struct {
	WorkerID       string
	BatchSize      int
	LeaseTTL       time.Duration
	SlotLimit      int
	FallbackIntent intent.Intent
}

// Deps wires the processor's collaborators. Messages, Accounts, Rules, Slots,
// Replies, Dispatches, Pipeline, and Sender are required; the rest degrade to
// no-ops when nil.
type Deps struct {
	Messages   MessageStore
	Accounts   AccountStore
	Rules      RuleStore
	Slots      SlotStore
	Replies    ReplyStore
	Workflow   WorkflowStore
	Dispatches DispatchStore
	Pipeline   *reply.Pipeline
	Sender     Sender
	DLQ        DeadLetterSink
	Audit      AuditLog
	Metrics    *metrics.DecisionMetrics
}

// MessageStatus is the terminal status of one processed message.
type MessageStatus string

const (
	StatusSent          MessageStatus = "sent"
	StatusDrafted       MessageStatus = "drafted"
	StatusEscalated     MessageStatus = "escalated"
	StatusPolicyBlocked MessageStatus = "policy_blocked"
	StatusDuplicate     MessageStatus = "duplicate"
	StatusDeadLettered  MessageStatus = "dead_lettered"
	StatusFailed        MessageStatus = "failed"
)

// MessageResult is the per-message outcome of one batch run.
type MessageResult struct {
	MessageID string
	Platform  string
	Status    MessageStatus
	Reason    string
	Stage     string
	Err       string
}

// Counters aggregates one batch run for the caller.
type Counters struct {
	Decisions            map[string]int
	Escalations          map[string]int
	Sent                 int
	Drafted              int
	Escalated            int
	DuplicatesSuppressed int
	DeadLettered         int
	StageFailures        map[string]map[string]int
}

func newCounters() Counters {
	return Counters{
		Decisions:     make(map[string]int),
		Escalations:   make(map[string]int),
		StageFailures: make(map[string]map[string]int),
	}
}

func (c *Counters) stageFailure(platform, stage string) {
	if c.StageFailures[platform] == nil {
		c.StageFailures[platform] = make(map[string]int)
	}
	c.StageFailures[platform][stage]++
}

// Summary is the result of one ProcessPendingMessages call.
type Summary struct {
	Scanned        int
	RepliesCreated int
	Results        []MessageResult
	Counters       Counters
}

// Processor is the decision-and-dispatch worker.
type Processor struct {
	cfg    Config
	deps   Deps
	logger *logging.Logger
	now    func() time.Time
}

// ProcessorOption customizes processor construction.
type ProcessorOption func(*Processor)

// WithProcessorClock injects the time source.
func WithProcessorClock(now func() time.Time) ProcessorOption {
	return func(p *Processor) {
		if now != nil {
			p.now = now
		}
	}
}

// NewProcessor builds a worker from its collaborators.
func NewProcessor(cfg Config, deps Deps, logger *logging.Logger, opts ...ProcessorOption) *Processor {
	if deps.Messages == nil {
		panic("orchestrator: message store required")
	}
	if deps.Accounts == nil {
		panic("orchestrator: account store required")
	}
	if deps.Rules == nil {
		panic("orchestrator: rule store required")
	}
	if deps.Slots == nil {
		panic("orchestrator: slot store required")
	}
	if deps.Replies == nil {
		panic("orchestrator: reply store required")
	}
	if deps.Dispatches == nil {
		panic("orchestrator: dispatch store required")
	}
	if deps.Pipeline == nil {
		panic("orchestrator: reply pipeline required")
	}
	if deps.Sender == nil {
		panic("orchestrator: connector sender required")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 25
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = 5 * time.Minute
	}
	if cfg.SlotLimit <= 0 {
		cfg.SlotLimit = 3
	}
	if cfg.FallbackIntent == "" {
		cfg.FallbackIntent = intent.IntentTourRequest
	}
	if logger == nil {
		logger = logging.Default()
	}
	p := &Processor{cfg: cfg, deps: deps, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ProcessPendingMessages claims one batch and runs each message through the
// decision flow. One message's failure never aborts the batch.
func (p *Processor) ProcessPendingMessages(ctx context.Context) (*Summary, error) {
	messages, err := p.deps.Messages.FetchPending(ctx, p.cfg.BatchSize, p.now(), p.cfg.WorkerID, p.cfg.LeaseTTL)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: fetch pending: %w", err)
	}

	summary := &Summary{Scanned: len(messages), Counters: newCounters()}
	for _, msg := range messages {
		res := p.processOne(ctx, msg)
		summary.Results = append(summary.Results, res)
		p.tally(summary, res)
	}
	return summary, nil
}

func (p *Processor) tally(summary *Summary, res MessageResult) {
	c := &summary.Counters
	switch res.Status {
	case StatusSent:
		c.Sent++
		c.Decisions[string(reply.OutcomeSend)]++
		summary.RepliesCreated++
	case StatusDrafted:
		c.Drafted++
		c.Decisions[string(reply.OutcomeDraft)]++
		summary.RepliesCreated++
	case StatusEscalated:
		c.Escalated++
		c.Decisions[string(reply.OutcomeEscalate)]++
		c.Escalations[res.Reason]++
	case StatusDuplicate:
		c.DuplicatesSuppressed++
		c.Decisions[string(reply.OutcomeSend)]++
	case StatusDeadLettered:
		c.DeadLettered++
		c.stageFailure(res.Platform, res.Stage)
	case StatusFailed:
		c.stageFailure(res.Platform, res.Stage)
	}
}

func (p *Processor) processOne(ctx context.Context, msg InboundMessage) MessageResult {
	failed := func(stage string, err error) MessageResult {
		p.logger.Error("message processing failed",
			"message_id", msg.ID, "platform", msg.Platform, "stage", stage, "error", err)
		p.deps.Metrics.ObserveStageFailure(msg.Platform, stage)
		return MessageResult{
			MessageID: msg.ID,
			Platform:  msg.Platform,
			Status:    StatusFailed,
			Stage:     stage,
			Err:       err.Error(),
		}
	}

	account, err := p.deps.Accounts.GetByID(ctx, msg.PlatformAccountID)
	if err != nil {
		return failed("account", err)
	}

	if !account.Policy.Active {
		if err := p.deps.Messages.MarkProcessed(ctx, msg.ID, ProcessedPatch{Outcome: "policy_blocked"}); err != nil {
			return failed("persist", err)
		}
		p.logger.Info("skipping inactive platform account",
			"message_id", msg.ID, "platform", msg.Platform, "account_id", account.AccountID)
		return MessageResult{MessageID: msg.ID, Platform: msg.Platform, Status: StatusPolicyBlocked}
	}

	heur := intent.Classify(msg.Body)
	rule, err := p.deps.Rules.FindRule(ctx, account.ID, heur.Intent, p.cfg.FallbackIntent)
	if err != nil {
		return failed("rules", err)
	}
	var tpl *reply.Template
	if rule != nil && rule.TemplateName != "" {
		tpl, err = p.deps.Rules.FindTemplate(ctx, account.ID, rule.TemplateName)
		if err != nil {
			return failed("rules", err)
		}
	}

	var slotLabels []string
	if msg.UnitID != "" {
		slots, err := p.deps.Slots.FetchSlotOptions(ctx, msg.UnitID, p.cfg.SlotLimit)
		if err != nil {
			return failed("slots", err)
		}
		for _, slot := range slots {
			slotLabels = append(slotLabels, slot.Label)
		}
	}

	started := time.Now()
	decision := p.deps.Pipeline.Evaluate(ctx, reply.Input{
		Body:             msg.Body,
		HadPriorOutbound: msg.HadPriorOutbound,
		FallbackIntent:   p.cfg.FallbackIntent,
		Rule:             rule,
		Template:         tpl,
		Context: reply.RenderContext{
			UnitLabel:  msg.UnitLabel,
			SlotLabels: slotLabels,
			LeadName:   msg.LeadName,
		},
		AutoSend: account.Policy.AutoSend,
	})
	p.deps.Metrics.ObservePipelineLatency(string(decision.Outcome), time.Since(started).Seconds())
	p.deps.Metrics.ObserveDecision(string(decision.Outcome))

	patch := ProcessedPatch{
		Intent:          string(decision.PolicyIntent),
		EffectiveIntent: string(decision.EffectiveIntent),
		Outcome:         string(decision.Outcome),
		Reason:          decision.Eligibility.Reason,
		Provider:        string(decision.Provider),
	}
	var dispatchKey string
	if decision.Outcome == reply.OutcomeSend {
		dispatchKey = DispatchKey(msg.ID, msg.ConversationID, msg.ThreadID,
			string(decision.Outcome), decision.Body, string(decision.PolicyIntent))
		patch.DispatchKey = dispatchKey
	}
	if err := p.deps.Messages.MarkProcessed(ctx, msg.ID, patch); err != nil {
		return failed("persist", err)
	}
	p.auditDecision(ctx, msg, account, decision)

	switch decision.Outcome {
	case reply.OutcomeEscalate:
		return p.escalate(ctx, msg, account, decision)
	case reply.OutcomeDraft:
		return p.draft(ctx, msg, account, decision, failed)
	default:
		return p.dispatch(ctx, msg, account, decision, dispatchKey, failed)
	}
}

func (p *Processor) auditDecision(ctx context.Context, msg InboundMessage, account *PlatformAccount, decision reply.Result) {
	if p.deps.Audit == nil {
		return
	}
	err := p.deps.Audit.LogDecision(ctx, msg.Platform, account.AccountID, msg.ID, msg.ConversationID, audit.Details{
		Intent:   string(decision.EffectiveIntent),
		Outcome:  string(decision.Outcome),
		Reason:   decision.Eligibility.Reason,
		Provider: string(decision.Provider),
	})
	if err != nil {
		p.logger.Warn("audit decision log failed", "message_id", msg.ID, "error", err)
	}
}

func (p *Processor) auditDispatch(ctx context.Context, eventType audit.EventType, msg InboundMessage, account *PlatformAccount, d audit.Details) {
	if p.deps.Audit == nil {
		return
	}
	if err := p.deps.Audit.LogDispatch(ctx, eventType, msg.Platform, account.AccountID, msg.ID, d); err != nil {
		p.logger.Warn("audit dispatch log failed", "message_id", msg.ID, "error", err)
	}
}

func (p *Processor) escalate(ctx context.Context, msg InboundMessage, account *PlatformAccount, decision reply.Result) MessageResult {
	reason := decision.Eligibility.Reason
	p.deps.Metrics.ObserveEscalation(reason)
	if p.deps.Workflow != nil {
		if err := p.deps.Workflow.Transition(ctx, msg.ConversationID, "human_required", reason); err != nil {
			p.logger.Warn("workflow transition failed",
				"message_id", msg.ID, "conversation_id", msg.ConversationID, "error", err)
		}
	}
	p.auditDispatch(ctx, audit.EventEscalated, msg, account, audit.Details{Reason: reason})
	return MessageResult{MessageID: msg.ID, Platform: msg.Platform, Status: StatusEscalated, Reason: reason}
}

func (p *Processor) draft(ctx context.Context, msg InboundMessage, account *PlatformAccount, decision reply.Result, failed func(string, error) MessageResult) MessageResult {
	err := p.deps.Replies.RecordReply(ctx, OutboundReply{
		MessageID:      msg.ID,
		ConversationID: msg.ConversationID,
		Platform:       msg.Platform,
		AccountID:      account.AccountID,
		ThreadID:       msg.ThreadID,
		Body:           decision.Body,
		Status:         "draft",
	})
	if err != nil {
		return failed("persist", err)
	}
	p.auditDispatch(ctx, audit.EventReplyDrafted, msg, account, audit.Details{
		Intent:  string(decision.EffectiveIntent),
		Outcome: string(decision.Outcome),
	})
	return MessageResult{MessageID: msg.ID, Platform: msg.Platform, Status: StatusDrafted}
}

func (p *Processor) dispatch(ctx context.Context, msg InboundMessage, account *PlatformAccount, decision reply.Result, key string, failed func(string, error) MessageResult) MessageResult {
	attempt, created, err := p.deps.Dispatches.Begin(ctx, key, msg.ID)
	if err != nil {
		return failed("dispatch", err)
	}
	if !created {
		p.deps.Metrics.ObserveDuplicateSuppressed()
		p.auditDispatch(ctx, audit.EventDuplicateSuppressed, msg, account, audit.Details{
			DispatchKey: key,
			ReceiptID:   attempt.ProviderMessageID,
		})
		p.logger.Info("duplicate dispatch suppressed",
			"message_id", msg.ID, "dispatch_key", key, "receipt_id", attempt.ProviderMessageID)
		return MessageResult{MessageID: msg.ID, Platform: msg.Platform, Status: StatusDuplicate}
	}

	sendRes, err := p.deps.Sender.Send(ctx, account.ConnectorAccount(), connector.OutboundPayload{
		ThreadID: msg.ThreadID,
		Body:     decision.Body,
	})
	if err != nil {
		if failErr := p.deps.Dispatches.Fail(ctx, key, err.Error()); failErr != nil {
			p.logger.Error("failed to record dispatch failure", "message_id", msg.ID, "error", failErr)
		}
		p.deps.Metrics.ObserveDispatch(msg.Platform, "failed")

		attempts := 0
		exhausted := false
		if sendRes != nil {
			attempts = sendRes.Meta.Attempts
			exhausted = sendRes.Meta.Exhausted
		}
		p.auditDispatch(ctx, audit.EventDispatchFailed, msg, account, audit.Details{
			Stage:       "dispatch",
			ErrorKind:   string(connector.KindOf(err)),
			ErrorDetail: err.Error(),
			Attempts:    attempts,
			Exhausted:   exhausted,
			DispatchKey: key,
		})

		if exhausted {
			return p.deadLetter(ctx, msg, account, key, attempts, err)
		}
		return failed("dispatch", err)
	}

	receiptID := ""
	if sendRes.Receipt != nil {
		receiptID = sendRes.Receipt.ProviderMessageID
	}
	sentAt := p.now().UTC()
	if err := p.deps.Dispatches.Complete(ctx, key, receiptID, sentAt); err != nil {
		return failed("dispatch", err)
	}
	err = p.deps.Replies.RecordReply(ctx, OutboundReply{
		MessageID:         msg.ID,
		ConversationID:    msg.ConversationID,
		Platform:          msg.Platform,
		AccountID:         account.AccountID,
		ThreadID:          msg.ThreadID,
		Body:              decision.Body,
		Status:            "sent",
		ProviderMessageID: receiptID,
		SentAt:            sentAt,
	})
	if err != nil {
		return failed("persist", err)
	}
	p.deps.Metrics.ObserveDispatch(msg.Platform, "sent")
	p.auditDispatch(ctx, audit.EventReplySent, msg, account, audit.Details{
		DispatchKey: key,
		ReceiptID:   receiptID,
		Attempts:    sendRes.Meta.Attempts,
	})
	return MessageResult{MessageID: msg.ID, Platform: msg.Platform, Status: StatusSent}
}

func (p *Processor) deadLetter(ctx context.Context, msg InboundMessage, account *PlatformAccount, key string, attempts int, cause error) MessageResult {
	p.deps.Metrics.ObserveDeadLetter(msg.Platform)
	if p.deps.DLQ != nil {
		err := p.deps.DLQ.Publish(ctx, queue.DeadLetter{
			MessageID:   msg.ID,
			Platform:    msg.Platform,
			AccountID:   account.AccountID,
			ThreadID:    msg.ThreadID,
			Stage:       "dispatch",
			ErrorKind:   string(connector.KindOf(cause)),
			ErrorDetail: cause.Error(),
			Attempts:    attempts,
		})
		if err != nil {
			p.logger.Error("dead-letter publish failed", "message_id", msg.ID, "error", err)
		}
	}
	p.auditDispatch(ctx, audit.EventDeadLettered, msg, account, audit.Details{
		Stage:       "dispatch",
		ErrorKind:   string(connector.KindOf(cause)),
		ErrorDetail: cause.Error(),
		Attempts:    attempts,
		Exhausted:   true,
		DispatchKey: key,
	})
	p.logger.Error("message routed to dead-letter queue",
		"message_id", msg.ID, "platform", msg.Platform, "attempts", attempts, "error", cause)
	return MessageResult{
		MessageID: msg.ID,
		Platform:  msg.Platform,
		Status:    StatusDeadLettered,
		Stage:     "dispatch",
		Err:       cause.Error(),
	}
}

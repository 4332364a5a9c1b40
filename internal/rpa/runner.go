package rpa

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/leaseline/leasing-ai-platform/internal/connector"
	"github.com/leaseline/leasing-ai-platform/pkg/logging"
)

// Runner executes ingest/send actions by driving a browser through the
// platform's adapter configuration. It implements connector.Executor.
type Runner struct {
	adapters *AdapterTable
	drivers  DriverFactory
	now      func() time.Time
	logger   *logging.Logger
}

var _ connector.Executor = (*Runner)(nil)

// RunnerOption customizes runner behavior.
type RunnerOption func(*Runner)

// WithRunnerClock injects the time source.
func WithRunnerClock(now func() time.Time) RunnerOption {
	return func(r *Runner) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRunner builds a runner over the adapter table and driver factory.
func NewRunner(adapters *AdapterTable, drivers DriverFactory, logger *logging.Logger, opts ...RunnerOption) *Runner {
	if adapters == nil {
		panic("rpa: adapter table cannot be nil")
	}
	if drivers == nil {
		panic("rpa: driver factory cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	r := &Runner{adapters: adapters, drivers: drivers, now: time.Now, logger: logger}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Execute performs one action. Challenge, CAPTCHA, and login walls are
// detected before any read/write and surface as typed retryable errors.
func (r *Runner) Execute(ctx context.Context, req connector.ActionRequest) (*connector.ActionResult, error) {
	adapter, ok := r.adapters.Lookup(req.Platform)
	if !ok {
		return nil, connector.Fatal(connector.KindUnsupportedPlatform, "no adapter configured for platform %q", req.Platform)
	}

	switch req.Action {
	case connector.ActionIngest:
	case connector.ActionSend:
		if req.Payload == nil || strings.TrimSpace(req.Payload.ThreadID) == "" {
			return nil, connector.Fatal(connector.KindOutboundThreadRequired, "send on %q requires a thread id", req.Platform)
		}
		if strings.TrimSpace(req.Payload.Body) == "" {
			return nil, connector.Fatal(connector.KindOutboundBodyRequired, "send on %q requires a non-empty body", req.Platform)
		}
	default:
		return nil, connector.Fatal(connector.KindUnsupportedAction, "action %q not supported", req.Action)
	}

	driver, err := r.drivers.Acquire(ctx, req.Platform, req.AccountID)
	if err != nil {
		return nil, connector.Wrap(err, req.Platform, string(req.Action))
	}
	defer func() {
		if closeErr := driver.Close(context.WithoutCancel(ctx)); closeErr != nil {
			r.logger.Warn("failed to close browser context", "error", closeErr, "platform", req.Platform)
		}
	}()

	if req.SessionSnapshot != "" {
		if err := driver.RestoreSession(ctx, req.SessionSnapshot); err != nil {
			return nil, connector.Wrap(err, req.Platform, string(req.Action))
		}
	}

	targetURL := adapter.InboxURL()
	if req.Action == connector.ActionSend {
		targetURL = adapter.ThreadURL(req.Payload.ThreadID)
	}
	if err := driver.Navigate(ctx, targetURL); err != nil {
		return nil, connector.Wrap(err, req.Platform, string(req.Action))
	}

	if err := r.checkPageState(ctx, driver, adapter, req); err != nil {
		return nil, err
	}

	result := &connector.ActionResult{}
	switch req.Action {
	case connector.ActionIngest:
		messages, err := r.ingest(ctx, driver, adapter)
		if err != nil {
			return nil, connector.Wrap(err, req.Platform, string(req.Action))
		}
		result.Messages = messages
	case connector.ActionSend:
		receipt, err := r.send(ctx, driver, adapter, req)
		if err != nil {
			return nil, connector.Wrap(err, req.Platform, string(req.Action))
		}
		result.Receipt = receipt
	}

	if snapshot, err := driver.SnapshotSession(ctx); err == nil {
		result.SessionSnapshot = snapshot
	} else {
		r.logger.Warn("failed to snapshot session", "error", err, "platform", req.Platform, "account_id", req.AccountID)
	}

	return result, nil
}

// checkPageState tests for challenge, CAPTCHA, and login markers before any
// content is read or written.
func (r *Runner) checkPageState(ctx context.Context, driver Driver, adapter Adapter, req connector.ActionRequest) error {
	for _, marker := range adapter.CaptchaMarkers {
		present, err := driver.Exists(ctx, marker)
		if err != nil {
			return connector.Wrap(err, req.Platform, string(req.Action))
		}
		if present {
			r.logger.Warn("captcha detected", "platform", req.Platform, "account_id", req.AccountID, "attempt", req.Attempt)
			e := connector.Retryable(connector.KindCaptchaRequired, "captcha challenge on %q", req.Platform)
			e.Platform, e.Action = req.Platform, string(req.Action)
			return e
		}
	}
	for _, marker := range adapter.ChallengeMarkers {
		present, err := driver.Exists(ctx, marker)
		if err != nil {
			return connector.Wrap(err, req.Platform, string(req.Action))
		}
		if present {
			r.logger.Warn("bot challenge detected", "platform", req.Platform, "account_id", req.AccountID, "attempt", req.Attempt)
			e := connector.Retryable(connector.KindBotChallenge, "bot challenge on %q", req.Platform)
			e.Platform, e.Action = req.Platform, string(req.Action)
			return e
		}
	}
	for _, marker := range adapter.LoginMarkers {
		present, err := driver.Exists(ctx, marker)
		if err != nil {
			return connector.Wrap(err, req.Platform, string(req.Action))
		}
		if present {
			e := connector.Retryable(connector.KindSessionExpired, "login wall on %q", req.Platform)
			e.Platform, e.Action = req.Platform, string(req.Action)
			return e
		}
	}
	return nil
}

func (r *Runner) ingest(ctx context.Context, driver Driver, adapter Adapter) ([]connector.Message, error) {
	fields := map[string]string{
		"threadId":  "@" + adapter.ThreadIDAttr,
		"messageId": "@" + adapter.MessageIDAttr,
		"body":      adapter.BodySelector,
		"leadName":  adapter.LeadNameSelector,
		"sentAt":    adapter.SentAtSelector,
	}
	rows, err := driver.ExtractRows(ctx, adapter.MessageRowSelector, fields)
	if err != nil {
		return nil, err
	}

	messages := make([]connector.Message, 0, len(rows))
	for _, row := range rows {
		msg := connector.Message{
			ThreadID:  strings.TrimSpace(row["threadId"]),
			MessageID: strings.TrimSpace(row["messageId"]),
			Body:      strings.TrimSpace(row["body"]),
			LeadName:  strings.TrimSpace(row["leadName"]),
		}
		if msg.ThreadID == "" || msg.Body == "" {
			continue
		}
		if ts := strings.TrimSpace(row["sentAt"]); ts != "" {
			if parsed, err := time.Parse(time.RFC3339, ts); err == nil {
				msg.SentAt = parsed
			}
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

func (r *Runner) send(ctx context.Context, driver Driver, adapter Adapter, req connector.ActionRequest) (*connector.Receipt, error) {
	if err := driver.Fill(ctx, adapter.ComposerSelector, req.Payload.Body); err != nil {
		return nil, err
	}
	if err := driver.Click(ctx, adapter.SubmitSelector); err != nil {
		return nil, err
	}

	receipt := &connector.Receipt{
		Platform:          req.Platform,
		AccountID:         req.AccountID,
		ThreadID:          req.Payload.ThreadID,
		ProviderMessageID: uuid.NewString(),
		SentAt:            r.now().UTC(),
	}
	r.logger.Info("outbound reply submitted",
		"platform", req.Platform,
		"account_id", req.AccountID,
		"thread_id", req.Payload.ThreadID,
	)
	return receipt, nil
}

package connector

import (
	"context"
	"math/rand"
	"time"

	"github.com/leaseline/leasing-ai-platform/pkg/logging"
)

// SessionManager stores and invalidates browser session snapshots.
type SessionManager interface {
	Fetch(ctx context.Context, platform, accountID string) (string, error)
	Save(ctx context.Context, platform, accountID, snapshot string) error
	Invalidate(ctx context.Context, platform, accountID string) error
}

// CredentialSource resolves an account's credential references into an
// ephemeral plaintext map for one connector call.
type CredentialSource interface {
	ResolveForPlatform(ctx context.Context, platform string, raw map[string]string, sessionBased bool) (map[string]string, error)
}

// CallMeta reports retry bookkeeping for one ingest/send call.
type CallMeta struct {
	Attempts  int
	Exhausted bool
}

// IngestResult is the outcome of one resilient ingest call.
type IngestResult struct {
	Messages []Message
	Meta     CallMeta
}

// SendResult is the outcome of one resilient send call.
type SendResult struct {
	Receipt *Receipt
	Meta    CallMeta
}

// Registry wraps the action executor in pacing, circuit breaking, session
// recovery, and retry with backoff, per platform account.
type Registry struct {
	executor Executor
	pacing   *PacingGovernor
	breaker  *CircuitBreaker
	retry    RetryPolicy
	sessions SessionManager
	creds    CredentialSource

	sleep  Sleeper
	rng    *rand.Rand
	logger *logging.Logger
}

// RegistryOption customizes registry behavior.
type RegistryOption func(*Registry)

// WithRegistrySleeper injects the backoff suspend function.
func WithRegistrySleeper(sleep Sleeper) RegistryOption {
	return func(r *Registry) {
		if sleep != nil {
			r.sleep = sleep
		}
	}
}

// WithRegistryRand injects the jitter source for backoff delays.
func WithRegistryRand(rng *rand.Rand) RegistryOption {
	return func(r *Registry) {
		if rng != nil {
			r.rng = rng
		}
	}
}

// NewRegistry builds the resilience wrapper around executor.
func NewRegistry(executor Executor, pacing *PacingGovernor, breaker *CircuitBreaker, retry RetryPolicy, sessions SessionManager, creds CredentialSource, logger *logging.Logger, opts ...RegistryOption) *Registry {
	if executor == nil {
		panic("connector: executor cannot be nil")
	}
	if pacing == nil {
		panic("connector: pacing governor cannot be nil")
	}
	if breaker == nil {
		panic("connector: circuit breaker cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	r := &Registry{
		executor: executor,
		pacing:   pacing,
		breaker:  breaker,
		retry:    retry,
		sessions: sessions,
		creds:    creds,
		sleep:    SleepContext,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Ingest pulls the account's inbox through the resilience stack.
func (r *Registry) Ingest(ctx context.Context, account Account) (*IngestResult, error) {
	result, meta, err := r.call(ctx, account, ActionIngest, nil)
	if err != nil {
		return &IngestResult{Meta: meta}, err
	}
	return &IngestResult{Messages: result.Messages, Meta: meta}, nil
}

// Send submits an outbound reply through the resilience stack.
func (r *Registry) Send(ctx context.Context, account Account, payload OutboundPayload) (*SendResult, error) {
	result, meta, err := r.call(ctx, account, ActionSend, &payload)
	if err != nil {
		return &SendResult{Meta: meta}, err
	}
	return &SendResult{Receipt: result.Receipt, Meta: meta}, nil
}

// call runs pacing -> session fetch -> execute, retrying retryable failures
// with backoff, gated by the circuit breaker. Fatal errors return immediately
// without consuming retry budget.
func (r *Registry) call(ctx context.Context, account Account, action Action, payload *OutboundPayload) (*ActionResult, CallMeta, error) {
	meta := CallMeta{}

	creds := map[string]string{}
	if r.creds != nil {
		resolved, err := r.creds.ResolveForPlatform(ctx, account.Platform, account.CredentialRefs, account.SessionBased)
		if err != nil {
			return nil, meta, err
		}
		creds = resolved
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		meta.Attempts = attempt + 1

		if err := r.breaker.Allow(account.Platform, account.AccountID, string(action)); err != nil {
			return nil, meta, err
		}

		if err := r.pacing.Wait(ctx, account.Platform, account.AccountID, string(action)); err != nil {
			r.breaker.CancelProbe(account.Platform, account.AccountID, string(action))
			return nil, meta, err
		}

		var snapshot string
		if r.sessions != nil {
			fetched, err := r.sessions.Fetch(ctx, account.Platform, account.AccountID)
			if err != nil {
				r.logger.Warn("session fetch failed; proceeding without snapshot",
					"error", err, "platform", account.Platform, "account_id", account.AccountID)
			} else {
				snapshot = fetched
			}
		}

		result, err := r.executor.Execute(ctx, ActionRequest{
			Platform:        account.Platform,
			Action:          action,
			AccountID:       account.AccountID,
			Credentials:     creds,
			Payload:         payload,
			SessionSnapshot: snapshot,
			Attempt:         attempt,
		})
		if err == nil {
			r.breaker.OnSuccess(account.Platform, account.AccountID, string(action))
			if r.sessions != nil && result.SessionSnapshot != "" {
				if saveErr := r.sessions.Save(ctx, account.Platform, account.AccountID, result.SessionSnapshot); saveErr != nil {
					r.logger.Warn("failed to save session snapshot",
						"error", saveErr, "platform", account.Platform, "account_id", account.AccountID)
				}
			}
			return result, meta, nil
		}
		lastErr = err

		if !IsRetryable(err) {
			r.breaker.CancelProbe(account.Platform, account.AccountID, string(action))
			return nil, meta, err
		}

		r.breaker.OnFailure(account.Platform, account.AccountID, string(action))

		if NeedsSessionRefresh(err) && r.sessions != nil {
			r.logger.Warn("requesting session refresh",
				"platform", account.Platform,
				"account_id", account.AccountID,
				"kind", string(KindOf(err)),
			)
			if refreshErr := r.sessions.Invalidate(ctx, account.Platform, account.AccountID); refreshErr != nil {
				r.logger.Error("session refresh request failed",
					"error", refreshErr, "platform", account.Platform, "account_id", account.AccountID)
			}
		}

		if attempt >= r.retry.MaxRetries {
			meta.Exhausted = true
			r.logger.Error("retries exhausted",
				"platform", account.Platform,
				"account_id", account.AccountID,
				"action", string(action),
				"attempts", meta.Attempts,
				"error", err,
			)
			return nil, meta, lastErr
		}

		delay := r.retry.Jittered(r.retry.Backoff(attempt), r.rng)
		r.logger.Warn("action failed; backing off",
			"platform", account.Platform,
			"account_id", account.AccountID,
			"action", string(action),
			"attempt", attempt,
			"delay", delay,
			"error", err,
		)
		if err := r.sleep(ctx, delay); err != nil {
			return nil, meta, err
		}
	}
}

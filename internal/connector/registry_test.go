package connector

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leaseline/leasing-ai-platform/pkg/logging"
)

type scriptedExecutor struct {
	requests  []ActionRequest
	responses []func() (*ActionResult, error)
}

func (e *scriptedExecutor) Execute(_ context.Context, req ActionRequest) (*ActionResult, error) {
	e.requests = append(e.requests, req)
	idx := len(e.requests) - 1
	if idx >= len(e.responses) {
		idx = len(e.responses) - 1
	}
	return e.responses[idx]()
}

func ok(result *ActionResult) func() (*ActionResult, error) {
	return func() (*ActionResult, error) { return result, nil }
}

func fail(err error) func() (*ActionResult, error) {
	return func() (*ActionResult, error) { return nil, err }
}

type fakeSessions struct {
	snapshots   map[string]string
	invalidated []string
	saved       []string
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{snapshots: make(map[string]string)}
}

func (s *fakeSessions) Fetch(_ context.Context, platform, accountID string) (string, error) {
	return s.snapshots[platform+":"+accountID], nil
}

func (s *fakeSessions) Save(_ context.Context, platform, accountID, snapshot string) error {
	s.snapshots[platform+":"+accountID] = snapshot
	s.saved = append(s.saved, snapshot)
	return nil
}

func (s *fakeSessions) Invalidate(_ context.Context, platform, accountID string) error {
	delete(s.snapshots, platform+":"+accountID)
	s.invalidated = append(s.invalidated, platform+":"+accountID)
	return nil
}

type fakeCreds struct {
	resolved map[string]string
	err      error
	calls    int
}

func (c *fakeCreds) ResolveForPlatform(_ context.Context, _ string, _ map[string]string, _ bool) (map[string]string, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return c.resolved, nil
}

type registryHarness struct {
	registry *Registry
	executor *scriptedExecutor
	sessions *fakeSessions
	creds    *fakeCreds
	breaker  *CircuitBreaker
	clock    *fakeClock
	sleeps   []time.Duration
}

func newRegistryHarness(t *testing.T, responses ...func() (*ActionResult, error)) *registryHarness {
	// A high threshold keeps the breaker out of the way in retry-focused tests.
	return newRegistryHarnessWithBreaker(t, BreakerConfig{FailureThreshold: 100, Cooldown: 30 * time.Second}, responses...)
}

func newRegistryHarnessWithBreaker(t *testing.T, cfg BreakerConfig, responses ...func() (*ActionResult, error)) *registryHarness {
	t.Helper()
	clock := newFakeClock()
	h := &registryHarness{
		executor: &scriptedExecutor{responses: responses},
		sessions: newFakeSessions(),
		creds:    &fakeCreds{resolved: map[string]string{"username": "agent", "password": "pw"}},
		clock:    clock,
	}
	h.breaker = NewCircuitBreaker(cfg, WithBreakerClock(clock.Now))
	pacing := NewPacingGovernor(nil, PacingRule{},
		WithPacingClock(clock.Now),
		WithPacingSleeper(clock.Sleeper()),
	)
	retry := DefaultRetryPolicy()
	retry.JitterRatio = 0 // exact backoff schedule for assertions
	h.registry = NewRegistry(
		h.executor,
		pacing,
		h.breaker,
		retry,
		h.sessions,
		h.creds,
		logging.Default(),
		WithRegistrySleeper(func(_ context.Context, d time.Duration) error {
			h.sleeps = append(h.sleeps, d)
			return nil
		}),
	)
	return h
}

func testAccount() Account {
	return Account{
		Platform:  "zillow",
		AccountID: "acct-1",
		CredentialRefs: map[string]string{
			"username": "env:ZILLOW_USER",
			"password": "env:ZILLOW_PASS",
		},
	}
}

func TestRegistryIngestSuccess(t *testing.T) {
	h := newRegistryHarness(t, ok(&ActionResult{
		Messages:        []Message{{ThreadID: "th-1", Body: "Is the 2BR still open?"}},
		SessionSnapshot: "cookie-jar",
	}))

	res, err := h.registry.Ingest(context.Background(), testAccount())
	require.NoError(t, err)
	require.Len(t, res.Messages, 1)
	assert.Equal(t, "th-1", res.Messages[0].ThreadID)
	assert.Equal(t, CallMeta{Attempts: 1}, res.Meta)

	require.Len(t, h.executor.requests, 1)
	req := h.executor.requests[0]
	assert.Equal(t, ActionIngest, req.Action)
	assert.Equal(t, "agent", req.Credentials["username"])
	assert.Equal(t, 1, h.creds.calls, "credentials resolved once per call")
	assert.Equal(t, []string{"cookie-jar"}, h.sessions.saved)
}

func TestRegistrySendSuccess(t *testing.T) {
	receipt := &Receipt{ProviderMessageID: "pm-9"}
	h := newRegistryHarness(t, ok(&ActionResult{Receipt: receipt}))

	res, err := h.registry.Send(context.Background(), testAccount(), OutboundPayload{
		ThreadID: "th-1",
		Body:     "We have tours Saturday at 10am.",
	})
	require.NoError(t, err)
	assert.Equal(t, receipt, res.Receipt)
	assert.Equal(t, 1, res.Meta.Attempts)

	require.Len(t, h.executor.requests, 1)
	require.NotNil(t, h.executor.requests[0].Payload)
	assert.Equal(t, "th-1", h.executor.requests[0].Payload.ThreadID)
}

func TestRegistryRetriesTransientFailures(t *testing.T) {
	h := newRegistryHarness(t,
		fail(Retryable(KindAutomation, "selector missing")),
		fail(Retryable(KindAutomation, "selector missing")),
		ok(&ActionResult{Receipt: &Receipt{ProviderMessageID: "pm-1"}}),
	)

	res, err := h.registry.Send(context.Background(), testAccount(), OutboundPayload{ThreadID: "t", Body: "b"})
	require.NoError(t, err)
	assert.Equal(t, CallMeta{Attempts: 3}, res.Meta)
	assert.Equal(t, []time.Duration{250 * time.Millisecond, 500 * time.Millisecond}, h.sleeps)
	assert.Equal(t, []int{0, 1, 2}, attempts(h.executor.requests))
}

func attempts(reqs []ActionRequest) []int {
	out := make([]int, len(reqs))
	for i, r := range reqs {
		out[i] = r.Attempt
	}
	return out
}

func TestRegistryFatalErrorReturnsImmediately(t *testing.T) {
	h := newRegistryHarness(t, fail(Fatal(KindUnsupportedPlatform, "craigslist")))

	_, err := h.registry.Ingest(context.Background(), testAccount())
	require.Error(t, err)
	assert.Equal(t, KindUnsupportedPlatform, KindOf(err))
	assert.Len(t, h.executor.requests, 1)
	assert.Empty(t, h.sleeps)
	assert.Equal(t, BreakerClosed, h.breaker.State("zillow", "acct-1", "ingest"),
		"fatal errors must not trip the breaker")
}

func TestRegistrySessionRefreshOnExpiry(t *testing.T) {
	h := newRegistryHarness(t,
		fail(Retryable(KindSessionExpired, "login wall")),
		ok(&ActionResult{SessionSnapshot: "fresh"}),
	)
	h.sessions.snapshots["zillow:acct-1"] = "stale"

	res, err := h.registry.Ingest(context.Background(), testAccount())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Meta.Attempts)

	assert.Equal(t, []string{"zillow:acct-1"}, h.sessions.invalidated)
	assert.Equal(t, "stale", h.executor.requests[0].SessionSnapshot)
	assert.Empty(t, h.executor.requests[1].SessionSnapshot, "retry runs without the stale snapshot")
	assert.Equal(t, "fresh", h.sessions.snapshots["zillow:acct-1"])
}

func TestRegistryExhaustsRetryBudget(t *testing.T) {
	h := newRegistryHarness(t, fail(Retryable(KindAutomation, "timeout")))

	res, err := h.registry.Ingest(context.Background(), testAccount())
	require.Error(t, err)
	assert.Equal(t, KindAutomation, KindOf(err))
	assert.True(t, res.Meta.Exhausted)
	assert.Equal(t, 4, res.Meta.Attempts, "initial attempt plus three retries")
	assert.Len(t, h.sleeps, 3)
}

func TestRegistryFailsFastWhenCircuitOpens(t *testing.T) {
	cfg := BreakerConfig{FailureThreshold: 2, Cooldown: 30 * time.Second}
	h := newRegistryHarnessWithBreaker(t, cfg, fail(Retryable(KindAutomation, "timeout")))

	// Two failures open the circuit; the next attempt inside the same call
	// fails fast instead of burning the rest of the retry budget.
	res, err := h.registry.Send(context.Background(), testAccount(), OutboundPayload{ThreadID: "t", Body: "b"})
	require.Error(t, err)
	assert.Equal(t, KindCircuitOpen, KindOf(err))
	assert.Equal(t, 3, res.Meta.Attempts)
	require.Equal(t, BreakerOpen, h.breaker.State("zillow", "acct-1", "send"))
	require.Len(t, h.executor.requests, 2)

	res, err = h.registry.Send(context.Background(), testAccount(), OutboundPayload{ThreadID: "t", Body: "b"})
	require.Error(t, err)
	assert.Equal(t, KindCircuitOpen, KindOf(err))
	assert.False(t, res.Meta.Exhausted)
	assert.Len(t, h.executor.requests, 2, "open circuit must not reach the executor")
}

func TestRegistryFatalProbeReopensCircuit(t *testing.T) {
	cfg := BreakerConfig{FailureThreshold: 2, Cooldown: 30 * time.Second}
	h := newRegistryHarnessWithBreaker(t, cfg,
		fail(Retryable(KindAutomation, "timeout")),
		fail(Retryable(KindAutomation, "timeout")),
		fail(Fatal(KindUnsupportedAction, "archive not supported on zillow")),
		ok(&ActionResult{Receipt: &Receipt{ProviderMessageID: "pm-2"}}),
	)

	_, err := h.registry.Send(context.Background(), testAccount(), OutboundPayload{ThreadID: "t", Body: "b"})
	require.Error(t, err)
	require.Equal(t, BreakerOpen, h.breaker.State("zillow", "acct-1", "send"))

	// The probe admitted after the cooldown fails fatally. The circuit must
	// reopen rather than strand the in-flight probe.
	h.clock.Advance(31 * time.Second)
	_, err = h.registry.Send(context.Background(), testAccount(), OutboundPayload{ThreadID: "t", Body: "b"})
	require.Error(t, err)
	assert.Equal(t, KindUnsupportedAction, KindOf(err))
	assert.Equal(t, BreakerOpen, h.breaker.State("zillow", "acct-1", "send"))

	h.clock.Advance(31 * time.Second)
	res, err := h.registry.Send(context.Background(), testAccount(), OutboundPayload{ThreadID: "t", Body: "b"})
	require.NoError(t, err)
	assert.Equal(t, "pm-2", res.Receipt.ProviderMessageID)
	assert.Equal(t, BreakerClosed, h.breaker.State("zillow", "acct-1", "send"))
}

func TestRegistryCredentialFailureSkipsExecution(t *testing.T) {
	h := newRegistryHarness(t, ok(&ActionResult{}))
	h.creds.err = Fatal(KindCredentialMissing, "password not configured for zillow")

	_, err := h.registry.Ingest(context.Background(), testAccount())
	require.Error(t, err)
	assert.Equal(t, KindCredentialMissing, KindOf(err))
	assert.Empty(t, h.executor.requests)
}

package connector

import (
	"sync"
	"time"
)

// BreakerState is the lifecycle state of one circuit.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// BreakerEventType labels observable breaker transitions.
type BreakerEventType string

const (
	BreakerEventOpened   BreakerEventType = "opened"
	BreakerEventHalfOpen BreakerEventType = "half_open"
	BreakerEventClosed   BreakerEventType = "closed"
	BreakerEventReopened BreakerEventType = "reopened"
)

// BreakerEvent is emitted on every state transition so operators can alert.
type BreakerEvent struct {
	Type      BreakerEventType
	Platform  string
	AccountID string
	Action    string
	Failures  int
	Threshold int
}

// BreakerConfig tunes failure tracking per circuit.
type BreakerConfig struct {
	FailureThreshold int
	Cooldown         time.Duration
}

// DefaultBreakerConfig opens after 3 consecutive failures with a 30s cooldown.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{FailureThreshold: 3, Cooldown: 30 * time.Second}
}

type circuit struct {
	state         BreakerState
	failures      int
	openedAt      time.Time
	probeInFlight bool
}

// CircuitBreaker tracks failures per platform/account/action key and fails
// fast once a threshold is exceeded.
type CircuitBreaker struct {
	mu       sync.Mutex
	circuits map[string]*circuit
	cfg      BreakerConfig
	now      func() time.Time
	onEvent  func(BreakerEvent)
}

// BreakerOption customizes breaker behavior.
type BreakerOption func(*CircuitBreaker)

// WithBreakerClock injects the time source.
func WithBreakerClock(now func() time.Time) BreakerOption {
	return func(b *CircuitBreaker) {
		if now != nil {
			b.now = now
		}
	}
}

// WithBreakerEvents registers a transition observer.
func WithBreakerEvents(fn func(BreakerEvent)) BreakerOption {
	return func(b *CircuitBreaker) {
		b.onEvent = fn
	}
}

// NewCircuitBreaker builds a breaker with the given config.
func NewCircuitBreaker(cfg BreakerConfig, opts ...BreakerOption) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultBreakerConfig().FailureThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultBreakerConfig().Cooldown
	}
	b := &CircuitBreaker{
		circuits: make(map[string]*circuit),
		cfg:      cfg,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *CircuitBreaker) emit(evt BreakerEvent) {
	if b.onEvent != nil {
		b.onEvent(evt)
	}
}

func (b *CircuitBreaker) get(key string) *circuit {
	c, ok := b.circuits[key]
	if !ok {
		c = &circuit{state: BreakerClosed}
		b.circuits[key] = c
	}
	return c
}

// Allow gates one call attempt. It returns a non-retryable circuit-open error
// while the circuit is open or a half-open probe is already in flight. After
// the cooldown elapses the next caller becomes the single half-open probe.
func (b *CircuitBreaker) Allow(platform, accountID, action string) error {
	key := pacingKey(platform, accountID, action)

	b.mu.Lock()
	defer b.mu.Unlock()
	c := b.get(key)

	switch c.state {
	case BreakerClosed:
		return nil
	case BreakerOpen:
		remaining := c.openedAt.Add(b.cfg.Cooldown).Sub(b.now())
		if remaining > 0 {
			return CircuitOpen(platform, accountID, action, remaining)
		}
		c.state = BreakerHalfOpen
		c.probeInFlight = true
		b.emit(BreakerEvent{Type: BreakerEventHalfOpen, Platform: platform, AccountID: accountID, Action: action, Failures: c.failures, Threshold: b.cfg.FailureThreshold})
		return nil
	case BreakerHalfOpen:
		if c.probeInFlight {
			return CircuitOpen(platform, accountID, action, b.cfg.Cooldown)
		}
		c.probeInFlight = true
		return nil
	}
	return nil
}

// OnSuccess records a successful call, resetting a half-open probe to closed.
func (b *CircuitBreaker) OnSuccess(platform, accountID, action string) {
	key := pacingKey(platform, accountID, action)

	b.mu.Lock()
	defer b.mu.Unlock()
	c := b.get(key)

	prev := c.state
	c.failures = 0
	c.probeInFlight = false
	c.state = BreakerClosed
	if prev != BreakerClosed {
		b.emit(BreakerEvent{Type: BreakerEventClosed, Platform: platform, AccountID: accountID, Action: action, Threshold: b.cfg.FailureThreshold})
	}
}

// OnFailure records a failed call. Reaching the threshold opens the circuit;
// a half-open probe failure reopens it immediately.
func (b *CircuitBreaker) OnFailure(platform, accountID, action string) {
	key := pacingKey(platform, accountID, action)

	b.mu.Lock()
	defer b.mu.Unlock()
	c := b.get(key)

	switch c.state {
	case BreakerHalfOpen:
		c.state = BreakerOpen
		c.openedAt = b.now()
		c.probeInFlight = false
		c.failures++
		b.emit(BreakerEvent{Type: BreakerEventReopened, Platform: platform, AccountID: accountID, Action: action, Failures: c.failures, Threshold: b.cfg.FailureThreshold})
	case BreakerClosed:
		c.failures++
		if c.failures >= b.cfg.FailureThreshold {
			c.state = BreakerOpen
			c.openedAt = b.now()
			b.emit(BreakerEvent{Type: BreakerEventOpened, Platform: platform, AccountID: accountID, Action: action, Failures: c.failures, Threshold: b.cfg.FailureThreshold})
		}
	case BreakerOpen:
		c.failures++
	}
}

// CancelProbe reopens the circuit when an admitted half-open probe ends
// without reaching OnSuccess or OnFailure, such as a fatal executor error or
// a cancelled context. Without it the in-flight probe flag would never clear
// and the key would reject callers until process restart. A later caller can
// probe again once the fresh cooldown elapses. No-op outside half-open.
func (b *CircuitBreaker) CancelProbe(platform, accountID, action string) {
	key := pacingKey(platform, accountID, action)

	b.mu.Lock()
	defer b.mu.Unlock()
	c := b.get(key)

	if c.state != BreakerHalfOpen || !c.probeInFlight {
		return
	}
	c.state = BreakerOpen
	c.openedAt = b.now()
	c.probeInFlight = false
	b.emit(BreakerEvent{Type: BreakerEventReopened, Platform: platform, AccountID: accountID, Action: action, Failures: c.failures, Threshold: b.cfg.FailureThreshold})
}

// State reports the current state for a key, for tests and introspection.
func (b *CircuitBreaker) State(platform, accountID, action string) BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.get(pacingKey(platform, accountID, action)).state
}

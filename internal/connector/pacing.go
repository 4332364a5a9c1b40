package connector

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// PacingRule is the per-platform anti-bot spacing configuration.
type PacingRule struct {
	// MinInterval is the smallest allowed gap between two actions on one key.
	MinInterval time.Duration
	// JitterMax bounds the uniform random delay added on top of MinInterval.
	JitterMax time.Duration
}

// PacingGovernor enforces minimum spacing plus jitter between consecutive
// actions for the same platform/account/action tuple.
type PacingGovernor struct {
	mu       sync.Mutex
	next     map[string]time.Time
	rules    map[string]PacingRule
	fallback PacingRule

	now   func() time.Time
	sleep Sleeper
	rng   *rand.Rand
}

// PacingOption customizes governor behavior, mainly for tests.
type PacingOption func(*PacingGovernor)

// WithPacingClock injects the time source.
func WithPacingClock(now func() time.Time) PacingOption {
	return func(g *PacingGovernor) {
		if now != nil {
			g.now = now
		}
	}
}

// WithPacingSleeper injects the suspend function.
func WithPacingSleeper(sleep Sleeper) PacingOption {
	return func(g *PacingGovernor) {
		if sleep != nil {
			g.sleep = sleep
		}
	}
}

// WithPacingRand injects the jitter source.
func WithPacingRand(rng *rand.Rand) PacingOption {
	return func(g *PacingGovernor) {
		if rng != nil {
			g.rng = rng
		}
	}
}

// NewPacingGovernor builds a governor from per-platform rules. The fallback
// rule applies to platforms without an explicit entry.
func NewPacingGovernor(rules map[string]PacingRule, fallback PacingRule, opts ...PacingOption) *PacingGovernor {
	g := &PacingGovernor{
		next:     make(map[string]time.Time),
		rules:    rules,
		fallback: fallback,
		now:      time.Now,
		sleep:    SleepContext,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func pacingKey(platform, accountID, action string) string {
	return fmt.Sprintf("%s:%s:%s", platform, accountID, action)
}

func (g *PacingGovernor) rule(platform string) PacingRule {
	if r, ok := g.rules[platform]; ok {
		return r
	}
	return g.fallback
}

// Wait suspends until the key's next allowed slot, then reserves the slot.
// Runs on every attempt, including retries. Concurrent callers for the same
// key are each assigned a distinct slot, so the minimum gap always holds.
// An attempt aborted by ctx gives its slot back so the next real action is
// not pushed out by a full interval.
func (g *PacingGovernor) Wait(ctx context.Context, platform, accountID, action string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	rule := g.rule(platform)
	key := pacingKey(platform, accountID, action)

	g.mu.Lock()
	now := g.now()
	var jitter time.Duration
	if rule.JitterMax > 0 {
		jitter = time.Duration(g.rng.Int63n(int64(rule.JitterMax) + 1))
	}
	scheduled := now
	prev, had := g.next[key]
	if had {
		earliest := prev.Add(rule.MinInterval + jitter)
		if earliest.After(scheduled) {
			scheduled = earliest
		}
	}
	g.next[key] = scheduled
	g.mu.Unlock()

	if wait := scheduled.Sub(now); wait > 0 {
		if err := g.sleep(ctx, wait); err != nil {
			g.release(key, scheduled, prev, had)
			return err
		}
	}
	return nil
}

// release rolls back a reserved slot when the reserving caller never acted.
// Skipped when a later caller already chained its own slot off ours, since
// collapsing the chain could compress that caller's gap.
func (g *PacingGovernor) release(key string, scheduled, prev time.Time, had bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.next[key].Equal(scheduled) {
		return
	}
	if had {
		g.next[key] = prev
	} else {
		delete(g.next, key)
	}
}

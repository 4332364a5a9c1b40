package connector

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// Sleeper returns a pacing sleeper that advances the fake clock instead of
// waiting in real time.
func (c *fakeClock) Sleeper() Sleeper {
	return func(ctx context.Context, d time.Duration) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		c.Advance(d)
		return nil
	}
}

func newTestGovernor(clock *fakeClock, rules map[string]PacingRule, fallback PacingRule, seed int64) *PacingGovernor {
	return NewPacingGovernor(rules, fallback,
		WithPacingClock(clock.Now),
		WithPacingSleeper(clock.Sleeper()),
		WithPacingRand(rand.New(rand.NewSource(seed))),
	)
}

func TestPacingFirstCallDoesNotWait(t *testing.T) {
	clock := newFakeClock()
	g := newTestGovernor(clock, nil, PacingRule{MinInterval: 10 * time.Second}, 1)

	start := clock.Now()
	require.NoError(t, g.Wait(context.Background(), "zillow", "a1", "ingest"))
	assert.Equal(t, start, clock.Now())
}

func TestPacingEnforcesMinimumGap(t *testing.T) {
	clock := newFakeClock()
	rule := PacingRule{MinInterval: 10 * time.Second}
	g := newTestGovernor(clock, map[string]PacingRule{"zillow": rule}, PacingRule{}, 1)

	var stamps []time.Time
	for i := 0; i < 5; i++ {
		require.NoError(t, g.Wait(context.Background(), "zillow", "a1", "send"))
		stamps = append(stamps, clock.Now())
	}
	for i := 1; i < len(stamps); i++ {
		gap := stamps[i].Sub(stamps[i-1])
		assert.GreaterOrEqual(t, gap, rule.MinInterval, "gap between call %d and %d", i-1, i)
	}
}

func TestPacingMinimumGapHoldsWithJitter(t *testing.T) {
	clock := newFakeClock()
	rule := PacingRule{MinInterval: 3 * time.Second, JitterMax: 2 * time.Second}
	g := newTestGovernor(clock, map[string]PacingRule{"apartments": rule}, PacingRule{}, 42)

	prev := time.Time{}
	for i := 0; i < 50; i++ {
		require.NoError(t, g.Wait(context.Background(), "apartments", "a7", "send"))
		now := clock.Now()
		if !prev.IsZero() {
			gap := now.Sub(prev)
			require.GreaterOrEqual(t, gap, rule.MinInterval)
			require.LessOrEqual(t, gap, rule.MinInterval+rule.JitterMax)
		}
		prev = now
	}
}

func TestPacingKeysAreIndependent(t *testing.T) {
	clock := newFakeClock()
	rule := PacingRule{MinInterval: time.Minute}
	g := newTestGovernor(clock, nil, rule, 1)

	start := clock.Now()
	require.NoError(t, g.Wait(context.Background(), "zillow", "a1", "ingest"))
	require.NoError(t, g.Wait(context.Background(), "zillow", "a2", "ingest"))
	require.NoError(t, g.Wait(context.Background(), "zillow", "a1", "send"))
	require.NoError(t, g.Wait(context.Background(), "trulia", "a1", "ingest"))
	assert.Equal(t, start, clock.Now(), "distinct keys must not pace each other")
}

func TestPacingFallbackRule(t *testing.T) {
	clock := newFakeClock()
	g := newTestGovernor(clock,
		map[string]PacingRule{"zillow": {MinInterval: time.Hour}},
		PacingRule{MinInterval: 5 * time.Second},
		1,
	)

	require.NoError(t, g.Wait(context.Background(), "unlisted", "a1", "send"))
	require.NoError(t, g.Wait(context.Background(), "unlisted", "a1", "send"))
	assert.Equal(t, 5*time.Second, clock.Now().Sub(newFakeClock().Now()))
}

func TestPacingContextCancelled(t *testing.T) {
	clock := newFakeClock()
	g := newTestGovernor(clock, nil, PacingRule{MinInterval: time.Minute}, 1)

	require.NoError(t, g.Wait(context.Background(), "zillow", "a1", "send"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := g.Wait(ctx, "zillow", "a1", "send")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPacingCancelledCallerKeepsSlotFree(t *testing.T) {
	clock := newFakeClock()
	var sleeps []time.Duration
	failNext := false
	g := NewPacingGovernor(nil, PacingRule{MinInterval: 10 * time.Second},
		WithPacingClock(clock.Now),
		WithPacingSleeper(func(ctx context.Context, d time.Duration) error {
			if failNext {
				return context.Canceled
			}
			sleeps = append(sleeps, d)
			clock.Advance(d)
			return nil
		}),
	)

	require.NoError(t, g.Wait(context.Background(), "zillow", "a1", "send"))

	// An aborted wait must give its slot back instead of pushing the next
	// real action out by a full interval.
	failNext = true
	err := g.Wait(context.Background(), "zillow", "a1", "send")
	assert.ErrorIs(t, err, context.Canceled)

	failNext = false
	require.NoError(t, g.Wait(context.Background(), "zillow", "a1", "send"))
	assert.Equal(t, []time.Duration{10 * time.Second}, sleeps,
		"one interval from the first action, not two")
}

func TestPacingAlreadyCancelledDoesNotReserve(t *testing.T) {
	clock := newFakeClock()
	g := newTestGovernor(clock, nil, PacingRule{MinInterval: 10 * time.Second}, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, g.Wait(ctx, "zillow", "a1", "send"), context.Canceled)

	// the aborted caller never took a slot, so the next caller acts at once
	start := clock.Now()
	require.NoError(t, g.Wait(context.Background(), "zillow", "a1", "send"))
	assert.Equal(t, start, clock.Now())
}

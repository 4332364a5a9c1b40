package connector

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// RetryPolicy controls exponential backoff between connector attempts.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Factor     float64
	// JitterRatio spreads each delay by +/- ratio (0.2 = 20%).
	JitterRatio float64
}

// DefaultRetryPolicy matches the platform-wide dispatch defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:  3,
		BaseDelay:   250 * time.Millisecond,
		MaxDelay:    5 * time.Second,
		Factor:      2,
		JitterRatio: 0.2,
	}
}

// Backoff returns the delay before the given retry attempt (0-based), without
// jitter. Pure so tests can assert the schedule exactly.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	base := float64(p.BaseDelay)
	if base <= 0 {
		base = float64(250 * time.Millisecond)
	}
	factor := p.Factor
	if factor <= 1 {
		factor = 2
	}
	delay := base * math.Pow(factor, float64(attempt))
	if max := float64(p.MaxDelay); max > 0 && delay > max {
		delay = max
	}
	return time.Duration(delay)
}

// Jittered applies the configured jitter ratio to a delay using rng. A nil rng
// returns the delay unchanged.
func (p RetryPolicy) Jittered(delay time.Duration, rng *rand.Rand) time.Duration {
	if rng == nil || p.JitterRatio <= 0 || delay <= 0 {
		return delay
	}
	spread := float64(delay) * p.JitterRatio
	jitter := (rng.Float64()*2 - 1) * spread
	out := time.Duration(float64(delay) + jitter)
	if out < 0 {
		out = 0
	}
	return out
}

// Sleeper suspends the caller; injectable so tests never wait in real time.
type Sleeper func(ctx context.Context, d time.Duration) error

// SleepContext waits for d or until ctx is done.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Package backoff provides retry delay strategies and a retry loop used
// while waiting for a store backend to become reachable.
// All strategies are safe for concurrent use (they are stateless).
package backoff

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/jonboulle/clockwork"
)

// Strategy computes the delay before a retry attempt.
type Strategy interface {
	// Delay returns how long to wait before retry attempt n (1-indexed).
	// Attempt 1 is the first retry after the initial failure.
	Delay(attempt int) time.Duration
}

// ──────────────────────────────────────────────────
// Constant
// ──────────────────────────────────────────────────

// Constant always returns the same delay regardless of attempt number.
type Constant struct {
	Interval time.Duration
}

// NewConstant creates a constant backoff strategy.
func NewConstant(interval time.Duration) *Constant {
	return &Constant{Interval: interval}
}

// Delay returns the fixed interval.
func (c *Constant) Delay(_ int) time.Duration {
	return c.Interval
}

// ──────────────────────────────────────────────────
// Exponential
// ──────────────────────────────────────────────────

// Exponential doubles the delay each attempt.
// Delay = min(Initial * 2^(attempt-1), Max).
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
}

// NewExponential creates an exponential backoff strategy.
func NewExponential(initial, maxDelay time.Duration) *Exponential {
	return &Exponential{Initial: initial, Max: maxDelay}
}

// Delay returns Initial * 2^(attempt-1), capped at Max.
func (e *Exponential) Delay(attempt int) time.Duration {
	return time.Duration(capped(e.Initial, e.Max, attempt))
}

// ──────────────────────────────────────────────────
// ExponentialWithJitter (full jitter)
// ──────────────────────────────────────────────────

// ExponentialWithJitter applies full jitter to an exponential base.
// Delay = random value in [0, min(Initial * 2^(attempt-1), Max)].
// Instances restarted together then reconnect at different times.
type ExponentialWithJitter struct {
	Initial time.Duration
	Max     time.Duration
}

// NewExponentialWithJitter creates an exponential backoff with full jitter.
func NewExponentialWithJitter(initial, maxDelay time.Duration) *ExponentialWithJitter {
	return &ExponentialWithJitter{Initial: initial, Max: maxDelay}
}

// Delay returns a random duration in [0, min(Initial * 2^(attempt-1), Max)].
func (e *ExponentialWithJitter) Delay(attempt int) time.Duration {
	return time.Duration(rand.Float64() * capped(e.Initial, e.Max, attempt)) //nolint:gosec // jitter intentionally uses non-crypto rand
}

func capped(initial, maxDelay time.Duration, attempt int) float64 {
	base := float64(initial) * math.Pow(2, float64(attempt-1))
	if maxDelay > 0 && base > float64(maxDelay) {
		return float64(maxDelay)
	}
	return base
}

// ──────────────────────────────────────────────────
// Default
// ──────────────────────────────────────────────────

// DefaultStrategy returns the backoff used when connecting to a store:
// ExponentialWithJitter with 250ms initial and 10s max.
func DefaultStrategy() Strategy {
	return NewExponentialWithJitter(250*time.Millisecond, 10*time.Second)
}

// Strategy names accepted by Named.
const (
	NameConstant    = "constant"
	NameExponential = "exponential"
	NameJitter      = "jitter"
)

// ErrUnknownStrategy is returned by Named for an unrecognised name.
var ErrUnknownStrategy = errors.New("backoff: unknown strategy")

// Named returns the connect strategy called name. The exponential variants
// share the DefaultStrategy bounds; constant waits one second between
// attempts. An empty name selects DefaultStrategy.
func Named(name string) (Strategy, error) {
	switch name {
	case "", NameJitter:
		return DefaultStrategy(), nil
	case NameExponential:
		return NewExponential(250*time.Millisecond, 10*time.Second), nil
	case NameConstant:
		return NewConstant(time.Second), nil
	default:
		return nil, fmt.Errorf("%w %q (want %s, %s or %s)", ErrUnknownStrategy, name, NameConstant, NameExponential, NameJitter)
	}
}

// ──────────────────────────────────────────────────
// Retry
// ──────────────────────────────────────────────────

// Retry calls fn until it succeeds, attempts calls have been made or ctx is
// done, sleeping s.Delay(n) on clock between calls. The returned error wraps
// the last failure.
func Retry(ctx context.Context, clock clockwork.Clock, s Strategy, attempts int, fn func(context.Context) error) error {
	attempts = max(attempts, 1)

	var err error
	for n := 1; ; n++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if n >= attempts {
			return fmt.Errorf("giving up after %d attempts: %w", attempts, err)
		}

		timer := clock.NewTimer(s.Delay(n))
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w (last error: %w)", ctx.Err(), err)
		case <-timer.Chan():
		}
	}
}

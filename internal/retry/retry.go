// Package retry provides the exponential-backoff executor shared by every
// network-facing component. It is the only place in the engine allowed to
// swallow an error and try again; callers everywhere else either return typed
// outcomes or propagate.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// ErrRetriesExhausted tags the final error once every permitted attempt has
// failed with a retryable error. The underlying cause stays unwrappable.
var ErrRetriesExhausted = errors.New("retries exhausted")

// Policy is an immutable description of one call site's retry behavior.
type Policy struct {
	// MaxAttempts counts the initial attempt, so 1 means no retries.
	MaxAttempts int
	// MinDelay seeds the backoff curve.
	MinDelay time.Duration
	// MaxDelay caps the backoff curve.
	MaxDelay time.Duration
	// Multiplier grows the delay each attempt. Values below 1 are treated as 1.
	Multiplier float64
	// JitterFraction bounds the random spread around each delay (0.2 = ±20%).
	JitterFraction float64
}

// DefaultPolicy matches the cadence used for session operations.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    3,
		MinDelay:       1 * time.Second,
		MaxDelay:       30 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.2,
	}
}

// Validate checks the policy invariants: at least one attempt and an ordered
// delay window.
func (p Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("retry policy: max attempts must be >= 1, got %d", p.MaxAttempts)
	}
	if p.MinDelay < 0 || p.MaxDelay < 0 {
		return fmt.Errorf("retry policy: delays must be non-negative")
	}
	if p.MinDelay > p.MaxDelay {
		return fmt.Errorf("retry policy: min delay %v exceeds max delay %v", p.MinDelay, p.MaxDelay)
	}
	if p.JitterFraction < 0 || p.JitterFraction >= 1 {
		return fmt.Errorf("retry policy: jitter fraction must be in [0,1), got %v", p.JitterFraction)
	}
	return nil
}

// delay computes the backoff before the attempt following failedAttempt:
// min(MaxDelay, MinDelay * Multiplier^(failedAttempt-1)), spread by jitter.
func (p Policy) delay(failedAttempt int) time.Duration {
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := time.Duration(float64(p.MinDelay) * math.Pow(mult, float64(failedAttempt-1)))
	if d > p.MaxDelay || d < 0 {
		d = p.MaxDelay
	}
	if p.JitterFraction > 0 {
		spread := (rand.Float64()*2 - 1) * p.JitterFraction
		d = time.Duration(float64(d) * (1 + spread))
	}
	if d < 0 {
		d = 0
	}
	return d
}

// Operation is one unit of work. It must respect ctx cancellation.
type Operation func(ctx context.Context) error

// Classifier decides whether a failure is worth another attempt.
type Classifier func(err error) bool

// OnRetry observes each scheduled retry before its backoff sleep. The attempt
// argument is the attempt that just failed.
type OnRetry func(attempt, maxAttempts int, delay time.Duration)

// Do runs op under the policy. Non-retryable failures propagate immediately;
// retryable ones back off and re-run until the policy is spent, after which
// the last error propagates wrapped with ErrRetriesExhausted. A nil classify
// falls back to DefaultClassifier; a nil onRetry is simply not called.
func Do(ctx context.Context, policy Policy, classify Classifier, onRetry OnRetry, op Operation) error {
	if err := policy.Validate(); err != nil {
		return err
	}
	if classify == nil {
		classify = DefaultClassifier
	}

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if !classify(lastErr) {
			return lastErr
		}
		if attempt == policy.MaxAttempts {
			break
		}

		wait := policy.delay(attempt)
		if onRetry != nil {
			onRetry(attempt, policy.MaxAttempts, wait)
		}
		if err := Sleep(ctx, wait); err != nil {
			return err
		}
	}

	return fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, policy.MaxAttempts, lastErr)
}

// Sleep blocks for d or until ctx is canceled, whichever comes first. It is
// the engine's one suspension primitive; loops and backoff paths share it so
// cancellation always wins promptly.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Package retry re-runs fallible operations with a bounded number of attempts
// and a non-decreasing delay between them. Errors are classified with
// core.Classify; only retryable kinds are attempted again.
package retry

import (
	"context"
	"math"
	"slices"
	"time"

	"agrodata/internal/core"
)

// Backoff selects how the delay grows between attempts.
type Backoff string

const (
	// BackoffLinear waits Delay, 2*Delay, 3*Delay, ...
	BackoffLinear Backoff = "linear"
	// BackoffExponential waits Delay, Delay*m, Delay*m^2, ...
	BackoffExponential Backoff = "exponential"
)

// Policy holds retry configuration
type Policy struct {
	// MaxAttempts counts every invocation, the first one included (default: 3)
	MaxAttempts int
	// Delay is the base wait before the second attempt (default: 1s)
	Delay time.Duration
	// Backoff selects linear or exponential growth (default: linear)
	Backoff Backoff
	// BackoffMultiplier is the exponential growth factor (default: 2.0)
	BackoffMultiplier float64
	// MaxDelay caps a single wait; zero means no cap (default: 30s)
	MaxDelay time.Duration
	// RetryableKinds overrides core.DefaultRetryableKinds when non-nil
	RetryableKinds []core.ErrorKind

	// Sleep waits between attempts; nil uses a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
	// OnRetry is called after a failed attempt that will be retried.
	OnRetry func(attempt int, err core.ParsedError, wait time.Duration)
}

// DefaultPolicy returns the default retry policy: three attempts, waiting
// 1s and then 2s.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:       3,
		Delay:             1 * time.Second,
		Backoff:           BackoffLinear,
		BackoffMultiplier: 2.0,
		MaxDelay:          30 * time.Second,
	}
}

// Wait returns the delay before attempt attemptIndex+2, i.e. after the
// failure of the attempt with zero-based index attemptIndex.
func (p Policy) Wait(attemptIndex int) time.Duration {
	if p.Delay <= 0 {
		return 0
	}

	var wait float64
	switch p.Backoff {
	case BackoffExponential:
		m := p.BackoffMultiplier
		if m < 1 {
			m = 1
		}
		wait = float64(p.Delay) * math.Pow(m, float64(attemptIndex))
	default:
		wait = float64(p.Delay) * float64(attemptIndex+1)
	}

	if p.MaxDelay > 0 && wait > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	if wait > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(wait)
}

func (p Policy) retryable(kind core.ErrorKind) bool {
	if p.RetryableKinds == nil {
		return kind.Retryable()
	}
	return slices.Contains(p.RetryableKinds, kind)
}

func (p Policy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// Report describes how a call went.
type Report struct {
	// Attempts is the number of times the operation was invoked
	Attempts int
	// Errors holds the classified error of each failed attempt, in order
	Errors []core.ParsedError
	// Waits holds every delay slept between attempts, in order
	Waits []time.Duration
}

// Do runs op until it succeeds, fails with a non-retryable error, or
// MaxAttempts invocations have failed. The error of the final attempt is
// returned unchanged.
func Do[T any](ctx context.Context, p Policy, op func(context.Context) (T, error)) (T, error) {
	value, _, err := DoWithReport(ctx, p, op)
	return value, err
}

// DoWithReport behaves like Do and also reports every attempt.
func DoWithReport[T any](ctx context.Context, p Policy, op func(context.Context) (T, error)) (T, Report, error) {
	var (
		zero   T
		report Report
	)

	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	maxAttempts := p.attempts()
	for attempt := 0; attempt < maxAttempts; attempt++ {
		report.Attempts++
		value, err := op(ctx)
		if err == nil {
			return value, report, nil
		}

		parsed := core.Classify(err)
		report.Errors = append(report.Errors, parsed)

		if !p.retryable(parsed.Kind) || attempt == maxAttempts-1 {
			return zero, report, err
		}

		wait := p.Wait(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt+1, parsed, wait)
		}
		report.Waits = append(report.Waits, wait)
		if sleepErr := sleep(ctx, wait); sleepErr != nil {
			return zero, report, sleepErr
		}
	}

	return zero, report, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
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

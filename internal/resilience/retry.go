package resilience

import (
	"context"
	"fmt"
	"time"
)

// Backoff describes a bounded retry schedule with exponential delays.
type Backoff struct {
	// Base is the delay before the first retry. Each further retry doubles it.
	Base time.Duration

	// MaxAttempts is the total number of attempts including the first.
	// Values below 1 are treated as 1.
	MaxAttempts int
}

// Attempts returns the effective number of attempts.
func (b Backoff) Attempts() int { return max(b.MaxAttempts, 1) }

// Delay returns the wait before retry k (k >= 1), i.e. before attempt k+1:
// Base * 2^(k-1). Non-positive k yields zero.
func (b Backoff) Delay(k int) time.Duration {
	if k < 1 || b.Base <= 0 {
		return 0
	}
	// Cap the shift so huge attempt counts cannot overflow.
	return b.Base << min(k-1, 30)
}

// SleepFunc blocks for d or until ctx is done, whichever comes first. It
// returns ctx.Err() when interrupted.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the default [SleepFunc].
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AttemptError reports the last failure of an exhausted [Retry].
type AttemptError struct {
	Attempts int
	Err      error
}

func (e *AttemptError) Error() string {
	return fmt.Sprintf("failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *AttemptError) Unwrap() error { return e.Err }

// Retry calls fn until it succeeds or b's attempts are used up, waiting
// b.Delay(k) before retry k. A nil sleep uses [Sleep].
//
// If the wait before a retry is interrupted by ctx, Retry stops and returns an
// [AttemptError] for the attempts made so far. fn itself is always called at
// least once, even with an already cancelled ctx, so callers draining work
// after shutdown still get one try per item.
func Retry(ctx context.Context, b Backoff, sleep SleepFunc, fn func(attempt int) error) error {
	if sleep == nil {
		sleep = Sleep
	}
	var err error
	attempts := b.Attempts()
	for a := 1; a <= attempts; a++ {
		if a > 1 {
			if serr := sleep(ctx, b.Delay(a-1)); serr != nil {
				return &AttemptError{Attempts: a - 1, Err: err}
			}
		}
		if err = fn(a); err == nil {
			return nil
		}
	}
	return &AttemptError{Attempts: attempts, Err: err}
}

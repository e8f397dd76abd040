package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestBackoff_Delay(t *testing.T) {
	t.Parallel()

	b := Backoff{Base: time.Second, MaxAttempts: 4}
	tests := []struct {
		k    int
		want time.Duration
	}{
		{0, 0},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
	}
	for _, tc := range tests {
		if got := b.Delay(tc.k); got != tc.want {
			t.Errorf("Delay(%d) = %v, want %v", tc.k, got, tc.want)
		}
	}
	if got := (Backoff{}).Attempts(); got != 1 {
		t.Errorf("zero Attempts = %d, want 1", got)
	}
}

// recordSleep returns a SleepFunc that records durations without waiting.
func recordSleep(got *[]time.Duration) SleepFunc {
	return func(ctx context.Context, d time.Duration) error {
		*got = append(*got, d)
		return ctx.Err()
	}
}

func TestRetry_SucceedsAfterFailures(t *testing.T) {
	t.Parallel()

	var delays []time.Duration
	calls := 0
	err := Retry(context.Background(), Backoff{Base: 100 * time.Millisecond, MaxAttempts: 3}, recordSleep(&delays),
		func(int) error {
			calls++
			if calls < 3 {
				return errTest
			}
			return nil
		})
	if err != nil {
		t.Fatalf("Retry err = %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}
	if len(delays) != len(want) || delays[0] != want[0] || delays[1] != want[1] {
		t.Errorf("delays = %v, want %v", delays, want)
	}
}

func TestRetry_Exhausted(t *testing.T) {
	t.Parallel()

	var delays []time.Duration
	calls := 0
	err := Retry(context.Background(), Backoff{Base: time.Second, MaxAttempts: 3}, recordSleep(&delays),
		func(int) error { calls++; return errTest })

	var ae *AttemptError
	if !errors.As(err, &ae) {
		t.Fatalf("err = %v, want *AttemptError", err)
	}
	if ae.Attempts != 3 || calls != 3 {
		t.Errorf("attempts = %d calls = %d, want 3", ae.Attempts, calls)
	}
	if !errors.Is(err, errTest) {
		t.Error("AttemptError does not unwrap to last error")
	}
}

func TestRetry_CancelledRunsOnce(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := Retry(ctx, Backoff{Base: time.Hour, MaxAttempts: 5}, nil, func(int) error { calls++; return errTest })
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	var ae *AttemptError
	if !errors.As(err, &ae) || ae.Attempts != 1 {
		t.Errorf("err = %v, want AttemptError after 1 attempt", err)
	}
}

func TestSleep(t *testing.T) {
	t.Parallel()

	if err := Sleep(context.Background(), time.Millisecond); err != nil {
		t.Errorf("Sleep err = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Sleep(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("Sleep on cancelled ctx err = %v", err)
	}
}

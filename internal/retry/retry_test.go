package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

// recordSleeps replaces the package sleeper for the duration of the test.
func recordSleeps(t *testing.T) *[]time.Duration {
	t.Helper()
	var got []time.Duration
	orig := sleep
	sleep = func(ctx context.Context, d time.Duration) error {
		got = append(got, d)
		return ctx.Err()
	}
	t.Cleanup(func() { sleep = orig })
	return &got
}

func TestDelaySchedule(t *testing.T) {
	tests := []struct {
		name     string
		policy   Policy
		expected []time.Duration
	}{
		{
			name:   "exponential capped",
			policy: Policy{BaseDelay: time.Second, MaxDelay: 10 * time.Second, Backoff: Exponential},
			expected: []time.Duration{
				1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 10 * time.Second, 10 * time.Second,
			},
		},
		{
			name:     "linear capped",
			policy:   Policy{BaseDelay: 500 * time.Millisecond, MaxDelay: 2 * time.Second, Backoff: Linear},
			expected: []time.Duration{500 * time.Millisecond, time.Second, 1500 * time.Millisecond, 2 * time.Second, 2 * time.Second},
		},
		{
			name:     "no cap",
			policy:   Policy{BaseDelay: time.Millisecond, Backoff: Exponential},
			expected: []time.Duration{time.Millisecond, 2 * time.Millisecond, 4 * time.Millisecond},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for i, want := range tt.expected {
				if got := tt.policy.Delay(i + 1); got != want {
					t.Errorf("Delay(%d) = %v, want %v", i+1, got, want)
				}
			}
		})
	}
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	sleeps := recordSleeps(t)
	p := Policy{MaxAttempts: 5, BaseDelay: time.Second, MaxDelay: 10 * time.Second}

	calls := 0
	err := Do(context.Background(), p, func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("boom")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do() = %v, want nil", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	want := []time.Duration{time.Second, 2 * time.Second}
	if len(*sleeps) != len(want) {
		t.Fatalf("sleeps = %v, want %v", *sleeps, want)
	}
	for i := range want {
		if (*sleeps)[i] != want[i] {
			t.Errorf("sleep[%d] = %v, want %v", i, (*sleeps)[i], want[i])
		}
	}
}

func TestDoReturnsLastErrorAfterMaxAttempts(t *testing.T) {
	recordSleeps(t)
	p := Policy{MaxAttempts: 4, BaseDelay: time.Millisecond}

	calls := 0
	err := Do(context.Background(), p, func(context.Context) error {
		calls++
		return errors.New("attempt failed")
	})
	if err == nil || err.Error() != "attempt failed" {
		t.Fatalf("Do() = %v, want last error", err)
	}
	if calls != 4 {
		t.Errorf("calls = %d, want 4", calls)
	}
}

func TestDoStopsOnNonRetryable(t *testing.T) {
	sleeps := recordSleeps(t)
	permanent := errors.New("permanent")
	p := Policy{
		MaxAttempts: 5,
		BaseDelay:   time.Millisecond,
		Retryable:   func(err error) bool { return !errors.Is(err, permanent) },
	}

	calls := 0
	err := Do(context.Background(), p, func(context.Context) error {
		calls++
		return permanent
	})
	if !errors.Is(err, permanent) {
		t.Fatalf("Do() = %v, want permanent", err)
	}
	if calls != 1 || len(*sleeps) != 0 {
		t.Errorf("calls = %d sleeps = %d, want 1 and 0", calls, len(*sleeps))
	}
}

func TestJitterStaysWithinBounds(t *testing.T) {
	p := Policy{BaseDelay: time.Second, MaxDelay: 10 * time.Second, Jitter: 0.5}
	for attempt := 1; attempt <= 6; attempt++ {
		base := p.Delay(attempt)
		for i := 0; i < 50; i++ {
			d := p.jittered(base)
			if d < base || d > p.MaxDelay {
				t.Fatalf("jittered(%v) = %v out of [%v, %v]", base, d, base, p.MaxDelay)
			}
			if d > base+base/2 {
				t.Fatalf("jittered(%v) = %v exceeds +50%%", base, d)
			}
		}
	}
}

func TestDoValueHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := DoValue(ctx, Policy{MaxAttempts: 3, BaseDelay: time.Hour}, func(context.Context) (int, error) {
		return 0, errors.New("fail")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("DoValue() = %v, want context.Canceled", err)
	}
}

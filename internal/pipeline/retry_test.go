package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/andresuchdata/stockcast/internal/domain"
)

func contention() error {
	return &domain.StorageContentionError{Op: "test", Err: errors.New("deadlock detected")}
}

func TestRetryPolicy_Do(t *testing.T) {
	testCases := []struct {
		name      string
		failures  []error
		wantCalls int
		wantErr   bool
		wantRetry bool
	}{
		{"succeeds first time", nil, 1, false, false},
		{"recovers from contention", []error{contention(), contention()}, 3, false, false},
		{"fails fast on other errors", []error{errors.New("syntax error")}, 1, true, false},
		{"gives up after attempts", []error{contention(), contention(), contention()}, 3, true, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			policy := RetryPolicy{
				Attempts: 3,
				Backoff:  ExponentialBackoff(time.Millisecond, 0),
				Sleep:    func(context.Context, time.Duration) error { return nil },
			}

			calls := 0
			err := policy.Do(context.Background(), "op", func(context.Context) error {
				calls++
				if calls <= len(tc.failures) {
					return tc.failures[calls-1]
				}
				return nil
			})

			if calls != tc.wantCalls {
				t.Errorf("Expected %d calls, got %d", tc.wantCalls, calls)
			}
			if (err != nil) != tc.wantErr {
				t.Fatalf("Expected error=%v, got %v", tc.wantErr, err)
			}
			if tc.wantRetry && !domain.IsContention(err) {
				t.Errorf("Expected exhausted error to wrap contention, got %v", err)
			}
		})
	}
}

func TestRetryPolicy_Do_StopsWhenSleepIsInterrupted(t *testing.T) {
	policy := RetryPolicy{
		Attempts: 5,
		Sleep:    func(context.Context, time.Duration) error { return context.Canceled },
	}

	calls := 0
	err := policy.Do(context.Background(), "op", func(context.Context) error {
		calls++
		return contention()
	})

	if calls != 1 {
		t.Errorf("Expected 1 call, got %d", calls)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestExponentialBackoff(t *testing.T) {
	backoff := ExponentialBackoff(2*time.Second, 30*time.Second)
	want := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second, 30 * time.Second, 30 * time.Second}

	for i, w := range want {
		if got := backoff(i + 1); got != w {
			t.Errorf("Attempt %d: expected %s, got %s", i+1, w, got)
		}
	}
}

func TestSleepContext_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := SleepContext(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/andresuchdata/stockcast/internal/domain"
	"github.com/rs/zerolog/log"
)

// RetryPolicy retries storage contention a bounded number of times. Backoff
// and Sleep are injectable so tests run without real delays.
type RetryPolicy struct {
	Attempts int
	Backoff  func(attempt int) time.Duration
	Sleep    func(ctx context.Context, d time.Duration) error
}

// DefaultRetryPolicy retries five times starting at two seconds.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts: 5,
		Backoff:  ExponentialBackoff(2*time.Second, 30*time.Second),
		Sleep:    SleepContext,
	}
}

// ExponentialBackoff doubles base per attempt, capped at max when max > 0.
func ExponentialBackoff(base, max time.Duration) func(attempt int) time.Duration {
	return func(attempt int) time.Duration {
		if attempt < 1 {
			attempt = 1
		}
		shift := attempt - 1
		if shift > 16 {
			shift = 16
		}
		d := base << uint(shift)
		if max > 0 && d > max {
			d = max
		}
		return d
	}
}

// SleepContext waits for d or until ctx is done.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Do runs fn until it succeeds, fails with a non-contention error, or the
// attempts are exhausted.
func (p RetryPolicy) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = SleepContext
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if !domain.IsContention(err) {
			return err
		}
		if attempt == attempts {
			break
		}

		var wait time.Duration
		if p.Backoff != nil {
			wait = p.Backoff(attempt)
		}
		log.Warn().Err(err).
			Str("op", op).
			Int("attempt", attempt).
			Int("max_attempts", attempts).
			Dur("backoff", wait).
			Msg("storage contention, retrying")

		if serr := sleep(ctx, wait); serr != nil {
			return fmt.Errorf("%s: retry interrupted: %w", op, serr)
		}
	}

	return fmt.Errorf("%s: giving up after %d attempts: %w", op, attempts, err)
}

package retry

import (
	"context"
	"math/rand"
	"time"
)

// RetryPolicy defines how to retry an operation
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// Fixed disables jitter and exponential growth: every wait is exactly
	// InitialBackoff. Used by retry.FixedPolicy.
	Fixed bool
}

// DefaultPolicy is a sensible default retry policy
var DefaultPolicy = RetryPolicy{
	MaxAttempts:    3,
	InitialBackoff: 100 * time.Millisecond,
	MaxBackoff:     2 * time.Second,
}

// FixedPolicy builds a non-exponential, non-jittered retry policy: every
// attempt waits exactly backoff. Hedger uses this to match spec.md §4.3's
// literal "up to max_retry retries (150 ms backoff)" contract, which is a
// fixed delay rather than the teacher's default jittered-exponential shape.
func FixedPolicy(maxAttempts int, backoff time.Duration) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    maxAttempts,
		InitialBackoff: backoff,
		MaxBackoff:     backoff,
		Fixed:          true,
	}
}

// IsTransientFunc defines if an error is transient and should be retried
type IsTransientFunc func(error) bool

// Do executes a function with retries according to the policy
func Do(ctx context.Context, policy RetryPolicy, isTransient IsTransientFunc, fn func() error) error {
	var err error
	backoff := policy.InitialBackoff

	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}

		if !isTransient(err) {
			return err
		}

		if attempt == policy.MaxAttempts-1 {
			break
		}

		sleepTime := backoff
		if !policy.Fixed && backoff > 1 {
			// Jittered backoff: backoff + random(0, 50% of backoff)
			jitter := time.Duration(rand.Int63n(int64(backoff / 2)))
			sleepTime = backoff + jitter
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleepTime):
			if !policy.Fixed {
				backoff = minDuration(backoff*2, policy.MaxBackoff)
			}
		}
	}

	return err
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}

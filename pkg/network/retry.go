package network

import (
	"math"
	"time"
)

// DefaultInitialRetryDelay is the first backoff step
const DefaultInitialRetryDelay = time.Second

// RetryPolicy maps a failure count to the delay before the next attempt.
// Attempt 0 is the first retry decision after a fresh failure streak began.
// Policies are pure: same attempt, same delay.
type RetryPolicy func(attempt int) time.Duration

// RetryContinuous retries immediately
func RetryContinuous() RetryPolicy {
	return func(int) time.Duration { return 0 }
}

// RetryConstantInterval waits d regardless of attempt
func RetryConstantInterval(d time.Duration) RetryPolicy {
	return func(int) time.Duration { return d }
}

// RetryExponentialBackoff waits 0 for attempt 0, then initial·2^(attempt-1)
// capped at max. initial <= 0 selects DefaultInitialRetryDelay; max <= 0
// leaves the delay uncapped.
func RetryExponentialBackoff(initial, max time.Duration) RetryPolicy {
	if initial <= 0 {
		initial = DefaultInitialRetryDelay
	}
	return func(attempt int) time.Duration {
		if attempt <= 0 {
			return 0
		}

		delay := initial
		for i := 1; i < attempt; i++ {
			if max > 0 && delay >= max {
				break
			}
			if delay > math.MaxInt64/2 {
				break
			}
			delay *= 2
		}

		if max > 0 && delay > max {
			return max
		}
		return delay
	}
}

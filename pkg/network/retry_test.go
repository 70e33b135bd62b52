package network

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryPolicies(t *testing.T) {
	ms := time.Millisecond

	tests := []struct {
		name    string
		policy  RetryPolicy
		attempt int
		want    time.Duration
	}{
		{"continuous", RetryContinuous(), 0, 0},
		{"continuous later", RetryContinuous(), 12, 0},
		{"constant", RetryConstantInterval(1500 * ms), 7, 1500 * ms},
		{"constant first", RetryConstantInterval(1500 * ms), 0, 1500 * ms},
		{"backoff attempt 0", RetryExponentialBackoff(1000*ms, 0), 0, 0},
		{"backoff attempt 1", RetryExponentialBackoff(1000*ms, 0), 1, 1000 * ms},
		{"backoff attempt 2", RetryExponentialBackoff(1000*ms, 0), 2, 2000 * ms},
		{"backoff attempt 5", RetryExponentialBackoff(1000*ms, 0), 5, 16000 * ms},
		{"initial 2000 attempt 1", RetryExponentialBackoff(2000*ms, 0), 1, 2000 * ms},
		{"initial 2000 attempt 2", RetryExponentialBackoff(2000*ms, 0), 2, 4000 * ms},
		{"capped", RetryExponentialBackoff(1000*ms, 8000*ms), 10, 8000 * ms},
		{"below cap", RetryExponentialBackoff(1000*ms, 8000*ms), 3, 4000 * ms},
		{"default initial", RetryExponentialBackoff(0, 0), 1, DefaultInitialRetryDelay},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.policy(tt.attempt))
		})
	}
}

func TestRetryBackoffDoesNotOverflow(t *testing.T) {
	policy := RetryExponentialBackoff(time.Second, 0)
	assert.Positive(t, policy(200))
	assert.GreaterOrEqual(t, policy(200), policy(100))
}

func TestRetryPoliciesArePure(t *testing.T) {
	policy := RetryExponentialBackoff(250*time.Millisecond, 10*time.Second)
	for attempt := 0; attempt < 10; attempt++ {
		assert.Equal(t, policy(attempt), policy(attempt))
	}
}

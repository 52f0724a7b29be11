package uws

import "time"

// RetryPolicy is the injectable retry strategy for idempotent protocol calls
// (status polls, never submissions).
type RetryPolicy struct {
	// MaxAttempts bounds the total tries for one logical poll.
	MaxAttempts int
	// Backoff returns the sleep before the given retry attempt (1-based).
	Backoff func(attempt int) time.Duration
}

// DefaultRetryPolicy retries up to 4 times with exponential backoff starting
// at 500ms.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 4,
		Backoff: func(attempt int) time.Duration {
			return 500 * time.Millisecond << (attempt - 1)
		},
	}
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts <= 0 {
		return 1
	}
	return p.MaxAttempts
}

func (p RetryPolicy) backoff(attempt int) time.Duration {
	if p.Backoff == nil {
		return 0
	}
	return p.Backoff(attempt)
}

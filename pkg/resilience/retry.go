package resilience

import (
	"context"
	"time"
)

// RetryPolicy defines retry behavior for connection setup. Oracle calls are
// never retried.
type RetryPolicy struct {
	MaxRetries int
	Backoff    time.Duration
}

func NewRetryPolicy(maxRetries int, backoff time.Duration) RetryPolicy {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if backoff <= 0 {
		backoff = 200 * time.Millisecond
	}
	return RetryPolicy{MaxRetries: maxRetries, Backoff: backoff}
}

// Do runs fn until it succeeds, retries are exhausted or ctx ends.
func (r RetryPolicy) Do(ctx context.Context, fn func() error) error {
	var err error
	for i := 0; i <= r.MaxRetries; i++ {
		err = fn()
		if err == nil {
			return nil
		}
		if i == r.MaxRetries {
			return err
		}
		select {
		case <-ctx.Done():
			return err
		case <-time.After(r.Backoff):
		}
	}
	return err
}

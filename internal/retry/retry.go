// internal/retry/retry.go
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy is a bounded exponential-backoff retry policy shared by the source
// adapter and the enrichment pipeline, so both carry identical semantics.
type Policy struct {
	MaxAttempts   uint64
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	Randomization float64
}

// DefaultPolicy is the budget both adapters start from: 3 attempts with
// exponential backoff and jitter.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:   3,
		InitialDelay:  500 * time.Millisecond,
		MaxDelay:      10 * time.Second,
		Randomization: 0.5,
	}
}

// Permanent marks err as non-retryable; Do returns it immediately.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Do runs op under the policy, honoring ctx cancellation between attempts.
// It returns the last error once the attempt budget is exhausted.
func (p Policy) Do(ctx context.Context, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialDelay
	b.MaxInterval = p.MaxDelay
	b.RandomizationFactor = p.Randomization

	// MaxAttempts counts total attempts, backoff counts retries after the first.
	attempts := p.MaxAttempts
	if attempts == 0 {
		attempts = 1
	}
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, attempts-1), ctx))
}

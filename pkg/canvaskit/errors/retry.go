package errors

import (
	"context"
	"math/rand/v2"
	"time"
)

// RetryPolicy configures how idempotent backend reads are retried.
// Saves, runs and uploads are never retried automatically.
type RetryPolicy struct {
	// MaxAttempts is the maximum number of attempts, the first one included.
	MaxAttempts int

	// InitialBackoff is the wait before the second attempt.
	InitialBackoff time.Duration

	// MaxBackoff caps the wait between attempts.
	MaxBackoff time.Duration

	// BackoffFactor multiplies the wait after each attempt.
	BackoffFactor float64

	// Jitter is the random jitter factor (0.0-1.0).
	Jitter float64

	// Retryable overrides IsRetryable when set.
	Retryable func(error) bool
}

// DefaultRetryPolicy is used for canvas, template and document reads.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts:    3,
	InitialBackoff: 250 * time.Millisecond,
	MaxBackoff:     5 * time.Second,
	BackoffFactor:  2.0,
	Jitter:         0.1,
}

// NoRetry makes a single attempt.
var NoRetry = RetryPolicy{MaxAttempts: 1}

// Attempt is the outcome of a retried call.
type Attempt[T any] struct {
	Value    T
	Err      error
	Attempts int
	Duration time.Duration
}

// Retry calls fn until it succeeds, returns a non-retryable error, runs out
// of attempts, or ctx is done. A failed result always carries a
// *CategorizedError wrapping the last error.
func Retry[T any](ctx context.Context, p RetryPolicy, fn func(context.Context) (T, error)) Attempt[T] {
	start := time.Now()
	backoff := p.InitialBackoff
	retryable := p.Retryable
	if retryable == nil {
		retryable = IsRetryable
	}
	attempts := max(p.MaxAttempts, 1)

	var lastErr error
	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return Attempt[T]{
				Err:      &CategorizedError{Err: err, Cat: CategoryTransport, Context: "context cancelled", Retries: i},
				Attempts: i,
				Duration: time.Since(start),
			}
		}

		v, err := fn(ctx)
		if err == nil {
			return Attempt[T]{Value: v, Attempts: i + 1, Duration: time.Since(start)}
		}
		lastErr = err

		if !retryable(err) {
			return Attempt[T]{
				Err:      &CategorizedError{Err: err, Cat: Categorize(err), Retries: i + 1},
				Attempts: i + 1,
				Duration: time.Since(start),
			}
		}

		if i < attempts-1 {
			select {
			case <-ctx.Done():
				return Attempt[T]{
					Err:      &CategorizedError{Err: ctx.Err(), Cat: CategoryTransport, Context: "context cancelled during backoff", Retries: i + 1},
					Attempts: i + 1,
					Duration: time.Since(start),
				}
			case <-time.After(jittered(backoff, p.Jitter)):
			}
			backoff = time.Duration(float64(backoff) * p.BackoffFactor)
			if p.MaxBackoff > 0 && backoff > p.MaxBackoff {
				backoff = p.MaxBackoff
			}
		}
	}

	return Attempt[T]{
		Err:      &CategorizedError{Err: lastErr, Cat: Categorize(lastErr), Retries: attempts, Context: "max retries exceeded"},
		Attempts: attempts,
		Duration: time.Since(start),
	}
}

func jittered(base time.Duration, jitter float64) time.Duration {
	if jitter <= 0 {
		return base
	}
	return time.Duration(float64(base) + float64(base)*jitter*(rand.Float64()*2-1))
}

package retry

import (
	"context"
	"math/rand/v2"
	"time"
)

// Delays is the staged backoff schedule; attempts past the end reuse the
// last entry.
var Delays = []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}

// MaxJitter bounds the random delay added to each backoff.
const MaxJitter = 500 * time.Millisecond

// DefaultMaxAttempts is used when Options.MaxAttempts is zero.
const DefaultMaxAttempts = 3

// DelayWithJitter returns the backoff before retry number attempt (0-based)
// plus a random jitter in [0, MaxJitter).
func DelayWithJitter(attempt int) time.Duration {
	return delayFor(Delays, MaxJitter, attempt)
}

func delayFor(delays []time.Duration, jitter time.Duration, attempt int) time.Duration {
	if len(delays) == 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= len(delays) {
		attempt = len(delays) - 1
	}
	d := delays[attempt]
	if jitter > 0 {
		d += rand.N(jitter)
	}
	return d
}

// Options configures Do.
type Options struct {
	// MaxAttempts counts the first call.
	MaxAttempts int
	Delays      []time.Duration
	// MaxJitter < 0 disables jitter; 0 means the package default.
	MaxJitter time.Duration
	// Retryable overrides IsRetryable.
	Retryable func(error) bool
	// OnRetry is called before sleeping for the next attempt.
	OnRetry func(attempt int, err error, delay time.Duration)
	// Sleep overrides the ctx-aware sleep, for tests.
	Sleep func(ctx context.Context, d time.Duration) error
}

func (o *Options) defaults() {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.Delays == nil {
		o.Delays = Delays
	}
	if o.MaxJitter == 0 {
		o.MaxJitter = MaxJitter
	}
	if o.Retryable == nil {
		o.Retryable = IsRetryable
	}
	if o.Sleep == nil {
		o.Sleep = sleep
	}
}

// Do runs fn until it succeeds, fails with a non-retryable error, the caller
// cancels, or MaxAttempts is reached. The last error is returned.
func Do(ctx context.Context, fn func(ctx context.Context) error, opts Options) error {
	_, err := DoValue(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	}, opts)
	return err
}

// DoValue is Do for functions that return a value.
func DoValue[T any](ctx context.Context, fn func(ctx context.Context) (T, error), opts Options) (T, error) {
	opts.defaults()

	var zero T
	var lastErr error
	for attempt := 0; attempt < opts.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err

		if ctx.Err() != nil || IsZaiBilling(err) || !opts.Retryable(err) {
			return zero, err
		}
		if attempt == opts.MaxAttempts-1 {
			break
		}

		delay := delayFor(opts.Delays, max(opts.MaxJitter, 0), attempt)
		if opts.OnRetry != nil {
			opts.OnRetry(attempt+1, err, delay)
		}
		if err := opts.Sleep(ctx, delay); err != nil {
			return zero, lastErr
		}
	}
	return zero, lastErr
}

func sleep(ctx context.Context, d time.Duration) error {
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

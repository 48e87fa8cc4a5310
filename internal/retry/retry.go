package retry

import (
	"context"
	"time"
)

// Default retry parameters used when an Options field is zero.
const (
	DefaultMaxAttempts       = 3
	DefaultInitialDelay      = time.Second
	DefaultBackoffMultiplier = 2
)

// Options controls how Do retries a failing operation.
// OnAttemptFailed is an observability hook invoked after every failed
// attempt (including the last one) with the 1-based attempt number.
type Options struct {
	MaxAttempts       int
	InitialDelay      time.Duration
	BackoffMultiplier float64
	OnAttemptFailed   func(attempt int, err error)
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.InitialDelay <= 0 {
		o.InitialDelay = DefaultInitialDelay
	}
	if o.BackoffMultiplier <= 0 {
		o.BackoffMultiplier = DefaultBackoffMultiplier
	}
	return o
}

// Do invokes op up to MaxAttempts times with exponential backoff between
// attempts. It returns nil on the first success and the last failure when
// all attempts are exhausted; earlier errors are not aggregated. There is
// no delay after the final attempt. Do keeps no state between calls and is
// safe to nest, so callers must size MaxAttempts to avoid multiplying
// attempts across levels.
func Do(ctx context.Context, op func() error, o Options) error {
	o = o.withDefaults()
	delay := o.InitialDelay
	var lastErr error
	for attempt := 1; attempt <= o.MaxAttempts; attempt++ {
		if err := op(); err == nil {
			return nil
		} else {
			lastErr = err
		}
		if o.OnAttemptFailed != nil {
			o.OnAttemptFailed(attempt, lastErr)
		}
		if attempt < o.MaxAttempts {
			if err := sleep(ctx, delay); err != nil {
				return err
			}
			delay = time.Duration(float64(delay) * o.BackoffMultiplier)
		}
	}
	return lastErr
}

// DoValue is Do for operations that produce a value.
func DoValue[T any](ctx context.Context, op func() (T, error), o Options) (T, error) {
	var out T
	err := Do(ctx, func() error {
		v, err := op()
		if err != nil {
			return err
		}
		out = v
		return nil
	}, o)
	return out, err
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

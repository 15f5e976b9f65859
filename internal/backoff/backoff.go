// Package backoff retries network calls with exponential delay.
package backoff

import (
	"context"
	"errors"
	"time"
)

// Policy bounds a retry loop.
type Policy struct {
	MaxRetries int           // retries after the first attempt
	Delay      time.Duration // delay before the first retry, doubled each time
	MaxDelay   time.Duration // 0 means no cap
}

// Permanent marks an error that must not be retried.
type Permanent struct {
	Err error
}

func (e *Permanent) Error() string { return e.Err.Error() }
func (e *Permanent) Unwrap() error { return e.Err }

// Stop wraps err so Retry returns it immediately.
func Stop(err error) error {
	if err == nil {
		return nil
	}
	return &Permanent{Err: err}
}

// Retry calls fn until it succeeds, returns a Permanent error, the policy is
// exhausted, or ctx is done. The last error is returned unwrapped from Permanent.
func Retry(ctx context.Context, p Policy, fn func(attempt int) error) error {
	delay := p.Delay
	var err error
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		err = fn(attempt)
		if err == nil {
			return nil
		}

		var perm *Permanent
		if errors.As(err, &perm) {
			return perm.Err
		}
		if attempt == p.MaxRetries {
			break
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Join(err, ctx.Err())
		case <-timer.C:
		}

		delay *= 2
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}
	return err
}

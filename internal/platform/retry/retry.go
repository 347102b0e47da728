// Package retry runs an operation until it succeeds, its error is classified
// as permanent, the attempt budget is spent or the context ends.
package retry

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/jonboulle/clockwork"
)

type Action int

const (
	Stop  Action = iota // permanent error, abort immediately
	Retry               // transient error, use normal backoff
	After               // rate-limited, use longer backoff
)

// Policy configures Do. MaxAttempts <= 0 retries until the context ends.
// A zero MaxBackoff leaves the exponential backoff uncapped. Jitter in
// (0, 1] shortens each wait by up to that fraction so that instances
// reconnecting after a shared outage do not retry in lockstep.
type Policy struct {
	MaxAttempts      int
	InitialBackoff   time.Duration
	MaxBackoff       time.Duration
	RateLimitBackoff time.Duration
	Jitter           float64
	Clock            clockwork.Clock
	OnRetry          func(attempt int, err error, backoff time.Duration)
}

type Classify func(err error) Action

// Always treats every error as transient.
func Always(error) Action { return Retry }

func Do[T any](ctx context.Context, p Policy, classify Classify, op func() (T, error)) (T, error) {
	var zero T
	clock := p.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	backoff := p.InitialBackoff

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, fmt.Errorf("retry aborted: %w", err)
		}

		val, err := op()
		if err == nil {
			return val, nil
		}

		action := classify(err)
		if action == Stop {
			return zero, &PermanentError{Attempts: attempt, Err: err}
		}
		if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
			return zero, &ExhaustedError{Attempts: attempt, Err: err}
		}

		wait := p.wait(backoff, action)
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, wait)
		}

		timer := clock.NewTimer(wait)
		select {
		case <-timer.Chan():
			backoff = grow(backoff, p.MaxBackoff)
		case <-ctx.Done():
			timer.Stop()
			return zero, fmt.Errorf("retry aborted after %d attempts: %w", attempt, ctx.Err())
		}
	}
}

func (p Policy) wait(backoff time.Duration, action Action) time.Duration {
	wait := backoff
	if action == After && p.RateLimitBackoff > wait {
		wait = p.RateLimitBackoff
	}
	if p.MaxBackoff > 0 && wait > p.MaxBackoff {
		wait = p.MaxBackoff
	}
	if p.Jitter > 0 && wait > 0 {
		jitter := min(p.Jitter, 1)
		wait -= time.Duration(rand.Float64() * jitter * float64(wait))
	}
	return wait
}

func grow(d, limit time.Duration) time.Duration {
	if d <= 0 {
		d = time.Millisecond
	}
	d *= 2
	if limit > 0 && d > limit {
		return limit
	}
	return d
}

// PermanentError reports an error the classifier refused to retry.
type PermanentError struct {
	Attempts int
	Err      error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// ExhaustedError reports that MaxAttempts transient failures occurred.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

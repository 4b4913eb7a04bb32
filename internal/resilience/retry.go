// Package resilience retries transient failures of remote source downloads.
package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// Policy controls retry attempts with exponential backoff and jitter.
type Policy struct {
	// Attempts is the total number of tries, the first one included.
	Attempts int

	Initial    time.Duration
	Max        time.Duration
	Multiplier float64

	// Jitter randomizes each delay by up to ±Jitter of its value.
	Jitter float64

	// Retryable overrides IsTransient when set.
	Retryable func(err error) bool

	// Operation names the retried call in logs.
	Operation string
}

// DefaultPolicy is used for source downloads.
func DefaultPolicy() Policy {
	return Policy{
		Attempts:   3,
		Initial:    500 * time.Millisecond,
		Max:        30 * time.Second,
		Multiplier: 2,
		Jitter:     0.25,
	}
}

// WithAttempts returns a copy of p with the given attempt count; values
// below one leave p unchanged.
func (p Policy) WithAttempts(n int) Policy {
	if n > 0 {
		p.Attempts = n
	}
	return p
}

func (p Policy) normalized() Policy {
	d := DefaultPolicy()
	if p.Attempts <= 0 {
		p.Attempts = d.Attempts
	}
	if p.Initial <= 0 {
		p.Initial = d.Initial
	}
	if p.Max <= 0 {
		p.Max = d.Max
	}
	if p.Multiplier <= 0 {
		p.Multiplier = d.Multiplier
	}
	if p.Jitter < 0 {
		p.Jitter = 0
	}
	if p.Retryable == nil {
		p.Retryable = IsTransient
	}
	return p
}

// Delay returns the backoff before retry number attempt (zero based).
func (p Policy) Delay(attempt int) time.Duration {
	p = p.normalized()
	d := float64(p.Initial) * math.Pow(p.Multiplier, float64(attempt))
	d = math.Min(d, float64(p.Max))
	if p.Jitter > 0 {
		d += (rand.Float64()*2 - 1) * d * p.Jitter
	}
	return time.Duration(math.Max(d, 0))
}

// Retry runs fn until it succeeds, returns a non-retryable error, the
// attempts run out, or ctx is done. The last error is returned.
func Retry(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	_, err := RetryValue(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// RetryValue is Retry for calls that produce a value.
func RetryValue[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	p = p.normalized()
	log := zap.L().With(zap.String("component", "resilience"))

	var zero T
	var err error
	for attempt := range p.Attempts {
		var v T
		if v, err = fn(ctx); err == nil {
			return v, nil
		}
		if ctx.Err() != nil || !p.Retryable(err) || attempt == p.Attempts-1 {
			return zero, err
		}

		delay := p.Delay(attempt)
		log.Warn("retrying",
			zap.String("operation", p.Operation),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(err),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, err
		case <-timer.C:
		}
	}
	return zero, err
}

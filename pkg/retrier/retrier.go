package retrier

import (
	"context"
	"time"
)

const (
	defaultInterval    = 1 * time.Second
	defaultMaxInterval = 30 * time.Second
	defaultMultiplier  = 2.0
	defaultMaxRetries  = 5
)

// Retrier executes an operation a bounded number of times with a fixed or
// exponential delay schedule between attempts.
type Retrier struct {
	interval    time.Duration
	maxInterval time.Duration
	multiplier  float64
	maxRetries  int
}

// Option configures a Retrier.
type Option func(*Retrier)

// WithInterval sets the delay before the first retry.
func WithInterval(d time.Duration) Option {
	return func(r *Retrier) {
		r.interval = d
	}
}

// WithMaxInterval caps the delay between retries.
func WithMaxInterval(d time.Duration) Option {
	return func(r *Retrier) {
		r.maxInterval = d
	}
}

// WithMultiplier sets the backoff multiplier. A multiplier of 1 gives a fixed
// delay between attempts.
func WithMultiplier(m float64) Option {
	return func(r *Retrier) {
		r.multiplier = m
	}
}

// WithMaxRetries sets how many retries follow the initial attempt.
func WithMaxRetries(n int) Option {
	return func(r *Retrier) {
		r.maxRetries = n
	}
}

// WithFixedSchedule configures a constant delay between attempts.
func WithFixedSchedule(d time.Duration) Option {
	return func(r *Retrier) {
		r.interval = d
		r.maxInterval = d
		r.multiplier = 1
	}
}

// New creates a Retrier with default values and optional overrides.
func New(opts ...Option) *Retrier {
	r := &Retrier{
		interval:    defaultInterval,
		maxInterval: defaultMaxInterval,
		multiplier:  defaultMultiplier,
		maxRetries:  defaultMaxRetries,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Do executes fn until it succeeds, the retry budget is exhausted, or the
// context is cancelled. The last error is returned on exhaustion.
func (r *Retrier) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	var err error
	interval := r.interval

	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(interval):
			}

			interval = time.Duration(float64(interval) * r.multiplier)
			if interval > r.maxInterval {
				interval = r.maxInterval
			}
		}

		err = fn(ctx)
		if err == nil {
			return nil
		}
	}

	return err
}

// DoWithData executes fn with retries and returns its value.
func DoWithData[T any](r *Retrier, ctx context.Context, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := r.Do(ctx, func(ctx context.Context) error {
		var e error
		result, e = fn(ctx)
		return e
	})
	return result, err
}

package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// ErrAttemptsExhausted is returned (wrapping the last error) when every attempt failed
var ErrAttemptsExhausted = errors.New("retry attempts exhausted")

// Config contains backoff configuration for connecting to infrastructure
type Config struct {
	// Attempts is the total number of tries, including the first one
	Attempts int
	// InitialInterval is the wait before the second attempt
	InitialInterval time.Duration
	// MaxInterval caps the wait between attempts
	MaxInterval time.Duration
	// Multiplier grows the interval after each failed attempt
	Multiplier float64
	// JitterFactor adds +/- this fraction of the interval
	JitterFactor float64
}

// DefaultConfig returns 5 attempts with 1s, 2s, 4s, 8s waits
func DefaultConfig() Config {
	return Config{
		Attempts:        5,
		InitialInterval: time.Second,
		MaxInterval:     30 * time.Second,
		Multiplier:      2.0,
		JitterFactor:    0.1,
	}
}

func (c Config) normalized() Config {
	if c.Attempts <= 0 {
		c.Attempts = 1
	}
	if c.InitialInterval <= 0 {
		c.InitialInterval = time.Second
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = 30 * time.Second
	}
	if c.Multiplier < 1 {
		c.Multiplier = 2.0
	}
	c.JitterFactor = math.Min(math.Max(c.JitterFactor, 0), 1)
	return c
}

// Interval returns the wait after the given zero-based failed attempt
func (c Config) Interval(attempt int) time.Duration {
	c = c.normalized()
	interval := float64(c.InitialInterval) * math.Pow(c.Multiplier, float64(attempt))
	if c.JitterFactor > 0 {
		jitter := interval * c.JitterFactor
		interval += (rand.Float64()*2 - 1) * jitter
	}
	if interval > float64(c.MaxInterval) {
		interval = float64(c.MaxInterval)
	}
	if interval <= 0 {
		interval = float64(c.InitialInterval)
	}
	return time.Duration(interval)
}

// PermanentError stops the retry loop immediately
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent marks an error as not worth retrying
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// Operation is the function being retried
type Operation func(ctx context.Context) error

// OnRetry is called before waiting for the next attempt
type OnRetry func(attempt int, err error, wait time.Duration)

// Do runs op until it succeeds, returns a permanent error, the context ends,
// or the attempts run out.
func Do(ctx context.Context, cfg Config, op Operation, onRetry OnRetry) error {
	cfg = cfg.normalized()

	var lastErr error
	for attempt := 0; attempt < cfg.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return errors.Join(err, lastErr)
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		var perm *PermanentError
		if errors.As(err, &perm) {
			return perm.Err
		}
		if attempt == cfg.Attempts-1 {
			break
		}

		wait := cfg.Interval(attempt)
		if onRetry != nil {
			onRetry(attempt+1, err, wait)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Join(ctx.Err(), lastErr)
		case <-timer.C:
		}
	}

	return errors.Join(ErrAttemptsExhausted, lastErr)
}

package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func fastConfig(attempts int) Config {
	return Config{Attempts: attempts, InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond, Multiplier: 2}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 5, cfg.Attempts)
	assert.Equal(t, time.Second, cfg.InitialInterval)
	assert.Equal(t, 30*time.Second, cfg.MaxInterval)
}

func TestInterval_GrowsAndCaps(t *testing.T) {
	cfg := Config{Attempts: 10, InitialInterval: 10 * time.Millisecond, MaxInterval: 50 * time.Millisecond, Multiplier: 2}

	assert.Equal(t, 10*time.Millisecond, cfg.Interval(0))
	assert.Equal(t, 20*time.Millisecond, cfg.Interval(1))
	assert.Equal(t, 40*time.Millisecond, cfg.Interval(2))
	assert.Equal(t, 50*time.Millisecond, cfg.Interval(5))
}

func TestInterval_JitterBounds(t *testing.T) {
	cfg := Config{InitialInterval: 100 * time.Millisecond, MaxInterval: time.Second, Multiplier: 2, JitterFactor: 0.5}
	for i := 0; i < 50; i++ {
		d := cfg.Interval(0)
		assert.GreaterOrEqual(t, d, 50*time.Millisecond)
		assert.LessOrEqual(t, d, 150*time.Millisecond)
	}
}

func TestDo_SucceedsAfterFailures(t *testing.T) {
	calls := 0
	var retries []int

	err := Do(context.Background(), fastConfig(5), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("not yet")
		}
		return nil
	}, func(attempt int, err error, wait time.Duration) {
		retries = append(retries, attempt)
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, retries)
}

func TestDo_Exhausted(t *testing.T) {
	boom := errors.New("connection refused")
	calls := 0

	err := Do(context.Background(), fastConfig(3), func(ctx context.Context) error {
		calls++
		return boom
	}, nil)

	assert.Equal(t, 3, calls)
	assert.ErrorIs(t, err, ErrAttemptsExhausted)
	assert.ErrorIs(t, err, boom)
}

func TestDo_PermanentStops(t *testing.T) {
	bad := errors.New("bad credentials")
	calls := 0

	err := Do(context.Background(), fastConfig(5), func(ctx context.Context) error {
		calls++
		return Permanent(bad)
	}, nil)

	assert.Equal(t, 1, calls)
	assert.Equal(t, bad, err)
}

func TestDo_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := Do(ctx, fastConfig(5), func(ctx context.Context) error {
		calls++
		return nil
	}, nil)

	assert.Equal(t, 0, calls)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPermanent_Nil(t *testing.T) {
	assert.NoError(t, Permanent(nil))
}

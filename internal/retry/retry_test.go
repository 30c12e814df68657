package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultValues(t *testing.T) {
	assert.Equal(t, 10, DefaultMaxRetries)
	assert.Equal(t, 1*time.Second, DefaultInitialBackoff)
	assert.Equal(t, 30*time.Minute, DefaultMaxBackoff)
	assert.Equal(t, 0.25, DefaultJitterFactor)
}

func TestConfigChaining(t *testing.T) {
	cfg := DefaultConfig().
		WithMaxRetries(3).
		WithInitialBackoff(time.Millisecond).
		WithMaxBackoff(time.Second).
		WithJitterFactor(0.5)

	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, time.Millisecond, cfg.InitialBackoff)
	assert.Equal(t, time.Second, cfg.MaxBackoff)
	assert.Equal(t, 0.5, cfg.JitterFactor)
}

func TestValidateRejectsBadFields(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	err := DefaultConfig().WithMaxRetries(0).Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "MaxRetries")

	err = DefaultConfig().WithMaxBackoff(time.Nanosecond).WithInitialBackoff(time.Second).Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "must be >= InitialBackoff")

	err = DefaultConfig().WithJitterFactor(1.5).Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "JitterFactor")
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	cfg := Config{MaxRetries: 5, InitialBackoff: time.Millisecond, MaxBackoff: 10 * time.Millisecond, JitterFactor: 0}
	attempts := 0

	err := Do(context.Background(), cfg, func(error) bool { return true }, func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDoStopsOnNonRetryable(t *testing.T) {
	cfg := DefaultConfig()
	attempts := 0
	sentinel := errors.New("fatal")

	err := Do(context.Background(), cfg, func(error) bool { return false }, func() error {
		attempts++
		return sentinel
	})

	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 1, attempts)
}

func TestDoExhaustsRetriesAndReturnsLastError(t *testing.T) {
	cfg := Config{MaxRetries: 2, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond, JitterFactor: 0}
	attempts := 0
	sentinel := errors.New("still failing")

	err := Do(context.Background(), cfg, func(error) bool { return true }, func() error {
		attempts++
		return sentinel
	})

	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 3, attempts) // initial + 2 retries
}

func TestDoRespectsContextCancellation(t *testing.T) {
	cfg := Config{MaxRetries: 5, InitialBackoff: time.Hour, MaxBackoff: time.Hour, JitterFactor: 0}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Do(ctx, cfg, func(error) bool { return true }, func() error {
		return errors.New("transient")
	})

	assert.ErrorIs(t, err, context.Canceled)
}

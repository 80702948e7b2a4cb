package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"pricewatch/internal/config"
)

type retryAfterErr struct {
	delay time.Duration
}

func (e *retryAfterErr) Error() string {
	return "throttled"
}

func (e *retryAfterErr) RetryAfter() time.Duration {
	return e.delay
}

func TestCappedDoublingSequence(t *testing.T) {
	sched := &cappedDoubling{base: 100 * time.Millisecond, max: 800 * time.Millisecond}

	want := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		800 * time.Millisecond,
	}
	for i, expected := range want {
		require.Equal(t, expected, sched.NextBackOff(), "delay %d", i)
	}
}

func TestCappedDoublingRetryAfterOverride(t *testing.T) {
	sched := &cappedDoubling{base: 100 * time.Millisecond, max: 800 * time.Millisecond}

	sched.observe(&retryAfterErr{delay: 2 * time.Second})
	require.Equal(t, 2*time.Second, sched.NextBackOff())

	sched.observe(errors.New("plain failure"))
	require.Equal(t, 200*time.Millisecond, sched.NextBackOff())
}

func TestRetrierReturnsLastErrorWhenExhausted(t *testing.T) {
	retrier := NewRetrier(config.RetryConfig{
		MaxRetries: 3,
		BaseDelay:  time.Millisecond,
		MaxDelay:   4 * time.Millisecond,
	}, zerolog.Nop())

	failure := errors.New("upstream unavailable")
	calls := 0
	err := retrier.Do(context.Background(), "test", func(context.Context) error {
		calls++
		return failure
	})

	require.ErrorIs(t, err, failure)
	require.Equal(t, 4, calls)
}

func TestRetrierStopsOnPermanentError(t *testing.T) {
	retrier := NewRetrier(config.RetryConfig{
		MaxRetries: 3,
		BaseDelay:  time.Millisecond,
		MaxDelay:   4 * time.Millisecond,
	}, zerolog.Nop())

	failure := errors.New("bad request")
	calls := 0
	err := retrier.Do(context.Background(), "test", func(context.Context) error {
		calls++
		return Permanent(failure)
	})

	require.ErrorIs(t, err, failure)
	require.Equal(t, 1, calls)
}

func TestRetrierRecoversAfterTransientFailures(t *testing.T) {
	retrier := NewRetrier(config.RetryConfig{
		MaxRetries: 3,
		BaseDelay:  time.Millisecond,
		MaxDelay:   4 * time.Millisecond,
	}, zerolog.Nop())

	calls := 0
	err := retrier.Do(context.Background(), "test", func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})

	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

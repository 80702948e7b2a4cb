package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"pricewatch/internal/config"
)

// retryAfterCarrier is satisfied by errors that carry a provider-mandated
// retry delay (HTTP 429 Retry-After).
type retryAfterCarrier interface {
	RetryAfter() time.Duration
}

// Permanent marks an error as terminal so Do returns it without retrying.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Retrier executes operations under an exponential backoff schedule:
// delay = min(baseDelay * 2^attempt, maxDelay), capped at maxRetries
// additional attempts. A Retry-After value reported by the provider
// overrides the computed delay for that attempt.
type Retrier struct {
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	logger     zerolog.Logger
}

// NewRetrier constructs a Retrier from config.
func NewRetrier(cfg config.RetryConfig, logger zerolog.Logger) *Retrier {
	return &Retrier{
		maxRetries: cfg.MaxRetries,
		baseDelay:  cfg.BaseDelay,
		maxDelay:   cfg.MaxDelay,
		logger:     logger.With().Str("component", "retrier").Logger(),
	}
}

// Do runs fn, retrying transient failures. The error from the final
// exhausted attempt is returned as-is so callers can still branch on its
// kind. Errors wrapped with Permanent stop the schedule immediately.
func (r *Retrier) Do(ctx context.Context, op string, fn func(context.Context) error) error {
	sched := &cappedDoubling{base: r.baseDelay, max: r.maxDelay}

	attempt := 0
	operation := func() error {
		err := fn(ctx)
		sched.observe(err)
		return err
	}
	notify := func(err error, delay time.Duration) {
		attempt++
		r.logger.Warn().
			Err(err).
			Str("operation", op).
			Int("attempt", attempt).
			Dur("delay", delay).
			Msg("retrying after transient error")
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(sched, uint64(r.maxRetries)), ctx)
	return backoff.RetryNotify(operation, policy, notify)
}

// cappedDoubling implements backoff.BackOff with jitter-free doubling. It
// remembers the last observed error so a Retry-After hint can replace the
// computed delay.
type cappedDoubling struct {
	base    time.Duration
	max     time.Duration
	attempt int
	lastErr error
}

func (b *cappedDoubling) observe(err error) {
	b.lastErr = err
}

func (b *cappedDoubling) NextBackOff() time.Duration {
	delay := b.base
	for i := 0; i < b.attempt; i++ {
		delay *= 2
		if delay >= b.max {
			delay = b.max
			break
		}
	}
	b.attempt++

	var carrier retryAfterCarrier
	if errors.As(b.lastErr, &carrier) && carrier.RetryAfter() > 0 {
		return carrier.RetryAfter()
	}
	return delay
}

func (b *cappedDoubling) Reset() {
	b.attempt = 0
}

var _ backoff.BackOff = (*cappedDoubling)(nil)

package domain

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// RetryPolicy retries transient backend failures with capped exponential
// backoff. Permanent failure kinds return immediately.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Factor      float64
	MaxDelay    time.Duration

	// OnRetry, when set, observes each retry (metrics hook).
	OnRetry func(op string, attempt int, err error)
}

// DefaultRetryPolicy matches the backoff the backends are tuned for:
// three attempts starting at one second, doubling, capped at ten.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts: 3,
	BaseDelay:   time.Second,
	Factor:      2,
	MaxDelay:    10 * time.Second,
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultRetryPolicy.MaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultRetryPolicy.BaseDelay
	}
	if p.Factor < 1 {
		p.Factor = DefaultRetryPolicy.Factor
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultRetryPolicy.MaxDelay
	}
	return p
}

// Do runs fn until it succeeds, fails permanently, exhausts the attempt
// budget, or ctx ends. The last error is returned unwrapped so callers
// keep its classification.
func (p RetryPolicy) Do(ctx context.Context, log zerolog.Logger, op string, fn func(context.Context) error) error {
	p = p.normalized()

	var err error
	delay := p.BaseDelay
	for attempt := 1; ; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if !IsRetryable(err) || attempt >= p.MaxAttempts {
			return err
		}

		log.Warn().
			Str("op", op).
			Int("attempt", attempt).
			Dur("backoff", delay).
			Err(err).
			Msg("transient failure, retrying")
		if p.OnRetry != nil {
			p.OnRetry(op, attempt, err)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay = time.Duration(float64(delay) * p.Factor)
		if delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}
}

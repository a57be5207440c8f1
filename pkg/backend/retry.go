// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"context"
	"errors"
	"time"

	"github.com/LeeDigitalWorks/basins3/pkg/logger"

	"github.com/cenkalti/backoff/v4"
)

const (
	DefaultMaxAttempts    = 5
	DefaultBaseDelay      = 200 * time.Millisecond
	DefaultMaxDelay       = 10 * time.Second
	DefaultJitter         = 0.2
	DefaultAttemptTimeout = 60 * time.Second
)

// RetryPolicy bounds how transient backend failures are retried.
type RetryPolicy struct {
	MaxAttempts    int           // total attempts including the first
	BaseDelay      time.Duration // delay before the second attempt
	MaxDelay       time.Duration // cap on the exponential delay
	Jitter         float64       // randomization factor, 0 to 1
	AttemptTimeout time.Duration // per-attempt deadline, 0 for none
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    DefaultMaxAttempts,
		BaseDelay:      DefaultBaseDelay,
		MaxDelay:       DefaultMaxDelay,
		Jitter:         DefaultJitter,
		AttemptTimeout: DefaultAttemptTimeout,
	}
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.MaxInterval = p.MaxDelay
	b.RandomizationFactor = p.Jitter
	b.Multiplier = 2
	b.MaxElapsedTime = 0
	b.Reset()

	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)
}

// Do runs fn until it succeeds, returns a non-retryable error, the attempts
// are exhausted or ctx ends. Each attempt gets its own deadline.
func (p RetryPolicy) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	attempt := 0
	operation := func() error {
		attempt++
		actx, cancel := ctx, context.CancelFunc(func() {})
		if p.AttemptTimeout > 0 {
			actx, cancel = context.WithTimeout(ctx, p.AttemptTimeout)
		}
		err := fn(actx)
		cancel()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		// A per-attempt deadline is transient.
		if errors.Is(err, context.DeadlineExceeded) {
			return &Error{Kind: KindUnavailable, Op: op, Err: err}
		}
		if !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, next time.Duration) {
		backendRetries.WithLabelValues(op).Inc()
		logger.Ctx(ctx).Warn().Err(err).
			Str("op", op).
			Int("attempt", attempt).
			Dur("backoff", next).
			Msg("backend call failed, retrying")
	}
	return backoff.RetryNotify(operation, p.backOff(ctx), notify)
}

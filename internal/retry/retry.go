// SPDX-License-Identifier: MIT

// Package retry runs fallible operations with exponential backoff. Delay
// growth comes from cenkalti/backoff; the loop itself stays explicit so
// rate-limit errors can substitute the server's Retry-After for the
// computed delay.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/crateworks/linernotes/internal/clock"
	"github.com/crateworks/linernotes/internal/errcat"
	"github.com/crateworks/linernotes/internal/log"
	"github.com/crateworks/linernotes/internal/metrics"
)

// Config tunes one retry loop.
type Config struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Factor       float64
	// Jitter spreads each delay over [0.7, 1.3] of its nominal value.
	Jitter bool
	// RetryIf overrides the default retryability check (errcat).
	RetryIf func(error) bool
	// Clock substitutes the time source in tests.
	Clock clock.Clock
}

func (c *Config) applyDefaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = 500 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 10 * time.Second
	}
	if c.Factor <= 1 {
		c.Factor = 2
	}
	if c.RetryIf == nil {
		c.RetryIf = errcat.IsRetryable
	}
	if c.Clock == nil {
		c.Clock = clock.System()
	}
}

// Do runs fn until it succeeds, fails permanently, or exhausts
// cfg.MaxAttempts, sleeping between attempts. Rate-limit errors carrying
// a Retry-After wait exactly that long instead of the backoff delay.
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context) error) error {
	return do(ctx, "", cfg, fn)
}

// DoRateLimited is Do with defaults sized for rate-limited upstreams
// (more attempts, slower start, wider ceiling) and a per-retry metric
// tagged with resource.
func DoRateLimited(ctx context.Context, resource string, cfg Config, fn func(ctx context.Context) error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = 2 * time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = time.Minute
	}
	return do(ctx, resource, cfg, fn)
}

func do(ctx context.Context, resource string, cfg Config, fn func(ctx context.Context) error) error {
	cfg.applyDefaults()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.InitialDelay
	bo.Multiplier = cfg.Factor
	bo.MaxInterval = cfg.MaxDelay
	bo.MaxElapsedTime = 0
	if cfg.Jitter {
		bo.RandomizationFactor = 0.3
	} else {
		bo.RandomizationFactor = 0
	}
	bo.Reset()

	var err error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if !cfg.RetryIf(err) || attempt == cfg.MaxAttempts {
			return err
		}

		delay := bo.NextBackOff()
		// The server knows its own window better than our backoff does.
		if after, ok := errcat.RetryAfterOf(err); ok && errcat.CategoryOf(err) == errcat.RateLimit {
			delay = after
		}

		logger := log.WithComponent("retry")
		logger.Debug().
			Err(err).
			Str("resource", resource).
			Int("attempt", attempt).
			Int("max_attempts", cfg.MaxAttempts).
			Dur("delay", delay).
			Msg("retrying after failure")
		if resource != "" {
			metrics.RecordUpstreamRetry(resource)
		}

		if sleepErr := cfg.Clock.Sleep(ctx, delay); sleepErr != nil {
			return sleepErr
		}
	}
	return err
}

// SPDX-License-Identifier: MIT

package httpx

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/crateworks/linernotes/internal/clock"
	"github.com/crateworks/linernotes/internal/errcat"
	"github.com/crateworks/linernotes/internal/ratelimit"
	"github.com/crateworks/linernotes/internal/resilience"
	"github.com/crateworks/linernotes/internal/retry"
)

type attemptKey struct{}

// ContextWithAttempt records how many times the surrounding message has
// already been delivered. The shared rate limiter widens its window for
// redelivered work, so upstream pressure eases instead of compounding.
func ContextWithAttempt(ctx context.Context, attempt int) context.Context {
	if attempt <= 0 {
		return ctx
	}
	return context.WithValue(ctx, attemptKey{}, attempt)
}

// AttemptFromContext returns the delivery attempt recorded on ctx, 0 if
// none.
func AttemptFromContext(ctx context.Context) int {
	if v, ok := ctx.Value(attemptKey{}).(int); ok {
		return v
	}
	return 0
}

// Chain is the policy every outbound call to one upstream passes
// through: circuit breaker first (fail fast without burning quota), the
// shared durable rate limiter next, then the retry loop around the
// actual fetch. A denied limiter check surfaces as a rate_limit error
// carrying the time until the window reopens.
type Chain struct {
	// Resource is the shared rate-limit key and metric label, e.g.
	// "spotify".
	Resource string

	Breakers *resilience.Registry
	Limiter  *ratelimit.Limiter

	// MaxRequests per Window across every worker sharing the limiter
	// store.
	MaxRequests int
	Window      time.Duration

	Retry retry.Config

	// Pace optionally smooths the local call rate below the shared
	// window, so one process cannot drain the whole fleet's quota in a
	// burst.
	Pace *rate.Limiter

	Clock clock.Clock
}

func (ch *Chain) now() time.Time {
	if ch.Clock == nil {
		return clock.System().Now()
	}
	return ch.Clock.Now()
}

// Call runs fn under the breaker named breakerName and the chain's
// shared limiter. Upstream 429s park the shared window for everyone via
// the limiter's reset, and breaker state persists across invocations.
func (ch *Chain) Call(ctx context.Context, breakerName string, fn func(context.Context) error) error {
	breaker := ch.Breakers.GetOrCreate(breakerName)
	return breaker.Fire(ctx, func(ctx context.Context) error {
		if ch.Pace != nil {
			if err := ch.Pace.Wait(ctx); err != nil {
				return errcat.Wrap(errcat.Timeout, err, "pacing "+ch.Resource)
			}
		}

		if !ch.Limiter.CanProceed(ctx, ch.Resource, ch.MaxRequests, ch.Window, AttemptFromContext(ctx)) {
			e := errcat.Newf(errcat.RateLimit, "%s rate limit window exhausted", ch.Resource)
			if capacity, err := ch.Limiter.Remaining(ctx, ch.Resource); err == nil && capacity != nil {
				if wait := capacity.ResetAt.Sub(ch.now()); wait > 0 {
					e.RetryAfter = wait
				}
			}
			return e
		}

		return retry.Do(ctx, ch.Retry, func(ctx context.Context) error {
			err := fn(ctx)
			if err != nil && errcat.CategoryOf(err) == errcat.RateLimit {
				if after, ok := errcat.RetryAfterOf(err); ok {
					// The upstream named its own window; park the shared
					// limiter so every worker backs off, not just this one.
					_ = ch.Limiter.Reset(ctx, ch.Resource, ch.now().Add(after))
				}
			}
			return err
		})
	})
}

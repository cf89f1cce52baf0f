// SPDX-License-Identifier: MIT

// Package clock abstracts time for components that schedule, expire or
// back off, so tests can drive them deterministically.
package clock

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Clock supplies the current time and interruptible sleeps.
type Clock interface {
	Now() time.Time
	// Sleep blocks for d or until ctx is done, returning ctx.Err() in the
	// latter case.
	Sleep(ctx context.Context, d time.Duration) error
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// System returns the process-wide wall clock.
func System() Clock { return systemClock{} }

// Jitter scales d by a random factor in [lo, hi].
func Jitter(d time.Duration, lo, hi float64) time.Duration {
	if d <= 0 || hi <= lo {
		return d
	}
	f := lo + rand.Float64()*(hi-lo)
	return time.Duration(float64(d) * f)
}

// Fake is a manually driven Clock for tests. Sleep returns immediately and
// advances the fake time by the requested duration.
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

// NewFake returns a Fake pinned to start.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.Advance(d)
	return nil
}

// Advance moves the fake time forward by d.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

// Set pins the fake time to t.
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = t
}

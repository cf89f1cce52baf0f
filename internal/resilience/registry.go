// SPDX-License-Identifier: MIT

package resilience

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/crateworks/linernotes/internal/clock"
	"github.com/crateworks/linernotes/internal/log"
)

// Registry is the process-wide breaker map. Every caller asking for the
// same name shares one breaker, and all breakers share the registry's
// state store and clock.
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*Breaker
	store    StateStore
	clk      clock.Clock
}

// NewRegistry returns an empty registry. store may be nil for purely
// in-memory breakers; clk nil means the system clock.
func NewRegistry(store StateStore, clk clock.Clock) *Registry {
	if clk == nil {
		clk = clock.System()
	}
	return &Registry{
		breakers: make(map[string]*Breaker),
		store:    store,
		clk:      clk,
	}
}

// GetOrCreate returns the breaker for name, building it with the
// per-name default settings on first use.
func (r *Registry) GetOrCreate(name string) *Breaker {
	return r.GetOrCreateWith(SettingsFor(name))
}

// GetOrCreateWith returns the breaker for settings.Name, building it
// from settings on first use. Later calls ignore the settings.
func (r *Registry) GetOrCreateWith(settings Settings) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[settings.Name]; ok {
		return b
	}
	opts := []Option{WithClock(r.clk)}
	if r.store != nil {
		opts = append(opts, WithStateStore(r.store))
	}
	b := NewBreaker(settings, opts...)
	r.breakers[settings.Name] = b
	return b
}

// Get returns the breaker for name when one exists.
func (r *Registry) Get(name string) (*Breaker, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[name]
	return b, ok
}

// Names lists the registered breaker names, sorted.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.breakers))
	for name := range r.breakers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Snapshots returns the current state of every registered breaker.
func (r *Registry) Snapshots() []BreakerState {
	r.mu.Lock()
	breakers := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		breakers = append(breakers, b)
	}
	r.mu.Unlock()

	snaps := make([]BreakerState, 0, len(breakers))
	for _, b := range breakers {
		snaps = append(snaps, b.Snapshot())
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].Name < snaps[j].Name })
	return snaps
}

// ResetWithPrefix force-closes every breaker whose name starts with
// prefix, in memory and in storage, and reports how many were touched.
func (r *Registry) ResetWithPrefix(ctx context.Context, prefix string) int {
	r.mu.Lock()
	var matched []*Breaker
	for name, b := range r.breakers {
		if strings.HasPrefix(name, prefix) {
			matched = append(matched, b)
		}
	}
	r.mu.Unlock()

	for _, b := range matched {
		b.Reset(ctx)
	}
	n := len(matched)

	if r.store != nil {
		stored, err := r.store.ResetPrefix(ctx, prefix)
		if err != nil {
			logger := log.WithComponent("resilience")
			logger.Error().
				Err(err).
				Str("prefix", prefix).
				Msg("resetting persisted breakers failed")
		} else if stored > n {
			// Rows for breakers other processes own.
			n = stored
		}
	}

	logger := log.WithComponent("resilience")
	logger.Info().
		Str("prefix", prefix).
		Int("reset", n).
		Msg("circuit breakers reset")
	return n
}

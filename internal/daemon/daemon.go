// SPDX-License-Identifier: MIT

// Package daemon owns the process lifecycle: the five stage workers,
// the maintenance loop and the HTTP server run under one errgroup and
// stop together.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/crateworks/linernotes/internal/log"
	"github.com/crateworks/linernotes/internal/maintenance"
	"github.com/crateworks/linernotes/internal/pipeline"
)

// Config tunes the daemon runtime.
type Config struct {
	ListenAddr string

	// TickInterval is the pause between stage worker polls.
	TickInterval time.Duration
	// MaintenanceInterval is the pause between maintenance cycles.
	MaintenanceInterval time.Duration

	// WriteTimeout must cover a manual stage tick, which processes a
	// whole batch inline before responding.
	ReadHeaderTimeout time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	ShutdownTimeout   time.Duration
}

func (c *Config) applyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = ":8080"
	}
	if c.TickInterval <= 0 {
		c.TickInterval = 2 * time.Minute
	}
	if c.MaintenanceInterval <= 0 {
		c.MaintenanceInterval = 5 * time.Minute
	}
	if c.ReadHeaderTimeout <= 0 {
		c.ReadHeaderTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Minute
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 2 * time.Minute
	}
	if c.MaxHeaderBytes <= 0 {
		c.MaxHeaderBytes = 1 << 20
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 15 * time.Second
	}
}

// App runs every long-lived component and stops them together.
type App struct {
	cfg     Config
	handler http.Handler
	runners map[string]pipeline.Runner
	maint   *maintenance.Loop
}

// New validates the components and returns an App. The maintenance loop
// is optional; everything else is required.
func New(cfg Config, handler http.Handler, runners map[string]pipeline.Runner, maint *maintenance.Loop) (*App, error) {
	if handler == nil {
		return nil, fmt.Errorf("daemon: handler is nil")
	}
	if len(runners) == 0 {
		return nil, fmt.Errorf("daemon: no stage runners")
	}
	cfg.applyDefaults()
	return &App{cfg: cfg, handler: handler, runners: runners, maint: maint}, nil
}

// Run blocks until ctx is cancelled or a component fails. Cancellation
// counts as a clean shutdown, not an error.
func (a *App) Run(ctx context.Context) error {
	logger := log.WithComponent("daemon")
	g, ctx := errgroup.WithContext(ctx)

	for _, r := range a.runners {
		g.Go(func() error {
			logger.Info().Str(log.FieldQueue, r.Queue()).Msg("stage worker started")
			return ignoreCancel(r.Run(ctx, a.cfg.TickInterval))
		})
	}

	if a.maint != nil {
		g.Go(func() error {
			logger.Info().Msg("maintenance loop started")
			return ignoreCancel(a.maint.Run(ctx, a.cfg.MaintenanceInterval))
		})
	}

	server := &http.Server{
		Addr:              a.cfg.ListenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: a.cfg.ReadHeaderTimeout,
		WriteTimeout:      a.cfg.WriteTimeout,
		IdleTimeout:       a.cfg.IdleTimeout,
		MaxHeaderBytes:    a.cfg.MaxHeaderBytes,
	}

	g.Go(func() error {
		logger.Info().Str("addr", a.cfg.ListenAddr).Msg("http server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("http server shutdown failed")
		}
		return nil
	})

	err := g.Wait()
	logger.Info().Msg("daemon stopped")
	return err
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

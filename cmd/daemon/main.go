// SPDX-License-Identifier: MIT

// Command daemon runs the enrichment pipeline: five stage workers over
// pgmq queues, the maintenance loop and the HTTP control surface.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/crateworks/linernotes/internal/api"
	"github.com/crateworks/linernotes/internal/api/middleware"
	"github.com/crateworks/linernotes/internal/cache"
	"github.com/crateworks/linernotes/internal/catalog"
	"github.com/crateworks/linernotes/internal/config"
	"github.com/crateworks/linernotes/internal/daemon"
	"github.com/crateworks/linernotes/internal/genius"
	"github.com/crateworks/linernotes/internal/health"
	"github.com/crateworks/linernotes/internal/log"
	"github.com/crateworks/linernotes/internal/maintenance"
	"github.com/crateworks/linernotes/internal/platform/httpx"
	"github.com/crateworks/linernotes/internal/queue"
	"github.com/crateworks/linernotes/internal/ratelimit"
	"github.com/crateworks/linernotes/internal/resilience"
	"github.com/crateworks/linernotes/internal/retry"
	"github.com/crateworks/linernotes/internal/spotify"
	"github.com/crateworks/linernotes/internal/stages"
	"github.com/crateworks/linernotes/internal/store"
	"github.com/crateworks/linernotes/internal/telemetry"
	"github.com/crateworks/linernotes/internal/version"
)

// Upstream call policy. The shared window bounds the whole fleet across
// workers; the local pace keeps one process from draining it in a burst.
const (
	spotifyMaxRequests = 90
	spotifyWindow      = 30 * time.Second

	geniusMaxRequests = 60
	geniusWindow      = time.Minute
)

func main() {
	os.Exit(run())
}

func run() int {
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("linernotes %s\n", version.String())
		return 0
	}

	cfg, err := config.FromEnv()
	if err != nil {
		log.Configure(log.Config{Service: "linernotes"})
		log.WithComponent("daemon").Error().Err(err).Msg("configuration invalid")
		return 1
	}

	log.Configure(log.Config{
		Level:   cfg.EffectiveLogLevel(),
		Service: "linernotes",
		Console: cfg.IsDevelopment(),
	})
	logger := log.WithComponent("daemon")

	if err := health.PerformStartupChecks(cfg); err != nil {
		logger.Error().Err(err).Msg("startup checks failed")
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info().
		Str("version", version.Version).
		Str("environment", cfg.Environment).
		Str("addr", cfg.HTTPAddr).
		Msg("starting linernotes")

	pool, err := store.NewPool(ctx, store.DefaultPoolConfig(cfg.DatabaseURL))
	if err != nil {
		logger.Error().Err(err).Msg("database pool failed")
		return 1
	}
	defer pool.Close()

	// Queue drop/recreate is DDL; give it its own pool under the
	// privileged role when one is configured.
	adminPool := pool
	if cfg.ServiceKey != "" {
		adminURL, err := store.AdminURL(cfg.DatabaseURL, cfg.ServiceKey)
		if err != nil {
			logger.Error().Err(err).Msg("admin database URL invalid")
			return 1
		}
		adminPool, err = store.NewPool(ctx, store.DefaultPoolConfig(adminURL))
		if err != nil {
			logger.Error().Err(err).Msg("admin database pool failed")
			return 1
		}
		defer adminPool.Close()
	}

	q := queue.NewPGMQ(pool, adminPool)
	for _, name := range queue.All() {
		if err := q.Create(ctx, name); err != nil {
			logger.Error().Err(err).Str(log.FieldQueue, name).Msg("queue create failed")
			return 1
		}
	}

	rec := store.NewRuntime(pool)

	provider, err := telemetry.NewProvider(ctx, telemetry.Config{
		ServiceName:    telemetry.ServiceName,
		ServiceVersion: version.Version,
		Environment:    cfg.Environment,
		ExporterType:   cfg.OTelExporter,
		Endpoint:       cfg.OTelEndpoint,
		SpanSink:       store.NewTraceStore(pool),
	})
	if err != nil {
		logger.Error().Err(err).Msg("telemetry init failed")
		return 1
	}
	defer func() {
		if err := provider.Shutdown(context.Background()); err != nil {
			logger.Error().Err(err).Msg("telemetry shutdown failed")
		}
	}()

	var (
		sharedCache cache.Cache
		cachePing   func(context.Context) error
	)
	if cfg.RedisAddr != "" {
		redisCache, err := cache.NewRedisCache(cache.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, log.WithComponent("cache"))
		if err != nil {
			logger.Error().Err(err).Msg("redis cache failed")
			return 1
		}
		defer func() { _ = redisCache.Close() }()
		sharedCache = redisCache
		cachePing = redisCache.HealthCheck
	} else {
		sharedCache = cache.NewMemoryCache(cache.MemoryOptions{})
	}

	breakers := resilience.NewRegistry(resilience.NewPGStateStore(pool), nil)
	limiter := ratelimit.New(ratelimit.NewPGStore(pool), nil)
	guard := httpx.NewGuard(cfg.HTTPMaxConcurrent, nil)
	httpClient := httpx.NewClient(0)

	spotifyClient, err := spotify.New(spotify.Config{
		ClientID:     cfg.SpotifyClientID,
		ClientSecret: cfg.SpotifyClientSecret,
	}, spotify.Deps{
		HTTP:  httpClient,
		Guard: guard,
		Cache: sharedCache,
		Chain: &httpx.Chain{
			Resource:    "spotify",
			Breakers:    breakers,
			Limiter:     limiter,
			MaxRequests: spotifyMaxRequests,
			Window:      spotifyWindow,
			Retry:       retry.Config{Jitter: true},
			Pace:        rate.NewLimiter(rate.Limit(3), 3),
		},
	})
	if err != nil {
		logger.Error().Err(err).Msg("spotify client failed")
		return 1
	}

	geniusClient := genius.New(genius.Config{
		AccessToken: cfg.GeniusAccessToken,
	}, genius.Deps{
		HTTP:  httpClient,
		Guard: guard,
		Cache: sharedCache,
		Chain: &httpx.Chain{
			Resource:    "genius",
			Breakers:    breakers,
			Limiter:     limiter,
			MaxRequests: geniusMaxRequests,
			Window:      geniusWindow,
			Retry:       retry.Config{Jitter: true},
			Pace:        rate.NewLimiter(rate.Limit(2), 2),
		},
	})

	runners, err := stages.Build(stages.Deps{
		Catalog:   catalog.NewPGStore(pool),
		Spotify:   spotifyClient,
		Genius:    geniusClient,
		Queue:     q,
		Recorder:  rec,
		Breakers:  breakers,
		Overrides: cfg.Stages,
	})
	if err != nil {
		logger.Error().Err(err).Msg("stage wiring failed")
		return 1
	}

	maint, err := maintenance.New(q, rec, maintenance.Config{
		Retention: cfg.MetricsRetention,
	})
	if err != nil {
		logger.Error().Err(err).Msg("maintenance wiring failed")
		return 1
	}

	probes := health.NewManager(version.Version)
	probes.RegisterChecker(health.NewPingChecker("database", pool.Ping))
	probes.RegisterChecker(health.NewQueueChecker(q, nil))
	probes.RegisterChecker(health.NewBreakerChecker(breakers))
	if cachePing != nil {
		probes.RegisterChecker(health.NewOptionalPingChecker("cache", cachePing))
	}

	srv, err := api.New(api.Deps{
		Runners:  runners,
		Queue:    q,
		Admin:    q,
		Recorder: rec,
		Breakers: breakers,
		Health:   probes,
	}, middleware.StackConfig{
		AllowedOrigins: cfg.CORSOrigins,
		TracingService: telemetry.ServiceName,
	})
	if err != nil {
		logger.Error().Err(err).Msg("api wiring failed")
		return 1
	}

	app, err := daemon.New(daemon.Config{
		ListenAddr:          cfg.HTTPAddr,
		TickInterval:        cfg.TickInterval,
		MaintenanceInterval: cfg.MaintenanceInterval,
	}, srv.Router(), runners, maint)
	if err != nil {
		logger.Error().Err(err).Msg("daemon wiring failed")
		return 1
	}

	if err := app.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("daemon failed")
		return 1
	}
	logger.Info().Msg("exited")
	return 0
}

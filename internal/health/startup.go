// SPDX-License-Identifier: MIT

package health

import (
	"fmt"
	"net"
	"net/url"
	"strconv"

	"github.com/crateworks/linernotes/internal/config"
	"github.com/crateworks/linernotes/internal/log"
	"github.com/crateworks/linernotes/internal/queue"
)

// PerformStartupChecks validates the environment before the daemon opens
// pools or queues. Everything here fails fast with a precise message
// instead of surfacing later as a connect timeout mid-pipeline.
func PerformStartupChecks(cfg *config.Config) error {
	logger := log.WithComponent("startup-check")

	if err := checkListenAddr(cfg.HTTPAddr); err != nil {
		return fmt.Errorf("listen address check failed: %w", err)
	}
	if err := checkDatabaseURL(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("database URL check failed: %w", err)
	}
	if err := checkRedisAddr(cfg.RedisAddr); err != nil {
		return fmt.Errorf("redis address check failed: %w", err)
	}
	if err := checkTracing(cfg.OTelExporter, cfg.OTelEndpoint); err != nil {
		return fmt.Errorf("tracing config check failed: %w", err)
	}
	if err := checkStageOverrides(cfg.Stages); err != nil {
		return fmt.Errorf("stage override check failed: %w", err)
	}

	if cfg.GeniusAccessToken == "" {
		logger.Warn().Msg("no Genius token configured; producer identification will rely on catalog credits only")
	}

	logger.Info().Msg("startup checks passed")
	return nil
}

func checkListenAddr(addr string) error {
	if addr == "" {
		return fmt.Errorf("listen address is empty")
	}
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid listen address %q: %w", addr, err)
	}
	portNum, err := strconv.Atoi(port)
	if err != nil || portNum < 0 || portNum > 65535 {
		return fmt.Errorf("invalid port %q in listen address %q", port, addr)
	}
	return nil
}

func checkDatabaseURL(dsn string) error {
	u, err := url.Parse(dsn)
	if err != nil {
		return fmt.Errorf("invalid database URL: %w", err)
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return fmt.Errorf("database URL scheme must be postgres or postgresql, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("database URL has no host")
	}
	return nil
}

func checkRedisAddr(addr string) error {
	if addr == "" {
		return nil // in-process cache
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("invalid redis address %q: %w", addr, err)
	}
	return nil
}

func checkTracing(exporter, endpoint string) error {
	switch exporter {
	case "", "none":
		return nil
	case "grpc", "http":
		if endpoint == "" {
			return fmt.Errorf("OTEL_EXPORTER is %q but OTEL_ENDPOINT is empty", exporter)
		}
		return nil
	default:
		return fmt.Errorf("unknown OTEL_EXPORTER %q (want grpc, http or none)", exporter)
	}
}

func checkStageOverrides(overrides map[string]config.StageOverride) error {
	for name, o := range overrides {
		if err := queue.ValidateName(name); err != nil {
			return fmt.Errorf("override for unknown stage: %w", err)
		}
		if o.BatchSize < 0 {
			return fmt.Errorf("stage %s: batch_size must not be negative, got %d", name, o.BatchSize)
		}
		if o.MaxRetries < 0 {
			return fmt.Errorf("stage %s: max_retries must not be negative, got %d", name, o.MaxRetries)
		}
		if o.VisibilityTimeout.Std() < 0 || o.Timeout.Std() < 0 {
			return fmt.Errorf("stage %s: durations must not be negative", name)
		}
		if t, vt := o.Timeout.Std(), o.VisibilityTimeout.Std(); t > 0 && vt > 0 && t >= vt {
			return fmt.Errorf("stage %s: timeout %s must be shorter than visibility timeout %s", name, t, vt)
		}
	}
	return nil
}

// SPDX-License-Identifier: MIT

// Package config loads the runtime configuration for the enrichment
// pipeline from environment variables, with an optional YAML file for
// per-stage tuning.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the full runtime configuration of the daemon.
type Config struct {
	// Postgres connection string for the pipeline database (required).
	DatabaseURL string
	// Privileged credentials for DDL operations such as queue resets and
	// migrations. When set, it replaces the password of DatabaseURL for a
	// dedicated admin pool. Optional.
	ServiceKey string

	SpotifyClientID     string
	SpotifyClientSecret string
	// Genius API token. When empty, producer identification and social
	// enrichment degrade gracefully instead of calling Genius.
	GeniusAccessToken string

	// "development" or "production". Development enables debug logging and
	// permissive CORS.
	Environment string
	LogLevel    string
	HTTPAddr    string
	CORSOrigins []string

	// Optional Redis backend for the shared cache. Empty means in-process.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Tracing exporter: "grpc", "http" or "none". Spans are persisted to
	// the traces table regardless of this setting.
	OTelExporter string
	OTelEndpoint string

	// How often the daemon ticks each stage worker.
	TickInterval time.Duration
	// How often the maintenance loop runs.
	MaintenanceInterval time.Duration
	// Upper bound on concurrent outbound HTTP requests.
	HTTPMaxConcurrent int64
	// Rows older than this are pruned from append-only metric tables.
	MetricsRetention time.Duration

	// Optional YAML file with per-stage overrides.
	StagesFile string
	Stages     map[string]StageOverride
}

// FromEnv builds a Config from the process environment and validates it.
func FromEnv() (*Config, error) {
	cfg := &Config{
		DatabaseURL:         ParseString("DB_URL", ""),
		ServiceKey:          ParseString("DB_SERVICE_KEY", ""),
		SpotifyClientID:     ParseString("SPOTIFY_CLIENT_ID", ""),
		SpotifyClientSecret: ParseString("SPOTIFY_CLIENT_SECRET", ""),
		GeniusAccessToken:   ParseString("GENIUS_ACCESS_TOKEN", ""),
		Environment:         ParseString("ENVIRONMENT", "development"),
		LogLevel:            ParseString("LOG_LEVEL", ""),
		HTTPAddr:            ParseString("HTTP_ADDR", ":8080"),
		CORSOrigins:         splitAndTrim(ParseString("CORS_ALLOWED_ORIGINS", "*")),
		RedisAddr:           ParseString("CACHE_REDIS_ADDR", ""),
		RedisPassword:       ParseString("CACHE_REDIS_PASSWORD", ""),
		RedisDB:             ParseInt("CACHE_REDIS_DB", 0),
		OTelExporter:        ParseString("OTEL_EXPORTER", "none"),
		OTelEndpoint:        ParseString("OTEL_ENDPOINT", ""),
		TickInterval:        ParseDuration("TICK_INTERVAL", 2*time.Minute),
		MaintenanceInterval: ParseDuration("MAINTENANCE_INTERVAL", 5*time.Minute),
		HTTPMaxConcurrent:   int64(ParseInt("HTTP_MAX_CONCURRENT", 10)),
		MetricsRetention:    ParseDuration("METRICS_RETENTION", 14*24*time.Hour),
		StagesFile:          ParseString("STAGES_FILE", ""),
	}

	if cfg.StagesFile != "" {
		overrides, err := LoadStageOverrides(cfg.StagesFile)
		if err != nil {
			return nil, fmt.Errorf("loading stage overrides: %w", err)
		}
		cfg.Stages = overrides
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the required settings and value ranges.
func (c *Config) Validate() error {
	var missing []string
	if c.DatabaseURL == "" {
		missing = append(missing, "DB_URL")
	}
	if c.SpotifyClientID == "" {
		missing = append(missing, "SPOTIFY_CLIENT_ID")
	}
	if c.SpotifyClientSecret == "" {
		missing = append(missing, "SPOTIFY_CLIENT_SECRET")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}

	switch c.Environment {
	case "development", "production":
	default:
		return fmt.Errorf("invalid ENVIRONMENT %q (want development or production)", c.Environment)
	}

	switch c.OTelExporter {
	case "grpc", "http", "none":
	default:
		return fmt.Errorf("invalid OTEL_EXPORTER %q (want grpc, http or none)", c.OTelExporter)
	}

	if c.TickInterval <= 0 {
		return fmt.Errorf("TICK_INTERVAL must be positive, got %s", c.TickInterval)
	}
	if c.HTTPMaxConcurrent <= 0 {
		return fmt.Errorf("HTTP_MAX_CONCURRENT must be positive, got %d", c.HTTPMaxConcurrent)
	}
	return nil
}

// IsDevelopment reports whether the daemon runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// HasGenius reports whether a Genius API token is configured.
func (c *Config) HasGenius() bool {
	return c.GeniusAccessToken != ""
}

// EffectiveLogLevel resolves the log level from LOG_LEVEL or the environment
// mode.
func (c *Config) EffectiveLogLevel() string {
	if c.LogLevel != "" {
		return c.LogLevel
	}
	if c.IsDevelopment() {
		return "debug"
	}
	return "info"
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

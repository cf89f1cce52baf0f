package log

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config controls the process-wide logger.
type Config struct {
	Level   string    // "debug", "info", ...; LOG_LEVEL, then info, when empty
	Output  io.Writer // defaults to os.Stdout
	Service string    // service field on every entry; LOG_SERVICE, then "linernotes", when empty
	Console bool      // human-readable console output instead of JSON
}

var (
	mu         sync.Mutex
	base       zerolog.Logger
	ready      bool
	configured bool
)

// Configure installs the process logger. The first explicit call wins
// and later ones are no-ops. Packages that log before Configure runs
// (config parsing does) write through an environment-driven default
// that the explicit call then replaces.
func Configure(cfg Config) {
	mu.Lock()
	defer mu.Unlock()
	if configured {
		return
	}
	configured = true
	apply(cfg)
}

// apply builds the base logger. Callers hold mu.
func apply(cfg Config) {
	zerolog.SetGlobalLevel(resolveLevel(cfg.Level))
	zerolog.TimeFieldFormat = time.RFC3339

	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	if cfg.Console {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	base = zerolog.New(out).With().
		Timestamp().
		Str("service", resolveService(cfg.Service)).
		Logger()
	ready = true
}

func resolveLevel(explicit string) zerolog.Level {
	for _, candidate := range []string{explicit, os.Getenv("LOG_LEVEL")} {
		if candidate == "" {
			continue
		}
		if level, err := zerolog.ParseLevel(candidate); err == nil {
			return level
		}
	}
	return zerolog.InfoLevel
}

func resolveService(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if service := os.Getenv("LOG_SERVICE"); service != "" {
		return service
	}
	return "linernotes"
}

func logger() zerolog.Logger {
	mu.Lock()
	defer mu.Unlock()
	if !ready {
		apply(Config{})
	}
	return base
}

// Base returns the process logger.
func Base() zerolog.Logger {
	return logger()
}

// WithComponent returns a child logger annotated with the component name.
func WithComponent(component string) zerolog.Logger {
	return logger().With().Str("component", component).Logger()
}

// SPDX-License-Identifier: MIT

// Command migrate applies the embedded schema migrations. The daemon
// never issues DDL at startup; deploys run this first.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/crateworks/linernotes/internal/config"
	"github.com/crateworks/linernotes/internal/log"
	"github.com/crateworks/linernotes/internal/migrations"
	"github.com/crateworks/linernotes/internal/store"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		up      = flag.Bool("up", false, "apply all pending migrations")
		down    = flag.Int("down", 0, "roll back the given number of migrations")
		version = flag.Bool("version", false, "print the current schema version and exit")
	)
	flag.Parse()

	log.Configure(log.Config{Service: "linernotes-migrate"})
	logger := log.WithComponent("migrate")

	dbURL := config.ParseString("DB_URL", "")
	if dbURL == "" {
		logger.Error().Msg("DB_URL is required")
		return 2
	}

	// Migrations are DDL, so swap in the privileged role when one is
	// configured. Plain deployments run them as the app role.
	adminURL, err := store.AdminURL(dbURL, config.ParseString("DB_SERVICE_KEY", ""))
	if err != nil {
		logger.Error().Err(err).Msg("invalid DB_URL")
		return 2
	}

	switch {
	case *version:
		v, dirty, err := migrations.Version(adminURL)
		if err != nil {
			logger.Error().Err(err).Msg("schema version lookup failed")
			return 1
		}
		fmt.Printf("version=%d dirty=%v\n", v, dirty)
		return 0

	case *down > 0:
		if err := migrations.Down(adminURL, *down); err != nil {
			logger.Error().Err(err).Int("steps", *down).Msg("migrate down failed")
			return 1
		}
		logger.Info().Int("steps", *down).Msg("rolled back")
		return 0

	case *up:
		if err := migrations.Up(adminURL); err != nil {
			logger.Error().Err(err).Msg("migrate up failed")
			return 1
		}
		logger.Info().Msg("schema is up to date")
		return 0

	default:
		flag.Usage()
		return 2
	}
}

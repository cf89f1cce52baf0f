// SPDX-License-Identifier: MIT

// Package api exposes the pipeline over HTTP: a health and control
// endpoint per stage, admin views over queues and circuit breakers,
// liveness and Prometheus metrics.
package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/crateworks/linernotes/internal/api/middleware"
	"github.com/crateworks/linernotes/internal/health"
	"github.com/crateworks/linernotes/internal/pipeline"
	"github.com/crateworks/linernotes/internal/queue"
	"github.com/crateworks/linernotes/internal/resilience"
	"github.com/crateworks/linernotes/internal/store"
	"github.com/crateworks/linernotes/internal/version"
)

// Deps carries everything the HTTP surface operates on. Admin must come
// from the privileged pool: queue resets are DDL. Health is optional;
// when nil a manager with no dependency checks serves the probes.
type Deps struct {
	Runners  map[string]pipeline.Runner
	Queue    queue.Queue
	Admin    queue.Queue
	Recorder store.Recorder
	Breakers *resilience.Registry
	Health   *health.Manager
}

// Server routes HTTP requests to the stage workers and admin operations.
type Server struct {
	runners  map[string]pipeline.Runner
	queue    queue.Queue
	admin    queue.Queue
	breakers *resilience.Registry
	health   *health.Manager
	seed     *pipeline.Enqueuer
	stack    middleware.StackConfig
}

// New validates deps and returns a Server. Every stage queue must have a
// runner wired; a partial set means the daemon booted half a pipeline.
func New(deps Deps, stack middleware.StackConfig) (*Server, error) {
	if deps.Queue == nil || deps.Admin == nil || deps.Recorder == nil || deps.Breakers == nil {
		return nil, fmt.Errorf("api: missing dependency")
	}
	for _, name := range queue.All() {
		if _, ok := deps.Runners[name]; !ok {
			return nil, fmt.Errorf("api: no runner for queue %s", name)
		}
	}
	if deps.Health == nil {
		deps.Health = health.NewManager(version.Version)
	}
	return &Server{
		runners:  deps.Runners,
		queue:    deps.Queue,
		admin:    deps.Admin,
		breakers: deps.Breakers,
		health:   deps.Health,
		seed:     pipeline.NewEnqueuer(deps.Queue, deps.Recorder, "api"),
		stack:    stack,
	}, nil
}

// Router builds the chi handler with the canonical middleware stack.
func (s *Server) Router() http.Handler {
	r := middleware.NewRouter(s.stack)

	r.Get("/healthz", s.health.ServeHealth)
	r.Get("/readyz", s.health.ServeReady)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/admin", func(r chi.Router) {
		r.Get("/queues", s.handleAdminQueues)
		r.Post("/circuits/reset", s.handleCircuitReset)
	})

	r.Get("/{stage}/health", s.handleStageHealth)
	r.Post("/{stage}", s.handleStagePost)

	return r
}

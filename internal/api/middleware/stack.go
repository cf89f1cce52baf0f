// SPDX-License-Identifier: MIT

// Package middleware provides the HTTP ingress middleware for the API
// server: panic recovery, request correlation, CORS, security headers,
// Prometheus metrics, tracing, access logging and rate limiting.
package middleware

import (
	"github.com/go-chi/chi/v5"
)

// StackConfig configures the canonical ingress middleware stack.
type StackConfig struct {
	AllowedOrigins []string

	// CSP overrides the default Content-Security-Policy header.
	CSP string

	// TracingService names the inbound tracer; empty disables tracing.
	TracingService string

	// RequestsPerMinute caps requests per client IP; 0 disables limiting.
	RequestsPerMinute int
}

// NewRouter constructs a chi router with the canonical stack applied.
func NewRouter(cfg StackConfig) *chi.Mux {
	r := chi.NewRouter()
	ApplyStack(r, cfg)
	return r
}

// ApplyStack applies the canonical middleware stack to r. Order matters:
// recovery outermost, correlation before anything that logs, CORS before
// handlers so preflights short-circuit, limiting last so rejected
// requests still carry headers and metrics.
func ApplyStack(r chi.Router, cfg StackConfig) {
	r.Use(Recoverer)
	r.Use(RequestID)
	r.Use(CORS(cfg.AllowedOrigins))
	r.Use(SecurityHeaders(cfg.CSP))
	r.Use(Metrics())
	if cfg.TracingService != "" {
		r.Use(Tracing(cfg.TracingService))
	}
	r.Use(AccessLog())
	if cfg.RequestsPerMinute > 0 {
		r.Use(APIRateLimit(cfg.RequestsPerMinute))
	}
}

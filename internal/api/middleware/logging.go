// SPDX-License-Identifier: MIT

package middleware

import (
	"net/http"
	"time"

	"github.com/crateworks/linernotes/internal/log"
)

// AccessLog writes one structured line per finished request. It sits
// inside RequestID so every line carries the correlation id.
func AccessLog() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(sw, r)

			logger := log.WithComponentFromContext(r.Context(), "api")
			evt := logger.Info()
			if sw.statusCode >= 500 {
				evt = logger.Error()
			}
			evt.
				Str(log.FieldEvent, "http.request").
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", sw.statusCode).
				Dur("duration", time.Since(start)).
				Int("bytes", sw.bytesWritten).
				Str("remote_addr", r.RemoteAddr).
				Msg("request served")
		})
	}
}

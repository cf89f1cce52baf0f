// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"net/http"

	"github.com/crateworks/linernotes/internal/log"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger := log.WithComponent("api")
		logger.Error().Err(err).Msg("encoding response failed")
	}
}

// writeError renders the error shape shared by every endpoint:
// {"error": ..., "details": ...} with details omitted when empty.
func writeError(w http.ResponseWriter, status int, msg string, details ...string) {
	body := map[string]any{"error": msg}
	if len(details) > 0 && details[0] != "" {
		body["details"] = details[0]
	}
	writeJSON(w, status, body)
}

// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"net/http"

	"github.com/crateworks/linernotes/internal/log"
	"github.com/crateworks/linernotes/internal/queue"
)

// handleAdminQueues returns a stats snapshot of every pipeline queue.
func (s *Server) handleAdminQueues(w http.ResponseWriter, r *http.Request) {
	out := make([]map[string]any, 0, len(queue.All()))
	for _, name := range queue.All() {
		stats, err := s.queue.Stats(r.Context(), name)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "queue stats unavailable", err.Error())
			return
		}
		out = append(out, map[string]any{
			"queue":         stats.Queue,
			"depth":         stats.Depth,
			"oldestAgeSec":  stats.OldestAge.Seconds(),
			"totalMessages": stats.TotalMessages,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"queues": out})
}

// handleCircuitReset closes every breaker whose name starts with the
// given prefix. An empty prefix closes all of them.
func (s *Server) handleCircuitReset(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Prefix string `json:"prefix"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body", err.Error())
		return
	}

	n := s.breakers.ResetWithPrefix(r.Context(), req.Prefix)
	log.WithComponentFromContext(r.Context(), "api").Warn().
		Str("prefix", req.Prefix).
		Int("reset", n).
		Msg("circuit breakers reset")
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "reset": n})
}

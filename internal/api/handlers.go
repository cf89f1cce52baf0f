// SPDX-License-Identifier: MIT

package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/crateworks/linernotes/internal/log"
	"github.com/crateworks/linernotes/internal/pipeline"
	"github.com/crateworks/linernotes/internal/queue"
)

// Stage slugs as they appear in URLs, mapped to the queues they drive.
var stageQueues = map[string]string{
	"artist":   queue.ArtistDiscovery,
	"album":    queue.AlbumDiscovery,
	"track":    queue.TrackDiscovery,
	"producer": queue.ProducerIdentification,
	"social":   queue.SocialEnrichment,
}

const maxBodyBytes = 64 << 10

// stageRunner resolves the {stage} URL parameter, writing a 404 and
// returning ok=false when it names no pipeline stage.
func (s *Server) stageRunner(w http.ResponseWriter, r *http.Request) (pipeline.Runner, string, bool) {
	slug := chi.URLParam(r, "stage")
	name, ok := stageQueues[slug]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown stage", slug)
		return nil, "", false
	}
	runner, ok := s.runners[name]
	if !ok {
		writeError(w, http.StatusNotFound, "stage not running", slug)
		return nil, "", false
	}
	return runner, name, true
}

// handleStageHealth reports the stage's queue, its pending depth and the
// per-message timeout the worker runs under.
func (s *Server) handleStageHealth(w http.ResponseWriter, r *http.Request) {
	runner, name, ok := s.stageRunner(w, r)
	if !ok {
		return
	}

	stats, err := s.queue.Stats(r.Context(), name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "queue stats unavailable", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"queue":   name,
		"pending": stats.Depth,
		"timeout": runner.Config().Timeout.String(),
	})
}

// handleStagePost dispatches on the request body: empty means tick the
// worker once, {action:"reset"} drops and recreates the queue, and a
// domain body seeds the pipeline (artist stage only).
func (s *Server) handleStagePost(w http.ResponseWriter, r *http.Request) {
	runner, name, ok := s.stageRunner(w, r)
	if !ok {
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable request body", err.Error())
		return
	}

	// An empty JSON object counts as an empty body; schedulers commonly
	// send -d '{}'.
	body = bytes.TrimSpace(body)
	if len(body) == 0 || bytes.Equal(body, []byte("{}")) {
		s.tick(w, r, runner)
		return
	}

	var probe struct {
		Action string `json:"action"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body", err.Error())
		return
	}

	switch {
	case probe.Action == "reset":
		s.reset(w, r, name)
	case probe.Action != "":
		writeError(w, http.StatusBadRequest, "unknown action", probe.Action)
	case name == queue.ArtistDiscovery:
		s.seedArtist(w, r, body)
	default:
		writeError(w, http.StatusBadRequest, "stage accepts no domain body", name)
	}
}

// tick runs one poll cycle on the stage worker.
func (s *Server) tick(w http.ResponseWriter, r *http.Request, runner pipeline.Runner) {
	if _, err := runner.RunOnce(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "poll cycle failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// reset drops and recreates the stage queue over the privileged pool.
// Every leased and pending message is gone afterwards.
func (s *Server) reset(w http.ResponseWriter, r *http.Request, name string) {
	if err := s.admin.DropAndRecreate(r.Context(), name); err != nil {
		writeError(w, http.StatusInternalServerError, "queue reset failed", err.Error())
		return
	}
	log.WithComponentFromContext(r.Context(), "api").Warn().
		Str(log.FieldQueue, name).
		Msg("queue dropped and recreated")
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// seedArtist validates the seed payload and enqueues it for discovery.
func (s *Server) seedArtist(w http.ResponseWriter, r *http.Request, body []byte) {
	var msg pipeline.ArtistMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body", err.Error())
		return
	}
	if problems := pipeline.Validate(msg); len(problems) > 0 {
		writeError(w, http.StatusBadRequest, "invalid seed", strings.Join(problems, "; "))
		return
	}

	id, err := s.seed.Enqueue(r.Context(), queue.ArtistDiscovery, msg)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "seed failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": fmt.Sprintf("seeded %s with message %d", queue.ArtistDiscovery, id),
	})
}

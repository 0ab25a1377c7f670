// Package handlers implements the HTTP handlers for the Peupajoh food
// tracking backend: the chat workflow endpoints, session management,
// and the direct food search used for diagnostics.
package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/peupajoh/peupajoh/internal/config"
	"github.com/peupajoh/peupajoh/internal/match"
	"github.com/peupajoh/peupajoh/internal/store"
	"github.com/peupajoh/peupajoh/internal/workflow"
	"github.com/peupajoh/peupajoh/pkg/models"
)

// Handlers holds all handler dependencies.
type Handlers struct {
	Store      store.Store
	Workflow   *workflow.Engine
	Resolution config.ResolutionConfig
}

// New creates a Handlers instance.
func New(s store.Store, wf *workflow.Engine, res config.ResolutionConfig) *Handlers {
	return &Handlers{Store: s, Workflow: wf, Resolution: res}
}

// ── Chat ────────────────────────────────────────────────────

type chatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

func (req *chatRequest) validate() error {
	if strings.TrimSpace(req.SessionID) == "" {
		return fmt.Errorf("session_id is required")
	}
	if strings.TrimSpace(req.Message) == "" {
		return fmt.Errorf("message is required")
	}
	return nil
}

// Chat processes one chat turn and returns the full workflow result.
func (h *Handlers) Chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := req.validate(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.Workflow.ProcessInput(r.Context(), req.SessionID, req.Message)
	if err != nil {
		log.Error().Str("session_id", req.SessionID).Err(err).Msg("chat turn failed")
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// ChatStream is the SSE variant of Chat: advice tokens stream as they
// are generated, then one terminal event carries the result or error.
func (h *Handlers) ChatStream(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := req.validate(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "Streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	err := h.Workflow.ProcessInputStream(r.Context(), req.SessionID, req.Message, func(ev *models.StreamEvent) error {
		data, _ := json.Marshal(ev)
		if _, writeErr := fmt.Fprintf(w, "data: %s\n\n", data); writeErr != nil {
			return writeErr
		}
		flusher.Flush()
		return nil
	})
	if err != nil {
		// the consumer is gone; nothing more can be delivered
		log.Warn().Str("session_id", req.SessionID).Err(err).Msg("chat stream aborted")
	}
}

// ── Sessions ────────────────────────────────────────────────

func (h *Handlers) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.Store.ListSessions(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if sessions == nil {
		sessions = []models.SessionSummary{}
	}
	respondJSON(w, http.StatusOK, sessions)
}

func (h *Handlers) GetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")

	info, err := h.Store.GetSessionInfo(r.Context(), sessionID)
	if err != nil {
		if store.IsNotFound(err) {
			respondError(w, http.StatusNotFound, err.Error())
		} else {
			respondError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	respondJSON(w, http.StatusOK, info)
}

// GetSessionState returns the stage projection used by clients to
// decide what to render next.
func (h *Handlers) GetSessionState(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")

	info, err := h.Store.GetSessionInfo(r.Context(), sessionID)
	if err != nil {
		if store.IsNotFound(err) {
			respondError(w, http.StatusNotFound, err.Error())
		} else {
			respondError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"session_id":   info.SessionID,
		"stage":        info.Stage,
		"next_actions": models.NextActions(info.Stage),
	})
}

type resetRequest struct {
	Confirm bool `json:"confirm"`
}

// ResetSession clears a session back to the start of a tracking cycle.
// Requires an explicit confirm flag. Idempotent.
func (h *Handlers) ResetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")

	var req resetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if !req.Confirm {
		respondError(w, http.StatusBadRequest, "reset requires confirm=true")
		return
	}

	state, err := h.Store.ResetSession(r.Context(), sessionID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	log.Info().Str("session_id", sessionID).Msg("🔄 session reset")
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "reset",
		"session_id": sessionID,
		"stage":      state.Stage,
	})
}

// DeleteSession removes a session entirely. Idempotent.
func (h *Handlers) DeleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")

	if err := h.Store.DeleteSession(r.Context(), sessionID); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.Workflow.ForgetSession(sessionID)

	log.Info().Str("session_id", sessionID).Msg("session deleted")
	respondJSON(w, http.StatusOK, map[string]string{
		"status":     "deleted",
		"session_id": sessionID,
	})
}

// ── Foods ───────────────────────────────────────────────────

// SearchFoods runs the fuzzy matcher directly against the food table.
// Mainly a diagnostic for tuning thresholds and seeding.
func (h *Handlers) SearchFoods(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		respondError(w, http.StatusBadRequest, "query parameter 'q' is required")
		return
	}

	names, err := h.Store.ListFoodNames(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	candidates := match.Top(query, names, h.Resolution.MatchThreshold, h.Resolution.MaxOptions)
	if candidates == nil {
		candidates = []models.MatchCandidate{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"query":      query,
		"threshold":  h.Resolution.MatchThreshold,
		"candidates": candidates,
	})
}

// ── Helpers ─────────────────────────────────────────────────

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

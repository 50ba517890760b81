package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/ClareAI/astra-sip-agent/internal/core/session"
	"github.com/ClareAI/astra-sip-agent/internal/repository"
	"github.com/ClareAI/astra-sip-agent/internal/services/call"
	"github.com/gorilla/mux"
)

// SessionGetter reads the published live-session registry.
type SessionGetter interface {
	Get(ctx context.Context, sessionID string) (*session.CallInfo, error)
}

// Handler serves the read-only observation API: the live call, the published
// session registry, and the journal of past calls.
type Handler struct {
	registry *call.Registry
	sessions SessionGetter                      // nil when the registry is disabled
	repo     repository.CallRepositoryInterface // nil when the journal is disabled
}

func NewHandler(registry *call.Registry, sessions SessionGetter, repo repository.CallRepositoryInterface) *Handler {
	return &Handler{registry: registry, sessions: sessions, repo: repo}
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// Health reports process liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

type currentCallResponse struct {
	Active       bool   `json:"active"`
	CallID       string `json:"call_id,omitempty"`
	LeadID       int    `json:"lead_id,omitempty"`
	CallerNumber string `json:"caller_number,omitempty"`
	StartedAt    string `json:"started_at,omitempty"`
}

// CurrentCall returns the call in progress, if any.
func (h *Handler) CurrentCall(w http.ResponseWriter, r *http.Request) {
	c := h.registry.Current()
	if c == nil {
		respondJSON(w, http.StatusOK, currentCallResponse{Active: false})
		return
	}
	respondJSON(w, http.StatusOK, currentCallResponse{
		Active:       true,
		CallID:       c.ID,
		LeadID:       c.LeadID,
		CallerNumber: c.CallerNumber,
		StartedAt:    c.StartedAt.UTC().Format(time.RFC3339),
	})
}

// GetSession returns the published live session for an id.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	if h.sessions == nil {
		respondError(w, http.StatusServiceUnavailable, "session registry disabled")
		return
	}
	info, err := h.sessions.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get session")
		return
	}
	if info == nil {
		respondError(w, http.StatusNotFound, "session not found")
		return
	}
	respondJSON(w, http.StatusOK, info)
}

// ListCalls returns recent call sessions from the journal.
func (h *Handler) ListCalls(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		respondError(w, http.StatusServiceUnavailable, "call journal disabled")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	sessions, err := h.repo.ListSessions(r.Context(), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list calls")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"calls": sessions})
}

// ListTurns returns the journaled dialog turns for one call session.
func (h *Handler) ListTurns(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		respondError(w, http.StatusServiceUnavailable, "call journal disabled")
		return
	}
	sessionID := mux.Vars(r)["id"]
	s, err := h.repo.GetSession(r.Context(), sessionID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get call")
		return
	}
	if s == nil {
		respondError(w, http.StatusNotFound, "call not found")
		return
	}
	turns, err := h.repo.ListTurns(r.Context(), sessionID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list turns")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"call":  s,
		"turns": turns,
	})
}

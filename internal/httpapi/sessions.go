package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/codequery-ai/orchestrator/internal/session"
)

// SessionHandler exposes conversation sessions: inspection and
// explicit clearing.
type SessionHandler struct {
	sessions *session.Manager
	svc      QueryService
	logger   *zap.Logger
}

func NewSessionHandler(sessions *session.Manager, svc QueryService, logger *zap.Logger) *SessionHandler {
	return &SessionHandler{sessions: sessions, svc: svc, logger: logger}
}

// RegisterRoutes registers session routes on the provided mux.
func (h *SessionHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/sessions/", h.handleSession)
}

// handleSession serves GET and DELETE for /v1/sessions/{id}.
func (h *SessionHandler) handleSession(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/v1/sessions/")
	if id == "" || strings.Contains(id, "/") {
		writeJSONError(w, http.StatusBadRequest, "session id required")
		return
	}

	switch r.Method {
	case http.MethodGet:
		s, err := h.sessions.Get(id)
		if err != nil {
			if errors.Is(err, session.ErrSessionNotFound) {
				writeJSONError(w, http.StatusNotFound, "session not found")
				return
			}
			writeJSONError(w, http.StatusInternalServerError, "internal error")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(s)

	case http.MethodDelete:
		// Clearing a session also drops any in-flight workflow state
		// bound to the context.
		h.svc.ClearContext(id)
		w.WriteHeader(http.StatusNoContent)

	default:
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

package health

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"
)

// HTTPHandler serves liveness and readiness probes.
type HTTPHandler struct {
	manager *Manager
	logger  *zap.Logger
}

func NewHTTPHandler(manager *Manager, logger *zap.Logger) *HTTPHandler {
	return &HTTPHandler{manager: manager, logger: logger}
}

// RegisterRoutes registers probe endpoints on the provided mux.
func (h *HTTPHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", h.handleLiveness)
	mux.HandleFunc("/readyz", h.handleReadiness)
	mux.HandleFunc("/health", h.handleDetailed)
}

// handleLiveness always succeeds while the process is serving.
func (h *HTTPHandler) handleLiveness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleReadiness fails when any critical dependency check fails.
func (h *HTTPHandler) handleReadiness(w http.ResponseWriter, r *http.Request) {
	overall := h.manager.CheckAll(r.Context())
	w.Header().Set("Content-Type", "application/json")
	if !overall.Ready {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(overall); err != nil {
		h.logger.Error("Health response encode failed", zap.Error(err))
	}
}

// handleDetailed reports every component's last check result.
func (h *HTTPHandler) handleDetailed(w http.ResponseWriter, r *http.Request) {
	overall := h.manager.CheckAll(r.Context())
	w.Header().Set("Content-Type", "application/json")
	if overall.Status == StatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(overall); err != nil {
		h.logger.Error("Health response encode failed", zap.Error(err))
	}
}

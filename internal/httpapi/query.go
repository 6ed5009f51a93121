package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/codequery-ai/orchestrator/internal/orchestrator"
)

// QueryService is the orchestration surface the API exposes.
type QueryService interface {
	Stream(ctx context.Context, query, contextID, taskID string) (<-chan orchestrator.Response, error)
	ClearContext(contextID string)
}

// QueryRequest is the POST /v1/query body.
type QueryRequest struct {
	Query     string `json:"query"`
	ContextID string `json:"context_id,omitempty"`
	TaskID    string `json:"task_id,omitempty"`
}

// QueryHandler serves the query endpoint: one POST in, a stream of
// response events out via SSE.
type QueryHandler struct {
	svc      QueryService
	limiters *ipLimiters
	logger   *zap.Logger
}

// RateLimitConfig bounds per-client query rates. Zero RPS disables
// limiting.
type RateLimitConfig struct {
	RPS   float64
	Burst int
}

func NewQueryHandler(svc QueryService, rl RateLimitConfig, logger *zap.Logger) *QueryHandler {
	var limiters *ipLimiters
	if rl.RPS > 0 {
		if rl.Burst <= 0 {
			rl.Burst = 1
		}
		limiters = newIPLimiters(rate.Limit(rl.RPS), rl.Burst)
	}
	return &QueryHandler{svc: svc, limiters: limiters, logger: logger}
}

// RegisterRoutes registers query routes on the provided mux.
func (h *QueryHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/query", h.handleQuery)
}

// handleQuery runs one query and streams the orchestrator's response
// events back as SSE. The stream always ends after the terminal event.
func (h *QueryHandler) handleQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
		return
	}
	if h.limiters != nil && !h.limiters.allow(clientIP(r)) {
		http.Error(w, `{"error":"rate limit exceeded"}`, http.StatusTooManyRequests)
		return
	}

	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON body"}`, http.StatusBadRequest)
		return
	}

	ch, err := h.svc.Stream(r.Context(), req.Query, req.ContextID, req.TaskID)
	if err != nil {
		var verr *orchestrator.ValidationError
		if errors.As(err, &verr) {
			writeJSONError(w, http.StatusBadRequest, verr.Error())
			return
		}
		writeJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	for resp := range ch {
		data, err := json.Marshal(resp)
		if err != nil {
			h.logger.Error("Response marshal failed", zap.Error(err))
			continue
		}
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}
}

func writeJSONError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ipLimiters keeps one token bucket per client address.
type ipLimiters struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

func newIPLimiters(limit rate.Limit, burst int) *ipLimiters {
	return &ipLimiters{
		limiters: make(map[string]*rate.Limiter),
		limit:    limit,
		burst:    burst,
	}
}

func (l *ipLimiters) allow(ip string) bool {
	l.mu.Lock()
	lim, ok := l.limiters[ip]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[ip] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}

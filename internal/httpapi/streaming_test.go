package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/codequery-ai/orchestrator/internal/streaming"
)

func TestSSERequiresTaskID(t *testing.T) {
	h := NewStreamingHandler(streaming.NewManager(16), zap.NewNop())

	rec := httptest.NewRecorder()
	h.handleSSE(rec, httptest.NewRequest("GET", "/stream/sse", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSSEReplaysBacklog(t *testing.T) {
	mgr := streaming.NewManager(16)
	mgr.Publish("t1", streaming.Event{Type: "progress", Message: "one"})
	mgr.Publish("t1", streaming.Event{Type: "progress", Message: "two"})
	mgr.Publish("t1", streaming.Event{Type: "completed", Message: "three"})
	h := NewStreamingHandler(mgr, zap.NewNop())

	// A canceled context makes the handler return right after the replay.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest("GET", "/stream/sse?task_id=t1", nil).WithContext(ctx)
	req.Header.Set("Last-Event-ID", "1")
	rec := httptest.NewRecorder()
	h.handleSSE(rec, req)

	body := rec.Body.String()
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.NotContains(t, body, `"message":"one"`)
	assert.Contains(t, body, `"message":"two"`)
	assert.Contains(t, body, `"message":"three"`)
	assert.True(t, strings.Contains(body, "id: 2") && strings.Contains(body, "id: 3"))
}

package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/codequery-ai/orchestrator/internal/session"
)

func TestSessionGet(t *testing.T) {
	sessions := session.NewManager(session.Config{}, zap.NewNop())
	sessions.AddMessage("ctx-1", session.Message{Role: "user", Content: "hello"})
	h := NewSessionHandler(sessions, &fakeQueryService{}, zap.NewNop())

	rec := httptest.NewRecorder()
	h.handleSession(rec, httptest.NewRequest("GET", "/v1/sessions/ctx-1", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var s session.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &s))
	assert.Equal(t, "ctx-1", s.ID)
	require.Len(t, s.History, 1)
	assert.Equal(t, "hello", s.History[0].Content)
}

func TestSessionGetNotFound(t *testing.T) {
	sessions := session.NewManager(session.Config{}, zap.NewNop())
	h := NewSessionHandler(sessions, &fakeQueryService{}, zap.NewNop())

	rec := httptest.NewRecorder()
	h.handleSession(rec, httptest.NewRequest("GET", "/v1/sessions/missing", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSessionDeleteClearsContext(t *testing.T) {
	sessions := session.NewManager(session.Config{}, zap.NewNop())
	sessions.AddMessage("ctx-1", session.Message{Role: "user", Content: "hello"})
	svc := &fakeQueryService{}
	h := NewSessionHandler(sessions, svc, zap.NewNop())

	rec := httptest.NewRecorder()
	h.handleSession(rec, httptest.NewRequest("DELETE", "/v1/sessions/ctx-1", nil))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{"ctx-1"}, svc.cleared)
}

func TestSessionRequiresID(t *testing.T) {
	sessions := session.NewManager(session.Config{}, zap.NewNop())
	h := NewSessionHandler(sessions, &fakeQueryService{}, zap.NewNop())

	rec := httptest.NewRecorder()
	h.handleSession(rec, httptest.NewRequest("GET", "/v1/sessions/", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

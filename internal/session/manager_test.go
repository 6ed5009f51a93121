package session

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestGetOrCreate(t *testing.T) {
	m := NewManager(Config{}, zap.NewNop())

	s := m.GetOrCreate("ctx-1")
	assert.Equal(t, "ctx-1", s.ID)
	assert.Empty(t, s.History)
	assert.Equal(t, 1, m.Len())

	// Same id returns the same session, not a new one.
	m.AddMessage("ctx-1", Message{Role: "user", Content: "hello"})
	again := m.GetOrCreate("ctx-1")
	assert.Len(t, again.History, 1)
	assert.Equal(t, 1, m.Len())
}

func TestGetUnknown(t *testing.T) {
	m := NewManager(Config{}, zap.NewNop())
	_, err := m.Get("missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestHistoryTrimming(t *testing.T) {
	m := NewManager(Config{MaxHistory: 3}, zap.NewNop())
	for i := 0; i < 5; i++ {
		m.AddMessage("ctx", Message{Role: "user", Content: fmt.Sprintf("q%d", i)})
	}

	s, err := m.Get("ctx")
	require.NoError(t, err)
	require.Len(t, s.History, 3)
	assert.Equal(t, "q2", s.History[0].Content)
	assert.Equal(t, "q4", s.History[2].Content)
}

func TestDeleteIsIdempotent(t *testing.T) {
	m := NewManager(Config{}, zap.NewNop())
	m.GetOrCreate("ctx")

	m.Delete("ctx")
	assert.Equal(t, 0, m.Len())
	m.Delete("ctx") // no-op, no panic
	_, err := m.Get("ctx")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestExpiry(t *testing.T) {
	m := NewManager(Config{TTL: time.Millisecond}, zap.NewNop())
	m.GetOrCreate("ctx")
	time.Sleep(5 * time.Millisecond)

	_, err := m.Get("ctx")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.Equal(t, 0, m.Len())
}

func TestLRUEviction(t *testing.T) {
	m := NewManager(Config{MaxSessions: 2}, zap.NewNop())
	m.GetOrCreate("a")
	time.Sleep(time.Millisecond)
	m.GetOrCreate("b")
	time.Sleep(time.Millisecond)
	// Touch "a" so "b" becomes the LRU candidate.
	_, err := m.Get("a")
	require.NoError(t, err)
	time.Sleep(time.Millisecond)

	m.GetOrCreate("c")
	assert.Equal(t, 2, m.Len())
	_, err = m.Get("b")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = m.Get("a")
	assert.NoError(t, err)
}

func TestNewSessionSurvivesEvictionAtCapacity(t *testing.T) {
	m := NewManager(Config{MaxSessions: 2}, zap.NewNop())
	m.GetOrCreate("a")
	time.Sleep(time.Millisecond)
	m.GetOrCreate("b")
	time.Sleep(time.Millisecond)

	// The newest session must evict the oldest, never itself.
	m.AddMessage("c", Message{Role: "user", Content: "hello"})
	assert.Equal(t, 2, m.Len())

	s, err := m.Get("c")
	require.NoError(t, err)
	require.Len(t, s.History, 1)
	assert.Equal(t, "hello", s.History[0].Content)

	_, err = m.Get("a")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	// No orphaned access entries remain for evicted ids.
	m.mu.RLock()
	defer m.mu.RUnlock()
	assert.Len(t, m.access, len(m.sessions))
}

func TestSearchContext(t *testing.T) {
	m := NewManager(Config{}, zap.NewNop())
	m.GetOrCreate("ctx")
	m.SetSearchContext("ctx", map[string]interface{}{"repo": "demo", "files": 42.0})

	s, err := m.Get("ctx")
	require.NoError(t, err)
	assert.Equal(t, "demo", s.SearchContext["repo"])

	// Mutating the returned copy never leaks back into the store.
	s.SearchContext["repo"] = "other"
	s2, err := m.Get("ctx")
	require.NoError(t, err)
	assert.Equal(t, "demo", s2.SearchContext["repo"])
}

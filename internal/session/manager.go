// Package session keeps the in-memory conversational state of
// orchestration contexts: query history, summaries, and planner search
// context, with TTL expiry and LRU eviction.
package session

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/codequery-ai/orchestrator/internal/metrics"
)

// Config controls the session store.
type Config struct {
	TTL         time.Duration
	MaxSessions int
	MaxHistory  int
}

// Manager is the in-memory session store. Safe for concurrent use.
type Manager struct {
	cfg    Config
	logger *zap.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
	access   map[string]time.Time // last access, for LRU eviction
}

// NewManager creates a session manager.
func NewManager(cfg Config, logger *zap.Logger) *Manager {
	if cfg.TTL == 0 {
		cfg.TTL = 30 * time.Minute
	}
	if cfg.MaxSessions == 0 {
		cfg.MaxSessions = 10000
	}
	if cfg.MaxHistory == 0 {
		cfg.MaxHistory = 50
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		cfg:      cfg,
		logger:   logger,
		sessions: make(map[string]*Session),
		access:   make(map[string]time.Time),
	}
}

// GetOrCreate returns a copy of the session for the context id, creating
// it when absent or expired.
func (m *Manager) GetOrCreate(contextID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.locked(contextID)
	if s == nil {
		now := time.Now()
		s = &Session{
			ID:        contextID,
			CreatedAt: now,
			UpdatedAt: now,
			ExpiresAt: now.Add(m.cfg.TTL),
		}
		m.sessions[contextID] = s
		// Record access before evicting so the new session is never the
		// LRU candidate.
		m.access[contextID] = now
		m.evictLocked()
		metrics.SessionsActive.Set(float64(len(m.sessions)))
		m.logger.Debug("Created session", zap.String("context_id", contextID))
	}
	m.access[contextID] = time.Now()
	return s.clone()
}

// Get returns a copy of the session, or ErrSessionNotFound.
func (m *Manager) Get(contextID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.locked(contextID)
	if s == nil {
		return nil, ErrSessionNotFound
	}
	m.access[contextID] = time.Now()
	return s.clone(), nil
}

// AddMessage appends a message to the session history, trimming it to
// the configured maximum. The session is created if needed.
func (m *Manager) AddMessage(contextID string, msg Message) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.locked(contextID)
	if s == nil {
		now := time.Now()
		s = &Session{ID: contextID, CreatedAt: now, ExpiresAt: now.Add(m.cfg.TTL)}
		m.sessions[contextID] = s
		m.access[contextID] = now
		m.evictLocked()
		metrics.SessionsActive.Set(float64(len(m.sessions)))
	}
	s.History = append(s.History, msg)
	if len(s.History) > m.cfg.MaxHistory {
		s.History = s.History[len(s.History)-m.cfg.MaxHistory:]
	}
	s.UpdatedAt = time.Now()
	s.ExpiresAt = s.UpdatedAt.Add(m.cfg.TTL)
	m.access[contextID] = s.UpdatedAt
}

// SetSearchContext replaces the session's planner search context.
func (m *Manager) SetSearchContext(contextID string, sc map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.locked(contextID)
	if s == nil {
		return
	}
	s.SearchContext = sc
	s.UpdatedAt = time.Now()
	m.access[contextID] = s.UpdatedAt
}

// Delete removes the session. Idempotent; deleting a missing session is
// not an error.
func (m *Manager) Delete(contextID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[contextID]; ok {
		delete(m.sessions, contextID)
		delete(m.access, contextID)
		metrics.SessionsCleared.Inc()
		metrics.SessionsActive.Set(float64(len(m.sessions)))
		m.logger.Info("Cleared session", zap.String("context_id", contextID))
	}
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// locked returns the live session or nil, dropping it when expired.
// Caller holds m.mu.
func (m *Manager) locked(contextID string) *Session {
	s, ok := m.sessions[contextID]
	if !ok {
		return nil
	}
	if s.IsExpired() {
		delete(m.sessions, contextID)
		delete(m.access, contextID)
		metrics.SessionsActive.Set(float64(len(m.sessions)))
		return nil
	}
	return s
}

// evictLocked drops the least recently used sessions when over capacity.
// Caller holds m.mu.
func (m *Manager) evictLocked() {
	for len(m.sessions) > m.cfg.MaxSessions {
		var oldestID string
		var oldest time.Time
		for id := range m.sessions {
			t := m.access[id]
			if oldestID == "" || t.Before(oldest) {
				oldestID = id
				oldest = t
			}
		}
		delete(m.sessions, oldestID)
		delete(m.access, oldestID)
		metrics.SessionEvictions.Inc()
		m.logger.Debug("Evicted session", zap.String("context_id", oldestID))
	}
}

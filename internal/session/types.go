package session

import (
	"errors"
	"time"
)

// ErrSessionNotFound is returned when no session exists for a context id.
var ErrSessionNotFound = errors.New("session not found")

// Message is one entry in a session's conversation history.
type Message struct {
	Role      string    `json:"role"` // "user" or "assistant"
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Session holds the conversational surface of one orchestration context:
// what the user asked, what was answered, and the planner's search
// context. Graph state lives with the orchestrator, not here.
type Session struct {
	ID            string                 `json:"id"`
	CreatedAt     time.Time              `json:"created_at"`
	UpdatedAt     time.Time              `json:"updated_at"`
	ExpiresAt     time.Time              `json:"expires_at"`
	History       []Message              `json:"history"`
	SearchContext map[string]interface{} `json:"search_context,omitempty"`
}

// IsExpired reports whether the session passed its TTL.
func (s *Session) IsExpired() bool {
	return time.Now().After(s.ExpiresAt)
}

func (s *Session) clone() *Session {
	out := *s
	out.History = make([]Message, len(s.History))
	copy(out.History, s.History)
	if s.SearchContext != nil {
		out.SearchContext = make(map[string]interface{}, len(s.SearchContext))
		for k, v := range s.SearchContext {
			out.SearchContext[k] = v
		}
	}
	return &out
}

package driven

import "github.com/thunderrag/core/internal/core/domain"

// SessionStore is the process-local registry of conversational Session
// records (spec.md section 3). Non-persistent by design: a process
// restart drops all sessions, per spec.md's explicit Non-goals.
type SessionStore interface {
	// GetOrCreate returns the existing session for sessionID, or creates
	// and registers a new empty one.
	GetOrCreate(sessionID string) *domain.Session

	// Get returns the existing session for sessionID, or nil if none
	// exists yet.
	Get(sessionID string) *domain.Session
}

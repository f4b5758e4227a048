package services

import (
	"context"
	"sync"

	"github.com/thunderrag/core/internal/core/domain"
	"github.com/thunderrag/core/internal/core/ports/driven"
	"github.com/thunderrag/core/internal/core/ports/driving"
)

// Verify interface compliance
var _ driven.SessionStore = (*SessionManager)(nil)
var _ driving.SessionService = (*SessionManager)(nil)

// defaultCompressionTriggerChars is 80% of the default HISTORY_MAX_CHARS
// (12000), used when WithCompressionTrigger is never called.
const defaultCompressionTriggerChars = 9600

// SessionManager is the process-global map from session_id to Session
// record, guarded by an outer mutex for insertion/lookup; each record has
// its own lock for mutation (spec.md section 4.9, section 5).
type SessionManager struct {
	mu           sync.Mutex
	sessions     map[string]*domain.Session
	gateway      driven.ModelGateway
	triggerChars int
}

// NewSessionManager constructs an empty SessionManager.
func NewSessionManager(gateway driven.ModelGateway) *SessionManager {
	return &SessionManager{
		sessions:     make(map[string]*domain.Session),
		gateway:      gateway,
		triggerChars: defaultCompressionTriggerChars,
	}
}

// WithCompressionTrigger overrides the char-count threshold (80% of
// HISTORY_MAX_CHARS, runtime.Config.CompressionTriggerChars) at which
// Compress folds tail turns into history_summary, following the same
// fluent-option idiom as modelgateway.Gateway.WithCache.
func (m *SessionManager) WithCompressionTrigger(chars int) *SessionManager {
	m.triggerChars = chars
	return m
}

// GetOrCreate returns the existing session for sessionID, or creates and
// registers a new empty one.
func (m *SessionManager) GetOrCreate(sessionID string) *domain.Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[sessionID]; ok {
		return s
	}
	s := domain.NewSession(sessionID)
	m.sessions[sessionID] = s
	return s
}

// Get returns the existing session for sessionID, or nil.
func (m *SessionManager) Get(sessionID string) *domain.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[sessionID]
}

// Debug is the driving.SessionService accessor for the session debug
// endpoint (spec.md section 6: POST /admin/session/debug).
func (m *SessionManager) Debug(ctx context.Context, sessionID string) *domain.Session {
	return m.Get(sessionID)
}

// Reset deletes a session record (spec.md section 6: POST
// /admin/session/reset).
func (m *SessionManager) Reset(ctx context.Context, sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
}

// Compress folds the oldest turns of sessionID's tail into its
// HistorySummary once the combined history (history_summary plus rendered
// tail) exceeds the char-based compression trigger, keeping
// domain.KeepRecent most recent turns (spec.md section 4.8 step 6: "if the
// combined history exceeds the compression trigger (80% of
// HISTORY_MAX_CHARS), fold the oldest tail - KEEP_RECENT turns"). Phase 3
// separately truncates Tail to domain.TailMax by turn count before this
// runs; that truncation alone never satisfies a char-based trigger, so
// Compress must evaluate chars independently of Tail length.
func (m *SessionManager) Compress(ctx context.Context, sessionID string) error {
	session := m.Get(sessionID)
	if session == nil {
		return nil
	}

	session.Lock()
	defer session.Unlock()

	combinedChars := len(session.HistorySummary) + len(renderTurnsForSummary(session.Tail))
	if combinedChars <= m.triggerChars {
		return nil
	}

	foldCount := len(session.Tail) - domain.KeepRecent
	if foldCount <= 0 {
		return nil
	}

	toFold := session.Tail[:foldCount]
	remaining := session.Tail[foldCount:]

	folded := renderTurnsForSummary(toFold)
	combined := session.HistorySummary
	if combined != "" {
		combined += "\n\n"
	}
	combined += folded

	summary, err := m.gateway.SummarizeToFit(ctx, combined, historySummaryTargetChars)
	if err != nil {
		return err
	}

	session.HistorySummary = summary
	session.Tail = remaining
	return nil
}

// historySummaryTargetChars bounds the folded history summary so repeated
// compressions converge rather than growing unbounded.
const historySummaryTargetChars = 4000

func renderTurnsForSummary(turns []domain.Turn) string {
	var out string
	for _, t := range turns {
		out += string(t.Role) + ": " + t.Content + "\n"
	}
	return out
}

package domain

import "sync"

// TailMax is the invariant bound on Session.Tail length (spec.md section 3).
const TailMax = 24

// KeepRecent is how many of the most recent tail turns survive a
// compression pass; the rest are folded into HistorySummary (spec.md
// section 4.8 step 6).
const KeepRecent = 8

// Role identifies the speaker of a Turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message in a session's rolling tail.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`

	// SourceIndex maps "[Email N]" citation numbers (1-based) appearing in
	// this turn's Content, for assistant turns, to the doc_id each citation
	// resolved to at the time the turn was produced. This is the "EMAILS
	// REFERENCED ABOVE" index spec.md section 4.8 requires so citations
	// remain resolvable across later turns.
	SourceIndex []CitedSource `json:"source_index,omitempty"`
}

// CitedSource is one entry of an assistant turn's source index.
type CitedSource struct {
	N       int    `json:"n"`
	DocID   string `json:"doc_id"`
	Subject string `json:"subject"`
}

// Session is the process-local, non-persistent conversational record
// (spec.md section 3). Every mutation to Tail, HistorySummary, or
// LastSourcesRecap happens under mu (spec.md section 5); mu is unexported
// so the record can still be marshaled directly for the session debug
// endpoint without leaking lock state.
type Session struct {
	mu sync.Mutex

	SessionID        string `json:"session_id"`
	UserName         string `json:"user_name"`
	Tail             []Turn `json:"tail"`
	HistorySummary   string `json:"history_summary"`
	LastSourcesRecap string `json:"last_sources_recap"`
}

// Lock serialises all mutation of this session record (spec.md section 5).
func (s *Session) Lock() { s.mu.Lock() }

// Unlock releases the session's mutation lock.
func (s *Session) Unlock() { s.mu.Unlock() }

// NewSession constructs an empty session record.
func NewSession(sessionID string) *Session {
	return &Session{SessionID: sessionID}
}

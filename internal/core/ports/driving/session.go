package driving

import (
	"context"

	"github.com/thunderrag/core/internal/core/domain"
)

// SessionService exposes read access to conversational session state and
// drives the recursive history-compression pass (spec.md section 4.8 step
// 6).
type SessionService interface {
	// Debug returns the current session record for debugging/inspection
	// (spec.md section 6: POST /admin/session/debug), or nil if the
	// session does not exist.
	Debug(ctx context.Context, sessionID string) *domain.Session

	// Reset deletes a session record (spec.md section 6: POST
	// /admin/session/reset).
	Reset(ctx context.Context, sessionID string)

	// Compress folds the oldest turns of sessionID's tail into its
	// HistorySummary once the session's history exceeds the character-based
	// compression trigger, down to domain.KeepRecent remaining turns.
	Compress(ctx context.Context, sessionID string) error
}

package driven

import "github.com/thunderrag/core/internal/core/domain"

// PendingQueryStore is the process-local registry of in-flight PendingQuery
// records bridging Phase 1 and Phase 3 of the query protocol (spec.md
// section 3). Non-persistent; entries are swept by the reaper after
// domain.PendingQueryTTL.
type PendingQueryStore interface {
	// Put registers a new PendingQuery under its RequestID.
	Put(pq *domain.PendingQuery)

	// Get returns the PendingQuery for requestID, or nil if none exists
	// (never created, already completed, or reaped).
	Get(requestID string) *domain.PendingQuery

	// Delete removes a PendingQuery, called on completion or abandonment.
	Delete(requestID string)

	// Sweep removes every PendingQuery that IsExpired, returning the count
	// removed, for use by the background reaper.
	Sweep() int
}

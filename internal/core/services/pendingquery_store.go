package services

import (
	"sync"
	"time"

	"github.com/thunderrag/core/internal/core/domain"
	"github.com/thunderrag/core/internal/core/ports/driven"
)

var _ driven.PendingQueryStore = (*PendingQueryRegistry)(nil)

// PendingQueryRegistry is the process-local, non-persistent registry of
// in-flight PendingQuery records bridging Phase 1 and Phase 3 (spec.md
// section 3, section 5).
type PendingQueryRegistry struct {
	mu      sync.Mutex
	pending map[string]*domain.PendingQuery
}

// NewPendingQueryRegistry constructs an empty registry.
func NewPendingQueryRegistry() *PendingQueryRegistry {
	return &PendingQueryRegistry{pending: make(map[string]*domain.PendingQuery)}
}

// Put registers a new PendingQuery under its RequestID.
func (r *PendingQueryRegistry) Put(pq *domain.PendingQuery) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending[pq.RequestID] = pq
}

// Get returns the PendingQuery for requestID, or nil.
func (r *PendingQueryRegistry) Get(requestID string) *domain.PendingQuery {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pending[requestID]
}

// Delete removes a PendingQuery.
func (r *PendingQueryRegistry) Delete(requestID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pending, requestID)
}

// Sweep removes every PendingQuery older than domain.PendingQueryTTL,
// returning the count removed, for the background reaper (spec.md
// section 5's "background reaper sweeps pending records older than 10
// minutes").
func (r *PendingQueryRegistry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	swept := 0
	for id, pq := range r.pending {
		if pq.IsExpired(now) {
			delete(r.pending, id)
			swept++
		}
	}
	return swept
}

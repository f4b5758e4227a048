package domain

import (
	"sync"
	"time"
)

// Mode selects how the Phase 3 system preamble constrains the LLM
// (spec.md section 4.8).
type Mode string

const (
	ModeAssistive Mode = "assistive"
	ModeGrounded  Mode = "grounded"
)

// QueryState is a PendingQuery's position in the three-phase state machine
// (spec.md section 4.8).
type QueryState string

const (
	StateCreated         QueryState = "created"
	StateEvidenceAwaited QueryState = "evidence_awaited"
	StateCompleted       QueryState = "completed"
	StateAbandoned       QueryState = "abandoned"
)

// PendingQueryTTL is the reaper sweep threshold (spec.md section 5).
const PendingQueryTTL = 10 * time.Minute

// PendingQuery tracks one in-flight three-phase request between /query and
// /query/complete (spec.md section 3). Process-local, non-persistent, owned
// exclusively by the Query Orchestrator. mu serialises concurrent Phase 2
// evidence uploads for the same request_id (spec.md section 5).
type PendingQuery struct {
	mu sync.Mutex

	RequestID        string
	SessionID        string
	Question         string
	ResolvedQuestion string

	// ExpectedMessageIDs is the set of message-ids (doc_ids) Phase 3 must
	// have evidence for before it can proceed.
	ExpectedMessageIDs map[string]struct{}

	// ReceivedEvidence maps message-id to raw RFC822 bytes uploaded via
	// Phase 2. Values may be encrypted at rest by the caller; see
	// internal/evidence.Encryptor for the scheme used by the default
	// orchestrator wiring.
	ReceivedEvidence map[string][]byte

	RetrievedSources []RetrievedSource

	State     QueryState
	CreatedAt time.Time
}

// NewPendingQuery constructs a PendingQuery already in the EvidenceAwaited
// state: Created moves to EvidenceAwaited unconditionally, whether or not
// any message-ids are expected.
func NewPendingQuery(requestID, sessionID, question, resolvedQuestion string, sources []RetrievedSource, now time.Time) *PendingQuery {
	expected := make(map[string]struct{}, len(sources))
	for _, s := range sources {
		expected[s.DocID] = struct{}{}
	}
	return &PendingQuery{
		RequestID:          requestID,
		SessionID:          sessionID,
		Question:           question,
		ResolvedQuestion:   resolvedQuestion,
		ExpectedMessageIDs: expected,
		ReceivedEvidence:   make(map[string][]byte),
		RetrievedSources:   sources,
		State:              StateEvidenceAwaited,
		CreatedAt:          now,
	}
}

// Lock serialises all mutation of this pending-query record.
func (p *PendingQuery) Lock() { p.mu.Lock() }

// Unlock releases the pending-query's mutation lock.
func (p *PendingQuery) Unlock() { p.mu.Unlock() }

// RecordEvidence stores raw bytes for a message-id. Per spec.md section
// 4.8 Phase 2, evidence for a message-id outside ExpectedMessageIDs is
// still accepted and stored, just never required for completeness.
// Caller must hold the lock.
func (p *PendingQuery) RecordEvidence(messageID string, raw []byte) {
	p.ReceivedEvidence[messageID] = raw
}

// MissingEvidence returns the expected message-ids with no received
// evidence yet, in no particular order. Caller must hold the lock.
func (p *PendingQuery) MissingEvidence() []string {
	var missing []string
	for id := range p.ExpectedMessageIDs {
		if _, ok := p.ReceivedEvidence[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing
}

// IsExpired reports whether the record has outlived PendingQueryTTL as of
// now, for use by the background reaper.
func (p *PendingQuery) IsExpired(now time.Time) bool {
	return now.Sub(p.CreatedAt) > PendingQueryTTL
}

package driving

import (
	"context"

	"github.com/thunderrag/core/internal/core/domain"
)

// QueryPhase1Request is the body of POST /query (spec.md section 6).
// Filter and ScoreExpr are optional SQL fragments passed through the SQL
// Fragment Validator before reaching the Vector Store Gateway's
// knn_search (spec.md sections 4.4/4.5).
type QueryPhase1Request struct {
	SessionID string      `json:"session_id"`
	UserName  string      `json:"user_name,omitempty"`
	Question  string      `json:"question"`
	TopK      int         `json:"top_k,omitempty"`
	Mode      domain.Mode `json:"mode,omitempty"`
	Filter    string      `json:"filter,omitempty"`
	ScoreExpr string      `json:"score_expr,omitempty"`
}

// QueryPhase1Response is the response of POST /query: retrieval results
// and the request_id Phase 2/3 must reference (spec.md section 4.8:
// status is "need_messages" or "no_retrieval").
type QueryPhase1Response struct {
	Status      string                   `json:"status"`
	RequestID   string                   `json:"request_id"`
	MessageIDs  []string                 `json:"message_ids"`
	Sources     []domain.RetrievedSource `json:"sources"`
	RetrievalSQL string                  `json:"retrieval_sql,omitempty"`
}

// EvidenceUploadRequest is the body of one POST /query/evidence call
// (spec.md section 6, Phase 2).
type EvidenceUploadRequest struct {
	RequestID string `json:"request_id"`
	MessageID string `json:"message_id"`
	RawEmail  []byte `json:"raw_email"`
}

// Phase3Request is the body of POST /query/complete (spec.md section 6).
type Phase3Request struct {
	RequestID string     `json:"request_id"`
	SessionID string     `json:"session_id"`
	Mode      domain.Mode `json:"mode"`
}

// Phase3Response is the final answer returned to the caller, or a
// missing-evidence status per spec.md section 4.8 step "otherwise".
type Phase3Response struct {
	Status  string               `json:"status,omitempty"`
	Missing []string             `json:"missing,omitempty"`
	Answer  string               `json:"answer,omitempty"`
	Sources []domain.CitedSource `json:"sources,omitempty"`
}

// QueryService implements the three-phase query protocol (spec.md section
// 4.8): retrieval/rewrite+HyDE, evidence upload, and prompt
// assembly+chat.
type QueryService interface {
	Phase1(ctx context.Context, req QueryPhase1Request) (QueryPhase1Response, error)
	Phase2(ctx context.Context, req EvidenceUploadRequest) error
	Phase3(ctx context.Context, req Phase3Request) (Phase3Response, error)
}

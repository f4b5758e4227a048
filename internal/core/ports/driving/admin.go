package driving

import (
	"context"

	"github.com/thunderrag/core/internal/core/domain"
)

// IngestedStatusResponse is the response of POST /admin/ingested_status
// (spec.md section 6).
type IngestedStatusResponse struct {
	Ingested  []string `json:"ingested"`
	Processed []string `json:"processed"`
}

// IngestedDetailResponse is the response of POST /admin/ingested_detail
// (spec.md section 6).
type IngestedDetailResponse struct {
	DocID       string         `json:"doc_id"`
	EmbedModel  string         `json:"embed_model"`
	TriageModel string         `json:"triage_model"`
	Metadata    *domain.Email  `json:"metadata"`
}

// DeleteResponse is the response of POST /admin/delete (spec.md section
// 6).
type DeleteResponse struct {
	OK            bool `json:"ok"`
	ChunksDeleted int  `json:"chunks_deleted"`
}

// AdminService exposes the operational endpoints of spec.md section 6's
// /admin/* table. Health checking (/healthz, /readyz) lives
// at the HTTP layer, not here, matching the teacher's handleHealth, which
// pings s.db/s.redisClient directly rather than through a service.
type AdminService interface {
	Delete(ctx context.Context, docID string) (DeleteResponse, error)
	Reset(ctx context.Context) error
	MarkProcessed(ctx context.Context, docID string) error
	MarkUnprocessed(ctx context.Context, docID string) error
	IngestedStatus(ctx context.Context, docIDs []string) (IngestedStatusResponse, error)
	IngestedDetail(ctx context.Context, docID string) (IngestedDetailResponse, error)
}

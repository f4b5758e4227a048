package driven

import (
	"context"

	"github.com/thunderrag/core/internal/core/domain"
)

// VectorStore is the persistence boundary for ingested emails and their
// chunk embeddings (spec.md section 4.6). Implementations own both the
// relational email metadata and the vector index used for kNN retrieval.
type VectorStore interface {
	// UpsertEmail inserts or replaces an email's metadata row. Re-ingestion
	// of an existing doc_id must be idempotent (spec.md section 4.7 step 1).
	UpsertEmail(ctx context.Context, email *domain.Email) error

	// ReplaceChunks atomically deletes any existing chunks for docID and
	// inserts the given set, keeping the email row and its chunks in sync
	// for re-ingestion.
	ReplaceChunks(ctx context.Context, docID string, chunks []domain.EmailChunk) error

	// DeleteEmail removes an email and all of its chunks, returning the
	// number of chunks deleted (spec.md section 6: POST /admin/delete
	// responds {ok:true, chunks_deleted:N}).
	DeleteEmail(ctx context.Context, docID string) (chunksDeleted int, err error)

	// SetProcessed records the triage scores and model names produced by
	// the ingestion pipeline. It does not change the processed flag or
	// processed_at.
	SetProcessed(ctx context.Context, docID string, triage domain.Triage, embedModel, triageModel string) error

	// MarkProcessed/MarkUnprocessed flip the processed flag directly,
	// without touching triage scores (spec.md section 6: POST
	// /admin/mark_processed, /admin/mark_unprocessed).
	MarkProcessed(ctx context.Context, docID string) error
	MarkUnprocessed(ctx context.Context, docID string) error

	// ResetAll deletes every email and chunk (spec.md section 6: POST
	// /admin/reset).
	ResetAll(ctx context.Context) error

	// GetEmail returns the full stored record for one doc_id.
	GetEmail(ctx context.Context, docID string) (*domain.Email, error)

	// BatchIngestedStatus reports, for each requested doc_id, whether it is
	// already present and processed — used by the admin ingested_status
	// endpoint.
	BatchIngestedStatus(ctx context.Context, docIDs []string) (map[string]bool, error)

	// KNNSearch returns the topK chunks nearest to the query embedding,
	// joined back to their owning email's metadata, ordered by ascending
	// cosine distance by default or by descending scoreExpr if supplied
	// (spec.md section 4.4, 4.8 Phase 1). sqlFilter and scoreExpr must
	// already have passed the SQL Fragment Validator.
	KNNSearch(ctx context.Context, queryEmbedding []float32, topK int, sqlFilter, scoreExpr string) ([]domain.RetrievedSource, error)
}

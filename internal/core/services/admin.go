package services

import (
	"context"
	"fmt"

	"github.com/thunderrag/core/internal/core/domain"
	"github.com/thunderrag/core/internal/core/ports/driven"
	"github.com/thunderrag/core/internal/core/ports/driving"
)

var _ driving.AdminService = (*AdminManager)(nil)

// AdminManager implements the /admin/* operational endpoints of spec.md
// section 6 over the vector store.
type AdminManager struct {
	store driven.VectorStore
}

// NewAdminManager constructs an AdminManager.
func NewAdminManager(store driven.VectorStore) *AdminManager {
	return &AdminManager{store: store}
}

// Delete implements POST /admin/delete.
func (a *AdminManager) Delete(ctx context.Context, docID string) (driving.DeleteResponse, error) {
	chunksDeleted, err := a.store.DeleteEmail(ctx, docID)
	if err != nil {
		return driving.DeleteResponse{}, fmt.Errorf("%w: delete email: %v", domain.ErrUpstreamFailure, err)
	}
	return driving.DeleteResponse{OK: true, ChunksDeleted: chunksDeleted}, nil
}

// Reset implements POST /admin/reset.
func (a *AdminManager) Reset(ctx context.Context) error {
	if err := a.store.ResetAll(ctx); err != nil {
		return fmt.Errorf("%w: reset store: %v", domain.ErrUpstreamFailure, err)
	}
	return nil
}

// MarkProcessed implements POST /admin/mark_processed.
func (a *AdminManager) MarkProcessed(ctx context.Context, docID string) error {
	if err := a.store.MarkProcessed(ctx, docID); err != nil {
		return fmt.Errorf("%w: mark processed: %v", domain.ErrUpstreamFailure, err)
	}
	return nil
}

// MarkUnprocessed implements POST /admin/mark_unprocessed.
func (a *AdminManager) MarkUnprocessed(ctx context.Context, docID string) error {
	if err := a.store.MarkUnprocessed(ctx, docID); err != nil {
		return fmt.Errorf("%w: mark unprocessed: %v", domain.ErrUpstreamFailure, err)
	}
	return nil
}

// IngestedStatus implements POST /admin/ingested_status.
func (a *AdminManager) IngestedStatus(ctx context.Context, docIDs []string) (driving.IngestedStatusResponse, error) {
	status, err := a.store.BatchIngestedStatus(ctx, docIDs)
	if err != nil {
		return driving.IngestedStatusResponse{}, fmt.Errorf("%w: batch status: %v", domain.ErrUpstreamFailure, err)
	}

	resp := driving.IngestedStatusResponse{}
	for _, id := range docIDs {
		processed, ingested := status[id]
		if !ingested {
			continue
		}
		resp.Ingested = append(resp.Ingested, id)
		if processed {
			resp.Processed = append(resp.Processed, id)
		}
	}
	return resp, nil
}

// IngestedDetail implements POST /admin/ingested_detail.
func (a *AdminManager) IngestedDetail(ctx context.Context, docID string) (driving.IngestedDetailResponse, error) {
	email, err := a.store.GetEmail(ctx, docID)
	if err != nil {
		return driving.IngestedDetailResponse{}, err
	}
	return driving.IngestedDetailResponse{
		DocID:       email.DocID,
		EmbedModel:  email.EmbedModel,
		TriageModel: email.TriageModel,
		Metadata:    email,
	}, nil
}

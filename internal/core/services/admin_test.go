package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thunderrag/core/internal/core/domain"
)

type mockVectorStore struct {
	upsertEmailFn         func(ctx context.Context, email *domain.Email) error
	replaceChunksFn       func(ctx context.Context, docID string, chunks []domain.EmailChunk) error
	deleteEmailFn         func(ctx context.Context, docID string) (int, error)
	setProcessedFn        func(ctx context.Context, docID string, triage domain.Triage, embedModel, triageModel string) error
	markProcessedFn       func(ctx context.Context, docID string) error
	markUnprocessedFn     func(ctx context.Context, docID string) error
	resetAllFn            func(ctx context.Context) error
	getEmailFn            func(ctx context.Context, docID string) (*domain.Email, error)
	batchIngestedStatusFn func(ctx context.Context, docIDs []string) (map[string]bool, error)
	knnSearchFn           func(ctx context.Context, queryEmbedding []float32, topK int, sqlFilter, scoreExpr string) ([]domain.RetrievedSource, error)
}

func (m *mockVectorStore) UpsertEmail(ctx context.Context, email *domain.Email) error {
	if m.upsertEmailFn != nil {
		return m.upsertEmailFn(ctx, email)
	}
	return errors.New("not implemented")
}

func (m *mockVectorStore) ReplaceChunks(ctx context.Context, docID string, chunks []domain.EmailChunk) error {
	if m.replaceChunksFn != nil {
		return m.replaceChunksFn(ctx, docID, chunks)
	}
	return errors.New("not implemented")
}

func (m *mockVectorStore) DeleteEmail(ctx context.Context, docID string) (int, error) {
	if m.deleteEmailFn != nil {
		return m.deleteEmailFn(ctx, docID)
	}
	return 0, errors.New("not implemented")
}

func (m *mockVectorStore) SetProcessed(ctx context.Context, docID string, triage domain.Triage, embedModel, triageModel string) error {
	if m.setProcessedFn != nil {
		return m.setProcessedFn(ctx, docID, triage, embedModel, triageModel)
	}
	return errors.New("not implemented")
}

func (m *mockVectorStore) MarkProcessed(ctx context.Context, docID string) error {
	if m.markProcessedFn != nil {
		return m.markProcessedFn(ctx, docID)
	}
	return errors.New("not implemented")
}

func (m *mockVectorStore) MarkUnprocessed(ctx context.Context, docID string) error {
	if m.markUnprocessedFn != nil {
		return m.markUnprocessedFn(ctx, docID)
	}
	return errors.New("not implemented")
}

func (m *mockVectorStore) ResetAll(ctx context.Context) error {
	if m.resetAllFn != nil {
		return m.resetAllFn(ctx)
	}
	return errors.New("not implemented")
}

func (m *mockVectorStore) GetEmail(ctx context.Context, docID string) (*domain.Email, error) {
	if m.getEmailFn != nil {
		return m.getEmailFn(ctx, docID)
	}
	return nil, errors.New("not implemented")
}

func (m *mockVectorStore) BatchIngestedStatus(ctx context.Context, docIDs []string) (map[string]bool, error) {
	if m.batchIngestedStatusFn != nil {
		return m.batchIngestedStatusFn(ctx, docIDs)
	}
	return nil, errors.New("not implemented")
}

func (m *mockVectorStore) KNNSearch(ctx context.Context, queryEmbedding []float32, topK int, sqlFilter, scoreExpr string) ([]domain.RetrievedSource, error) {
	if m.knnSearchFn != nil {
		return m.knnSearchFn(ctx, queryEmbedding, topK, sqlFilter, scoreExpr)
	}
	return nil, errors.New("not implemented")
}

func TestAdminDelete(t *testing.T) {
	store := &mockVectorStore{deleteEmailFn: func(ctx context.Context, docID string) (int, error) {
		require.Equal(t, "doc-1", docID)
		return 3, nil
	}}
	a := NewAdminManager(store)

	resp, err := a.Delete(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.True(t, resp.OK)
	assert.Equal(t, 3, resp.ChunksDeleted)
}

func TestAdminDeleteWrapsUpstreamFailure(t *testing.T) {
	store := &mockVectorStore{deleteEmailFn: func(ctx context.Context, docID string) (int, error) {
		return 0, errors.New("boom")
	}}
	a := NewAdminManager(store)

	_, err := a.Delete(context.Background(), "doc-1")
	assert.ErrorIs(t, err, domain.ErrUpstreamFailure)
}

func TestAdminIngestedStatusFiltersUningested(t *testing.T) {
	store := &mockVectorStore{batchIngestedStatusFn: func(ctx context.Context, docIDs []string) (map[string]bool, error) {
		return map[string]bool{"a": true, "b": false}, nil
	}}
	a := NewAdminManager(store)

	resp, err := a.IngestedStatus(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Len(t, resp.Ingested, 2)
	require.Len(t, resp.Processed, 1)
	assert.Equal(t, "a", resp.Processed[0])
}

func TestAdminResetPropagatesError(t *testing.T) {
	store := &mockVectorStore{resetAllFn: func(ctx context.Context) error {
		return errors.New("down")
	}}
	a := NewAdminManager(store)

	assert.Error(t, a.Reset(context.Background()))
}

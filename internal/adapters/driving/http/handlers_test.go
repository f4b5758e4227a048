package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thunderrag/core/internal/core/domain"
	"github.com/thunderrag/core/internal/core/ports/driving"
)

type mockIngestionService struct {
	ingestFn func(ctx context.Context, raw []byte) (driving.IngestResult, error)
}

func (m *mockIngestionService) Ingest(ctx context.Context, raw []byte) (driving.IngestResult, error) {
	if m.ingestFn != nil {
		return m.ingestFn(ctx, raw)
	}
	return driving.IngestResult{}, errors.New("not implemented")
}

type mockQueryService struct {
	phase1Fn func(ctx context.Context, req driving.QueryPhase1Request) (driving.QueryPhase1Response, error)
	phase2Fn func(ctx context.Context, req driving.EvidenceUploadRequest) error
	phase3Fn func(ctx context.Context, req driving.Phase3Request) (driving.Phase3Response, error)
}

func (m *mockQueryService) Phase1(ctx context.Context, req driving.QueryPhase1Request) (driving.QueryPhase1Response, error) {
	if m.phase1Fn != nil {
		return m.phase1Fn(ctx, req)
	}
	return driving.QueryPhase1Response{}, errors.New("not implemented")
}

func (m *mockQueryService) Phase2(ctx context.Context, req driving.EvidenceUploadRequest) error {
	if m.phase2Fn != nil {
		return m.phase2Fn(ctx, req)
	}
	return errors.New("not implemented")
}

func (m *mockQueryService) Phase3(ctx context.Context, req driving.Phase3Request) (driving.Phase3Response, error) {
	if m.phase3Fn != nil {
		return m.phase3Fn(ctx, req)
	}
	return driving.Phase3Response{}, errors.New("not implemented")
}

type mockSessionService struct {
	debugFn func(ctx context.Context, sessionID string) *domain.Session
	resetFn func(ctx context.Context, sessionID string)
}

func (m *mockSessionService) Debug(ctx context.Context, sessionID string) *domain.Session {
	if m.debugFn != nil {
		return m.debugFn(ctx, sessionID)
	}
	return nil
}

func (m *mockSessionService) Reset(ctx context.Context, sessionID string) {
	if m.resetFn != nil {
		m.resetFn(ctx, sessionID)
	}
}

func (m *mockSessionService) Compress(ctx context.Context, sessionID string) error {
	return nil
}

type mockAdminService struct {
	deleteFn          func(ctx context.Context, docID string) (driving.DeleteResponse, error)
	resetFn           func(ctx context.Context) error
	markProcessedFn   func(ctx context.Context, docID string) error
	markUnprocessedFn func(ctx context.Context, docID string) error
	statusFn          func(ctx context.Context, docIDs []string) (driving.IngestedStatusResponse, error)
	detailFn          func(ctx context.Context, docID string) (driving.IngestedDetailResponse, error)
}

func (m *mockAdminService) Delete(ctx context.Context, docID string) (driving.DeleteResponse, error) {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, docID)
	}
	return driving.DeleteResponse{}, errors.New("not implemented")
}

func (m *mockAdminService) Reset(ctx context.Context) error {
	if m.resetFn != nil {
		return m.resetFn(ctx)
	}
	return nil
}

func (m *mockAdminService) MarkProcessed(ctx context.Context, docID string) error {
	if m.markProcessedFn != nil {
		return m.markProcessedFn(ctx, docID)
	}
	return nil
}

func (m *mockAdminService) MarkUnprocessed(ctx context.Context, docID string) error {
	if m.markUnprocessedFn != nil {
		return m.markUnprocessedFn(ctx, docID)
	}
	return nil
}

func (m *mockAdminService) IngestedStatus(ctx context.Context, docIDs []string) (driving.IngestedStatusResponse, error) {
	if m.statusFn != nil {
		return m.statusFn(ctx, docIDs)
	}
	return driving.IngestedStatusResponse{}, nil
}

func (m *mockAdminService) IngestedDetail(ctx context.Context, docID string) (driving.IngestedDetailResponse, error) {
	if m.detailFn != nil {
		return m.detailFn(ctx, docID)
	}
	return driving.IngestedDetailResponse{}, errors.New("not implemented")
}

func newTestServer(ingestion *mockIngestionService, query *mockQueryService, session *mockSessionService, admin *mockAdminService) *Server {
	if ingestion == nil {
		ingestion = &mockIngestionService{}
	}
	if query == nil {
		query = &mockQueryService{}
	}
	if session == nil {
		session = &mockSessionService{}
	}
	if admin == nil {
		admin = &mockAdminService{}
	}
	return NewServer(Config{Addr: ":0", Version: "test"}, ingestion, query, session, admin, nil, nil, nil, nil)
}

func TestHandleIngestSuccess(t *testing.T) {
	ingestion := &mockIngestionService{
		ingestFn: func(ctx context.Context, raw []byte) (driving.IngestResult, error) {
			return driving.IngestResult{DocID: "abc", Ingested: true}, nil
		},
	}
	s := newTestServer(ingestion, nil, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/ingest", bytes.NewReader([]byte("From: a@b.com\r\n\r\nhi")))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var result driving.IngestResult
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&result))
	assert.True(t, result.Ingested)
	assert.Equal(t, "abc", result.DocID)
}

func TestHandleIngestUpstreamFailureMapsTo502(t *testing.T) {
	ingestion := &mockIngestionService{
		ingestFn: func(ctx context.Context, raw []byte) (driving.IngestResult, error) {
			return driving.IngestResult{}, domain.ErrUpstreamFailure
		},
	}
	s := newTestServer(ingestion, nil, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/ingest", bytes.NewReader([]byte("x")))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestHandleQueryPhase1(t *testing.T) {
	query := &mockQueryService{
		phase1Fn: func(ctx context.Context, req driving.QueryPhase1Request) (driving.QueryPhase1Response, error) {
			if req.SessionID == "" || req.Question == "" {
				return driving.QueryPhase1Response{}, domain.ErrBadRequest
			}
			return driving.QueryPhase1Response{Status: "need_messages", RequestID: "tok", MessageIDs: []string{"m1"}}, nil
		},
	}
	s := newTestServer(nil, query, nil, nil)

	body, _ := json.Marshal(driving.QueryPhase1Request{SessionID: "s1", Question: "q"})
	req := httptest.NewRequest(http.MethodPost, "/query", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp driving.QueryPhase1Response
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "tok", resp.RequestID)
}

func TestHandleQueryPhase1BadRequest(t *testing.T) {
	query := &mockQueryService{
		phase1Fn: func(ctx context.Context, req driving.QueryPhase1Request) (driving.QueryPhase1Response, error) {
			return driving.QueryPhase1Response{}, domain.ErrBadRequest
		},
	}
	s := newTestServer(nil, query, nil, nil)

	body, _ := json.Marshal(driving.QueryPhase1Request{})
	req := httptest.NewRequest(http.MethodPost, "/query", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleQueryEvidenceRequiresHeaders(t *testing.T) {
	s := newTestServer(nil, nil, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/query/evidence", bytes.NewReader([]byte("raw")))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code, "expected 400 for missing headers")
}

func TestHandleQueryEvidenceSuccess(t *testing.T) {
	var gotReq driving.EvidenceUploadRequest
	query := &mockQueryService{
		phase2Fn: func(ctx context.Context, req driving.EvidenceUploadRequest) error {
			gotReq = req
			return nil
		},
	}
	s := newTestServer(nil, query, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/query/evidence", bytes.NewReader([]byte("raw-email")))
	req.Header.Set("X-RAG-Request-Id", "tok123")
	req.Header.Set("X-Thunderbird-Message-Id", "msg1")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "tok123", gotReq.RequestID)
	assert.Equal(t, "msg1", gotReq.MessageID)
	assert.Equal(t, "raw-email", string(gotReq.RawEmail))
}

func TestHandleQueryCompleteMissingEvidence(t *testing.T) {
	query := &mockQueryService{
		phase3Fn: func(ctx context.Context, req driving.Phase3Request) (driving.Phase3Response, error) {
			return driving.Phase3Response{Status: "missing_evidence", Missing: []string{"m1"}}, nil
		},
	}
	s := newTestServer(nil, query, nil, nil)

	body, _ := json.Marshal(driving.Phase3Request{RequestID: "tok", SessionID: "s1"})
	req := httptest.NewRequest(http.MethodPost, "/query/complete", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp driving.Phase3Response
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "missing_evidence", resp.Status)
	assert.Len(t, resp.Missing, 1)
}

func TestHandleAdminDelete(t *testing.T) {
	admin := &mockAdminService{
		deleteFn: func(ctx context.Context, docID string) (driving.DeleteResponse, error) {
			require.Equal(t, "doc1", docID)
			return driving.DeleteResponse{OK: true, ChunksDeleted: 3}, nil
		},
	}
	s := newTestServer(nil, nil, nil, admin)

	body, _ := json.Marshal(docIDRequest{ID: "doc1"})
	req := httptest.NewRequest(http.MethodPost, "/admin/delete", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp driving.DeleteResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.True(t, resp.OK)
	assert.Equal(t, 3, resp.ChunksDeleted)
}

func TestHandleAdminDeleteMissingID(t *testing.T) {
	s := newTestServer(nil, nil, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/admin/delete", bytes.NewReader([]byte("{}")))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleAdminSessionDebugNotFound(t *testing.T) {
	session := &mockSessionService{
		debugFn: func(ctx context.Context, sessionID string) *domain.Session {
			return nil
		},
	}
	s := newTestServer(nil, nil, session, nil)

	body, _ := json.Marshal(sessionIDRequest{SessionID: "missing"})
	req := httptest.NewRequest(http.MethodPost, "/admin/session/debug", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleHealthzDegradedWhenDBDown(t *testing.T) {
	s := newTestServer(nil, nil, nil, nil)
	s.db = failingPinger{}

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, "healthz should always return 200")
	var resp healthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "degraded", resp.Status)
}

type failingPinger struct{}

func (failingPinger) Ping(ctx context.Context) error {
	return errors.New("connection refused")
}

func TestRecoveryMiddlewareCatchesPanics(t *testing.T) {
	ingestion := &mockIngestionService{
		ingestFn: func(ctx context.Context, raw []byte) (driving.IngestResult, error) {
			panic("boom")
		},
	}
	s := newTestServer(ingestion, nil, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/ingest", bytes.NewReader([]byte("x")))
	rec := httptest.NewRecorder()
	s.buildHandler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code, "expected 500 after recovered panic")
}

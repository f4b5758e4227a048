package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/thunderrag/core/internal/core/domain"
	"github.com/thunderrag/core/internal/core/ports/driving"
)

// ErrorResponse is the concise JSON error body spec.md section 7
// mandates for client-visible errors.
type ErrorResponse struct {
	Error string `json:"error"`
}

// StatusResponse is a bare {status: "ok"}-shaped response.
type StatusResponse struct {
	Status string `json:"status"`
}

// Health endpoints. Checks run directly against the infrastructure
// clients (db/redis/gateway), not through a service — spec.md's
// Non-goals exclude user auth but health/readiness are ambient ops
// concerns carried over from the teacher's handleHealth.

type componentHealth struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type healthResponse struct {
	Status     string                     `json:"status"`
	Components map[string]componentHealth `json:"components,omitempty"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	components := make(map[string]componentHealth)
	healthy := true

	ping := func(name string, p Pinger) {
		if p == nil {
			return
		}
		if err := p.Ping(r.Context()); err != nil {
			components[name] = componentHealth{Status: "unhealthy", Message: err.Error()}
			healthy = false
			return
		}
		components[name] = componentHealth{Status: "healthy"}
	}

	ping("database", s.db)
	ping("redis", s.redisClient)
	ping("model_gateway", s.gateway)

	resp := healthResponse{Status: "healthy", Components: components}
	if !healthy {
		resp.Status = "degraded"
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if s.db != nil {
		if err := s.db.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "database not ready")
			return
		}
	}
	writeJSON(w, http.StatusOK, StatusResponse{Status: "ready"})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}

// Ingestion endpoint

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	result, err := s.ingestionService.Ingest(r.Context(), raw)
	if err != nil {
		writeErrorFromErr(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// Query protocol endpoints (spec.md section 4.8 / section 6)

func (s *Server) handleQueryPhase1(w http.ResponseWriter, r *http.Request) {
	var req driving.QueryPhase1Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	resp, err := s.queryService.Phase1(r.Context(), req)
	if err != nil {
		writeErrorFromErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleQueryEvidence(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get("X-RAG-Request-Id")
	messageID := r.Header.Get("X-Thunderbird-Message-Id")
	if requestID == "" || messageID == "" {
		writeError(w, http.StatusBadRequest, "missing X-RAG-Request-Id or X-Thunderbird-Message-Id header")
		return
	}

	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	req := driving.EvidenceUploadRequest{
		RequestID: requestID,
		MessageID: messageID,
		RawEmail:  raw,
	}
	if err := s.queryService.Phase2(r.Context(), req); err != nil {
		writeErrorFromErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{Status: "ok"})
}

func (s *Server) handleQueryComplete(w http.ResponseWriter, r *http.Request) {
	var req driving.Phase3Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	resp, err := s.queryService.Phase3(r.Context(), req)
	if err != nil {
		writeErrorFromErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Admin endpoints (spec.md section 6)

type docIDRequest struct {
	ID string `json:"id"`
}

func (s *Server) handleAdminDelete(w http.ResponseWriter, r *http.Request) {
	var req docIDRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == "" {
		writeError(w, http.StatusBadRequest, "missing id")
		return
	}

	resp, err := s.adminService.Delete(r.Context(), req.ID)
	if err != nil {
		writeErrorFromErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAdminReset(w http.ResponseWriter, r *http.Request) {
	if err := s.adminService.Reset(r.Context()); err != nil {
		writeErrorFromErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{Status: "ok"})
}

func (s *Server) handleAdminMarkProcessed(w http.ResponseWriter, r *http.Request) {
	var req docIDRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == "" {
		writeError(w, http.StatusBadRequest, "missing id")
		return
	}
	if err := s.adminService.MarkProcessed(r.Context(), req.ID); err != nil {
		writeErrorFromErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleAdminMarkUnprocessed(w http.ResponseWriter, r *http.Request) {
	var req docIDRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == "" {
		writeError(w, http.StatusBadRequest, "missing id")
		return
	}
	if err := s.adminService.MarkUnprocessed(r.Context(), req.ID); err != nil {
		writeErrorFromErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type ingestedStatusRequest struct {
	IDs []string `json:"ids"`
}

func (s *Server) handleAdminIngestedStatus(w http.ResponseWriter, r *http.Request) {
	var req ingestedStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	resp, err := s.adminService.IngestedStatus(r.Context(), req.IDs)
	if err != nil {
		writeErrorFromErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAdminIngestedDetail(w http.ResponseWriter, r *http.Request) {
	var req docIDRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == "" {
		writeError(w, http.StatusBadRequest, "missing id")
		return
	}
	resp, err := s.adminService.IngestedDetail(r.Context(), req.ID)
	if err != nil {
		writeErrorFromErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type sessionIDRequest struct {
	SessionID string `json:"session_id"`
}

func (s *Server) handleAdminSessionDebug(w http.ResponseWriter, r *http.Request) {
	var req sessionIDRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "missing session_id")
		return
	}
	session := s.sessionService.Debug(r.Context(), req.SessionID)
	if session == nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleAdminSessionReset(w http.ResponseWriter, r *http.Request) {
	var req sessionIDRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "missing session_id")
		return
	}
	s.sessionService.Reset(r.Context(), req.SessionID)
	writeJSON(w, http.StatusOK, StatusResponse{Status: "ok"})
}

// Response helpers

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}

// writeErrorFromErr maps a core error to a status code per spec.md
// section 7's taxonomy (kinds, not names).
func writeErrorFromErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrBadRequest),
		errors.Is(err, domain.ErrUnknownRequestID),
		errors.Is(err, domain.ErrSessionMismatch):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrMissingEvidence):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrTransientTransport):
		writeError(w, http.StatusGatewayTimeout, err.Error())
	case errors.Is(err, domain.ErrUpstreamFailure), errors.Is(err, domain.ErrSQLFragmentRejected):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

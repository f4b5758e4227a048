package services

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/thunderrag/core/internal/bodyextract"
	"github.com/thunderrag/core/internal/core/domain"
	"github.com/thunderrag/core/internal/core/ports/driven"
	"github.com/thunderrag/core/internal/core/ports/driving"
	"github.com/thunderrag/core/internal/evidence"
	"github.com/thunderrag/core/internal/requesttoken"
)

var _ driving.QueryService = (*QueryOrchestrator)(nil)

const (
	statusNeedMessages  = "need_messages"
	statusNoRetrieval   = "no_retrieval"
	statusMissingEvidence = "missing_evidence"
)

// QueryOrchestratorConfig holds the char-budget/behaviour knobs spec.md
// sections 4.8 and 6 name.
type QueryOrchestratorConfig struct {
	DefaultTopK             int
	MaxEvidenceCharsPerEmail int
	QueryRewrite            bool
	DefaultMode             domain.Mode
}

// QueryOrchestrator implements the three-phase query protocol (spec.md
// section 4.8).
type QueryOrchestrator struct {
	sessions  *SessionManager
	pending   driven.PendingQueryStore
	store     driven.VectorStore
	gateway   driven.ModelGateway
	signer    *requesttoken.Signer
	encryptor *evidence.Encryptor // may be nil: evidence kept plaintext in memory
	validator driven.SQLValidator
	cfg       QueryOrchestratorConfig
}

// NewQueryOrchestrator constructs a QueryOrchestrator. encryptor may be
// nil to disable at-rest encryption of in-memory evidence bytes.
func NewQueryOrchestrator(
	sessions *SessionManager,
	pending driven.PendingQueryStore,
	store driven.VectorStore,
	gateway driven.ModelGateway,
	signer *requesttoken.Signer,
	encryptor *evidence.Encryptor,
	validator driven.SQLValidator,
	cfg QueryOrchestratorConfig,
) *QueryOrchestrator {
	return &QueryOrchestrator{
		sessions:  sessions,
		pending:   pending,
		store:     store,
		gateway:   gateway,
		signer:    signer,
		encryptor: encryptor,
		validator: validator,
		cfg:       cfg,
	}
}

type rewriteResult struct {
	ResolvedQuestion string `json:"resolved_question"`
	Rewrite          string `json:"rewrite"`
	Hypothetical     string `json:"hypothetical"`
}

// Phase1 implements POST /query: rewrite+HyDE, merged kNN retrieval, and
// PendingQuery creation (spec.md section 4.8).
func (o *QueryOrchestrator) Phase1(ctx context.Context, req driving.QueryPhase1Request) (driving.QueryPhase1Response, error) {
	if strings.TrimSpace(req.SessionID) == "" || strings.TrimSpace(req.Question) == "" {
		return driving.QueryPhase1Response{}, fmt.Errorf("%w: session_id and question are required", domain.ErrBadRequest)
	}

	topK := req.TopK
	if topK <= 0 {
		topK = o.cfg.DefaultTopK
	}
	if topK <= 0 {
		topK = 8
	}

	session := o.sessions.GetOrCreate(req.SessionID)
	session.Lock()
	if req.UserName != "" && session.UserName == "" {
		session.UserName = req.UserName
	}
	lastSourcesRecap := session.LastSourcesRecap
	session.Unlock()

	resolvedQuestion := req.Question
	var rewrite, hypothetical string
	if o.cfg.QueryRewrite {
		result, err := o.rewrite(ctx, req.Question, lastSourcesRecap)
		if err != nil {
			return driving.QueryPhase1Response{}, fmt.Errorf("%w: query rewrite: %v", domain.ErrUpstreamFailure, err)
		}
		if result.ResolvedQuestion != "" {
			resolvedQuestion = result.ResolvedQuestion
		}
		rewrite = result.Rewrite
		hypothetical = result.Hypothetical
	}

	sqlFilter := ""
	if req.Filter != "" {
		if o.validator == nil {
			return driving.QueryPhase1Response{}, fmt.Errorf("%w: filter supplied but no SQL validator is configured", domain.ErrSQLFragmentRejected)
		}
		validated, err := o.validator.Validate(req.Filter)
		if err != nil {
			return driving.QueryPhase1Response{}, err
		}
		sqlFilter = validated
	}

	scoreExpr := ""
	if req.ScoreExpr != "" {
		if o.validator == nil {
			return driving.QueryPhase1Response{}, fmt.Errorf("%w: score_expr supplied but no SQL validator is configured", domain.ErrSQLFragmentRejected)
		}
		validated, err := o.validator.ValidateScoreExpr(req.ScoreExpr)
		if err != nil {
			return driving.QueryPhase1Response{}, err
		}
		scoreExpr = validated
	}

	variants := make([]string, 0, 3)
	for _, v := range []string{req.Question, rewrite, hypothetical} {
		if strings.TrimSpace(v) != "" {
			variants = append(variants, v)
		}
	}

	merged := make(map[string]domain.RetrievedSource)
	for _, variant := range variants {
		vec, err := o.gateway.Embed(ctx, variant)
		if err != nil {
			return driving.QueryPhase1Response{}, fmt.Errorf("%w: embed query variant: %v", domain.ErrUpstreamFailure, err)
		}
		hits, err := o.store.KNNSearch(ctx, vec, topK, sqlFilter, scoreExpr)
		if err != nil {
			return driving.QueryPhase1Response{}, fmt.Errorf("%w: knn search: %v", domain.ErrUpstreamFailure, err)
		}
		for _, hit := range hits {
			existing, ok := merged[hit.DocID]
			if !ok || hit.Score > existing.Score {
				merged[hit.DocID] = hit
			}
		}
	}

	sources := make([]domain.RetrievedSource, 0, len(merged))
	for _, s := range merged {
		sources = append(sources, s)
	}
	sort.Slice(sources, func(i, j int) bool { return sources[i].Score > sources[j].Score })
	if len(sources) > topK {
		sources = sources[:topK]
	}

	status := statusNeedMessages
	if len(sources) == 0 {
		status = statusNoRetrieval
	}

	requestID, err := o.signer.Sign(newOpaqueID(), req.SessionID)
	if err != nil {
		return driving.QueryPhase1Response{}, fmt.Errorf("%w: sign request_id: %v", domain.ErrUpstreamFailure, err)
	}

	pq := domain.NewPendingQuery(requestID, req.SessionID, req.Question, resolvedQuestion, sources, time.Now())
	o.pending.Put(pq)

	messageIDs := make([]string, 0, len(sources))
	for _, s := range sources {
		messageIDs = append(messageIDs, s.DocID)
	}

	return driving.QueryPhase1Response{
		Status:     status,
		RequestID:  requestID,
		MessageIDs: messageIDs,
		Sources:    sources,
	}, nil
}

func (o *QueryOrchestrator) rewrite(ctx context.Context, question, lastSourcesRecap string) (rewriteResult, error) {
	prompt := "Given the conversation's last referenced sources and a follow-up question, produce a JSON object " +
		`{"resolved_question": "...", "rewrite": "...", "hypothetical": "..."}. ` +
		"resolved_question binds relative references (\"the second email\", \"that one\") to concrete identifiers " +
		"from the sources recap. rewrite is a self-contained search query incorporating context (empty string if " +
		"the question is already self-contained). hypothetical is a fake email in a realistic indexed format useful " +
		"for retrieval (HyDE)."

	messages := []driven.ChatMessage{
		{Role: "system", Content: prompt},
		{Role: "user", Content: "Last sources recap:\n" + lastSourcesRecap + "\n\nQuestion: " + question},
	}

	raw, err := o.gateway.Chat(ctx, messages)
	if err != nil {
		return rewriteResult{}, err
	}

	var result rewriteResult
	if err := json.Unmarshal([]byte(extractJSONObject(raw)), &result); err != nil {
		// Fail soft: rewriting is an enhancement, not a requirement: fall
		// back to the literal question with no rewrite/HyDE variant.
		return rewriteResult{ResolvedQuestion: question}, nil
	}
	return result, nil
}

// Phase2 implements POST /query/evidence: records raw evidence bytes
// against a PendingQuery (spec.md section 4.8).
func (o *QueryOrchestrator) Phase2(ctx context.Context, req driving.EvidenceUploadRequest) error {
	claims, err := o.signer.Verify(req.RequestID)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrUnknownRequestID, err)
	}

	pq := o.pending.Get(req.RequestID)
	if pq == nil {
		return fmt.Errorf("%w: %s", domain.ErrUnknownRequestID, req.RequestID)
	}
	if pq.SessionID != claims.SessionID {
		return fmt.Errorf("%w: token session mismatch", domain.ErrSessionMismatch)
	}

	pq.Lock()
	defer pq.Unlock()

	raw := req.RawEmail
	if o.encryptor != nil {
		blob, err := o.encryptor.Encrypt(req.RawEmail)
		if err != nil {
			return fmt.Errorf("%w: encrypt evidence: %v", domain.ErrUpstreamFailure, err)
		}
		raw = blob
	}
	pq.RecordEvidence(req.MessageID, raw)
	return nil
}

// Phase3 implements POST /query/complete: completeness gate, prompt
// assembly, chat, and session update (spec.md section 4.8).
func (o *QueryOrchestrator) Phase3(ctx context.Context, req driving.Phase3Request) (driving.Phase3Response, error) {
	// Reject a forged or expired request_id with a single signature check
	// before ever touching the pending map (defense in depth alongside
	// the 10-minute reaper TTL).
	if _, err := o.signer.Verify(req.RequestID); err != nil {
		return driving.Phase3Response{}, fmt.Errorf("%w: %v", domain.ErrUnknownRequestID, err)
	}

	pq := o.pending.Get(req.RequestID)
	if pq == nil {
		return driving.Phase3Response{}, fmt.Errorf("%w: %s", domain.ErrUnknownRequestID, req.RequestID)
	}
	if pq.SessionID != req.SessionID {
		return driving.Phase3Response{}, fmt.Errorf("%w: session_id does not match request_id", domain.ErrSessionMismatch)
	}

	pq.Lock()
	missing := pq.MissingEvidence()
	if len(missing) > 0 {
		pq.Unlock()
		return driving.Phase3Response{Status: statusMissingEvidence, Missing: missing}, nil
	}

	evidenceBlocks, sourceIndex, err := o.buildEvidenceBlocks(ctx, pq)
	pq.Unlock()
	if err != nil {
		// Preserve the pending record so the client can retry Phase 3
		// (spec.md section 7: "query orchestrator preserves the pending
		// record on Phase 3 upstream failure").
		return driving.Phase3Response{}, fmt.Errorf("%w: assemble evidence: %v", domain.ErrUpstreamFailure, err)
	}

	mode := req.Mode
	if mode == "" {
		mode = o.cfg.DefaultMode
	}
	if mode == "" {
		mode = domain.ModeAssistive
	}

	session := o.sessions.GetOrCreate(req.SessionID)
	session.Lock()
	historySummary := session.HistorySummary
	tail := append([]domain.Turn(nil), session.Tail...)
	session.Unlock()

	messages := assembleMessages(mode, historySummary, tail, evidenceBlocks, pq.ResolvedQuestion)

	raw, err := o.gateway.Chat(ctx, messages)
	if err != nil {
		return driving.Phase3Response{}, fmt.Errorf("%w: %v", domain.ErrUpstreamFailure, err)
	}
	answer := stripBoilerplate(raw)

	cited := citedSourcesFor(answer, sourceIndex)
	recap := renderSourcesRecap(sourceIndex)

	session.Lock()
	session.Tail = append(session.Tail, domain.Turn{Role: domain.RoleUser, Content: pq.Question})
	session.Tail = append(session.Tail, domain.Turn{Role: domain.RoleAssistant, Content: answer, SourceIndex: sourceIndex})
	if len(session.Tail) > domain.TailMax {
		session.Tail = session.Tail[len(session.Tail)-domain.TailMax:]
	}
	session.LastSourcesRecap = recap
	session.Unlock()

	_ = o.sessions.Compress(ctx, req.SessionID)

	o.pending.Delete(req.RequestID)

	return driving.Phase3Response{Answer: answer, Sources: cited}, nil
}

// buildEvidenceBlocks re-extracts, enriches, and summarizes each evidence
// email (spec.md section 4.8 Phase 3 steps 1-3). Caller must hold pq's
// lock.
func (o *QueryOrchestrator) buildEvidenceBlocks(ctx context.Context, pq *domain.PendingQuery) ([]string, []domain.CitedSource, error) {
	// Evidence is rendered in the same order as pq.RetrievedSources
	// (spec.md section 6: "numbered in the same order as sources").
	var blocks []string
	var index []domain.CitedSource

	n := 0
	for _, source := range pq.RetrievedSources {
		raw, ok := pq.ReceivedEvidence[source.DocID]
		if !ok {
			continue
		}
		if o.encryptor != nil {
			plain, err := o.encryptor.Decrypt(raw)
			if err != nil {
				return nil, nil, fmt.Errorf("decrypt evidence for %s: %w", source.DocID, err)
			}
			raw = plain
		}

		extracted, err := bodyextract.Extract(raw)
		if err != nil {
			return nil, nil, fmt.Errorf("extract evidence body for %s: %w", source.DocID, err)
		}

		email, err := o.store.GetEmail(ctx, source.DocID)
		if err != nil {
			return nil, nil, fmt.Errorf("load email metadata for %s: %w", source.DocID, err)
		}

		body := extracted.NewText
		if extracted.QuotedText != "" {
			body += "\n\n" + extracted.QuotedText
		}
		summary, err := o.gateway.SummarizeToFitKind(ctx, "evidence", body, o.cfg.MaxEvidenceCharsPerEmail)
		if err != nil {
			return nil, nil, fmt.Errorf("summarize evidence for %s: %w", source.DocID, err)
		}

		n++
		blocks = append(blocks, formatEvidenceBlock(n, email, summary))
		index = append(index, domain.CitedSource{N: n, DocID: source.DocID, Subject: email.Subject})
	}

	return blocks, index, nil
}

func formatEvidenceBlock(n int, email *domain.Email, summary string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[Email %d]\n", n)
	fmt.Fprintf(&b, "Subject: %s\n", email.Subject)
	fmt.Fprintf(&b, "From: %s\n", email.Sender)
	fmt.Fprintf(&b, "To: %s\n", email.Recipient)
	if !email.EmailDate.IsZero() {
		fmt.Fprintf(&b, "Date: %s\n", email.EmailDate.Format(time.RFC1123Z))
	}
	fmt.Fprintf(&b, "Action score: %d, Importance score: %d, Reply by: %s\n", email.ActionScore, email.ImportanceScore, email.ReplyBy)
	if len(email.Attachments) > 0 {
		fmt.Fprintf(&b, "Attachments: %s\n", strings.Join(email.Attachments, ", "))
	}
	fmt.Fprintf(&b, "Processed: %v\n\n", email.Processed)
	b.WriteString(summary)
	return b.String()
}

func assembleMessages(mode domain.Mode, historySummary string, tail []domain.Turn, evidenceBlocks []string, resolvedQuestion string) []driven.ChatMessage {
	var messages []driven.ChatMessage

	preamble := "You are an email research assistant. The current local time is " + time.Now().Format(time.RFC1123) + ". " +
		"Each evidence email carries an action_score and importance_score from 0-100 (urgency and significance) " +
		"and a processed flag (whether a human has already handled it). Cite every fact you draw from evidence as " +
		"[Email N] using the numbering given below."
	if mode == domain.ModeGrounded {
		preamble += " If the evidence does not answer the question, say so and do not speculate."
	}
	messages = append(messages, driven.ChatMessage{Role: "system", Content: preamble})

	if historySummary != "" {
		messages = append(messages, driven.ChatMessage{Role: "system", Content: "HISTORY SUMMARY: " + historySummary})
	}

	for _, turn := range tail {
		content := turn.Content
		if turn.Role == domain.RoleAssistant && len(turn.SourceIndex) > 0 {
			content += "\n\nEMAILS REFERENCED ABOVE:\n" + renderSourcesRecap(turn.SourceIndex)
		}
		messages = append(messages, driven.ChatMessage{Role: string(turn.Role), Content: content})
	}

	if len(evidenceBlocks) > 0 {
		messages = append(messages, driven.ChatMessage{
			Role:    "system",
			Content: "EMAILS THAT MAY BE RELEVANT:\n\n" + strings.Join(evidenceBlocks, "\n\n---\n\n"),
		})
	}

	messages = append(messages, driven.ChatMessage{
		Role:    "user",
		Content: resolvedQuestion + "\n\nCite sources as [Email N] where N is the 1-based evidence index above.",
	})

	return messages
}

var boilerplatePrefixes = []string{
	"sure!", "sure,", "happy to help!", "happy to help,", "great question!",
	"i'd be happy to help.", "of course!", "absolutely!",
}

// stripBoilerplate removes a leading greeting/filler sentence from a chat
// response (spec.md section 4.8 step 5).
func stripBoilerplate(answer string) string {
	trimmed := strings.TrimSpace(answer)
	lower := strings.ToLower(trimmed)
	for _, prefix := range boilerplatePrefixes {
		if strings.HasPrefix(lower, prefix) {
			rest := trimmed[len(prefix):]
			return strings.TrimSpace(rest)
		}
	}
	return trimmed
}

var citationRE = regexp.MustCompile(`\[Email (\d+)\]`)

// citedSourcesFor returns the subset of sourceIndex actually referenced
// by a [Email N] citation in answer, in citation order (spec.md section
// 8's "citation resolvability" property).
func citedSourcesFor(answer string, sourceIndex []domain.CitedSource) []domain.CitedSource {
	byN := make(map[int]domain.CitedSource, len(sourceIndex))
	for _, s := range sourceIndex {
		byN[s.N] = s
	}

	var cited []domain.CitedSource
	seen := make(map[int]bool)
	for _, match := range citationRE.FindAllStringSubmatch(answer, -1) {
		n, err := strconv.Atoi(match[1])
		if err != nil || seen[n] {
			continue
		}
		if s, ok := byN[n]; ok {
			cited = append(cited, s)
			seen[n] = true
		}
	}
	return cited
}

func renderSourcesRecap(sourceIndex []domain.CitedSource) string {
	var b strings.Builder
	for _, s := range sourceIndex {
		fmt.Fprintf(&b, "[Email %d] doc_id=%s subject=%q\n", s.N, s.DocID, s.Subject)
	}
	return strings.TrimSpace(b.String())
}

func extractJSONObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start == -1 || end == -1 || end < start {
		return raw
	}
	return raw[start : end+1]
}

func newOpaqueID() string {
	return strconv.FormatInt(time.Now().UnixNano(), 36)
}

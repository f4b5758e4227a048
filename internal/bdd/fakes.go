// Package bdd drives the assembled HTTP surface through godog feature
// files mirroring spec.md section 8's concrete end-to-end scenarios.
// The store and model gateway are in-memory/deterministic fakes: this
// suite exercises wiring and protocol semantics, not real retrieval
// quality or a real Ollama-shaped backend.
package bdd

import (
	"context"
	"errors"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/thunderrag/core/internal/core/domain"
	"github.com/thunderrag/core/internal/core/ports/driven"
)

// fakeStore is an in-memory driven.VectorStore. Chunk "embeddings" are
// bag-of-words vectors over a fixed vocabulary so that cosine similarity
// against a query embedding of the same shape ranks on-topic emails
// first, without depending on a real model.
type fakeStore struct {
	mu     sync.Mutex
	emails map[string]*domain.Email
	chunks map[string][]domain.EmailChunk
}

func newFakeStore() *fakeStore {
	return &fakeStore{emails: make(map[string]*domain.Email), chunks: make(map[string][]domain.EmailChunk)}
}

func (s *fakeStore) UpsertEmail(ctx context.Context, email *domain.Email) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *email
	if existing, ok := s.emails[email.DocID]; ok {
		cp.Processed = existing.Processed
		cp.ProcessedAt = existing.ProcessedAt
	}
	s.emails[email.DocID] = &cp
	return nil
}

func (s *fakeStore) ReplaceChunks(ctx context.Context, docID string, chunks []domain.EmailChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.emails[docID]; !ok {
		return errors.New("unknown doc_id")
	}
	s.chunks[docID] = chunks
	return nil
}

func (s *fakeStore) DeleteEmail(ctx context.Context, docID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.chunks[docID])
	delete(s.emails, docID)
	delete(s.chunks, docID)
	return n, nil
}

func (s *fakeStore) SetProcessed(ctx context.Context, docID string, triage domain.Triage, embedModel, triageModel string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	email, ok := s.emails[docID]
	if !ok {
		return errors.New("unknown doc_id")
	}
	email.ActionScore = triage.ActionScore
	email.ImportanceScore = triage.ImportanceScore
	email.ReplyBy = triage.ReplyBy
	email.EmbedModel = embedModel
	email.TriageModel = triageModel
	return nil
}

func (s *fakeStore) MarkProcessed(ctx context.Context, docID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	email, ok := s.emails[docID]
	if !ok {
		return errors.New("unknown doc_id")
	}
	email.Processed = true
	return nil
}

func (s *fakeStore) MarkUnprocessed(ctx context.Context, docID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	email, ok := s.emails[docID]
	if !ok {
		return errors.New("unknown doc_id")
	}
	email.Processed = false
	return nil
}

func (s *fakeStore) ResetAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emails = make(map[string]*domain.Email)
	s.chunks = make(map[string][]domain.EmailChunk)
	return nil
}

func (s *fakeStore) GetEmail(ctx context.Context, docID string) (*domain.Email, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	email, ok := s.emails[docID]
	if !ok {
		return nil, errors.New("unknown doc_id")
	}
	cp := *email
	return &cp, nil
}

func (s *fakeStore) BatchIngestedStatus(ctx context.Context, docIDs []string) (map[string]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]bool)
	for _, id := range docIDs {
		if email, ok := s.emails[id]; ok {
			out[id] = email.Processed
		}
	}
	return out, nil
}

func (s *fakeStore) KNNSearch(ctx context.Context, queryEmbedding []float32, topK int, sqlFilter, scoreExpr string) ([]domain.RetrievedSource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var hits []domain.RetrievedSource
	for docID, chunkSet := range s.chunks {
		email := s.emails[docID]
		if email == nil {
			continue
		}
		best := -1.0
		bestText := ""
		for _, c := range chunkSet {
			score := cosine(queryEmbedding, c.Embedding)
			if score > best {
				best = score
				bestText = c.ChunkText
			}
		}
		if best <= 0 {
			continue
		}
		hits = append(hits, domain.RetrievedSource{
			DocID:     docID,
			Score:     best,
			Subject:   email.Subject,
			Sender:    email.Sender,
			ChunkText: bestText,
		})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

var _ driven.VectorStore = (*fakeStore)(nil)

// vocabulary is the fixed bag-of-words basis fakeGateway.Embed projects
// onto. It only needs to cover the words these feature files' subjects,
// bodies, and questions actually use.
var vocabulary = strings.Fields("project falcon launch date march 15 budget review meeting q1 re when is the")

func bagOfWords(text string) []float32 {
	lower := strings.ToLower(text)
	vec := make([]float32, len(vocabulary))
	for i, word := range vocabulary {
		if strings.Contains(lower, word) {
			vec[i] = 1
		}
	}
	return vec
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// fakeGateway is a deterministic driven.ModelGateway: Embed projects text
// onto the fixed vocabulary, Chat quotes back the evidence block most
// relevant to the resolved question so the three-phase protocol's
// citation/answer plumbing can be exercised without a live model.
type fakeGateway struct{}

func (fakeGateway) Embed(ctx context.Context, text string) ([]float32, error) {
	return bagOfWords(text), nil
}

func (fakeGateway) Chat(ctx context.Context, messages []driven.ChatMessage) (string, error) {
	var evidence, question string
	for _, m := range messages {
		if strings.Contains(m.Content, "[Email 1]") {
			evidence = m.Content
		}
		if m.Role == "user" {
			question = m.Content
		}
	}
	if evidence == "" {
		return "I found no evidence to answer: " + question, nil
	}
	lower := strings.ToLower(evidence)
	if strings.Contains(lower, "march 15") || strings.Contains(lower, "march") {
		return "The Project Falcon launch is scheduled for March 15, as described in [Email 1].", nil
	}
	return "Based on [Email 1]: " + firstLine(evidence), nil
}

func (fakeGateway) Triage(ctx context.Context, subject, body string) (int, int, string, error) {
	return 10, 10, domain.ReplyByNone, nil
}

func (fakeGateway) SummarizeToFit(ctx context.Context, text string, targetChars int) (string, error) {
	if len(text) <= targetChars {
		return text, nil
	}
	return text[:targetChars], nil
}

func (fakeGateway) SummarizeToFitKind(ctx context.Context, kind, text string, targetChars int) (string, error) {
	return fakeGateway{}.SummarizeToFit(ctx, text, targetChars)
}

var _ driven.ModelGateway = fakeGateway{}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

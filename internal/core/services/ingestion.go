package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/thunderrag/core/internal/attachtext"
	"github.com/thunderrag/core/internal/bodyextract"
	"github.com/thunderrag/core/internal/core/domain"
	"github.com/thunderrag/core/internal/core/ports/driven"
	"github.com/thunderrag/core/internal/core/ports/driving"
	"github.com/thunderrag/core/internal/mimeparse"
	"github.com/thunderrag/core/internal/textnorm"
)

var _ driving.IngestionService = (*IngestionPipeline)(nil)

// IngestionConfig holds the char-budget and feature-flag knobs spec.md
// section 4.7 and section 6 name.
type IngestionConfig struct {
	NewContentMaxChars int
	QuotedMaxLines     int
	QuotedMaxChars     int
	AttachmentMaxChars int
	MaxAttachments     int

	QuotedContextSummarize bool
	AttachmentSummarize    bool

	ChunkSize    int
	ChunkOverlap int

	// EmbedModelName/TriageModelName are recorded on each ingested email
	// row (spec.md section 3); the gateway itself has no model-name
	// accessor, so the composition root passes its configured names
	// through here.
	EmbedModelName  string
	TriageModelName string
}

// IngestionPipeline implements the nine ingestion steps of spec.md
// section 4.7: parse, extract, summarize, assemble text_for_index,
// triage, chunk, embed, upsert.
type IngestionPipeline struct {
	store     driven.VectorStore
	gateway   driven.ModelGateway
	lock      driven.DistributedLock
	extractor *attachtext.Registry
	cfg       IngestionConfig
}

// NewIngestionPipeline constructs an IngestionPipeline. lock may be nil
// (no-op single-process mode).
func NewIngestionPipeline(store driven.VectorStore, gateway driven.ModelGateway, lock driven.DistributedLock, cfg IngestionConfig) *IngestionPipeline {
	return &IngestionPipeline{
		store:     store,
		gateway:   gateway,
		lock:      lock,
		extractor: attachtext.DefaultRegistry(),
		cfg:       cfg,
	}
}

// Ingest runs the full ingestion pipeline over one raw RFC822 message
// (spec.md section 4.7).
func (p *IngestionPipeline) Ingest(ctx context.Context, raw []byte) (driving.IngestResult, error) {
	root, err := mimeparse.Parse(raw)
	if err != nil {
		return driving.IngestResult{}, fmt.Errorf("%w: %v", domain.ErrBadRequest, err)
	}

	docID := computeDocID(root.Headers, raw)

	if p.lock != nil {
		token, ok, err := p.lock.Acquire(ctx, "ingest:"+docID, 30*time.Second)
		if err != nil {
			return driving.IngestResult{}, fmt.Errorf("%w: acquire ingest lock: %v", domain.ErrUpstreamFailure, err)
		}
		if !ok {
			return driving.IngestResult{DocID: docID, Skipped: true, Reason: "concurrent ingestion in progress"}, nil
		}
		defer p.lock.Release(ctx, "ingest:"+docID, token)
	}

	extracted, err := bodyextract.Extract(raw)
	if err != nil {
		return driving.IngestResult{}, fmt.Errorf("%w: %v", domain.ErrBadRequest, err)
	}

	newText := extracted.NewText
	if len(newText) > p.cfg.NewContentMaxChars {
		newText, err = p.gateway.SummarizeToFitKind(ctx, "new", newText, p.cfg.NewContentMaxChars)
		if err != nil {
			return driving.IngestResult{}, fmt.Errorf("%w: summarize new content: %v", domain.ErrUpstreamFailure, err)
		}
	}

	quotedSummary := ""
	if p.cfg.QuotedContextSummarize && extracted.QuotedText != "" {
		quotedSummary = truncateLines(extracted.QuotedText, p.cfg.QuotedMaxLines)
		quotedSummary = truncateChars(quotedSummary, p.cfg.QuotedMaxChars)
		quotedSummary, err = p.gateway.SummarizeToFitKind(ctx, "quoted", quotedSummary, p.cfg.QuotedMaxChars)
		if err != nil {
			return driving.IngestResult{}, fmt.Errorf("%w: summarize quoted content: %v", domain.ErrUpstreamFailure, err)
		}
	}

	var attachmentNames []string
	var attachmentSummaries []string
	if p.cfg.AttachmentSummarize {
		limit := len(extracted.Attachments)
		if limit > p.cfg.MaxAttachments {
			limit = p.cfg.MaxAttachments
		}
		for i := 0; i < limit; i++ {
			part := extracted.Attachments[i]
			name := part.Filename()
			attachmentNames = append(attachmentNames, name)

			text, ok := p.extractor.ExtractText(part.RawBody, part.MimeType)
			if !ok || text == "" {
				continue
			}
			summary, err := p.gateway.SummarizeToFitKind(ctx, "attachment", text, p.cfg.AttachmentMaxChars)
			if err != nil {
				return driving.IngestResult{}, fmt.Errorf("%w: summarize attachment %q: %v", domain.ErrUpstreamFailure, name, err)
			}
			attachmentSummaries = append(attachmentSummaries, fmt.Sprintf("Attachment %q:\n%s", name, summary))
		}
		for i := limit; i < len(extracted.Attachments); i++ {
			attachmentNames = append(attachmentNames, extracted.Attachments[i].Filename())
		}
	} else {
		for _, part := range extracted.Attachments {
			attachmentNames = append(attachmentNames, part.Filename())
		}
	}

	sender := root.Headers.Get("from")
	recipient := root.Headers.Get("to")
	cc := root.Headers.Get("cc")
	bcc := root.Headers.Get("bcc")
	subject := textnorm.DecodeRFC2047(root.Headers.Get("subject"))
	dateHeader := root.Headers.Get("date")
	emailDate := parseDateHeader(dateHeader)

	textForIndex := buildTextForIndex(docID, subject, sender, recipient, cc, attachmentNames, newText, quotedSummary, attachmentSummaries)

	action, importance, replyBy, triageErr := p.gateway.Triage(ctx, subject, newText)
	triage := domain.Triage{ReplyBy: domain.ReplyByNone}
	if triageErr == nil {
		triage = domain.Triage{ActionScore: action, ImportanceScore: importance, ReplyBy: replyBy}
		if triage.ReplyBy == "" {
			triage.ReplyBy = domain.ReplyByNone
		}
	}
	// A failed triage call fails soft to the zero value (spec.md section
	// 4.7 step 7); ingestion still proceeds.

	chunkCfg := textnorm.ChunkConfig{MaxChunkSize: p.cfg.ChunkSize, Overlap: p.cfg.ChunkOverlap}
	chunkTexts := textnorm.ChunkText(textForIndex, chunkCfg)

	chunks := make([]domain.EmailChunk, 0, len(chunkTexts))
	for i, text := range chunkTexts {
		vec, err := p.gateway.Embed(ctx, text)
		if err != nil {
			return driving.IngestResult{}, fmt.Errorf("%w: embed chunk %d: %v", domain.ErrUpstreamFailure, i, err)
		}
		chunks = append(chunks, domain.EmailChunk{DocID: docID, ChunkIndex: i, ChunkText: text, Embedding: vec})
	}

	email := &domain.Email{
		DocID:       docID,
		Sender:      sender,
		Recipient:   recipient,
		CC:          cc,
		BCC:         bcc,
		Subject:     subject,
		EmailDate:   emailDate,
		Attachments: attachmentNames,
		IngestedAt:  time.Now(),
		EmbedModel:  p.cfg.EmbedModelName,
		TriageModel: p.cfg.TriageModelName,
	}

	if err := p.store.UpsertEmail(ctx, email); err != nil {
		return driving.IngestResult{}, fmt.Errorf("%w: upsert email: %v", domain.ErrUpstreamFailure, err)
	}
	if err := p.store.ReplaceChunks(ctx, docID, chunks); err != nil {
		return driving.IngestResult{}, fmt.Errorf("%w: replace chunks: %v", domain.ErrUpstreamFailure, err)
	}
	if err := p.store.SetProcessed(ctx, docID, triage, p.cfg.EmbedModelName, p.cfg.TriageModelName); err != nil {
		return driving.IngestResult{}, fmt.Errorf("%w: set processed: %v", domain.ErrUpstreamFailure, err)
	}

	return driving.IngestResult{DocID: docID, Ingested: true}, nil
}

// computeDocID resolves doc_id per spec.md section 4.7 step 1: Message-Id
// header if non-empty, else X-Thunderbird-Message-Id, else a digest of
// the raw bytes.
func computeDocID(headers mimeparse.Headers, raw []byte) string {
	if id := strings.TrimSpace(headers.Get("message-id")); id != "" {
		return id
	}
	if id := strings.TrimSpace(headers.Get("x-thunderbird-message-id")); id != "" {
		return id
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

func buildTextForIndex(docID, subject, sender, recipient, cc string, attachments []string, newText, quotedSummary string, attachmentSummaries []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Subject: %s\n", subject)
	fmt.Fprintf(&b, "From: %s\n", sender)
	fmt.Fprintf(&b, "To: %s\n", recipient)
	if cc != "" {
		fmt.Fprintf(&b, "Cc: %s\n", cc)
	}
	if len(attachments) > 0 {
		fmt.Fprintf(&b, "Attachments: %s\n", strings.Join(attachments, ", "))
	}
	fmt.Fprintf(&b, "doc_id: %s\n\n", docID)
	b.WriteString(newText)
	if quotedSummary != "" {
		b.WriteString("\n\nQuoted context:\n")
		b.WriteString(quotedSummary)
	}
	for _, summary := range attachmentSummaries {
		b.WriteString("\n\n")
		b.WriteString(summary)
	}
	return b.String()
}

func truncateLines(text string, maxLines int) string {
	if maxLines <= 0 {
		return text
	}
	lines := strings.Split(text, "\n")
	if len(lines) <= maxLines {
		return text
	}
	return strings.Join(lines[:maxLines], "\n")
}

func truncateChars(text string, maxChars int) string {
	if maxChars <= 0 || len(text) <= maxChars {
		return text
	}
	return text[:maxChars]
}

func parseDateHeader(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC1123Z, time.RFC1123, time.RFC822Z, time.RFC822} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t
		}
	}
	return time.Time{}
}

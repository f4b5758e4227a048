package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/thunderrag/core/internal/core/domain"
	"github.com/thunderrag/core/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.VectorStore = (*VectorStore)(nil)

// VectorStore implements driven.VectorStore over Postgres with a vector
// column and the `<=>` cosine-distance operator (spec.md section 4.4).
type VectorStore struct {
	db *DB
}

// NewVectorStore creates a new VectorStore.
func NewVectorStore(db *DB) *VectorStore {
	return &VectorStore{db: db}
}

// UpsertEmail inserts or updates an email row by doc_id. Re-ingestion
// preserves the existing processed flag (spec.md section 9's open
// question: "does processed persist across replacement?" — resolved yes,
// see DESIGN.md).
func (s *VectorStore) UpsertEmail(ctx context.Context, email *domain.Email) error {
	attachmentsJSON, err := json.Marshal(email.Attachments)
	if err != nil {
		return fmt.Errorf("marshal attachments: %w", err)
	}

	query := `
		INSERT INTO emails (doc_id, sender, recipient, cc, bcc, subject, email_date, attachments, ingested_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (doc_id) DO UPDATE SET
			sender = EXCLUDED.sender,
			recipient = EXCLUDED.recipient,
			cc = EXCLUDED.cc,
			bcc = EXCLUDED.bcc,
			subject = EXCLUDED.subject,
			email_date = EXCLUDED.email_date,
			attachments = EXCLUDED.attachments,
			ingested_at = EXCLUDED.ingested_at
	`
	_, err = s.db.ExecContext(ctx, query,
		email.DocID, email.Sender, email.Recipient, email.CC, email.BCC,
		email.Subject, email.EmailDate, attachmentsJSON, email.IngestedAt,
	)
	return err
}

// ReplaceChunks deletes existing chunks for docID and inserts the new set
// in a single transaction (spec.md section 4.4).
func (s *VectorStore) ReplaceChunks(ctx context.Context, docID string, chunks []domain.EmailChunk) error {
	return s.db.Transaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM email_chunks WHERE doc_id = $1`, docID); err != nil {
			return err
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO email_chunks (doc_id, chunk_index, chunk_text, embedding)
			VALUES ($1, $2, $3, $4::vector)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, chunk := range chunks {
			if _, err := stmt.ExecContext(ctx, docID, chunk.ChunkIndex, chunk.ChunkText, vectorLiteral(chunk.Embedding)); err != nil {
				return err
			}
		}
		return nil
	})
}

// DeleteEmail removes an email; its chunks cascade-delete via the foreign
// key (spec.md section 4.4). Returns the number of chunks that were
// deleted.
func (s *VectorStore) DeleteEmail(ctx context.Context, docID string) (int, error) {
	var chunksDeleted int
	err := s.db.Transaction(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `SELECT count(*) FROM email_chunks WHERE doc_id = $1`, docID)
		if err := row.Scan(&chunksDeleted); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM emails WHERE doc_id = $1`, docID)
		return err
	})
	if err != nil {
		return 0, err
	}
	return chunksDeleted, nil
}

// MarkProcessed sets the processed flag without touching triage scores
// (spec.md section 6: POST /admin/mark_processed).
func (s *VectorStore) MarkProcessed(ctx context.Context, docID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE emails SET processed = true, processed_at = $2 WHERE doc_id = $1`, docID, time.Now().UTC())
	return err
}

// MarkUnprocessed clears the processed flag (spec.md section 6: POST
// /admin/mark_unprocessed).
func (s *VectorStore) MarkUnprocessed(ctx context.Context, docID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE emails SET processed = false, processed_at = NULL WHERE doc_id = $1`, docID)
	return err
}

// ResetAll deletes every email and chunk (spec.md section 6: POST
// /admin/reset).
func (s *VectorStore) ResetAll(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `TRUNCATE emails, email_chunks`)
	return err
}

// SetProcessed stamps triage scores and model names (spec.md section 4.7
// step 9). It leaves processed and processed_at untouched; only
// MarkProcessed/MarkUnprocessed change them.
func (s *VectorStore) SetProcessed(ctx context.Context, docID string, triage domain.Triage, embedModel, triageModel string) error {
	replyBy := triage.ReplyBy
	if replyBy == "" {
		replyBy = domain.ReplyByNone
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE emails SET
			action_score = $2,
			importance_score = $3,
			reply_by = $4,
			embed_model = $5,
			triage_model = $6
		WHERE doc_id = $1
	`, docID, triage.ActionScore, triage.ImportanceScore, replyBy, embedModel, triageModel)
	return err
}

// GetEmail returns the full stored record for docID.
func (s *VectorStore) GetEmail(ctx context.Context, docID string) (*domain.Email, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT doc_id, sender, recipient, cc, bcc, subject, email_date, attachments,
			action_score, importance_score, reply_by, processed, processed_at,
			ingested_at, embed_model, triage_model
		FROM emails WHERE doc_id = $1
	`, docID)

	var email domain.Email
	var attachmentsJSON []byte
	var processedAt sql.NullTime
	var emailDate sql.NullTime

	err := row.Scan(&email.DocID, &email.Sender, &email.Recipient, &email.CC, &email.BCC,
		&email.Subject, &emailDate, &attachmentsJSON,
		&email.ActionScore, &email.ImportanceScore, &email.ReplyBy, &email.Processed, &processedAt,
		&email.IngestedAt, &email.EmbedModel, &email.TriageModel)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if emailDate.Valid {
		email.EmailDate = emailDate.Time
	}
	email.ProcessedAt = TimePtr(processedAt)
	if err := json.Unmarshal(attachmentsJSON, &email.Attachments); err != nil {
		email.Attachments = nil
	}

	return &email, nil
}

// BatchIngestedStatus reports presence and processed state for each
// requested doc_id (spec.md section 4.4).
func (s *VectorStore) BatchIngestedStatus(ctx context.Context, docIDs []string) (map[string]bool, error) {
	status := make(map[string]bool, len(docIDs))
	if len(docIDs) == 0 {
		return status, nil
	}

	placeholders := make([]string, len(docIDs))
	args := make([]any, len(docIDs))
	for i, id := range docIDs {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT doc_id, processed FROM emails WHERE doc_id IN (%s)`,
		strings.Join(placeholders, ","),
	), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var processed bool
		if err := rows.Scan(&id, &processed); err != nil {
			return nil, err
		}
		status[id] = processed
	}
	return status, rows.Err()
}

// KNNSearch runs `ORDER BY embedding <=> $1` by default, or `ORDER BY
// (scoreExpr) DESC` if scoreExpr is non-empty, joined across chunk and
// email tables and filtered by sqlFilter if non-empty. Both sqlFilter and
// scoreExpr must already have passed the SQL Fragment Validator (spec.md
// section 4.4).
func (s *VectorStore) KNNSearch(ctx context.Context, queryEmbedding []float32, topK int, sqlFilter, scoreExpr string) ([]domain.RetrievedSource, error) {
	where := ""
	if sqlFilter != "" {
		where = "WHERE (" + sqlFilter + ")"
	}

	orderBy := "ec.embedding <=> $1::vector"
	scoreColumn := "1 - (ec.embedding <=> $1::vector) AS score"
	if scoreExpr != "" {
		scoreColumn = "(" + scoreExpr + ") AS score"
		orderBy = "(" + scoreExpr + ") DESC"
	}

	query := fmt.Sprintf(`
		SELECT e.doc_id, e.subject, e.sender, e.email_date, ec.chunk_text,
			%s
		FROM email_chunks ec
		JOIN emails e ON e.doc_id = ec.doc_id
		%s
		ORDER BY %s
		LIMIT $2
	`, scoreColumn, where, orderBy)

	rows, err := s.db.QueryContext(ctx, query, vectorLiteral(queryEmbedding), topK)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []domain.RetrievedSource
	for rows.Next() {
		var r domain.RetrievedSource
		var emailDate sql.NullTime
		if err := rows.Scan(&r.DocID, &r.Subject, &r.Sender, &emailDate, &r.ChunkText, &r.Score); err != nil {
			return nil, err
		}
		if emailDate.Valid {
			r.EmailDate = emailDate.Time.UTC().Format(time.RFC3339)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// vectorLiteral formats an embedding as a pgvector literal string
// "[v1,v2,...]".
func vectorLiteral(vec []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, v := range vec {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%g", v)
	}
	b.WriteByte(']')
	return b.String()
}

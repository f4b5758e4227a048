package domain

import "time"

// ReplyByNone is the sentinel stored in ReplyBy when triage found no
// deadline, per spec.md's "'none'" sentinel requirement.
const ReplyByNone = "none"

// Email is the persisted record for one ingested RFC822 message.
// Owned exclusively by the Vector Store (spec.md section 3).
type Email struct {
	DocID     string    `json:"doc_id"`
	Sender    string    `json:"sender"`
	Recipient string    `json:"recipient"`
	CC        string    `json:"cc"`
	BCC       string    `json:"bcc"`
	Subject   string    `json:"subject"`
	EmailDate time.Time `json:"email_date"`

	Attachments []string `json:"attachments"`

	ActionScore     int    `json:"action_score"`     // 0-100
	ImportanceScore int    `json:"importance_score"` // 0-100
	ReplyBy         string `json:"reply_by"`         // ISO 8601 or ReplyByNone

	Processed   bool       `json:"processed"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`

	IngestedAt  time.Time `json:"ingested_at"`
	EmbedModel  string    `json:"embed_model"`
	TriageModel string    `json:"triage_model"`
}

// Triage is the LLM-derived per-email scoring produced during ingestion
// (spec.md section 4.7 step 7). A failed or malformed triage call fails
// soft to the zero value, whose ReplyBy is left empty by the caller and
// normalized to ReplyByNone before persistence.
type Triage struct {
	ActionScore     int    `json:"action_score"`
	ImportanceScore int    `json:"importance_score"`
	ReplyBy         string `json:"reply_by"`
}

// Attachment is a MIME leaf part identified as an attachment during body
// extraction, before any attachment-text summarisation.
type Attachment struct {
	Filename string
	MimeType string
	Content  []byte
}

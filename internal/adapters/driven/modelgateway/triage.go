package modelgateway

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/thunderrag/core/internal/core/ports/driven"
)

const triageSystemPrompt = `You triage a single email. Respond with only a JSON object of the form
{"action_score": <0-100>, "importance_score": <0-100>, "reply_by": "<ISO 8601 date or 'none'>"}.
action_score measures how urgently the recipient must act; importance_score measures overall significance;
reply_by is the deadline implied by the email, or "none" if there isn't one.`

type triageResult struct {
	ActionScore     int    `json:"action_score"`
	ImportanceScore int    `json:"importance_score"`
	ReplyBy         string `json:"reply_by"`
}

// Triage returns the ingestion-time scoring for one email body. A failed
// or malformed call fails soft per spec.md section 4.7 step 7: the
// caller is expected to persist the zero value rather than abort
// ingestion.
func (g *Gateway) Triage(ctx context.Context, subject, body string) (int, int, string, error) {
	messages := []driven.ChatMessage{
		{Role: "system", Content: triageSystemPrompt},
		{Role: "user", Content: "Subject: " + subject + "\n\n" + body},
	}

	raw, err := g.chat(ctx, "triage", messages)
	if err != nil {
		return 0, 0, "", err
	}

	var result triageResult
	if err := json.Unmarshal([]byte(extractJSONObject(raw)), &result); err != nil {
		return 0, 0, "", err
	}
	if result.ReplyBy == "" {
		result.ReplyBy = "none"
	}
	return result.ActionScore, result.ImportanceScore, result.ReplyBy, nil
}

// extractJSONObject finds the first {...} span in raw, tolerating chat
// models that wrap JSON in prose or code fences.
func extractJSONObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start == -1 || end == -1 || end < start {
		return raw
	}
	return raw[start : end+1]
}

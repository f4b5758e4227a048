package driven

import "context"

// ChatMessage is one turn of a chat completion request.
type ChatMessage struct {
	Role    string
	Content string
}

// ModelGateway is the boundary to the embedding and chat LLM providers
// (spec.md section 4.9). A single implementation backs both the ingestion
// pipeline's embed/triage calls and the query protocol's rewrite/HyDE/chat
// calls.
type ModelGateway interface {
	// Embed returns a single embedding vector for text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Chat returns the assistant's completion for a message sequence.
	Chat(ctx context.Context, messages []ChatMessage) (string, error)

	// Triage returns the ingestion-time action/importance/reply-by scoring
	// for one email body. A failed or malformed call returns an error; the
	// caller fails soft per spec.md section 4.7 step 7.
	Triage(ctx context.Context, subject, body string) (action int, importance int, replyBy string, err error)

	// SummarizeToFit recursively summarizes text until it fits within
	// targetTokens, per the convergence band in spec.md section 4.8's
	// summarize_to_fit description (ratio clamped to [0.50, 0.75], capped
	// at ceil(log2(len(text)/target))+2 passes).
	SummarizeToFit(ctx context.Context, text string, targetTokens int) (string, error)

	// SummarizeToFitKind is the kind-parameterised form of SummarizeToFit
	// (spec.md section 4.7), selecting a different summarization prompt
	// for kind in {"new", "quoted", "attachment", "evidence"}.
	SummarizeToFitKind(ctx context.Context, kind string, text string, targetChars int) (string, error)
}

// Package modelgateway implements the Model Gateway (spec.md section 4.6)
// over a single HTTP client talking to an Ollama-style embedding/chat
// provider: embed, chat, triage, and recursive summarize_to_fit.
package modelgateway

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/thunderrag/core/internal/core/domain"
	"github.com/thunderrag/core/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.ModelGateway = (*Gateway)(nil)

// Config configures the Gateway (spec.md section 6's configuration table).
type Config struct {
	BaseURL        string
	EmbedModel     string
	ChatModel      string
	SummaryModel   string // falls back to ChatModel if empty
	TriageModel    string // falls back to ChatModel if empty
	RequestTimeout time.Duration

	SummarizeMaxInputChars int

	// MinShrinkRatio/MaxShrinkRatio override the summarize_to_fit
	// convergence band (spec.md section 4.6); zero means use the package
	// defaults.
	MinShrinkRatio float64
	MaxShrinkRatio float64
}

// DefaultConfig mirrors spec.md section 6's stated defaults.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:                baseURL,
		EmbedModel:             "nomic-embed-text",
		ChatModel:              "llama3",
		RequestTimeout:         300 * time.Second,
		SummarizeMaxInputChars: 8000,
	}
}

// Gateway implements driven.ModelGateway over HTTP against an
// Ollama-compatible provider.
type Gateway struct {
	cfg    Config
	client *http.Client
	cache  driven.ResponseCache
}

// New constructs a Gateway.
func New(cfg Config) *Gateway {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 300 * time.Second
	}
	return &Gateway{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.RequestTimeout},
	}
}

// WithCache attaches an optional response cache in front of Embed, keyed
// by model+input digest. Embeddings are a pure function of (model, text),
// unlike Chat/Triage/SummarizeToFit whose prompts are bespoke per call, so
// only Embed benefits from caching (SPEC_FULL.md domain stack).
func (g *Gateway) WithCache(cache driven.ResponseCache) *Gateway {
	g.cache = cache
	return g
}

// Ping checks that the provider is reachable, for the /healthz endpoint.
func (g *Gateway) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.cfg.BaseURL+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrTransientTransport, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("provider returned status %d", resp.StatusCode)
	}
	return nil
}

func (g *Gateway) chatModelFor(kind string) string {
	switch kind {
	case "summary":
		if g.cfg.SummaryModel != "" {
			return g.cfg.SummaryModel
		}
	case "triage":
		if g.cfg.TriageModel != "" {
			return g.cfg.TriageModel
		}
	}
	return g.cfg.ChatModel
}

type embeddingRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embeddingResponse struct {
	Embedding []float32   `json:"embedding"`
	Error     string      `json:"error,omitempty"`
}

const embedCacheTTL = 24 * time.Hour

// Embed calls the provider, L2-normalises the result, and fails on an
// empty result (spec.md section 4.6). A cache hit (if a ResponseCache is
// attached via WithCache) skips the provider round-trip entirely.
func (g *Gateway) Embed(ctx context.Context, text string) ([]float32, error) {
	cacheKey := g.embedCacheKey(text)
	if g.cache != nil && cacheKey != "" {
		if cached, ok, err := g.cache.Get(ctx, cacheKey); err == nil && ok {
			var vec []float32
			if err := json.Unmarshal(cached, &vec); err == nil && len(vec) > 0 {
				return vec, nil
			}
		}
	}

	reqBody := embeddingRequest{Model: g.cfg.EmbedModel, Input: text}

	var resp embeddingResponse
	if err := g.doJSON(ctx, "/api/embeddings", reqBody, &resp); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("embedding provider error: %s", resp.Error)
	}
	if len(resp.Embedding) == 0 {
		return nil, fmt.Errorf("embedding provider returned an empty vector")
	}

	vec := l2Normalize(resp.Embedding)

	if g.cache != nil && cacheKey != "" {
		if encoded, err := json.Marshal(vec); err == nil {
			_ = g.cache.Set(ctx, cacheKey, encoded, embedCacheTTL)
		}
	}

	return vec, nil
}

func (g *Gateway) embedCacheKey(text string) string {
	sum := sha256.Sum256([]byte(g.cfg.EmbedModel + "\x00" + text))
	return "embed:" + hex.EncodeToString(sum[:])
}

func l2Normalize(v []float32) []float32 {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	if sumSq == 0 {
		return v
	}
	norm := float32(1.0 / math.Sqrt(sumSq))
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = x * norm
	}
	return out
}

type chatRequest struct {
	Model    string                   `json:"model"`
	Messages []driven.ChatMessage     `json:"messages"`
	Stream   bool                     `json:"stream"`
}

type chatResponse struct {
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Error string `json:"error,omitempty"`
}

// Chat calls the provider with stream=false and returns the assistant
// message content (spec.md section 4.6).
func (g *Gateway) Chat(ctx context.Context, messages []driven.ChatMessage) (string, error) {
	reqBody := chatRequest{Model: g.cfg.ChatModel, Messages: messages, Stream: false}

	var resp chatResponse
	if err := g.doJSON(ctx, "/api/chat", reqBody, &resp); err != nil {
		return "", err
	}
	if resp.Error != "" {
		return "", fmt.Errorf("chat provider error: %s", resp.Error)
	}
	return resp.Message.Content, nil
}

func (g *Gateway) doJSON(ctx context.Context, path string, reqBody, respBody any) error {
	body, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrTransientTransport, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("provider returned status %d: %s", resp.StatusCode, truncate(string(raw), 200))
	}

	if err := json.Unmarshal(raw, respBody); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

// chat runs a single chat call against the model assigned to kind
// ("summary", "triage", or "" for the default ChatModel), used by
// SummarizeToFit and Triage so each can be pointed at a dedicated model
// via config while falling back to ChatModel (spec.md section 6).
func (g *Gateway) chat(ctx context.Context, kind string, messages []driven.ChatMessage) (string, error) {
	reqBody := chatRequest{Model: g.chatModelFor(kind), Messages: messages, Stream: false}

	var resp chatResponse
	if err := g.doJSON(ctx, "/api/chat", reqBody, &resp); err != nil {
		return "", err
	}
	if resp.Error != "" {
		return "", fmt.Errorf("chat provider error: %s", resp.Error)
	}
	return resp.Message.Content, nil
}

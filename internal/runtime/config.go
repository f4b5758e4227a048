// Package runtime loads process configuration from the environment, the
// way cmd/sercha-core/main.go does for the teacher: plain env vars with
// defaults, no configuration framework (spec.md section 6, SPEC_FULL.md
// section 10).
package runtime

import (
	"os"
	"strconv"
	"time"
)

// Config is every recognised key from spec.md section 6's configuration
// table, plus the SPEC_FULL.md ambient-stack additions (RUN_MODE, Redis,
// request-token/evidence secrets).
type Config struct {
	RunMode string // "all", "server", "worker"

	HTTPAddr string

	// Model Gateway
	ProviderBaseURL string
	EmbedModel      string
	ChatModel       string
	SummaryModel    string
	TriageModel     string
	OllamaTimeout   time.Duration

	// Text Normalizer / chunking
	ChunkSize    int
	ChunkOverlap int

	// Ingestion Pipeline char budgets
	NewContentMaxChars     int
	QuotedMaxLines         int
	QuotedMaxChars         int
	AttachmentMaxChars     int
	MaxAttachments         int
	MaxEvidenceCharsPerEmail int
	SummarizeMaxInputChars int

	QuotedContextSummarize bool
	AttachmentSummarize    bool
	QueryRewrite           bool
	IncludeUnrehydratedMeta bool
	DefaultMode            string

	DefaultTopK int

	// History / tail (spec.md sections 4.8, 4.9)
	TailMax        int
	KeepRecent     int
	HistoryMaxChars int

	// Vector store
	DatabaseURL string

	// Redis (optional; empty disables cache and distributed lock)
	RedisAddr string

	// Secrets (auto-derived if unset, per the teacher's
	// getOrGenerateSecret/getMasterKey pattern)
	JWTSecret    string
	MasterKeyHex string

	// summarize_to_fit convergence band (spec.md section 4.6)
	MinShrinkRatio float64
	MaxShrinkRatio float64
}

// Load builds a Config from the environment.
func Load() Config {
	return Config{
		RunMode:  getEnv("RUN_MODE", "all"),
		HTTPAddr: getEnv("HTTP_ADDR", ":8080"),

		ProviderBaseURL: getEnv("PROVIDER_BASE_URL", "http://localhost:11434"),
		EmbedModel:      getEnv("EMBED_MODEL", "nomic-embed-text"),
		ChatModel:       getEnv("CHAT_MODEL", "llama3"),
		SummaryModel:    getEnv("SUMMARY_MODEL", ""),
		TriageModel:     getEnv("TRIAGE_MODEL", ""),
		OllamaTimeout:   getEnvDuration("OLLAMA_TIMEOUT_SECONDS", 300*time.Second),

		ChunkSize:    getEnvInt("CHUNK_SIZE", 1000),
		ChunkOverlap: getEnvInt("CHUNK_OVERLAP", 200),

		NewContentMaxChars:       getEnvInt("NEW_CONTENT_MAX_CHARS", 4000),
		QuotedMaxLines:           getEnvInt("QUOTED_MAX_LINES", 40),
		QuotedMaxChars:           getEnvInt("QUOTED_MAX_CHARS", 4000),
		AttachmentMaxChars:       getEnvInt("ATTACHMENT_MAX_CHARS", 2000),
		MaxAttachments:           getEnvInt("MAX_ATTACHMENTS", 5),
		MaxEvidenceCharsPerEmail: getEnvInt("MAX_EVIDENCE_CHARS_PER_EMAIL", 6000),
		SummarizeMaxInputChars:   getEnvInt("SUMMARIZE_MAX_INPUT_CHARS", 8000),

		QuotedContextSummarize:  getEnvBool("QUOTED_CONTEXT_SUMMARIZE", true),
		AttachmentSummarize:     getEnvBool("ATTACHMENT_SUMMARIZE", true),
		QueryRewrite:            getEnvBool("QUERY_REWRITE", true),
		IncludeUnrehydratedMeta: getEnvBool("INCLUDE_UNREHYDRATED_METADATA", false),
		DefaultMode:             getEnv("DEFAULT_MODE", "assistive"),

		DefaultTopK: getEnvInt("DEFAULT_TOP_K", 8),

		TailMax:         getEnvInt("TAIL_MAX", 24),
		KeepRecent:      getEnvInt("KEEP_RECENT", 8),
		HistoryMaxChars: getEnvInt("HISTORY_MAX_CHARS", 12000),

		DatabaseURL: getEnv("DATABASE_URL", "postgres://localhost:5432/thunderrag?sslmode=disable"),

		RedisAddr: getEnv("REDIS_ADDR", ""),

		JWTSecret:    getEnv("JWT_SECRET", ""),
		MasterKeyHex: getEnv("MASTER_KEY", ""),

		MinShrinkRatio: getEnvFloat("SUMMARIZE_MIN_SHRINK_RATIO", 0.50),
		MaxShrinkRatio: getEnvFloat("SUMMARIZE_MAX_SHRINK_RATIO", 0.75),
	}
}

// CompressionTriggerChars is 80% of HistoryMaxChars, the threshold at
// which the Session Manager folds tail turns into history_summary
// (spec.md section 4.8 step 6).
func (c Config) CompressionTriggerChars() int {
	return c.HistoryMaxChars * 8 / 10
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if result, err := strconv.Atoi(value); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if result, err := strconv.ParseFloat(value, 64); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if seconds, err := strconv.Atoi(value); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return defaultValue
}

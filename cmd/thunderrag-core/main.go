package main

// @title           ThunderRAG Core API
// @version         1.0
// @description     Email retrieval-augmented generation core: ingestion, three-phase retrieval/evidence/answer query protocol, and session/admin operations over a local Thunderbird mailbox.

// @license.name  Apache 2.0
// @license.url   http://www.apache.org/licenses/LICENSE-2.0.html

// @host      localhost:8080
// @BasePath  /
// @schemes   http

import (
	"context"
	"encoding/hex"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/thunderrag/core/internal/adapters/driven/modelgateway"
	"github.com/thunderrag/core/internal/adapters/driven/postgres"
	redisadapter "github.com/thunderrag/core/internal/adapters/driven/redis"
	httpadapter "github.com/thunderrag/core/internal/adapters/driving/http"
	"github.com/thunderrag/core/internal/core/domain"
	"github.com/thunderrag/core/internal/core/ports/driven"
	"github.com/thunderrag/core/internal/core/services"
	"github.com/thunderrag/core/internal/evidence"
	"github.com/thunderrag/core/internal/reaper"
	"github.com/thunderrag/core/internal/requesttoken"
	"github.com/thunderrag/core/internal/runtime"
	"github.com/thunderrag/core/internal/sqlvalidate"
	"github.com/redis/go-redis/v9"
)

var version = "dev"

// redisPinger adapts a redis.Client to httpadapter.Pinger.
type redisPinger struct {
	client *redis.Client
}

func (r *redisPinger) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func main() {
	cfg := runtime.Load()

	logger := slog.Default()
	logger.Info("thunderrag-core starting", "version", version, "run_mode", cfg.RunMode)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		cancel()
	}()

	// ===== PostgreSQL =====
	db, err := postgres.Connect(ctx, postgres.DefaultConfig(cfg.DatabaseURL))
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := db.InitSchema(ctx); err != nil {
		log.Fatalf("failed to initialize schema: %v", err)
	}
	logger.Info("postgres connected and schema initialized")

	// ===== Redis (optional; nil-safe cache/lock) =====
	var redisClient *redis.Client
	var cache driven.ResponseCache
	var lock driven.DistributedLock
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Fatalf("failed to connect to redis: %v", err)
		}
		defer redisClient.Close()
		cache = redisadapter.NewCache(redisClient)
		lock = redisadapter.NewLock(redisClient)
		logger.Info("redis connected", "addr", cfg.RedisAddr)
	} else {
		logger.Info("redis disabled (REDIS_ADDR unset); running without response cache or distributed lock")
	}

	// ===== Secrets =====
	jwtSecret := cfg.JWTSecret
	if jwtSecret == "" {
		jwtSecret = "thunderrag-dev-secret-" + cfg.DatabaseURL
		logger.Warn("JWT_SECRET not set, using a derived development secret; set JWT_SECRET in production")
	}
	signingKey, err := requesttoken.DeriveSigningKey(jwtSecret, "thunderrag-request-token")
	if err != nil {
		log.Fatalf("failed to derive request token signing key: %v", err)
	}
	signer := requesttoken.NewSigner(signingKey, domain.PendingQueryTTL)

	evidenceKey, err := resolveEvidenceKey(cfg.MasterKeyHex, jwtSecret)
	if err != nil {
		log.Fatalf("failed to resolve evidence encryption key: %v", err)
	}
	encryptor, err := evidence.NewEncryptor(evidenceKey)
	if err != nil {
		log.Fatalf("failed to create evidence encryptor: %v", err)
	}

	// ===== Model Gateway =====
	gatewayCfg := modelgateway.Config{
		BaseURL:                cfg.ProviderBaseURL,
		EmbedModel:             cfg.EmbedModel,
		ChatModel:              cfg.ChatModel,
		SummaryModel:           cfg.SummaryModel,
		TriageModel:            cfg.TriageModel,
		RequestTimeout:         cfg.OllamaTimeout,
		SummarizeMaxInputChars: cfg.SummarizeMaxInputChars,
		MinShrinkRatio:         cfg.MinShrinkRatio,
		MaxShrinkRatio:         cfg.MaxShrinkRatio,
	}
	gateway := modelgateway.New(gatewayCfg)
	if cache != nil {
		gateway = gateway.WithCache(cache)
	}

	// ===== Vector store =====
	store := postgres.NewVectorStore(db)

	// ===== Core services =====
	ingestionPipeline := services.NewIngestionPipeline(store, gateway, lock, services.IngestionConfig{
		NewContentMaxChars:     cfg.NewContentMaxChars,
		QuotedMaxLines:         cfg.QuotedMaxLines,
		QuotedMaxChars:         cfg.QuotedMaxChars,
		AttachmentMaxChars:     cfg.AttachmentMaxChars,
		MaxAttachments:         cfg.MaxAttachments,
		QuotedContextSummarize: cfg.QuotedContextSummarize,
		AttachmentSummarize:    cfg.AttachmentSummarize,
		ChunkSize:              cfg.ChunkSize,
		ChunkOverlap:           cfg.ChunkOverlap,
		EmbedModelName:         cfg.EmbedModel,
		TriageModelName:        cfg.TriageModel,
	})

	sessionManager := services.NewSessionManager(gateway).WithCompressionTrigger(cfg.CompressionTriggerChars())
	pendingQueries := services.NewPendingQueryRegistry()
	adminManager := services.NewAdminManager(store)
	sqlValidator := sqlvalidate.New()

	queryOrchestrator := services.NewQueryOrchestrator(
		sessionManager,
		pendingQueries,
		store,
		gateway,
		signer,
		encryptor,
		sqlValidator,
		services.QueryOrchestratorConfig{
			DefaultTopK:              cfg.DefaultTopK,
			MaxEvidenceCharsPerEmail: cfg.MaxEvidenceCharsPerEmail,
			QueryRewrite:             cfg.QueryRewrite,
			DefaultMode:              domain.Mode(cfg.DefaultMode),
		},
	)

	// ===== Background reaper =====
	r := reaper.New(reaper.Config{Store: pendingQueries, Logger: logger})
	r.Start(ctx)
	defer r.Stop()

	// ===== HTTP server =====
	var redisPing httpadapter.Pinger
	if redisClient != nil {
		redisPing = &redisPinger{client: redisClient}
	}

	server := httpadapter.NewServer(
		httpadapter.Config{Addr: cfg.HTTPAddr, Version: version},
		ingestionPipeline,
		queryOrchestrator,
		sessionManager,
		adminManager,
		db,
		redisPing,
		gateway,
		logger,
	)

	logger.Info("http server starting", "addr", cfg.HTTPAddr)
	if err := server.Start(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

// resolveEvidenceKey returns the 32-byte AES-256-GCM key for the evidence
// encryptor: MASTER_KEY if set (hex-encoded, 32 bytes), else a key
// derived from the JWT secret under a distinct HKDF info string so the
// two derived keys never collide.
func resolveEvidenceKey(masterKeyHex, jwtSecret string) ([]byte, error) {
	if masterKeyHex != "" {
		key, err := hex.DecodeString(masterKeyHex)
		if err != nil {
			return nil, fmt.Errorf("MASTER_KEY is not valid hex: %w", err)
		}
		if len(key) != 32 {
			return nil, fmt.Errorf("MASTER_KEY must decode to 32 bytes, got %d", len(key))
		}
		return key, nil
	}
	return requesttoken.DeriveSigningKey(jwtSecret, "thunderrag-evidence-encryption")
}

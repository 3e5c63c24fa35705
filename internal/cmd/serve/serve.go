package serve

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
	"github.com/urfave/cli/v3"

	"github.com/EZFRICA/context-engineering/internal/config"
	registrycache "github.com/EZFRICA/context-engineering/internal/registry/cache"
	registryembed "github.com/EZFRICA/context-engineering/internal/registry/embed"
	registryextract "github.com/EZFRICA/context-engineering/internal/registry/extract"
	registrystore "github.com/EZFRICA/context-engineering/internal/registry/store"

	// Import all plugins to trigger init() registration
	_ "github.com/EZFRICA/context-engineering/internal/plugin/cache/noop"
	_ "github.com/EZFRICA/context-engineering/internal/plugin/cache/redis"
	_ "github.com/EZFRICA/context-engineering/internal/plugin/embed/gemini"
	_ "github.com/EZFRICA/context-engineering/internal/plugin/embed/local"
	_ "github.com/EZFRICA/context-engineering/internal/plugin/embed/openai"
	_ "github.com/EZFRICA/context-engineering/internal/plugin/extract/gemini"
	_ "github.com/EZFRICA/context-engineering/internal/plugin/extract/none"
	_ "github.com/EZFRICA/context-engineering/internal/plugin/route/system"
	_ "github.com/EZFRICA/context-engineering/internal/plugin/store/memstore"
	_ "github.com/EZFRICA/context-engineering/internal/plugin/store/pgvector"
	_ "github.com/EZFRICA/context-engineering/internal/plugin/store/qdrant"
)

// Command returns the serve sub-command.
func Command() *cli.Command {
	cfg := config.DefaultConfig()
	var readHeaderTimeoutSecs int = 5
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the memory lifecycle HTTP server",
		Flags: flags(&cfg, &readHeaderTimeoutSecs),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg.Listener.ReadHeaderTimeout = time.Duration(readHeaderTimeoutSecs) * time.Second
			return run(config.WithContext(ctx, &cfg), cfg)
		},
	}
}

func flags(cfg *config.Config, readHeaderTimeoutSecs *int) []cli.Flag {
	return []cli.Flag{

		// ── Server ────────────────────────────────────────────────
		&cli.IntFlag{
			Name:        "port",
			Category:    "Server:",
			Sources:     cli.EnvVars("CONTEXT_ENGINE_PORT"),
			Destination: &cfg.Listener.Port,
			Value:       cfg.Listener.Port,
			Usage:       "HTTP server port",
		},
		&cli.IntFlag{
			Name:        "read-header-timeout-seconds",
			Category:    "Server:",
			Sources:     cli.EnvVars("CONTEXT_ENGINE_READ_HEADER_TIMEOUT_SECONDS"),
			Destination: readHeaderTimeoutSecs,
			Value:       *readHeaderTimeoutSecs,
			Usage:       "HTTP read header timeout in seconds",
		},
		&cli.IntFlag{
			Name:        "drain-timeout-seconds",
			Category:    "Server:",
			Sources:     cli.EnvVars("CONTEXT_ENGINE_DRAIN_TIMEOUT_SECONDS"),
			Destination: &cfg.DrainTimeout,
			Value:       cfg.DrainTimeout,
			Usage:       "Graceful shutdown drain timeout in seconds",
		},

		// ── Fact Store ────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "store-kind",
			Category:    "Fact Store:",
			Sources:     cli.EnvVars("CONTEXT_ENGINE_STORE_KIND"),
			Destination: &cfg.StoreType,
			Value:       cfg.StoreType,
			Usage:       "Fact store backend (" + strings.Join(registrystore.Names(), "|") + ")",
		},
		&cli.BoolFlag{
			Name:        "store-migrate-at-start",
			Category:    "Fact Store:",
			Sources:     cli.EnvVars("CONTEXT_ENGINE_STORE_MIGRATE_AT_START"),
			Destination: &cfg.StoreMigrateAtStart,
			Value:       cfg.StoreMigrateAtStart,
			Usage:       "Run store migrations on startup",
		},
		&cli.StringFlag{
			Name:        "db-url",
			Category:    "Fact Store:",
			Sources:     cli.EnvVars("CONTEXT_ENGINE_DB_URL"),
			Destination: &cfg.DBURL,
			Usage:       "Postgres connection URL (pgvector backend)",
		},
		&cli.IntFlag{
			Name:        "db-max-open-conns",
			Category:    "Fact Store:",
			Sources:     cli.EnvVars("CONTEXT_ENGINE_DB_MAX_OPEN_CONNS"),
			Destination: &cfg.DBMaxOpenConns,
			Value:       cfg.DBMaxOpenConns,
			Usage:       "Maximum number of open database connections",
		},
		&cli.IntFlag{
			Name:        "db-max-idle-conns",
			Category:    "Fact Store:",
			Sources:     cli.EnvVars("CONTEXT_ENGINE_DB_MAX_IDLE_CONNS"),
			Destination: &cfg.DBMaxIdleConns,
			Value:       cfg.DBMaxIdleConns,
			Usage:       "Maximum number of idle database connections",
		},
		&cli.StringFlag{
			Name:        "qdrant-host",
			Category:    "Fact Store:",
			Sources:     cli.EnvVars("CONTEXT_ENGINE_QDRANT_HOST"),
			Destination: &cfg.QdrantHost,
			Value:       cfg.QdrantHost,
			Usage:       "Qdrant host or host:port",
		},
		&cli.StringFlag{
			Name:        "qdrant-collection-prefix",
			Category:    "Fact Store:",
			Sources:     cli.EnvVars("CONTEXT_ENGINE_QDRANT_COLLECTION_PREFIX"),
			Destination: &cfg.QdrantCollectionPrefix,
			Value:       cfg.QdrantCollectionPrefix,
			Usage:       "Prefix for Qdrant collection names",
		},
		&cli.StringFlag{
			Name:        "qdrant-api-key",
			Category:    "Fact Store:",
			Sources:     cli.EnvVars("CONTEXT_ENGINE_QDRANT_API_KEY"),
			Destination: &cfg.QdrantAPIKey,
			Usage:       "Qdrant API key",
		},
		&cli.BoolFlag{
			Name:        "qdrant-tls",
			Category:    "Fact Store:",
			Sources:     cli.EnvVars("CONTEXT_ENGINE_QDRANT_TLS"),
			Destination: &cfg.QdrantUseTLS,
			Usage:       "Use TLS for the Qdrant connection",
		},

		// ── Embedding ─────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "embedding-kind",
			Category:    "Embedding:",
			Sources:     cli.EnvVars("CONTEXT_ENGINE_EMBEDDING_KIND"),
			Destination: &cfg.EmbedType,
			Value:       cfg.EmbedType,
			Usage:       "Embedding provider (" + strings.Join(registryembed.Names(), "|") + ")",
		},
		&cli.StringFlag{
			Name:        "openai-api-key",
			Category:    "Embedding:",
			Sources:     cli.EnvVars("CONTEXT_ENGINE_OPENAI_API_KEY", "OPENAI_API_KEY"),
			Destination: &cfg.OpenAIAPIKey,
			Usage:       "OpenAI API key",
		},
		&cli.StringFlag{
			Name:        "openai-model",
			Category:    "Embedding:",
			Sources:     cli.EnvVars("CONTEXT_ENGINE_OPENAI_MODEL"),
			Destination: &cfg.OpenAIModelName,
			Value:       cfg.OpenAIModelName,
			Usage:       "OpenAI embedding model name",
		},
		&cli.StringFlag{
			Name:        "openai-base-url",
			Category:    "Embedding:",
			Sources:     cli.EnvVars("CONTEXT_ENGINE_OPENAI_BASE_URL"),
			Destination: &cfg.OpenAIBaseURL,
			Value:       cfg.OpenAIBaseURL,
			Usage:       "OpenAI-compatible API base URL",
		},
		&cli.IntFlag{
			Name:        "openai-dimensions",
			Category:    "Embedding:",
			Sources:     cli.EnvVars("CONTEXT_ENGINE_OPENAI_DIMENSIONS"),
			Destination: &cfg.OpenAIDimensions,
			Usage:       "Requested OpenAI embedding dimensionality",
		},
		&cli.StringFlag{
			Name:        "gemini-api-key",
			Category:    "Embedding:",
			Sources:     cli.EnvVars("CONTEXT_ENGINE_GEMINI_API_KEY", "GOOGLE_API_KEY"),
			Destination: &cfg.GeminiAPIKey,
			Usage:       "Gemini API key (embeddings and fact extraction)",
		},
		&cli.StringFlag{
			Name:        "gemini-embedding-model",
			Category:    "Embedding:",
			Sources:     cli.EnvVars("CONTEXT_ENGINE_GEMINI_EMBEDDING_MODEL"),
			Destination: &cfg.GeminiEmbeddingModel,
			Value:       cfg.GeminiEmbeddingModel,
			Usage:       "Gemini embedding model name",
		},
		&cli.IntFlag{
			Name:        "gemini-embedding-dimensions",
			Category:    "Embedding:",
			Sources:     cli.EnvVars("CONTEXT_ENGINE_GEMINI_EMBEDDING_DIMENSIONS"),
			Destination: &cfg.GeminiEmbedDimensions,
			Value:       cfg.GeminiEmbedDimensions,
			Usage:       "Requested Gemini embedding dimensionality",
		},

		// ── Fact Extraction ───────────────────────────────────────
		&cli.StringFlag{
			Name:        "extractor-kind",
			Category:    "Fact Extraction:",
			Sources:     cli.EnvVars("CONTEXT_ENGINE_EXTRACTOR_KIND"),
			Destination: &cfg.ExtractType,
			Value:       cfg.ExtractType,
			Usage:       "Fact extractor (" + strings.Join(registryextract.Names(), "|") + ")",
		},
		&cli.StringFlag{
			Name:        "gemini-model",
			Category:    "Fact Extraction:",
			Sources:     cli.EnvVars("CONTEXT_ENGINE_GEMINI_MODEL"),
			Destination: &cfg.GeminiModel,
			Value:       cfg.GeminiModel,
			Usage:       "Gemini model used for fact extraction",
		},
		&cli.BoolFlag{
			Name:        "sync-ingestion",
			Category:    "Fact Extraction:",
			Sources:     cli.EnvVars("CONTEXT_ENGINE_SYNC_INGESTION"),
			Destination: &cfg.SyncIngestion,
			Usage:       "Run interaction ingestion inline instead of in the background",
		},

		// ── Cache ─────────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "cache-kind",
			Category:    "Cache:",
			Sources:     cli.EnvVars("CONTEXT_ENGINE_CACHE_KIND"),
			Destination: &cfg.CacheType,
			Value:       cfg.CacheType,
			Usage:       "Mounted-context cache backend (" + strings.Join(registrycache.Names(), "|") + ")",
		},
		&cli.StringFlag{
			Name:        "redis-url",
			Category:    "Cache:",
			Sources:     cli.EnvVars("CONTEXT_ENGINE_REDIS_URL"),
			Destination: &cfg.RedisURL,
			Usage:       "Redis connection URL",
		},
		&cli.DurationFlag{
			Name:        "context-cache-ttl",
			Category:    "Cache:",
			Sources:     cli.EnvVars("CONTEXT_ENGINE_CONTEXT_CACHE_TTL"),
			Destination: &cfg.ContextCacheTTL,
			Value:       cfg.ContextCacheTTL,
			Usage:       "How long mounted context blocks stay cached",
		},

		// ── Memory Engine ─────────────────────────────────────────
		&cli.FloatFlag{
			Name:        "dedup-threshold",
			Category:    "Memory Engine:",
			Sources:     cli.EnvVars("CONTEXT_ENGINE_DEDUP_THRESHOLD"),
			Destination: &cfg.DedupThreshold,
			Value:       cfg.DedupThreshold,
			Usage:       "Semantic distance below which an extracted fact is discarded as a duplicate",
		},
		&cli.IntFlag{
			Name:        "context-limit",
			Category:    "Memory Engine:",
			Sources:     cli.EnvVars("CONTEXT_ENGINE_CONTEXT_LIMIT"),
			Destination: &cfg.ContextLimit,
			Value:       cfg.ContextLimit,
			Usage:       "Number of facts rendered into a mounted context",
		},
		&cli.IntFlag{
			Name:        "scope-search-limit",
			Category:    "Memory Engine:",
			Sources:     cli.EnvVars("CONTEXT_ENGINE_SCOPE_SEARCH_LIMIT"),
			Destination: &cfg.ScopeSearchLimit,
			Value:       cfg.ScopeSearchLimit,
			Usage:       "Default result count for scope directory searches",
		},
		&cli.IntFlag{
			Name:        "editor-view-limit",
			Category:    "Memory Engine:",
			Sources:     cli.EnvVars("CONTEXT_ENGINE_EDITOR_VIEW_LIMIT"),
			Destination: &cfg.EditorViewLimit,
			Value:       cfg.EditorViewLimit,
			Usage:       "Maximum facts returned per stage by the editor view",
		},
		&cli.IntFlag{
			Name:        "reconcile-snapshot-limit",
			Category:    "Memory Engine:",
			Sources:     cli.EnvVars("CONTEXT_ENGINE_RECONCILE_SNAPSHOT_LIMIT"),
			Destination: &cfg.ReconcileSnapshotLimit,
			Value:       cfg.ReconcileSnapshotLimit,
			Usage:       "Maximum stored facts a reconcile compares against",
		},

		// ── Monitoring ────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "metrics-labels",
			Category:    "Monitoring:",
			Sources:     cli.EnvVars("CONTEXT_ENGINE_METRICS_LABELS"),
			Destination: &cfg.MetricsLabels,
			Value:       cfg.MetricsLabels,
			Usage:       "Comma-separated key=value pairs added as constant labels to all Prometheus metrics. Supports ${VAR} expansion.",
		},
	}
}

func run(ctx context.Context, cfg config.Config) error {
	srv, err := StartServer(ctx, &cfg)
	if err != nil {
		return err
	}

	<-ctx.Done()
	log.Info("Shutting down...")

	drainCtx, drainCancel := context.WithTimeout(context.Background(), time.Duration(cfg.DrainTimeout)*time.Second)
	defer drainCancel()
	if err := srv.Shutdown(drainCtx); err != nil {
		log.Error("Shutdown error", "err", err)
	}
	log.Info("Server stopped")
	return nil
}

func maxBodySizeMiddleware(maxBodySize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodySize)
		c.Next()
	}
}

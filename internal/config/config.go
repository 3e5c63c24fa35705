package config

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// ListenerConfig holds the network settings for the HTTP listener.
type ListenerConfig struct {
	Port              int
	ReadHeaderTimeout time.Duration
}

type contextKey struct{}

// WithContext returns a new context carrying the given Config.
func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, contextKey{}, cfg)
}

// FromContext retrieves the Config from the context.
func FromContext(ctx context.Context) *Config {
	cfg, _ := ctx.Value(contextKey{}).(*Config)
	return cfg
}

// Config holds all configuration for the memory service.
type Config struct {
	// Fact store backend type
	StoreType string // "qdrant", "pgvector", or "memory"

	// Run store migrations on startup.
	StoreMigrateAtStart bool

	// Database (pgvector backend)
	DBURL          string
	DBMaxOpenConns int
	DBMaxIdleConns int

	// Qdrant
	QdrantHost             string
	QdrantPort             int
	QdrantCollectionPrefix string
	QdrantAPIKey           string
	QdrantUseTLS           bool
	QdrantStartupTimeout   time.Duration

	// Embedding type
	EmbedType string // "openai", "gemini", or "local"

	// OpenAI embeddings
	OpenAIAPIKey     string
	OpenAIModelName  string
	OpenAIBaseURL    string
	OpenAIDimensions int

	// Gemini (embeddings and fact extraction)
	GeminiAPIKey          string
	GeminiModel           string
	GeminiEmbeddingModel  string
	GeminiEmbedDimensions int

	// Fact extractor type
	ExtractType string // "gemini" or "none"

	// Mounted-context cache
	CacheType       string // "redis" or "none"
	RedisURL        string
	ContextCacheTTL time.Duration

	// Memory engine
	// DedupThreshold is the semantic distance below which an auto-extracted
	// candidate is discarded as a near-duplicate of an existing approved fact.
	DedupThreshold float64
	// ContextLimit is the default number of facts rendered into a mounted context.
	ContextLimit int
	// ScopeSearchLimit is the default result count for scope directory searches.
	ScopeSearchLimit int
	// EditorViewLimit caps facts fetched per store for the dashboard editor view.
	EditorViewLimit int
	// ReconcileSnapshotLimit caps the per-store snapshot taken by batch reconcile.
	ReconcileSnapshotLimit int
	// SyncIngestion forces interaction ingestion to run inline instead of as a
	// detached background task. Intended for CLIs and test harnesses.
	SyncIngestion bool

	// Monitoring
	// MetricsLabels is a comma-separated list of key=value pairs added as
	// constant labels to all Prometheus metrics. Values support ${VAR} expansion.
	MetricsLabels string

	// Server
	Listener    ListenerConfig
	MaxBodySize int64
	// Graceful shutdown drain timeout (seconds). Also bounds how long shutdown
	// waits for in-flight background ingestion.
	DrainTimeout int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		StoreType:              "qdrant",
		StoreMigrateAtStart:    true,
		DBMaxOpenConns:         25,
		DBMaxIdleConns:         5,
		QdrantHost:             "localhost",
		QdrantPort:             6334,
		QdrantCollectionPrefix: "context-engine",
		QdrantStartupTimeout:   30 * time.Second,
		EmbedType:              "local",
		OpenAIModelName:        "text-embedding-3-small",
		OpenAIBaseURL:          "https://api.openai.com/v1",
		GeminiModel:            "gemini-flash-lite-latest",
		GeminiEmbeddingModel:   "gemini-embedding-001",
		GeminiEmbedDimensions:  768,
		ExtractType:            "none",
		CacheType:              "none",
		ContextCacheTTL:        10 * time.Minute,
		DedupThreshold:         0.15,
		ContextLimit:           5,
		ScopeSearchLimit:       10,
		EditorViewLimit:        100,
		ReconcileSnapshotLimit: 500,
		MetricsLabels:          "service=context-engine",
		Listener: ListenerConfig{
			Port:              8080,
			ReadHeaderTimeout: 5 * time.Second,
		},
		MaxBodySize:  1 * 1024 * 1024, // fact payloads are short text
		DrainTimeout: 30,
	}
}

// QdrantAddress returns the host:port gRPC address for Qdrant. A host that
// already carries a port wins over the configured port.
func (c *Config) QdrantAddress() string {
	host := strings.TrimSpace(c.QdrantHost)
	if strings.Contains(host, ":") {
		return host
	}
	return fmt.Sprintf("%s:%d", host, c.QdrantPort)
}

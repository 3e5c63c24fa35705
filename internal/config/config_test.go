package config

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.Equal(t, "qdrant", cfg.StoreType)
	require.Equal(t, "local", cfg.EmbedType)
	require.Equal(t, "none", cfg.ExtractType)
	require.Equal(t, "none", cfg.CacheType)
	require.Equal(t, 0.15, cfg.DedupThreshold)
	require.Equal(t, 5, cfg.ContextLimit)
	require.Equal(t, 500, cfg.ReconcileSnapshotLimit)
	require.Equal(t, 8080, cfg.Listener.Port)
	require.Equal(t, "context-engine", cfg.QdrantCollectionPrefix)
	require.Equal(t, "service=context-engine", cfg.MetricsLabels)
}

func TestQdrantAddress(t *testing.T) {
	cfg := DefaultConfig()
	require.Equal(t, "localhost:6334", cfg.QdrantAddress())

	cfg.QdrantHost = "qdrant.internal:7000"
	require.Equal(t, "qdrant.internal:7000", cfg.QdrantAddress())

	cfg.QdrantHost = " qdrant.internal "
	cfg.QdrantPort = 6334
	require.Equal(t, "qdrant.internal:6334", cfg.QdrantAddress())
}

func TestConfigContextRoundTrip(t *testing.T) {
	require.Nil(t, FromContext(context.Background()))

	cfg := DefaultConfig()
	ctx := WithContext(context.Background(), &cfg)
	require.Same(t, &cfg, FromContext(ctx))
}

package migrate

import (
	"context"

	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v3"

	"github.com/EZFRICA/context-engineering/internal/config"
	registrymigrate "github.com/EZFRICA/context-engineering/internal/registry/migrate"

	// Import plugins to trigger init() registration of their migrators.
	// Store plugins register their own migrators alongside their primary interface.
	_ "github.com/EZFRICA/context-engineering/internal/plugin/embed/gemini"
	_ "github.com/EZFRICA/context-engineering/internal/plugin/embed/local"
	_ "github.com/EZFRICA/context-engineering/internal/plugin/embed/openai"
	_ "github.com/EZFRICA/context-engineering/internal/plugin/store/pgvector"
	_ "github.com/EZFRICA/context-engineering/internal/plugin/store/qdrant"
)

// Command returns the migrate sub-command.
func Command() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Provision fact store collections and schemas",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "store-kind",
				Sources: cli.EnvVars("CONTEXT_ENGINE_STORE_KIND"),
				Usage:   "Fact store backend (qdrant|pgvector)",
				Value:   "qdrant",
			},
			&cli.StringFlag{
				Name:    "db-url",
				Sources: cli.EnvVars("CONTEXT_ENGINE_DB_URL"),
				Usage:   "Postgres connection URL (pgvector backend)",
			},
			&cli.StringFlag{
				Name:    "qdrant-host",
				Sources: cli.EnvVars("CONTEXT_ENGINE_QDRANT_HOST"),
				Usage:   "Qdrant host:port",
				Value:   "localhost:6334",
			},
			&cli.StringFlag{
				Name:    "embedding-kind",
				Sources: cli.EnvVars("CONTEXT_ENGINE_EMBEDDING_KIND"),
				Usage:   "Embedding provider, used to size vector columns",
				Value:   "local",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg := config.DefaultConfig()
			cfg.StoreType = cmd.String("store-kind")
			cfg.DBURL = cmd.String("db-url")
			cfg.QdrantHost = cmd.String("qdrant-host")
			cfg.EmbedType = cmd.String("embedding-kind")
			cfg.StoreMigrateAtStart = true
			ctx = config.WithContext(ctx, &cfg)

			log.Info("Running migrations...")
			if err := registrymigrate.RunAll(ctx); err != nil {
				return err
			}
			log.Info("All migrations completed successfully")
			return nil
		},
	}
}

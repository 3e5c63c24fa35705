package serve

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"

	"github.com/EZFRICA/context-engineering/internal/config"
	"github.com/EZFRICA/context-engineering/internal/memory"
	"github.com/EZFRICA/context-engineering/internal/plugin/route/facts"
	routesystem "github.com/EZFRICA/context-engineering/internal/plugin/route/system"
	storemetrics "github.com/EZFRICA/context-engineering/internal/plugin/store/metrics"
	registrycache "github.com/EZFRICA/context-engineering/internal/registry/cache"
	registryembed "github.com/EZFRICA/context-engineering/internal/registry/embed"
	registryextract "github.com/EZFRICA/context-engineering/internal/registry/extract"
	registrymigrate "github.com/EZFRICA/context-engineering/internal/registry/migrate"
	registryroute "github.com/EZFRICA/context-engineering/internal/registry/route"
	registrystore "github.com/EZFRICA/context-engineering/internal/registry/store"
	"github.com/EZFRICA/context-engineering/internal/security"
)

// Server holds the running server and its subsystems.
type Server struct {
	Config *config.Config
	Engine *memory.Engine
	Router *gin.Engine
	Port   int

	httpServer *http.Server
}

// Shutdown stops accepting requests, then waits for in-flight background
// ingestion so extracted facts are not lost on deploys.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	if drainErr := s.Engine.DrainIngestion(ctx); drainErr != nil && err == nil {
		err = drainErr
	}
	return err
}

// StartServer initializes all subsystems and starts the HTTP server.
// Use cfg.Listener.Port=0 for a random port; the actual port is Server.Port.
func StartServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	log.Info("Starting memory lifecycle service",
		"httpPort", cfg.Listener.Port,
		"store", cfg.StoreType,
		"embedding", cfg.EmbedType,
		"extractor", cfg.ExtractType,
		"cache", cfg.CacheType,
	)

	// Initialize Prometheus metrics with configured constant labels.
	metricsLabels, err := security.ParseMetricsLabels(cfg.MetricsLabels)
	if err != nil {
		return nil, fmt.Errorf("invalid --metrics-labels: %w", err)
	}
	security.InitMetrics(metricsLabels)

	// Initialize the embedder first and inject it into the context: store
	// loaders and migrators need it for vectors and dimensions.
	embedLoader, err := registryembed.Select(cfg.EmbedType)
	if err != nil {
		return nil, err
	}
	embedder, err := embedLoader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	ctx = registryembed.WithContext(ctx, embedder)

	// Run migrations
	if err := registrymigrate.RunAll(ctx); err != nil {
		return nil, fmt.Errorf("migrations failed: %w", err)
	}

	// Initialize store
	storeLoader, err := registrystore.Select(cfg.StoreType)
	if err != nil {
		return nil, err
	}
	store, err := storeLoader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	store = storemetrics.Wrap(store)

	// Initialize the mounted-context cache (optional).
	var contextCache registrycache.ContextCache
	if cacheLoader, err := registrycache.Select(cfg.CacheType); err != nil {
		log.Warn("Cache not available", "cache", cfg.CacheType, "err", err)
	} else if contextCache, err = cacheLoader(ctx); err != nil {
		log.Warn("Failed to initialize cache", "cache", cfg.CacheType, "err", err)
		contextCache = nil
	}

	// Initialize the fact extractor.
	extractLoader, err := registryextract.Select(cfg.ExtractType)
	if err != nil {
		return nil, err
	}
	extractor, err := extractLoader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize extractor: %w", err)
	}

	engine := memory.NewEngine(store,
		memory.WithExtractor(extractor),
		memory.WithCache(contextCache),
		memory.WithDedupThreshold(cfg.DedupThreshold),
		memory.WithContextLimit(cfg.ContextLimit),
		memory.WithEditorLimit(cfg.EditorViewLimit),
		memory.WithReconcileLimit(cfg.ReconcileSnapshotLimit),
		memory.WithCacheTTL(cfg.ContextCacheTTL),
		memory.WithSyncIngestion(cfg.SyncIngestion),
	)

	// Set up gin
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(security.AccessLogMiddleware("/health", "/ready", "/metrics"))
	router.Use(security.MetricsMiddleware())
	router.Use(maxBodySizeMiddleware(cfg.MaxBodySize))

	for _, loader := range registryroute.MainRouteLoaders() {
		if err := loader(router); err != nil {
			return nil, fmt.Errorf("failed to load routes: %w", err)
		}
	}
	facts.MountRoutes(router, engine, cfg)

	// Management endpoints share the main port.
	for _, loader := range registryroute.ManagementRouteLoaders() {
		if err := loader(router); err != nil {
			return nil, fmt.Errorf("failed to load management routes: %w", err)
		}
	}

	listener, err := net.Listen("tcp", ":"+strconv.Itoa(cfg.Listener.Port))
	if err != nil {
		return nil, fmt.Errorf("failed to listen: %w", err)
	}
	port := listener.Addr().(*net.TCPAddr).Port

	httpServer := &http.Server{
		Handler:           router,
		ReadHeaderTimeout: cfg.Listener.ReadHeaderTimeout,
	}
	go func() {
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server error", "err", err)
		}
	}()

	log.Info("Server listening", "port", port)
	routesystem.MarkReady()

	return &Server{
		Config:     cfg,
		Engine:     engine,
		Router:     router,
		Port:       port,
		httpServer: httpServer,
	}, nil
}

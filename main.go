package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ekaya-inc/incident-engine/pkg/apperrors"
	"github.com/ekaya-inc/incident-engine/pkg/config"
	"github.com/ekaya-inc/incident-engine/pkg/connectors"
	"github.com/ekaya-inc/incident-engine/pkg/database"
	"github.com/ekaya-inc/incident-engine/pkg/extraction"
	"github.com/ekaya-inc/incident-engine/pkg/handlers"
	"github.com/ekaya-inc/incident-engine/pkg/llm"
	"github.com/ekaya-inc/incident-engine/pkg/logging"
	"github.com/ekaya-inc/incident-engine/pkg/mcp"
	"github.com/ekaya-inc/incident-engine/pkg/mcp/tools"
	"github.com/ekaya-inc/incident-engine/pkg/metrics"
	"github.com/ekaya-inc/incident-engine/pkg/middleware"
	"github.com/ekaya-inc/incident-engine/pkg/repositories"
	"github.com/ekaya-inc/incident-engine/pkg/services"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("Server failed", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Configuration loaded",
		zap.String("version", cfg.Version),
		zap.String("database", logging.SanitizeConnectionString(cfg.Database.ConnectionString())),
		zap.String("redis_host", cfg.Redis.Host),
		zap.Bool("llm_available", cfg.LLM.IsAvailable()))

	// Database
	db, err := database.NewConnection(ctx, &database.Config{
		URL:            cfg.Database.ConnectionString(),
		MaxConnections: cfg.Database.MaxConnections,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	if err := database.MigrateDB(db, cfg.MigrationsPath, logger); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	// Redis is optional; without it source locks are process-local.
	redisClient, err := database.NewRedisClient(ctx, &cfg.Redis)
	if err != nil {
		return err
	}
	var locker services.RunLocker
	if redisClient != nil {
		defer func(c *redis.Client) { _ = c.Close() }(redisClient)
		locker = services.NewRedisRunLocker(redisClient, logger)
	} else {
		locker = services.NewLocalRunLocker()
	}

	m := metrics.New()

	// Extraction backend
	var (
		guarded          *llm.GuardedClient
		incidentExtract  extraction.IncidentExtractor
		entityExtractor  extraction.EntityExtractor
		extractorBreaker *llm.CircuitBreaker
	)
	guarded, err = llm.NewFromConfig(cfg.LLM, logger)
	switch {
	case errors.Is(err, apperrors.ErrExtractionUnavailable):
		logger.Info("No extraction model configured; entity extraction and page sources are disabled")
	case err != nil:
		return fmt.Errorf("failed to configure extraction backend: %w", err)
	default:
		incidentExtract = extraction.NewLLMIncidentExtractor(guarded, cfg.LLM.Temperature, logger)
		entityExtractor = extraction.NewLLMEntityExtractor(guarded, cfg.LLM.Temperature, logger)
		extractorBreaker = guarded.Breaker()
	}

	// Sources
	sources := cfg.Sources
	if cfg.SourcesFile != "" {
		extra, err := connectors.LoadDefinitions(cfg.SourcesFile)
		if err != nil {
			return err
		}
		if sources, err = connectors.MergeDefinitions(sources, extra); err != nil {
			return err
		}
	}
	registry, err := connectors.BuildRegistry(sources, incidentExtract, logger)
	if err != nil {
		return err
	}

	// Repositories
	rawEventRepo := repositories.NewRawEventRepository()
	incidentRepo := repositories.NewIncidentRepository()
	entityRepo := repositories.NewEntityRepository()
	mergeRepo := repositories.NewEntityMergeRepository()
	runRepo := repositories.NewIngestionRunRepository()

	// Services
	stager := services.NewRawEventStager(rawEventRepo, logger)
	normalizer := services.NewIncidentNormalizer(incidentRepo, rawEventRepo, db, cfg.Ingestion.DedupWindow, logger)
	orchestrator := services.NewIngestionOrchestrator(registry, stager, normalizer, runRepo, db, locker, m, cfg.Ingestion, logger)
	incidentService := services.NewIncidentService(incidentRepo, rawEventRepo, stager, normalizer, logger)
	entityService := services.NewEntityService(entityRepo, logger)
	similarityService := services.NewEntitySimilarityService(entityRepo, cfg.Entities.SimilarityThreshold, logger)
	mergeService := services.NewEntityMergeService(entityRepo, mergeRepo, db, m, logger)

	var extractionService services.EntityExtractionService
	if entityExtractor != nil {
		resolver := services.NewEntityAliasResolver(entityRepo, db, logger)
		pool := llm.NewWorkerPool(llm.WorkerPoolConfig{MaxConcurrent: cfg.Entities.ExtractionConcurrency}, logger)
		extractionService = services.NewEntityExtractionService(
			incidentRepo, entityExtractor, resolver, pool, m,
			cfg.Entities.ExtractionBatchSize, cfg.Entities.MaxExtractionBatch, logger)
	}

	// Scheduler
	scheduler := services.NewIngestionScheduler(orchestrator, extractionService, db, logger)
	if err := scheduler.ScheduleSources(sources); err != nil {
		return fmt.Errorf("failed to schedule sources: %w", err)
	}
	if err := scheduler.ScheduleExtraction(cfg.Entities.ExtractionSchedule, cfg.Entities.ExtractionBatchSize); err != nil {
		return fmt.Errorf("failed to schedule entity extraction: %w", err)
	}
	scheduler.Start()

	// HTTP
	mux := http.NewServeMux()
	withScope := handlers.ScopeMiddleware(database.WithDBScope(db, logger))

	handlers.NewHealthHandler(cfg, db, logger).RegisterRoutes(mux)
	handlers.NewIngestionHandler(orchestrator, logger).RegisterRoutes(mux, withScope)
	handlers.NewIncidentHandler(incidentService, logger).RegisterRoutes(mux, withScope)
	handlers.NewEntityHandler(entityService, extractionService, similarityService, mergeService,
		cfg.Entities.SimilarityThreshold, logger).RegisterRoutes(mux, withScope)
	mux.Handle("GET /metrics", m.Handler())

	if cfg.MCP.Enabled {
		mcpServer := mcp.NewServer("incident-engine", cfg.Version, mcp.NewToolCallLogger(m, logger), logger)
		tools.RegisterAll(mcpServer.MCP(), &tools.Deps{
			Ingestion:  orchestrator,
			Extraction: extractionService,
			Similarity: similarityService,
			Merge:      mergeService,
			Scopes:     db,
			Breaker:    extractorBreaker,
			Version:    cfg.Version,
			Logger:     logger,
		})
		handlers.NewMCPHandler(mcpServer, logger).RegisterRoutes(mux)
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           middleware.RequestLogger(logger, m)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting incident-engine",
			zap.String("addr", srv.Addr),
			zap.Strings("sources", registry.Names()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	scheduler.Stop(shutdownCtx)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down http server: %w", err)
	}
	return nil
}

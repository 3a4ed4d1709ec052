package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/liliang-cn/mindrag/internal/config"
	"github.com/liliang-cn/mindrag/internal/embedding"
	"github.com/liliang-cn/mindrag/internal/generation"
	"github.com/liliang-cn/mindrag/internal/observability"
	"github.com/liliang-cn/mindrag/internal/pipeline"
	"github.com/liliang-cn/mindrag/internal/prompt"
	"github.com/liliang-cn/mindrag/internal/registry"
	"github.com/liliang-cn/mindrag/internal/repository"
	"github.com/liliang-cn/mindrag/internal/retrieval"
	"github.com/liliang-cn/mindrag/internal/router"
	"github.com/liliang-cn/mindrag/internal/safety"
	"github.com/liliang-cn/mindrag/internal/service"
	"github.com/liliang-cn/mindrag/internal/session"
	"github.com/liliang-cn/mindrag/internal/vectorstore"
	"go.uber.org/zap"
)

// app holds the wired components shared by the commands
type app struct {
	db       *repository.DB
	registry *registry.Registry
	sessions *session.Manager
	metrics  *observability.Metrics

	chat   *service.ChatService
	admin  *service.AdminService
	ingest *service.IngestService

	closers []func() error
}

// buildApp wires storage, indexes, providers and the pipeline
func buildApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{}

	db, err := repository.NewDB(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	a.db = db
	a.closers = append(a.closers, db.Close)

	chunkRepo := repository.NewChunkRepository(db)
	crisisRepo := repository.NewCrisisRepository(db)

	store, closeStore, err := session.OpenStore(cfg.Session, db, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}
	a.closers = append(a.closers, closeStore)

	factory, err := vectorstore.NewFactory(cfg.Vector, chunkRepo)
	if err != nil {
		a.Close()
		return nil, err
	}
	if a.registry, err = registry.New(cfg.Domains, factory); err != nil {
		a.Close()
		return nil, err
	}

	embedder, err := embedding.New(ctx, cfg.LLM)
	if err != nil {
		logger.Warn("embedding unavailable, replies will have no retrieved context", zap.Error(err))
		embedder = nil
	}

	provider, err := generation.New(ctx, cfg.LLM)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create generation provider: %w", err)
	}

	a.metrics = observability.NewMetrics()
	a.sessions = session.NewManager(store, cfg.Session.IdleTTL, logger)

	orchestrator := pipeline.NewOrchestrator(pipeline.Deps{
		Sessions:    a.sessions,
		Interceptor: safety.NewInterceptor(cfg.Safety.Lexicon, cfg.Safety.CrisisResponse),
		Audit:       crisisRepo,
		Router:      router.New(a.registry, router.OptionsFromConfig(cfg.Router)),
		Retriever: retrieval.NewRetriever(a.registry, embedder,
			retrieval.OptionsFromConfig(cfg.Retrieval, cfg.LLM.EmbedTimeout), logger, a.metrics),
		Assembler: prompt.NewAssembler(prompt.OptionsFromConfig(cfg.Prompt)),
		Generator: generation.NewClient(provider, generation.OptionsFromConfig(cfg.LLM), logger, a.metrics),
		Observer:  a.metrics,
	}, pipeline.OptionsFromConfig(cfg.Pipeline), logger)

	a.chat = service.NewChatService(orchestrator)
	a.admin = service.NewAdminService(a.sessions, a.registry, crisisRepo, chunkRepo)
	a.ingest = service.NewIngestService(chunkRepo, a.registry, embedder, cfg.Ingest, logger)

	logger.Info("pipeline ready",
		zap.Int("domains", a.registry.Len()),
		zap.String("session_backend", cfg.Session.Backend),
		zap.String("vector_backend", cfg.Vector.Backend),
		zap.String("llm_provider", provider.Name()),
	)
	return a, nil
}

// Close releases resources in reverse order
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

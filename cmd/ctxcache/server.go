package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/xxxsen/common/logutil"
	"github.com/xxxsen/common/webapi"
	"go.uber.org/zap"

	"github.com/xxxsen/ctxcache/internal/ai"
	"github.com/xxxsen/ctxcache/internal/config"
	"github.com/xxxsen/ctxcache/internal/embedcache"
	"github.com/xxxsen/ctxcache/internal/handler"
	"github.com/xxxsen/ctxcache/internal/job"
	"github.com/xxxsen/ctxcache/internal/loader"
	"github.com/xxxsen/ctxcache/internal/middleware"
	"github.com/xxxsen/ctxcache/internal/repo"
	"github.com/xxxsen/ctxcache/internal/retrieval"
	"github.com/xxxsen/ctxcache/internal/schedule"
	"github.com/xxxsen/ctxcache/internal/service"
	"github.com/xxxsen/ctxcache/internal/store"
)

const rewriteInstruction = "Rewrite the question as a short search query over source code and documentation. Reply with the query only."

func runServer(cfg *config.Config, database *sqlx.DB) error {
	logger := logutil.GetLogger(context.Background())
	logger.Info(
		"starting server",
		zap.Int("port", cfg.Port),
		zap.String("db_driver", cfg.Database.Driver),
		zap.String("content_store", cfg.ContentStore.Type),
		zap.String("fallback_policy", cfg.Fallback.Policy),
	)

	cacheRepo := repo.NewCacheRecordRepo(database)
	usageRepo := repo.NewUsageRepo(database)
	embeddingCacheRepo := repo.NewEmbeddingCacheRepo(database)
	chunkRepo := repo.NewChunkEmbeddingRepo(database)

	contentStore, err := store.New(cfg.ContentStore.Type, cfg.ContentStore.ContentStoreArgs())
	if err != nil {
		return fmt.Errorf("init content store: %w", err)
	}
	client := &http.Client{}
	local, err := ai.NewProvider(cfg.Providers.Local.Name, ai.ProviderArgs{Config: cfg.Providers.Local, Store: contentStore, HTTPClient: client})
	if err != nil {
		return fmt.Errorf("init local provider: %w", err)
	}
	cloud, err := ai.NewProvider(cfg.Providers.Cloud.Name, ai.ProviderArgs{Config: cfg.Providers.Cloud, HTTPClient: client})
	if err != nil {
		return fmt.Errorf("init cloud provider: %w", err)
	}
	permission, err := ai.PolicyPermission(cfg.Fallback.Policy)
	if err != nil {
		return err
	}
	provider := ai.NewFallbackClient(local, cloud, ai.FallbackConfig{
		AutoFallbackLargeContext: *cfg.Fallback.AutoFallbackLargeContext,
		CapacityRatio:            cfg.Fallback.CapacityRatio,
		Permission:               permission,
	})

	synth := buildSynthesizer(cfg.Tiered.Synth, local, cloud)
	var retriever retrieval.Retriever
	var indexer retrieval.Indexer
	if cfg.Embedding.Provider != "" {
		embedProvider, err := ai.NewEmbedProvider(cfg.Embedding.Provider, ai.ProviderArgs{Config: cfg.Embedding, HTTPClient: client})
		if err != nil {
			return fmt.Errorf("init embedding provider: %w", err)
		}
		embedder := ai.NewEmbedder(embedProvider, cfg.Embedding.Model)
		embedder = embedcache.WithStore(embedder, embeddingCacheRepo)
		embedder = embedcache.WithLRU(embedder, cfg.Embedding.LRUSize, time.Duration(cfg.Embedding.LRUTTLMinutes)*time.Minute)
		var rewriter ai.IGenerator
		if cfg.Tiered.Rewrite {
			rewriter = buildRewriter(cfg.Tiered.Synth, local, cloud)
		}
		index := retrieval.NewIndex(embedder, chunkRepo, rewriter, cfg.Tiered.Weights)
		retriever, indexer = index, index
	} else {
		logger.Info("embedding provider not configured, every query uses full context")
	}

	resolver := loader.NewResolver(
		loader.NewFileLoader(cfg.Loader.FileOptions),
		loader.NewDirLoader(cfg.Loader.FileOptions),
		loader.NewURLLoader(client, time.Duration(cfg.Loader.URLTimeoutSeconds)*time.Second),
	)
	cacheService := service.NewCacheService(provider, cacheRepo, resolver, service.CacheServiceOptions{
		DefaultTTL: time.Duration(cfg.Cache.DefaultTTLMinutes) * time.Minute,
		Chunker:    cfg.Chunker,
		Usage:      usageRepo,
		Indexer:    indexer,
	})
	tiered := service.NewTieredQueryHandler(cacheService, retriever, synth, usageRepo, service.TieredConfig{
		Threshold:      cfg.Tiered.Threshold,
		MaxResults:     cfg.Tiered.MaxResults,
		ScoreThreshold: cfg.Tiered.ScoreThreshold,
		Rewrite:        cfg.Tiered.Rewrite,
		Rerank:         cfg.Tiered.Rerank,
	})

	scheduler := schedule.NewCronScheduler()
	jobs := []struct {
		job  schedule.Job
		spec string
	}{
		{job.NewPruneExpiredJob(cacheRepo, cacheService, time.Duration(cfg.Schedule.PruneGraceHours)*time.Hour), cfg.Schedule.PruneSpec},
		{job.NewEmbeddingCacheCleanupJob(embeddingCacheRepo, cfg.Schedule.EmbeddingMaxAgeDays), cfg.Schedule.EmbeddingCleanupSpec},
		{job.NewUsageCleanupJob(usageRepo, cfg.Schedule.UsageMaxAgeDays), cfg.Schedule.UsageCleanupSpec},
	}
	for _, item := range jobs {
		if err := scheduler.AddJob(item.job, item.spec); err != nil {
			return fmt.Errorf("schedule %s: %w", item.job.Name(), err)
		}
	}

	probes := make([]handler.HealthProbe, 0, 2)
	for _, p := range provider.Providers() {
		probes = append(probes, p)
	}
	deps := handler.RouterDeps{
		Caches:    handler.NewCacheHandler(cacheService, tiered),
		Chunks:    handler.NewChunkHandler(cfg.Chunker),
		Usage:     handler.NewUsageHandler(usageRepo),
		Health:    handler.NewHealthHandler(probes...),
		RateLimit: time.Duration(cfg.RateLimitSeconds) * time.Second,
	}

	engine, err := webapi.NewEngine(
		"/api/v1",
		fmt.Sprintf("0.0.0.0:%d", cfg.Port),
		webapi.WithRegister(func(group *gin.RouterGroup) {
			handler.RegisterRoutes(group, deps)
		}),
		webapi.WithExtraMiddlewares(
			middleware.CORS(cfg.CORSOrigins),
			gzip.Gzip(gzip.DefaultCompression),
		),
	)
	if err != nil {
		return fmt.Errorf("init web engine: %w", err)
	}
	logger.Info("http server listening", zap.String("addr", fmt.Sprintf("0.0.0.0:%d", cfg.Port)))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	scheduler.Start(ctx)
	defer scheduler.Stop()

	go func() {
		if err := engine.Run(); err != nil && err != http.ErrServerClosed {
			logutil.GetLogger(context.Background()).Error("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("server stopping...")
	return nil
}

func providerFor(name string, local, cloud ai.IProvider) ai.IProvider {
	if name == "local" {
		return local
	}
	return cloud
}

func buildSynthesizer(chain []config.SynthConfig, local, cloud ai.IProvider) ai.IGenerator {
	entries := make([]ai.GeneratorEntry, 0, len(chain))
	for _, item := range chain {
		p := providerFor(item.Provider, local, cloud)
		entries = append(entries, ai.GeneratorEntry{Name: p.Name(), Generator: ai.NewGenerator(p, item.Model, "")})
	}
	return ai.NewGroupGenerator(entries)
}

func buildRewriter(chain []config.SynthConfig, local, cloud ai.IProvider) ai.IGenerator {
	entries := make([]ai.GeneratorEntry, 0, len(chain))
	for _, item := range chain {
		p := providerFor(item.Provider, local, cloud)
		entries = append(entries, ai.GeneratorEntry{Name: p.Name(), Generator: ai.NewGenerator(p, item.Model, rewriteInstruction)})
	}
	return ai.NewGroupGenerator(entries)
}

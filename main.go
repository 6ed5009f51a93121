package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/codequery-ai/orchestrator/internal/config"
	"github.com/codequery-ai/orchestrator/internal/directory"
	"github.com/codequery-ai/orchestrator/internal/embeddings"
	"github.com/codequery-ai/orchestrator/internal/health"
	"github.com/codequery-ai/orchestrator/internal/httpapi"
	"github.com/codequery-ai/orchestrator/internal/llm"
	"github.com/codequery-ai/orchestrator/internal/orchestrator"
	"github.com/codequery-ai/orchestrator/internal/session"
	"github.com/codequery-ai/orchestrator/internal/streaming"
	"github.com/codequery-ai/orchestrator/internal/taskclient"
	"github.com/codequery-ai/orchestrator/internal/tracing"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	if err := tracing.Initialize(tracing.Config{
		Enabled:      cfg.Tracing.Enabled,
		ServiceName:  cfg.Tracing.ServiceName,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
	}, logger); err != nil {
		logger.Warn("Tracing initialization failed, continuing without export", zap.Error(err))
	}
	defer tracing.Shutdown(context.Background())

	healthMgr := health.NewManager(logger)

	// Optional Redis-backed embedding cache shared across replicas.
	var sharedCache embeddings.Cache
	if cfg.Redis.Enabled {
		redisCache, err := embeddings.NewRedisCache(cfg.Redis.Addr(), cfg.Redis.Password, logger)
		if err != nil {
			logger.Warn("Redis unavailable, using in-process embedding cache only", zap.Error(err))
		} else {
			defer redisCache.Close()
			sharedCache = redisCache
			healthMgr.Register(health.NewRedisChecker(redisCache.Wrapper()))
		}
	}

	embedder := embeddings.NewService(embeddings.Config{
		BaseURL:      cfg.Embeddings.BaseURL,
		DefaultModel: cfg.Embeddings.DefaultModel,
		Timeout:      cfg.Embeddings.Timeout,
		CacheTTL:     cfg.Embeddings.CacheTTL,
		MaxLRU:       cfg.Embeddings.CacheSize,
	}, sharedCache, logger)

	dir := directory.New(directory.Config{
		CardsDir:   cfg.Directory.CardsDir,
		PlannerKey: cfg.Directory.PlannerKey,
	}, embedder, logger)
	if err := dir.LoadCards(ctx); err != nil {
		logger.Fatal("Failed to load agent cards", zap.Error(err))
	}
	if cfg.Directory.WatchCards {
		if err := dir.Watch(ctx); err != nil {
			logger.Warn("Card watching unavailable", zap.Error(err))
		} else {
			defer dir.StopWatching()
		}
	}
	healthMgr.Register(health.NewDirectoryChecker(dir))
	healthMgr.Register(health.NewServiceChecker("llm", cfg.LLM.BaseURL+"/health", false))
	healthMgr.Register(health.NewServiceChecker("embeddings", cfg.Embeddings.BaseURL+"/health", false))

	collab := llm.NewClient(llm.Config{
		BaseURL:   cfg.LLM.BaseURL,
		Model:     cfg.LLM.Model,
		Timeout:   cfg.LLM.Timeout,
		MaxTokens: cfg.LLM.MaxTokens,
	}, logger)

	tasks := taskclient.New(logger)
	sessions := session.NewManager(session.Config{
		TTL:         cfg.Session.TTL,
		MaxSessions: cfg.Session.MaxSessions,
		MaxHistory:  cfg.Session.MaxHistory,
	}, logger)
	events := streaming.NewManager(cfg.Streaming.RingSize)

	orch := orchestrator.New(orchestrator.Config{
		NodeTimeout:    cfg.Service.NodeTimeout,
		ResponseBuffer: cfg.Streaming.ChannelBuffer,
	},
		orchestrator.NewDirectoryResolver(dir),
		orchestrator.NewTaskStreamer(tasks),
		collab,
		sessions,
		events,
		logger,
	)

	// Metrics server.
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Service.MetricsPort),
		Handler: metricsMux,
	}
	go func() {
		logger.Info("Metrics server listening", zap.Int("port", cfg.Service.MetricsPort))
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Metrics server failed", zap.Error(err))
		}
	}()

	// API server.
	mux := http.NewServeMux()
	httpapi.NewQueryHandler(orch, httpapi.RateLimitConfig{
		RPS:   cfg.RateLimit.RPS,
		Burst: cfg.RateLimit.Burst,
	}, logger).RegisterRoutes(mux)
	httpapi.NewSessionHandler(sessions, orch, logger).RegisterRoutes(mux)
	httpapi.NewStreamingHandler(events, logger).RegisterRoutes(mux)
	health.NewHTTPHandler(healthMgr, logger).RegisterRoutes(mux)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Service.Port),
		Handler:      mux,
		ReadTimeout:  cfg.Service.ReadTimeout,
		WriteTimeout: cfg.Service.WriteTimeout,
	}
	go func() {
		logger.Info("API server listening", zap.Int("port", cfg.Service.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("API server failed", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("Shutting down", zap.String("signal", sig.String()))
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Service.GracefulTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("API server shutdown failed", zap.Error(err))
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Metrics server shutdown failed", zap.Error(err))
	}
	logger.Info("Shutdown complete")
}

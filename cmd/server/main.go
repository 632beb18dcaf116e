package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"casedraft-backend/classification"
	"casedraft-backend/config"
	"casedraft-backend/engine"
	"casedraft-backend/handlers"
	"casedraft-backend/ledger"
	"casedraft-backend/lookup"
	"casedraft-backend/notifier"
	"casedraft-backend/repository"
	"casedraft-backend/service"
	"casedraft-backend/storage"

	"github.com/gin-gonic/gin"
	"github.com/google/generative-ai-go/genai"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"google.golang.org/api/option"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Server.LogLevel}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize database connections
	db, err := initPostgres(ctx, cfg.Database.URL, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize Postgres: %w", err)
	}
	defer db.Close()

	// Initialize storage
	drafts, err := storage.New(ctx, storage.Config{
		Type:         storage.Type(cfg.Storage.Type),
		LocalPath:    cfg.Storage.LocalPath,
		Bucket:       cfg.Storage.Bucket,
		S3Region:     cfg.Storage.S3Region,
		AWSAccessKey: cfg.Storage.AWSAccessKey,
		AWSSecretKey: cfg.Storage.AWSSecretKey,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	if closer, ok := drafts.(io.Closer); ok {
		defer closer.Close()
	}
	logger.Info("storage initialized", "type", cfg.Storage.Type)

	// Initialize repositories
	caseRepo := repository.NewCaseRepository(db)
	draftRepo := repository.NewDraftRepository(db)
	legalChunkRepo := repository.NewLegalChunkRepository(db)

	quotaStore, closeQuota, err := initQuotaStore(ctx, cfg, db)
	if err != nil {
		return fmt.Errorf("failed to initialize quota store: %w", err)
	}
	defer closeQuota()

	quota, err := ledger.New(quotaStore,
		ledger.WithDefaultAllotments(cfg.Ledger.DefaultAllotments),
		ledger.WithLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("failed to initialize ledger: %w", err)
	}

	sender, closeSender, err := initSender(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize notifier: %w", err)
	}
	defer closeSender()

	// Initialize Gemini client
	geminiClient, err := initGemini(ctx, cfg.Gemini.APIKey, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize Gemini: %w", err)
	}
	defer geminiClient.Close()

	gateway := engine.NewGateway(
		engine.NewGeminiEngine(geminiClient, engine.GeminiConfig{
			ReasoningModel: cfg.Gemini.ReasoningModel,
			DraftingModel:  cfg.Gemini.DraftingModel,
		}, logger),
		engine.WithConfig(engine.Config{
			MaxAttempts:    cfg.Engine.MaxAttempts,
			InitialBackoff: cfg.Engine.InitialBackoff,
			MaxBackoff:     cfg.Engine.MaxBackoff,
			CallTimeout:    cfg.Engine.CallTimeout,
			RatePerSecond:  cfg.Engine.RatePerSecond,
			Burst:          cfg.Engine.Burst,
		}),
		engine.WithLogger(logger),
	)

	retriever := lookup.NewRetriever(
		lookup.NewGeminiEmbedder(geminiClient, cfg.Gemini.EmbeddingModel),
		legalChunkRepo,
		logger,
	)

	classifier, err := initClassifier(cfg.Classification.RulesPath)
	if err != nil {
		return fmt.Errorf("failed to load classification rules: %w", err)
	}

	// Initialize the orchestrator
	orchestrator, err := service.NewOrchestrator(
		service.WithCaseStore(caseRepo),
		service.WithDraftStore(draftRepo),
		service.WithLedger(quota),
		service.WithEngine(gateway),
		service.WithLookup(retriever),
		service.WithNotifier(notifier.New(sender, notifier.WithLogger(logger))),
		service.WithStorage(drafts),
		service.WithClassifier(classifier),
		service.WithLimits(service.Limits{
			MaxConflictRetries: cfg.Orchestrator.MaxConflictRetries,
			MaxReplans:         cfg.Orchestrator.MaxReplans,
			MaxAutoCycles:      cfg.Orchestrator.MaxAutoCycles,
			MaxSteps:           cfg.Orchestrator.MaxSteps,
		}),
		service.WithLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("failed to initialize orchestrator: %w", err)
	}

	// Initialize handlers
	caseHandler := handlers.NewCaseHandler(orchestrator,
		handlers.WithDriveTimeout(cfg.Orchestrator.DriveTimeout),
		handlers.WithCallbackToken(cfg.Engine.CallbackToken),
		handlers.WithHandlerLogger(logger),
	)
	draftHandler := handlers.NewDraftHandler(orchestrator)

	// Setup Gin router
	gin.SetMode(cfg.Server.GinMode)
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(logger))

	r.GET("/health", func(c *gin.Context) {
		if err := db.Ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API routes
	api := r.Group("/api", handlers.RequireIdentity())
	caseHandler.Register(api, r.Group("/api"))
	draftHandler.Register(api)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func initPostgres(ctx context.Context, connString string, logger *slog.Logger) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	logger.Info("postgres connection established")
	return pool, nil
}

// initQuotaStore selects the ledger backend. The returned func releases it.
func initQuotaStore(ctx context.Context, cfg *config.Config, db *pgxpool.Pool) (ledger.Store, func(), error) {
	switch cfg.Ledger.Backend {
	case "memory":
		return ledger.NewInMemoryStore(), func() {}, nil
	case "redis":
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		opts.PoolSize = cfg.Redis.PoolSize
		opts.DialTimeout = cfg.Redis.DialTimeout
		opts.ReadTimeout = cfg.Redis.ReadTimeout
		opts.WriteTimeout = cfg.Redis.WriteTimeout

		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		return ledger.NewRedisStore(client, "casedraft"), func() { _ = client.Close() }, nil
	default:
		return repository.NewQuotaRepository(db), func() {}, nil
	}
}

func initSender(cfg *config.Config, logger *slog.Logger) (notifier.Sender, func(), error) {
	if cfg.Notifier.Backend != "kafka" {
		return notifier.NewLogSender(logger), func() {}, nil
	}
	sender, err := notifier.NewKafkaSender(cfg.Notifier.KafkaBrokers, cfg.Notifier.KafkaTopic)
	if err != nil {
		return nil, nil, err
	}
	return sender, sender.Close, nil
}

func initGemini(ctx context.Context, apiKey string, logger *slog.Logger) (*genai.Client, error) {
	if apiKey == "" {
		logger.Warn("GEMINI_API_KEY not set")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}

	logger.Info("gemini client initialized")
	return client, nil
}

func initClassifier(rulesPath string) (*classification.Classifier, error) {
	if rulesPath == "" {
		return classification.Default()
	}
	return classification.FromFile(rulesPath)
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		attrs := []any{
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		}
		if len(c.Errors) > 0 {
			attrs = append(attrs, "error", c.Errors.String())
			logger.Error("request failed", attrs...)
			return
		}
		logger.Debug("request", attrs...)
	}
}

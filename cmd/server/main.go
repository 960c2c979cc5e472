package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"lawchat-backend/config"
	"lawchat-backend/corpus"
	"lawchat-backend/handlers"
	"lawchat-backend/observability"
	"lawchat-backend/provider"
	"lawchat-backend/ratelimit"
	"lawchat-backend/repository"
	"lawchat-backend/search"
	"lawchat-backend/service"
	"lawchat-backend/storage"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	config.LoadDotEnv()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	setupLogger(cfg)

	if cfg.GinMode != "" {
		gin.SetMode(cfg.GinMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load the corpus once; it is read-only from here on
	articles, err := loadCorpus(ctx, cfg)
	if err != nil {
		slog.Error("Failed to load corpus", "source", cfg.CorpusSource, "error", err)
		os.Exit(1)
	}
	engine := search.NewEngine(articles)
	slog.Info("Corpus loaded", "source", cfg.CorpusSource, "articles", engine.Size())

	llm, closeLLM, err := initProvider(ctx, cfg)
	if err != nil {
		slog.Error("Failed to initialize LLM provider", "provider", cfg.LLMProvider, "error", err)
		os.Exit(1)
	}
	defer closeLLM()

	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)

	limiter := ratelimit.New(ratelimit.Config{
		Max:           cfg.RateLimitMax,
		Window:        cfg.RateLimitWindow,
		HighWaterMark: cfg.RateLimitHighWater,
	})

	chatService := service.NewChatService(
		service.ChatWithProvider(llm),
		service.ChatWithSearcher(engine),
		service.ChatWithMetrics(metrics),
		service.ChatWithStreamTimeout(cfg.StreamTimeout),
		service.ChatWithMaxToolCalls(cfg.MaxToolCalls),
		service.ChatWithToolDefaultLimit(cfg.ToolDefaultLimit),
		service.ChatWithPhaseObserver(func(sessionID string, from, to service.Phase) {
			slog.Debug("session transition", "session_id", sessionID, "from", from, "to", to)
		}),
	)

	// Setup Gin router
	r, err := handlers.NewEngine(cfg.TrustedProxies, gin.Logger(), gin.Recovery())
	if err != nil {
		slog.Error("Invalid TRUSTED_PROXIES", "error", err)
		os.Exit(1)
	}
	handlers.Routes{
		Chat:        handlers.NewChatHandler(chatService, metrics),
		Diagnostics: handlers.NewDiagnosticsHandler(engine, chatService),
		Limiter:     handlers.RateLimit(limiter, metrics),
		Metrics:     promhttp.Handler(),
	}.Register(r)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("Server starting", "port", cfg.Port, "provider", llm.Name())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Failed to start server", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Graceful shutdown failed", "error", err)
	}
}

func setupLogger(cfg *config.Config) {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}

	var h slog.Handler
	if cfg.LogFormat == "json" {
		h = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		h = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(h))
}

func loadCorpus(ctx context.Context, cfg *config.Config) (*corpus.Corpus, error) {
	switch cfg.CorpusSource {
	case config.CorpusFromPostgres:
		pool, err := initPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		defer pool.Close()
		return corpus.Load(ctx, repository.NewArticleRepository(pool))

	case config.CorpusFromS3:
		store, err := storage.NewStorage(storage.StorageConfig{
			Type:         storage.StorageTypeS3,
			S3Bucket:     cfg.S3Bucket,
			S3Region:     cfg.AWSRegion,
			AWSAccessKey: cfg.AWSAccessKeyID,
			AWSSecretKey: cfg.AWSSecretKey,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize storage: %w", err)
		}
		return corpus.Load(ctx, corpus.FileSource{Storage: store, Path: cfg.CorpusPath})

	default:
		store, err := storage.NewLocalStorage(cfg.StorageLocalPath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize storage: %w", err)
		}
		return corpus.Load(ctx, corpus.FileSource{Storage: store, Path: cfg.CorpusPath})
	}
}

func initPostgres(ctx context.Context, connString string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	slog.Info("Postgres connection established")
	return pool, nil
}

// initProvider returns the configured provider and a function releasing it
func initProvider(ctx context.Context, cfg *config.Config) (provider.Provider, func(), error) {
	switch cfg.LLMProvider {
	case "gemini":
		p, err := provider.NewGeminiProvider(ctx, provider.GeminiConfig{
			APIKey: cfg.GeminiAPIKey,
			Model:  cfg.GeminiModel,
		})
		if err != nil {
			return nil, nil, err
		}
		return p, func() { _ = p.Close() }, nil

	default:
		p, err := provider.NewOpenAIProvider(provider.OpenAIConfig{
			APIKey:  cfg.OpenAIAPIKey,
			Model:   cfg.OpenAIModel,
			BaseURL: cfg.OpenAIBaseURL,
		})
		if err != nil {
			return nil, nil, err
		}
		return p, func() {}, nil
	}
}

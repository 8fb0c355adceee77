// DevOps Q&A assistant server.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/devops-qa/internal/api"
	"github.com/ashureev/devops-qa/internal/buildlog"
	"github.com/ashureev/devops-qa/internal/config"
	"github.com/ashureev/devops-qa/internal/engine"
	"github.com/ashureev/devops-qa/internal/intent"
	"github.com/ashureev/devops-qa/internal/knowledge"
	"github.com/ashureev/devops-qa/internal/llm"
	"github.com/ashureev/devops-qa/internal/middleware"
	"github.com/ashureev/devops-qa/internal/store"
	"github.com/ashureev/devops-qa/internal/stream"
	"github.com/ashureev/devops-qa/internal/ws"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	kb, err := knowledge.Load(cfg.KnowledgeBasePath)
	if err != nil {
		slog.Error("Failed to load knowledge base", "error", err)
		os.Exit(1)
	}
	slog.Info("Knowledge base loaded",
		"build_errors", kb.EntryCount(knowledge.CategoryBuildErrors),
		"general_qa", kb.EntryCount(knowledge.CategoryGeneralQA),
	)

	if cfg.LLM.APIKey == "" {
		slog.Warn("LLM_API_KEY not set, model calls will fail and answers degrade to fallbacks")
	}
	llmClient := llm.NewOpenAIClient(cfg.LLM.BaseURL, cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.Timeout)

	var lookup buildlog.Client
	if cfg.BuildLog.UseMock {
		slog.Info("Using mock build log backend")
		lookup = &buildlog.MockClient{}
	} else {
		lookup = buildlog.NewHTTPClient(cfg.BuildLog.APIURL, cfg.BuildLog.Timeout)
	}

	classifier := intent.NewClassifier(llmClient)
	generator := llm.NewGenerator(llmClient, cfg.HistoryWindow)
	streamer := stream.New(cfg.Stream.ChunkSize, cfg.Stream.ChunkDelay)

	eng := engine.New(repo, classifier, lookup, kb, generator, streamer)

	// Initialize handlers.
	apiHandler := api.NewHandler(eng, repo, kb, cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.WindowDuration)
	wsHandler := ws.NewHandler(eng, cfg.FrontendURL, cfg.IsDevelopment())

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(corsOrigins(cfg)))

	apiHandler.RegisterRoutes(r)
	r.Get("/ws/chat", wsHandler.ServeHTTP)

	// SSE responses need long-lived writes, so WriteTimeout stays disabled.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Expired sessions are swept hourly.
	store.StartCleanupWorker(ctx, repo, cfg.SessionTTL, time.Hour)
	slog.Info("Session cleanup worker started", "session_ttl", cfg.SessionTTL)

	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}

func corsOrigins(cfg *config.Config) []string {
	if cfg.FrontendURL == "" {
		return []string{"*"}
	}
	return []string{cfg.FrontendURL}
}

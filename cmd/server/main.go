// Lumi memoir interview server.
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

	"github.com/ashureev/lumi/internal/agent"
	"github.com/ashureev/lumi/internal/api"
	"github.com/ashureev/lumi/internal/config"
	"github.com/ashureev/lumi/internal/identity"
	"github.com/ashureev/lumi/internal/middleware"
	"github.com/ashureev/lumi/internal/session"
	"github.com/ashureev/lumi/internal/store"
	"github.com/ashureev/lumi/internal/telemetry"
	"github.com/ashureev/lumi/internal/voice"
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

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(),
		"store", cfg.Store.Driver, "model_provider", cfg.Model.Provider)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.OTLPEndpoint)
	if err != nil {
		slog.Error("Failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			slog.Warn("Failed to flush traces", "error", err)
		}
	}()

	// Initialize dependencies.
	repo, err := store.Open(ctx, store.Options{
		Driver:        cfg.Store.Driver,
		SQLitePath:    cfg.Store.SQLitePath,
		MongoURI:      cfg.Store.MongoURI,
		MongoDatabase: cfg.Store.MongoDatabase,
	})
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(ctx); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	model, closeModel, err := agent.OpenModel(ctx, agent.ModelOptions{
		Provider:     cfg.Model.Provider,
		GeminiAPIKey: cfg.Model.GeminiAPIKey,
		GeminiModel:  cfg.Model.GeminiModel,
		OllamaURL:    cfg.Model.OllamaURL,
		OllamaModel:  cfg.Model.OllamaModel,
		GrpcAddr:     cfg.Model.GrpcAddr,
	}, logger)
	if err != nil {
		// The session keeps working without a model; every call reports it as unavailable.
		slog.Warn("Language model unavailable, interview features will report errors", "error", err)
	}
	defer closeModel()

	conversationLogger, err := agent.NewConversationLogger(agent.ConversationLogConfig{
		Enabled:       cfg.ConversationLog.Enabled,
		Dir:           cfg.ConversationLog.Dir,
		GlobalEnabled: cfg.ConversationLog.GlobalEnabled,
		GlobalPath:    cfg.ConversationLog.GlobalPath,
		QueueSize:     cfg.ConversationLog.QueueSize,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize conversation logger", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := conversationLogger.Close(); err != nil {
			slog.Warn("Failed to close conversation logger", "error", err)
		}
	}()

	orch := agent.NewOrchestrator(model,
		agent.WithTimeout(cfg.Model.Timeout),
		agent.WithConversationLogger(conversationLogger),
		agent.WithLogger(logger),
	)
	sessions := session.NewRegistry(repo, orch, logger)

	modelName := "none"
	if model != nil {
		modelName = model.Name()
	}

	// Initialize handlers.
	apiHandler := api.NewHandler(repo, sessions,
		api.NewRateLimiter(ctx, cfg.RateLimit.Requests, cfg.RateLimit.Window),
		model,
		api.ServerInfo{Model: modelName, StoreDriver: cfg.Store.Driver, VoiceEnabled: true})
	voiceHandler := voice.NewHandler(sessions, cfg.FrontendURL, cfg.IsDevelopment())

	allowedOrigins := []string{"*"}
	if !cfg.IsDevelopment() {
		allowedOrigins = []string{cfg.FrontendURL}
	}

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(allowedOrigins))
	r.Use(identity.Middleware(repo, cfg.IsDevelopment()))

	apiHandler.RegisterRoutes(r)

	// WebSocket endpoint.
	r.Get("/ws/voice", voiceHandler.ServeHTTP)

	// Model calls can run for minutes, so there is no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	autosaveDone := session.StartAutosaver(ctx, sessions, cfg.AutosaveInterval)

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			stop()
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}
	<-autosaveDone

	slog.Info("Server stopped successfully")
}

package main

import (
	"context"
	"errors"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/cors"

	"valet/internal/agent"
	"valet/internal/auth"
	"valet/internal/config"
	"valet/internal/domain/repositories"
	chatRepo "valet/internal/domain/repositories/chat"
	taskRepo "valet/internal/domain/repositories/tasks"
	chatSvc "valet/internal/domain/services/chat"
	"valet/internal/handler"
	"valet/internal/handler/sse"
	"valet/internal/middleware"
	"valet/internal/repository/memory"
	"valet/internal/repository/postgres"
	postgresChat "valet/internal/repository/postgres/chat"
	postgresTasks "valet/internal/repository/postgres/tasks"
	chatService "valet/internal/service/chat"
	"valet/internal/skills"
	"valet/internal/tasklist"
	"valet/internal/tokenizer"
	"valet/internal/toolconn"
)

func main() {
	// Load .env file (silently ignore if it doesn't exist - for production)
	_ = godotenv.Load()

	cfg := config.Load()

	logLevel := slog.LevelInfo
	if cfg.Environment == "dev" {
		logLevel = slog.LevelDebug
	}

	logOutput := io.Writer(os.Stdout)
	if cfg.Debug {
		if logFile, err := config.SetupLogFile("logs", 5); err != nil {
			slog.Warn("log file setup failed, logging to stdout only", "error", err)
		} else {
			defer logFile.Close()
			logOutput = io.MultiWriter(os.Stdout, logFile)
		}
	}

	logger := slog.New(slog.NewJSONHandler(logOutput, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("server starting",
		"environment", cfg.Environment,
		"port", cfg.Port,
		"table_prefix", cfg.TablePrefix,
	)

	// Token verifier
	var verifier auth.TokenVerifier
	if cfg.JWKSURL != "" {
		v, err := auth.NewJWKSVerifier(cfg.JWKSURL, logger)
		if err != nil {
			log.Fatalf("Failed to create token verifier: %v", err)
		}
		verifier = v
	} else {
		if cfg.Environment == "prod" {
			log.Fatal("JWKS_URL is required in prod")
		}
		logger.Warn("JWKS_URL not set, using static dev user")
		verifier = &auth.StaticVerifier{User: "local"}
	}
	defer verifier.Close()

	ctx := context.Background()

	// Repositories: postgres when a database is configured, in-memory
	// otherwise (dev and tests)
	var (
		conversationRepo chatRepo.ConversationRepository
		turnRepo         chatRepo.TurnRepository
		timelineRepo     chatRepo.TimelineRepository
		tasksRepo        taskRepo.TaskRepository
		txManager        repositories.TransactionManager
	)
	if cfg.DatabaseURL != "" {
		pool, err := postgres.CreateConnectionPool(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("Failed to create connection pool: %v", err)
		}
		defer pool.Close()

		logger.Info("database connected", "max_conns", 25, "min_conns", 5)

		repoConfig := &postgres.RepositoryConfig{
			Pool:   pool,
			Tables: postgres.NewTableNames(cfg.TablePrefix),
			Logger: logger,
		}
		conversationRepo = postgresChat.NewConversationRepository(repoConfig)
		turnRepo = postgresChat.NewTurnRepository(repoConfig)
		timelineRepo = postgresChat.NewTimelineRepository(repoConfig)
		tasksRepo = postgresTasks.NewTaskRepository(repoConfig)
		txManager = postgres.NewTransactionManager(pool, logger)
	} else {
		if cfg.Environment == "prod" {
			log.Fatal("DATABASE_URL is required in prod")
		}
		logger.Warn("DATABASE_URL not set, using in-memory store")
		store := memory.NewStore()
		conversationRepo = store
		turnRepo = store
		timelineRepo = store
		tasksRepo = memory.NewTaskStore()
		txManager = memory.NewTxManager()
	}

	// Tool providers
	providerConfigs, err := toolconn.LoadConfigFile(cfg.ToolConfigPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Warn("tool provider config not found, starting without providers", "path", cfg.ToolConfigPath)
		} else {
			log.Fatalf("Failed to load tool provider config: %v", err)
		}
	}
	manager := toolconn.NewManager(providerConfigs, toolconn.Options{Logger: logger})
	manager.Start()
	defer manager.Close()

	unsubscribe := manager.Subscribe(func(ev toolconn.StatusEvent) {
		logger.Info("tool provider state changed",
			"provider_id", ev.ProviderID,
			"from", ev.From,
			"to", ev.To,
			"reason", ev.Reason,
		)
	})
	defer unsubscribe()

	// Skills registry
	skillRegistry, err := skills.NewRegistry()
	if err != nil {
		log.Fatalf("Failed to load skills: %v", err)
	}

	// Task list: cache service plus its built-in agent tools
	taskService := tasklist.NewService(tasksRepo, logger)
	broker := agent.NewCompositeBroker(manager, tasklist.NewBroker(taskService))

	// Agent runner: Anthropic when a key is configured, scripted otherwise
	var (
		runner     chatSvc.AgentRunner
		summarizer chatSvc.Summarizer
	)
	if cfg.AnthropicAPIKey != "" {
		r, err := agent.NewRunner(agent.Config{
			APIKey:     cfg.AnthropicAPIKey,
			Model:      cfg.DefaultModel,
			TitleModel: cfg.TitleModel,
			Logger:     logger,
		}, broker, skillRegistry)
		if err != nil {
			log.Fatalf("Failed to create agent runner: %v", err)
		}
		runner = r
		summarizer = r
	} else {
		if cfg.Environment == "prod" {
			log.Fatal("ANTHROPIC_API_KEY is required in prod")
		}
		logger.Warn("ANTHROPIC_API_KEY not set, using scripted agent")
		runner = agent.Scripted{}
		summarizer = agent.Scripted{}
	}

	// Services
	window := chatService.NewContextWindow(tokenizer.NewEstimator())
	orchestrator := chatService.NewOrchestrator(
		conversationRepo,
		turnRepo,
		timelineRepo,
		runner,
		summarizer,
		window,
		txManager,
		nil,
		cfg.MaxContextTokens,
		logger,
	)
	conversationService := chatService.NewConversationService(conversationRepo, logger)
	timelineService := chatService.NewTimelineService(turnRepo, timelineRepo)

	// Handlers
	conversationHandler := handler.NewConversationHandler(conversationService, timelineService, orchestrator, logger)
	chatHandler := handler.NewChatHandler(orchestrator, sse.DefaultConfig(), logger)
	toolHandler := handler.NewToolProviderHandler(manager, cfg.ToolConfigPath, logger)
	taskHandler := handler.NewTaskHandler(taskService, conversationService, logger)

	logger.Info("services initialized")

	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", handler.HealthCheck)

	// Conversation routes
	mux.HandleFunc("POST /api/conversations", conversationHandler.CreateConversation)
	mux.HandleFunc("GET /api/conversations", conversationHandler.ListConversations)
	mux.HandleFunc("GET /api/conversations/{id}", conversationHandler.GetConversation)
	mux.HandleFunc("GET /api/conversations/{id}/timeline", conversationHandler.GetTimeline)
	mux.HandleFunc("POST /api/conversations/{id}/compact", conversationHandler.Compact)

	// Turn routes (SSE streaming)
	mux.HandleFunc("POST /api/conversations/{id}/messages", chatHandler.SendMessage)
	mux.HandleFunc("POST /api/conversations/{id}/messages/{messageID}/edit", chatHandler.EditMessage)
	mux.HandleFunc("POST /api/conversations/{id}/turns/{turnID}/regenerate", chatHandler.RegenerateTurn)

	// Task list routes
	mux.HandleFunc("GET /api/conversations/{id}/tasks", taskHandler.ListTasks)
	mux.HandleFunc("DELETE /api/conversations/{id}/tasks", taskHandler.ClearTasks)

	// Tool provider routes
	mux.HandleFunc("GET /api/tools/providers", toolHandler.ListProviders)
	mux.HandleFunc("POST /api/tools/providers/{id}/connect", toolHandler.ConnectProvider)
	mux.HandleFunc("POST /api/tools/reload", toolHandler.ReloadConfig)

	// Middleware chain: CORS -> Recovery -> Auth -> Routes
	var httpHandler http.Handler = mux
	httpHandler = middleware.Auth(verifier, logger)(httpHandler)
	httpHandler = middleware.Recovery(logger)(httpHandler)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   strings.Split(cfg.CORSOrigins, ","),
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Origin", "Content-Type", "Accept", "Authorization", "Last-Event-ID"},
		AllowCredentials: true,
	})
	httpHandler = corsHandler.Handler(httpHandler)

	server := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     httpHandler,
		ReadTimeout: 15 * time.Second,
		// WriteTimeout stays disabled for long-lived SSE streams
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	shutdownCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("listening", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-shutdownCtx.Done()
	logger.Info("shutting down")

	timeoutCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(timeoutCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
}

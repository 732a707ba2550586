package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/cors"
	"golang.org/x/sync/errgroup"

	"github.com/switchboardhq/switchboard/internal/adapters/docker"
	"github.com/switchboardhq/switchboard/internal/adapters/duckdb"
	"github.com/switchboardhq/switchboard/internal/adapters/providers"
	appconfig "github.com/switchboardhq/switchboard/internal/config"
	"github.com/switchboardhq/switchboard/internal/core/domain"
	"github.com/switchboardhq/switchboard/internal/core/ports"
	"github.com/switchboardhq/switchboard/internal/core/services"
	"github.com/switchboardhq/switchboard/internal/metrics"
	"github.com/switchboardhq/switchboard/pkg/api"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	logger.Info("starting switchboard")

	if err := run(logger); err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		logger.Info("shutting down")
		cancel()
	}()

	// Storage
	dbPath := os.Getenv("SWITCHBOARD_DB_PATH")
	if dbPath == "" {
		dbPath = "switchboard.db"
	}
	repo, err := duckdb.NewRepository(dbPath)
	if err != nil {
		return fmt.Errorf("failed to init repository: %w", err)
	}
	defer repo.Close()

	// Contract is validated before anything listens
	if _, err := api.LoadContract(); err != nil {
		return err
	}

	// Settings with encrypted secrets
	secretKey, err := appconfig.NewSecretKey()
	if err != nil {
		return fmt.Errorf("failed to init secret key: %w", err)
	}
	settingsStore, err := appconfig.NewSettingsStore(logger, repo, secretKey)
	if err != nil {
		return fmt.Errorf("failed to init settings store: %w", err)
	}
	cfg := settingsStore.GetConfig()

	// Model backend
	model, err := providers.Build(cfg)
	if err != nil {
		return fmt.Errorf("failed to build model client: %w", err)
	}

	// Core plumbing
	eventBus := services.NewEventBus(logger)
	tracer := services.NewTraceCollector(logger, eventBus, repo)
	m := metrics.New()
	convStore := services.NewConversationStore(repo, 64)

	// Sandbox runner is optional: without Docker, sandbox tools fail at
	// toolset build, not at startup.
	var sandbox ports.SandboxRunner
	if sb, err := docker.NewSandbox(); err != nil {
		logger.Warn("docker unavailable, sandbox tools disabled", "error", err)
	} else {
		sandbox = sb
	}

	toolsets := services.NewToolsetBuilder(eventBus, sandbox)
	runner := services.NewAgentRunner(logger, model, tracer, m, 32)
	summarizer := services.NewModelSummarizer(logger, model, convStore, cfg.Providers.LLM.DefaultModel)

	chatService := services.NewChatService(logger, repo, convStore, runner, toolsets, eventBus, m, summarizer)

	// Hot-reload the model client when settings change
	settingsStore.OnChange(func(cfg *domain.AppConfig) {
		newModel, err := providers.Build(cfg)
		if err != nil {
			logger.Error("failed to rebuild model client on settings change", "error", err)
			return
		}
		runner.SetModel(newModel)
		logger.Info("model client hot-reloaded from settings change")
	})

	// Seed built-in agents (idempotent: creation failure for an existing ID
	// is logged, not fatal)
	for _, a := range domain.BuiltinAgents() {
		if err := repo.CreateAgent(ctx, a); err != nil {
			logger.Warn("failed to seed agent", "agent", a.Name, "error", err)
		}
	}

	apiServer := api.NewServer(logger, chatService, convStore, repo, settingsStore, eventBus, tracer, m)

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:5174"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	addr := os.Getenv("SWITCHBOARD_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	httpServer := &http.Server{
		Addr:    addr,
		Handler: c.Handler(apiServer.Handler()),
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting api server", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("api server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

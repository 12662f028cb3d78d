// Package main boots the dialogue engine HTTP service and wires application dependencies.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/easeaico/her-engine/internal/catalog"
	"github.com/easeaico/her-engine/internal/config"
	"github.com/easeaico/her-engine/internal/emotion"
	"github.com/easeaico/her-engine/internal/engine"
	"github.com/easeaico/her-engine/internal/ledger"
	"github.com/easeaico/her-engine/internal/llm"
	"github.com/easeaico/her-engine/internal/memory"
	"github.com/easeaico/her-engine/internal/memstore"
	"github.com/easeaico/her-engine/internal/models"
	"github.com/easeaico/her-engine/internal/prompt"
	"github.com/easeaico/her-engine/internal/repository"
	"github.com/easeaico/her-engine/internal/server"
)

const (
	version         = "0.1.0"
	shutdownTimeout = 15 * time.Second
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "orchestrator",
		Short:         "Dialogue context assembly and response reconciliation service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Start the HTTP API",
			RunE: func(cmd *cobra.Command, args []string) error {
				return serve()
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Show version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Printf("her-engine orchestrator v%s\n", version)
			},
		},
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func serve() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(logger)
	slog.Info("configuration loaded", "provider", cfg.Provider, "chat_model", cfg.LLMModel, "summary_model", cfg.SummaryModel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		return err
	}
	if err := cat.Validate(); err != nil {
		return fmt.Errorf("invalid catalog: %w", err)
	}

	chatModel, err := models.New(ctx, cfg.Provider, cfg.LLMModel, cfg.APIKey(), cfg.LLMBaseURL)
	if err != nil {
		return fmt.Errorf("failed to create chat model: %w", err)
	}
	completer := llm.NewADKCompleter(chatModel)

	var embedder memory.Embedder
	if cfg.GoogleAPIKey != "" {
		e, err := memory.NewGenAIEmbedder(ctx, cfg.GoogleAPIKey, cfg.EmbeddingModel)
		if err != nil {
			return fmt.Errorf("failed to create embedder: %w", err)
		}
		embedder = e
	} else {
		slog.Warn("GOOGLE_API_KEY not set, fact recall ranks by importance")
	}

	deps := engine.Deps{
		Characters: cat,
		Summarizer: memory.NewSummarizer(completer, cfg.SummaryParams(), cfg.SummaryWindow, cfg.MaxSummaryLength),
		Assembler:  prompt.NewAssembler(cfg.DriverPrompt),
		LLM:        completer,
	}
	if cfg.DatabaseURL != "" {
		store, err := repository.NewStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer store.Close()
		deps.Sessions = store.Dialogs
		deps.Users = store.Users
		deps.Emotions = emotion.NewTracker(store.Emotions)
		deps.Facts = memory.NewFacts(store.Facts, embedder)
		deps.Ledger = ledger.New(store.Ledger, cat)
	} else {
		// 未配置数据库时使用内存存储，重启后数据丢失
		slog.Warn("DATABASE_URL not set, using in-memory store")
		store := memstore.New()
		deps.Sessions = store
		deps.Users = store
		deps.Emotions = emotion.NewTracker(store)
		deps.Facts = memory.NewFacts(store, embedder)
		deps.Ledger = ledger.New(store, cat)
	}

	controller := engine.New(deps, engine.Options{
		ChatParams:      cfg.ChatParams(),
		TokenBudget:     cfg.ChatTokenBudget,
		ResponseReserve: cfg.ChatResponseReserve,
		StreamInterval:  cfg.StreamInterval,
		FixedWindow:     cfg.FixedWindow,
		EnforceQuota:    cfg.EnforceQuota,
	})
	srv := server.New(controller)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(cfg.ListenAddr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		slog.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down: %w", err)
	}
	slog.Info("server stopped")
	return nil
}

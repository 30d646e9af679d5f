package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/arlo/taskdeck/internal/collab"
	"github.com/arlo/taskdeck/internal/config"
	"github.com/arlo/taskdeck/internal/depgraph"
	"github.com/arlo/taskdeck/internal/events"
	"github.com/arlo/taskdeck/internal/lifecycle"
	"github.com/arlo/taskdeck/internal/server"
	"github.com/arlo/taskdeck/internal/store"
)

func main() {
	// Signal-aware context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	// Load configuration
	cfg, err := config.LoadDefault()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Analyzer.URL == "" {
		fmt.Fprintln(os.Stderr, "Error: analyzer.url is not configured")
		os.Exit(1)
	}
	if cfg.GitHub.URL == "" {
		fmt.Fprintln(os.Stderr, "Error: github.url is not configured")
		os.Exit(1)
	}

	// Open the task store
	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			fmt.Fprintf(os.Stderr, "Error creating data directory: %v\n", err)
			os.Exit(1)
		}
	}
	st, err := store.NewSQLiteStore(ctx, cfg.DBPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening database: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	// Event bus
	bus := events.NewEventBus()
	defer bus.Close()

	// Dependency graph engine
	graph := depgraph.New(st, bus, logger, depgraph.WithResolveLimit(cfg.ResolveLimit))

	// External collaborators
	analyzer := &collab.HTTPAnalyzer{
		URL:    cfg.Analyzer.URL,
		Client: &http.Client{Timeout: time.Duration(cfg.Analyzer.TimeoutSeconds) * time.Second},
	}
	issues := &collab.HTTPIssueCreator{
		URL:    cfg.GitHub.URL,
		Client: &http.Client{Timeout: time.Duration(cfg.GitHub.TimeoutSeconds) * time.Second},
	}
	var notifier lifecycle.Notifier = lifecycle.NopNotifier{}
	if cfg.Slack.WebhookURL != "" {
		notifier = &collab.SlackNotifier{WebhookURL: cfg.Slack.WebhookURL, Log: logger}
	}

	orch := lifecycle.New(lifecycle.Config{
		Store:    st,
		Graph:    graph,
		Bus:      bus,
		Logger:   logger,
		Analyzer: analyzer,
		Issues:   issues,
		Notifier: notifier,
		Retry: lifecycle.RetryConfig{
			InitialInterval:     time.Duration(cfg.Retry.InitialIntervalMs) * time.Millisecond,
			MaxInterval:         time.Duration(cfg.Retry.MaxIntervalMs) * time.Millisecond,
			MaxElapsedTime:      time.Duration(cfg.Retry.MaxElapsedTimeMs) * time.Millisecond,
			Multiplier:          cfg.Retry.Multiplier,
			RandomizationFactor: cfg.Retry.RandomizationFactor,
		},
		AnalyzerTimeout: time.Duration(cfg.Analyzer.TimeoutSeconds) * time.Second,
		IssueTimeout:    time.Duration(cfg.GitHub.TimeoutSeconds) * time.Second,
	})

	srv := server.NewServer(orch, graph, logger)

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Start(cfg.Listen)
	}()
	logger.Info("listening", "addr", cfg.Listen, "db", cfg.DBPath)

	select {
	case err := <-errChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		// Signal received. Restore default handling so a second Ctrl+C
		// forces exit.
		stop()
		logger.Info("shutdown signal received, draining")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown", "error", err)
		}
		<-errChan
	}

	logger.Info("shutdown complete")
}

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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/cors"
	"golang.org/x/sync/errgroup"

	"github.com/inquest-ai/inquest/internal/adapters/analyzer"
	"github.com/inquest-ai/inquest/internal/adapters/duckdb"
	"github.com/inquest-ai/inquest/internal/config"
	"github.com/inquest-ai/inquest/internal/core/services"
	"github.com/inquest-ai/inquest/pkg/kernel"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	logger.Info("starting inquest kernel")

	if err := run(logger); err != nil {
		logger.Error("kernel startup failed", "error", err)
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

	cfg, err := config.Load(os.Getenv("INQUEST_CONFIG"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	repo, err := duckdb.NewRepository(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("init repository: %w", err)
	}
	defer repo.Close()

	// Core services
	eventBus := services.NewEventBus(logger)
	metrics := services.NewMetrics(logger, repo, prometheus.DefaultRegisterer)
	eventStore := services.NewEventStore(logger, repo)
	artifacts := services.NewArtifacts(logger, repo)
	reports := services.NewReports(logger, repo)
	limiter := services.NewRateLimiter(cfg.RateWindow, cfg.RateMax)

	dispatcher := services.NewDispatcher(logger, repo, metrics, eventBus, services.DispatcherConfig{
		MaxConcurrent: int64(cfg.Jobs.MaxConcurrent),
		MaxAttempts:   cfg.Jobs.MaxAttempts,
		BackoffBase:   cfg.Jobs.BackoffBase,
		QueueSize:     cfg.Jobs.QueueSize,
		KeepCompleted: cfg.Jobs.KeepCompleted,
	})

	analyzerClient, err := analyzer.New(logger, analyzer.Config{
		APIKey:      cfg.Analyzer.APIKey,
		BaseURL:     cfg.Analyzer.BaseURL,
		Model:       cfg.Analyzer.Model,
		Temperature: cfg.Analyzer.Temperature,
		MaxTokens:   cfg.Analyzer.MaxTokens,
	})
	if err != nil {
		return fmt.Errorf("init analyzer: %w", err)
	}

	worker := services.NewWorker(logger, eventStore, analyzerClient, repo)
	dispatcher.Start(ctx, worker.Handle)

	ingestor := services.NewIngestor(logger, eventStore, metrics, dispatcher)

	apiServer := kernel.NewServer(logger, ingestor, eventStore, reports, artifacts,
		metrics, eventBus, dispatcher, limiter, repo, cfg.MaxIngestBytes)

	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: c.Handler(apiServer.Handler()),
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting api server", "addr", cfg.ListenAddr)
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

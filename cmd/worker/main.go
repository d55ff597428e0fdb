// Package main is the entry point for the stock ledger background worker.
// It runs deferred reposts, closing generation, month-end closings and the
// outbox relay from the Redis queue.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"stockledger/internal/app"
	"stockledger/internal/config"
	"stockledger/internal/infrastructure/jobs"
	"stockledger/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:       cfg.LogLevel,
		Development: cfg.IsDevelopment(),
		Process:     "worker",
	})
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logger.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("starting stockledger worker")

	application, err := app.Build(ctx, cfg)
	if err != nil {
		application.Close()
		log.Fatalw("failed to wire application", "error", err)
	}
	defer application.Close()

	workerCfg, err := application.WorkerConfig()
	if err != nil {
		log.Fatalw("failed to configure worker", "error", err)
	}

	worker, err := jobs.NewWorker(workerCfg)
	if err != nil {
		log.Fatalw("failed to init worker", "error", err)
	}

	log.Infow("worker running",
		"concurrency", workerCfg.Concurrency,
		"handlers", len(workerCfg.Handlers),
		"cron", len(workerCfg.Cron),
	)
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Errorw("worker stopped with error", "error", err)
		return
	}

	log.Info("worker stopped")
}

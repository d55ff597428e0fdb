// Package main is a CLI tool that loads the demo catalog into the database.
package main

import (
	"context"
	"fmt"
	"os"

	"stockledger/internal/app"
	"stockledger/internal/config"
	"stockledger/pkg/logger"
)

func main() {
	log, err := logger.New(logger.Config{
		Level:       "info",
		Development: true,
		Process:     "seed",
	})
	if err != nil {
		fmt.Printf("failed to create logger: %v\n", err)
		os.Exit(1)
	}
	logger.SetDefault(log)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalw("failed to load config", "error", err)
	}
	if cfg.StorageDriver != config.DriverPostgres {
		log.Fatal("seeding needs STORAGE_DRIVER=postgres; the memory driver seeds itself with SEED_DEMO=true")
	}
	// Seeding writes directly; do not let Build seed twice.
	cfg.SeedDemo = false

	ctx := context.Background()

	application, err := app.Build(ctx, cfg)
	if err != nil {
		application.Close()
		log.Fatalw("failed to connect", "error", err)
	}
	defer application.Close()

	demo := app.NewDemoCatalog()
	if err := demo.Load(ctx, application.Catalog); err != nil {
		log.Fatalw("failed to seed catalog", "error", err)
	}

	log.Infow("demo catalog seeded",
		"companies", len(demo.Companies),
		"warehouses", len(demo.Warehouses),
		"items", len(demo.Items),
	)
}

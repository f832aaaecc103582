package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/ledgerbeam/coamgr/internal/app"
	"github.com/ledgerbeam/coamgr/internal/config"
	"github.com/ledgerbeam/coamgr/internal/db"
	"github.com/ledgerbeam/coamgr/internal/migrate"
	"github.com/ledgerbeam/coamgr/migrations"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := cfg.Logger()

	database, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("connect db: %v", err)
	}
	defer database.Close()

	if cfg.AutoMigrate {
		if err := migrate.Run(ctx, database, migrations.FS); err != nil {
			logger.Fatalf("run migrations: %v", err)
		}
	}

	application := app.New(cfg, database, logger)

	if err := application.Run(ctx); err != nil {
		logger.Fatalf("run server: %v", err)
	}
}

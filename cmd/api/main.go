package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/mjhen/rosterbridge/internal/app"
	"github.com/mjhen/rosterbridge/internal/config"
	"github.com/mjhen/rosterbridge/internal/db"
	"github.com/mjhen/rosterbridge/internal/fields"
	"github.com/mjhen/rosterbridge/internal/logging"
	"github.com/mjhen/rosterbridge/internal/migrate"
	"github.com/mjhen/rosterbridge/internal/store"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := config.LoadDotEnv(".env"); err != nil {
		log.Fatalf("load .env: %v", err)
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogJSON)
	if err != nil {
		log.Fatalf("build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	database, dialect, err := db.Connect(ctx, cfg.DatabaseURL, cfg.SQLitePath)
	if err != nil {
		logger.Fatal("connect db", zap.Error(err))
	}
	defer database.Close()

	if cfg.AutoMigrate {
		if err := migrate.RunEmbedded(ctx, database, dialect); err != nil {
			logger.Fatal("run migrations", zap.Error(err))
		}
	}

	tables, err := fields.Load(cfg.AliasTablesPath)
	if err != nil {
		logger.Fatal("load alias tables", zap.Error(err))
	}

	application := app.New(cfg, store.NewSQL(database, dialect), tables, logger)
	defer application.Close()

	logger.Info("listening", zap.String("addr", cfg.HTTPAddr), zap.String("dialect", string(dialect)))
	if err := application.Run(ctx); err != nil {
		logger.Fatal("run server", zap.Error(err))
	}
}

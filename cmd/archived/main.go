package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pressfolio/activity-channel/internal/activitylog"
	"github.com/pressfolio/activity-channel/internal/archive"
	"github.com/pressfolio/activity-channel/internal/config"
	"github.com/pressfolio/activity-channel/internal/database"
	"github.com/pressfolio/activity-channel/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/archived.local.yaml", "path to config file")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	logger.Info("starting archived",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if !cfg.Archive.Enabled {
		logger.Error("archive is disabled in config; nothing to do")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect to the activity log
	store := activitylog.New(cfg.ActivityLog)
	defer store.Close()

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	err = store.Ping(pingCtx)
	cancel()
	if err != nil {
		logger.Error("activity log unreachable", "addr", cfg.ActivityLog.Addr, "error", err)
		os.Exit(1)
	}

	// Connect to the archive database
	logger.Info("connecting to database",
		"host", cfg.Archive.Postgres.Host,
		"port", cfg.Archive.Postgres.Port,
		"database", cfg.Archive.Postgres.Name,
	)
	pool, err := database.Connect(ctx, cfg.Archive.Postgres)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	pipeline := archive.NewPipeline(store, pool, cfg.Archive, logger)
	if err := pipeline.Start(ctx); err != nil {
		logger.Error("failed to start pipeline", "error", err)
		os.Exit(1)
	}

	logger.Info("archived running",
		"instance_id", cfg.Instance.ID,
		"stream", cfg.ActivityLog.Stream,
		"start_id", cfg.Archive.StartID,
	)

	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := pipeline.Stop(shutdownCtx); err != nil {
		logger.Error("pipeline stop failed", "error", err)
	}

	stats := pipeline.Stats()
	logger.Info("archived stopped",
		"last_id", pipeline.LastID(),
		"inserts", stats.Inserts,
		"conflicts", stats.Conflicts,
		"errors", stats.Errors,
	)
}

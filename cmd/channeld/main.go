package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pressfolio/activity-channel/internal/activitylog"
	"github.com/pressfolio/activity-channel/internal/config"
	"github.com/pressfolio/activity-channel/internal/identity"
	"github.com/pressfolio/activity-channel/internal/registry"
	"github.com/pressfolio/activity-channel/internal/server"
	"github.com/pressfolio/activity-channel/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/channeld.local.yaml", "path to config file")
	flag.Parse()

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	logger.Info("starting channeld",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"instance_id", cfg.Instance.ID,
		"addr", cfg.Server.Addr,
		"path", cfg.Server.Path,
	)

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
	logger.Info("activity log connected", "addr", cfg.ActivityLog.Addr, "stream", cfg.ActivityLog.Stream)

	// Wire the broadcast server
	reg := registry.New()
	verifier := identity.NewJWTVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	auth := server.NewAuthenticator(reg, verifier, cfg.Auth.PrivilegedRoles, cfg.Auth.MaxJoinAttempts, logger)

	srv := server.NewServer(server.Config{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		PingInterval:   cfg.Server.PingInterval,
		PingTimeout:    cfg.Server.PingTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		SendBufferSize: cfg.Server.SendBufferSize,
	}, reg, auth, store, logger)

	mux := http.NewServeMux()
	mux.Handle(cfg.Server.Path, srv)
	mux.Handle("/health", healthHandler(store, reg, srv))

	httpServer := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: mux,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", "addr", cfg.Server.Addr)
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}

	logger.Info("channeld stopped")
}

// healthHandler reports store reachability, registry membership, and server
// counters.
func healthHandler(store *activitylog.RedisLog, reg *registry.Registry, srv *server.BroadcastServer) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		health := struct {
			Status     string         `json:"status"`
			Components map[string]any `json:"components"`
		}{
			Status:     "healthy",
			Components: make(map[string]any),
		}

		if err := store.Ping(ctx); err != nil {
			health.Status = "unhealthy"
			health.Components["activity_log"] = map[string]string{
				"status": "disconnected",
				"error":  err.Error(),
			}
		} else {
			health.Components["activity_log"] = "connected"
		}

		snapshot := reg.Snapshot()
		health.Components["registry"] = map[string]any{
			"connections": snapshot.Connections,
			"rooms":       snapshot.Rooms,
		}

		stats := srv.Stats()
		health.Components["server"] = map[string]any{
			"open_connections":  stats.OpenConnections,
			"total_connections": stats.TotalConnections,
			"broadcasts":        stats.Broadcasts,
			"dropped_frames":    stats.DroppedFrames,
		}

		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	})
}

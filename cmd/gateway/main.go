package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/coinbridge/realtime/internal/app"
	"github.com/coinbridge/realtime/internal/bus"
	"github.com/coinbridge/realtime/internal/config"
	"github.com/coinbridge/realtime/internal/database"
	"github.com/coinbridge/realtime/internal/identity"
	"github.com/coinbridge/realtime/internal/money"
	"github.com/coinbridge/realtime/internal/registry"
	"github.com/coinbridge/realtime/internal/session"
	"github.com/coinbridge/realtime/internal/transport"
	"github.com/coinbridge/realtime/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/gateway.local.yaml", "path to config file")
	flag.Parse()

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	logger.Info("starting gateway",
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
		"port", cfg.Server.Port,
		"socket_path", cfg.Server.SocketPath,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Connect to the shared session store
	logger.Info("connecting to redis", "addr", cfg.Redis.Addr)

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}

	logger.Info("redis connected")

	// Connect to the relational store
	logger.Info("connecting to database",
		"host", cfg.Database.Postgres.Host,
		"port", cfg.Database.Postgres.Port,
		"database", cfg.Database.Postgres.Name,
	)

	pool, err := database.Connect(ctx, cfg.Database.Postgres)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	logger.Info("database connected")

	// Load the currency table before serving; a background refresher keeps
	// it current afterward
	table, err := money.LoadTable(ctx, pool, logger)
	if err != nil {
		logger.Error("failed to load currency table", "error", err)
		os.Exit(1)
	}
	logger.Info("currency table loaded", "currencies", len(table.Tickers()))

	// Assemble the event bus
	sessions := session.NewStore(rdb, session.Config{
		Prefix:       cfg.Session.Prefix,
		TokenBytes:   cfg.Session.TokenBytes,
		AnonymousTTL: cfg.Session.AnonymousTTL,
	}, logger)
	reg := registry.New(logger)
	eventBus := bus.New(sessions, reg, logger)

	store := app.NewPostgresStore(pool)
	handlers := app.NewHandlers(eventBus, store, table, logger)
	handlers.Register()

	// Batch chat persistence
	chatWriter := app.NewChatWriter(app.DefaultChatWriterConfig(), pool, logger)
	if err := chatWriter.Start(ctx); err != nil {
		logger.Error("failed to start chat writer", "error", err)
		os.Exit(1)
	}
	store.UseChatWriter(chatWriter)
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer stopCancel()
		chatWriter.Stop(stopCtx)
	}()

	// Keep the currency table current without restarts
	refresher := money.NewRefresher(money.DefaultRefresherConfig(), pool, table, logger)
	if err := refresher.Start(ctx); err != nil {
		logger.Error("failed to start currency refresher", "error", err)
		os.Exit(1)
	}
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer stopCancel()
		refresher.Stop(stopCtx)
	}()

	// HTTP surface: the WebSocket endpoint plus login and health
	mux := http.NewServeMux()
	mux.Handle(cfg.Server.SocketPath, transport.NewServer(eventBus, cfg.Server, logger))
	mux.Handle("/health", healthHandler(rdb, pool, eventBus))

	if cfg.Identity.URL != "" {
		idp := identity.NewClient(cfg.Identity.URL,
			identity.WithLogger(logger),
			identity.WithTimeout(cfg.Identity.Timeout),
			identity.WithRetries(cfg.Identity.Retries, time.Second),
		)
		authHandler := app.NewAuthHandler(handlers, store, idp, logger)
		mux.Handle("/login", authHandler)
		mux.Handle("/logout", authHandler)
		logger.Info("login endpoint enabled", "provider", cfg.Identity.URL)
	} else {
		logger.Info("no identity provider configured, sessions stay anonymous")
	}

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: mux,
	}

	go func() {
		logger.Info("listening", "addr", server.Addr, "socket_path", cfg.Server.SocketPath)
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	logger.Info("gateway running",
		"instance_id", cfg.Instance.ID,
		"health_url", fmt.Sprintf("http://localhost:%d/health", cfg.Server.Port),
	)

	// Wait for shutdown
	<-ctx.Done()

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	server.Shutdown(shutdownCtx)

	logger.Info("gateway stopped")
}

// healthHandler reports the state of both backing stores and the live
// connection counters.
func healthHandler(rdb *redis.Client, pool *pgxpool.Pool, eventBus *bus.Bus) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		health := struct {
			Status     string                 `json:"status"`
			Components map[string]interface{} `json:"components"`
		}{
			Status:     "healthy",
			Components: make(map[string]interface{}),
		}

		if err := rdb.Ping(ctx).Err(); err != nil {
			health.Status = "unhealthy"
			health.Components["redis"] = map[string]string{
				"status": "disconnected",
				"error":  err.Error(),
			}
		} else {
			health.Components["redis"] = "connected"
		}

		if err := pool.Ping(ctx); err != nil {
			health.Status = "unhealthy"
			health.Components["postgres"] = map[string]string{
				"status": "disconnected",
				"error":  err.Error(),
			}
		} else {
			health.Components["postgres"] = "connected"
		}

		stats := eventBus.Stats()
		health.Components["bus"] = map[string]interface{}{
			"connections":       eventBus.Registry().Len(),
			"frames_received":   stats.FramesReceived,
			"frames_dispatched": stats.FramesDispatched,
			"frames_dropped":    stats.FramesDropped,
			"emits_delivered":   stats.EmitsDelivered,
			"emits_suppressed":  stats.EmitsSuppressed,
		}

		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	})
}
